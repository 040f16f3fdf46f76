package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docket/api/internal/util"
)

// ErrNotFound is returned when a row does not exist. Callers map it to a
// 404 at the HTTP layer.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash, role string) (User, error) {
	user := User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		Role:         role,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role).Scan(&user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM users WHERE email = $1
	`, strings.ToLower(email)).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// --- matters ---

func (s *PostgresStore) CreateMatter(ctx context.Context, title, clientName, createdBy string) (Matter, error) {
	matter := Matter{
		ID:         util.NewID("mat"),
		Title:      title,
		ClientName: clientName,
		Status:     MatterOpen,
		CreatedBy:  createdBy,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO matters (id, title, client_name, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, matter.ID, matter.Title, matter.ClientName, matter.CreatedBy).Scan(&matter.CreatedAt, &matter.UpdatedAt)
	if err != nil {
		return Matter{}, fmt.Errorf("insert matter: %w", err)
	}
	return matter, nil
}

func (s *PostgresStore) GetMatter(ctx context.Context, matterID string) (Matter, error) {
	var m Matter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, client_name, status, created_by, created_at, updated_at
		FROM matters WHERE id = $1
	`, matterID).Scan(&m.ID, &m.Title, &m.ClientName, &m.Status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Matter{}, ErrNotFound
	}
	if err != nil {
		return Matter{}, fmt.Errorf("lookup matter: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMatters(ctx context.Context) ([]Matter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, client_name, status, created_by, created_at, updated_at
		FROM matters ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list matters: %w", err)
	}
	defer rows.Close()

	var matters []Matter
	for rows.Next() {
		var m Matter
		if err := rows.Scan(&m.ID, &m.Title, &m.ClientName, &m.Status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan matter: %w", err)
		}
		matters = append(matters, m)
	}
	return matters, rows.Err()
}

func (s *PostgresStore) UpdateMatterStatus(ctx context.Context, matterID, status string) (Matter, error) {
	var m Matter
	err := s.db.QueryRowContext(ctx, `
		UPDATE matters SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, title, client_name, status, created_by, created_at, updated_at
	`, matterID, status).Scan(&m.ID, &m.Title, &m.ClientName, &m.Status, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Matter{}, ErrNotFound
	}
	if err != nil {
		return Matter{}, fmt.Errorf("update matter status: %w", err)
	}
	return m, nil
}

// --- matter members ---

func (s *PostgresStore) AddMatterMember(ctx context.Context, matterID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matter_members (matter_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (matter_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, matterID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert matter member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMatterMembers(ctx context.Context, matterID string) ([]MatterMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.matter_id, m.user_id, u.name, m.role, m.added_at
		FROM matter_members m JOIN users u ON u.id = m.user_id
		WHERE m.matter_id = $1
		ORDER BY m.added_at
	`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list matter members: %w", err)
	}
	defer rows.Close()

	var members []MatterMember
	for rows.Next() {
		var m MatterMember
		if err := rows.Scan(&m.MatterID, &m.UserID, &m.UserName, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan matter member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMemberRole returns the user's role on the matter, falling back to
// their workspace-wide role when no per-matter grant exists.
func (s *PostgresStore) GetMemberRole(ctx context.Context, matterID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM matter_members WHERE matter_id = $1 AND user_id = $2
	`, matterID, userID).Scan(&role)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup member role: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user role: %w", err)
	}
	return role, nil
}

// --- documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	doc.ID = util.NewID("doc")
	if doc.ContentType == "" {
		doc.ContentType = "text/markdown"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, matter_id, title, body, content_type, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, doc.ID, doc.MatterID, doc.Title, doc.Body, doc.ContentType, doc.CreatedBy).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, title, body, content_type, created_by, created_at, updated_at
		FROM documents WHERE id = $1
	`, documentID).Scan(&d.ID, &d.MatterID, &d.Title, &d.Body, &d.ContentType, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("lookup document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, matterID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, title, body, content_type, created_by, created_at, updated_at
		FROM documents WHERE matter_id = $1
		ORDER BY created_at DESC
	`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.MatterID, &d.Title, &d.Body, &d.ContentType, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, title, body *string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title = COALESCE($2, title),
		    body = COALESCE($3, body),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, matter_id, title, body, content_type, created_by, created_at, updated_at
	`, documentID, title, body).Scan(&d.ID, &d.MatterID, &d.Title, &d.Body, &d.ContentType, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- exhibits ---

func (s *PostgresStore) InsertExhibit(ctx context.Context, e Exhibit) (Exhibit, error) {
	if e.ID == "" {
		e.ID = util.NewID("exh")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exhibits (id, matter_id, label, file_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.MatterID, e.Label, e.FileKey, e.ContentType, e.SizeBytes, e.UploadedBy).Scan(&e.CreatedAt)
	if err != nil {
		return Exhibit{}, fmt.Errorf("insert exhibit: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetExhibit(ctx context.Context, exhibitID string) (Exhibit, error) {
	var e Exhibit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, label, file_key, content_type, size_bytes, uploaded_by, created_at
		FROM exhibits WHERE id = $1
	`, exhibitID).Scan(&e.ID, &e.MatterID, &e.Label, &e.FileKey, &e.ContentType, &e.SizeBytes, &e.UploadedBy, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Exhibit{}, ErrNotFound
	}
	if err != nil {
		return Exhibit{}, fmt.Errorf("lookup exhibit: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListExhibits(ctx context.Context, matterID string) ([]Exhibit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, label, file_key, content_type, size_bytes, uploaded_by, created_at
		FROM exhibits WHERE matter_id = $1
		ORDER BY created_at DESC
	`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list exhibits: %w", err)
	}
	defer rows.Close()

	var exhibits []Exhibit
	for rows.Next() {
		var e Exhibit
		if err := rows.Scan(&e.ID, &e.MatterID, &e.Label, &e.FileKey, &e.ContentType, &e.SizeBytes, &e.UploadedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exhibit: %w", err)
		}
		exhibits = append(exhibits, e)
	}
	return exhibits, rows.Err()
}

func (s *PostgresStore) DeleteExhibit(ctx context.Context, exhibitID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exhibits WHERE id = $1`, exhibitID)
	if err != nil {
		return fmt.Errorf("delete exhibit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SummaryCounts powers the workspace health/overview endpoint.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (matters, documents, exhibits int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM matters),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM exhibits)
	`).Scan(&matters, &documents, &exhibits)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return
}

// touchMatter bumps updated_at so list views sort recently active matters
// first.
func (s *PostgresStore) touchMatter(ctx context.Context, matterID string, at time.Time) {
	_, _ = s.db.ExecContext(ctx, `UPDATE matters SET updated_at = $2 WHERE id = $1`, matterID, at)
}
