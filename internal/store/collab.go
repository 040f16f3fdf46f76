package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docket/api/internal/collab"
	"docket/api/internal/util"
)

// The collaboration store methods back the realtime engine. All mutations
// return the authoritative stored row; the engine folds exactly what came
// back, never what it sent.

func (s *PostgresStore) ListPresence(ctx context.Context, matterID string) ([]collab.Presence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_name, matter_id, document_id, status, cursor, last_seen_at
		FROM presence
		WHERE matter_id = $1 AND status <> 'offline'
		ORDER BY last_seen_at DESC
	`, matterID)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	var users []collab.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, p)
	}
	return users, rows.Err()
}

// UpsertPresence writes the heartbeat, keeping at most one row per
// (matter, user). A heartbeat older than the stored row is ignored and the
// stored row is returned, so last-seen never moves backwards.
func (s *PostgresStore) UpsertPresence(ctx context.Context, p collab.Presence) (collab.Presence, error) {
	var cursorJSON any
	if p.Cursor != nil {
		data, err := json.Marshal(p.Cursor)
		if err != nil {
			return collab.Presence{}, fmt.Errorf("marshal cursor: %w", err)
		}
		cursorJSON = data
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO presence (matter_id, user_id, user_name, document_id, status, cursor, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (matter_id, user_id) DO UPDATE SET
			user_name = EXCLUDED.user_name,
			document_id = EXCLUDED.document_id,
			status = EXCLUDED.status,
			cursor = EXCLUDED.cursor,
			last_seen_at = EXCLUDED.last_seen_at
		WHERE presence.last_seen_at <= EXCLUDED.last_seen_at
		RETURNING user_id, user_name, matter_id, document_id, status, cursor, last_seen_at
	`, p.MatterID, p.UserID, p.UserName, p.DocumentID, string(p.Status), cursorJSON, p.LastSeenAt)

	stored, err := scanPresence(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Raced by a newer heartbeat; hand back the row that won.
		row = s.db.QueryRowContext(ctx, `
			SELECT user_id, user_name, matter_id, document_id, status, cursor, last_seen_at
			FROM presence WHERE matter_id = $1 AND user_id = $2
		`, p.MatterID, p.UserID)
		return scanPresence(row)
	}
	if err != nil {
		return collab.Presence{}, err
	}
	return stored, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPresence(row rowScanner) (collab.Presence, error) {
	var (
		p          collab.Presence
		status     string
		documentID sql.NullString
		cursorJSON []byte
	)
	err := row.Scan(&p.UserID, &p.UserName, &p.MatterID, &documentID, &status, &cursorJSON, &p.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Presence{}, err
	}
	if err != nil {
		return collab.Presence{}, fmt.Errorf("scan presence: %w", err)
	}
	p.DocumentID = documentID.String
	p.Status = collab.PresenceStatus(status)
	if len(cursorJSON) > 0 {
		var cursor collab.Cursor
		if err := json.Unmarshal(cursorJSON, &cursor); err != nil {
			return collab.Presence{}, fmt.Errorf("unmarshal cursor: %w", err)
		}
		p.Cursor = &cursor
	}
	return p, nil
}

// --- comments ---

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]collab.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, parent_id, author_id, author_name, kind, body,
		       resolved, resolved_by, resolved_at, created_at, updated_at
		FROM comments WHERE document_id = $1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []collab.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) InsertComment(ctx context.Context, c collab.Comment) (collab.Comment, error) {
	id := util.NewID("cmt")
	var parentID any
	if c.ParentID != "" {
		parentID = c.ParentID
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, document_id, parent_id, author_id, author_name, kind, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, document_id, parent_id, author_id, author_name, kind, body,
		          resolved, resolved_by, resolved_at, created_at, updated_at
	`, id, c.DocumentID, parentID, c.AuthorID, c.AuthorName, string(c.Kind), c.Body)

	stored, err := scanComment(row)
	if err != nil {
		return collab.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (collab.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, parent_id, author_id, author_name, kind, body,
		       resolved, resolved_by, resolved_at, created_at, updated_at
		FROM comments WHERE id = $1
	`, id)

	stored, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Comment{}, ErrNotFound
	}
	if err != nil {
		return collab.Comment{}, fmt.Errorf("lookup comment: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id string, patch collab.CommentPatch) (collab.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET body = COALESCE($2, body), updated_at = NOW()
		WHERE id = $1
		RETURNING id, document_id, parent_id, author_id, author_name, kind, body,
		          resolved, resolved_by, resolved_at, created_at, updated_at
	`, id, patch.Body)

	stored, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Comment{}, ErrNotFound
	}
	if err != nil {
		return collab.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return stored, nil
}

// ResolveComment marks the comment resolved unless it already is; the first
// resolver's metadata is never overwritten. Resolving a resolved comment
// returns the existing row unchanged.
func (s *PostgresStore) ResolveComment(ctx context.Context, id, resolverID string) (collab.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET resolved = TRUE, resolved_by = $2, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT resolved
		RETURNING id, document_id, parent_id, author_id, author_name, kind, body,
		          resolved, resolved_by, resolved_at, created_at, updated_at
	`, id, resolverID)

	stored, err := scanComment(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return collab.Comment{}, fmt.Errorf("resolve comment: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, document_id, parent_id, author_id, author_name, kind, body,
		       resolved, resolved_by, resolved_at, created_at, updated_at
		FROM comments WHERE id = $1
	`, id)
	stored, err = scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Comment{}, ErrNotFound
	}
	if err != nil {
		return collab.Comment{}, fmt.Errorf("lookup resolved comment: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanComment(row rowScanner) (collab.Comment, error) {
	var (
		c          collab.Comment
		parentID   sql.NullString
		kind       string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.DocumentID, &parentID, &c.AuthorID, &c.AuthorName, &kind, &c.Body,
		&c.Resolved, &c.ResolvedBy, &resolvedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.Comment{}, err
	}
	if err != nil {
		return collab.Comment{}, fmt.Errorf("scan comment: %w", err)
	}
	c.ParentID = parentID.String
	c.Kind = collab.CommentKind(kind)
	if resolvedAt.Valid {
		at := resolvedAt.Time
		c.ResolvedAt = &at
	}
	return c, nil
}

// --- activity ---

func (s *PostgresStore) ListActivity(ctx context.Context, matterID string, limit int) ([]collab.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, actor_id, actor_name, kind, target_id, detail, created_at
		FROM activity WHERE matter_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, matterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var activities []collab.Activity
	for rows.Next() {
		var a collab.Activity
		if err := rows.Scan(&a.ID, &a.MatterID, &a.ActorID, &a.ActorName, &a.Kind, &a.TargetID, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *PostgresStore) InsertActivity(ctx context.Context, a collab.Activity) (collab.Activity, error) {
	a.ID = util.NewID("act")
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO activity (id, matter_id, actor_id, actor_name, kind, target_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, a.ID, a.MatterID, a.ActorID, a.ActorName, a.Kind, a.TargetID, a.Detail).Scan(&a.CreatedAt)
	if err != nil {
		return collab.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	s.touchMatter(ctx, a.MatterID, a.CreatedAt)
	return a, nil
}

// --- chat ---

// ListMessages returns the latest `limit` messages in chronological order:
// the window is taken from the newest end, then flipped.
func (s *PostgresStore) ListMessages(ctx context.Context, matterID string, limit int) ([]collab.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matter_id, thread_id, author_id, author_name, kind, body, file_key,
		       edited, edited_at, created_at
		FROM (
			SELECT * FROM chat_messages
			WHERE matter_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC
	`, matterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []collab.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m collab.ChatMessage) (collab.ChatMessage, error) {
	id := util.NewID("msg")
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, matter_id, thread_id, author_id, author_name, kind, body, file_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, matter_id, thread_id, author_id, author_name, kind, body, file_key,
		          edited, edited_at, created_at
	`, id, m.MatterID, m.ThreadID, m.AuthorID, m.AuthorName, string(m.Kind), m.Body, m.FileKey)

	stored, err := scanMessage(row)
	if err != nil {
		return collab.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (collab.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, matter_id, thread_id, author_id, author_name, kind, body, file_key,
		       edited, edited_at, created_at
		FROM chat_messages WHERE id = $1
	`, id)

	stored, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return collab.ChatMessage{}, fmt.Errorf("lookup message: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id, body string) (collab.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE chat_messages
		SET body = $2, edited = TRUE, edited_at = NOW()
		WHERE id = $1
		RETURNING id, matter_id, thread_id, author_id, author_name, kind, body, file_key,
		          edited, edited_at, created_at
	`, id, body)

	stored, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.ChatMessage{}, ErrNotFound
	}
	if err != nil {
		return collab.ChatMessage{}, fmt.Errorf("update message: %w", err)
	}
	return stored, nil
}

func scanMessage(row rowScanner) (collab.ChatMessage, error) {
	var (
		m        collab.ChatMessage
		kind     string
		editedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.MatterID, &m.ThreadID, &m.AuthorID, &m.AuthorName, &kind, &m.Body, &m.FileKey,
		&m.Edited, &editedAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.ChatMessage{}, err
	}
	if err != nil {
		return collab.ChatMessage{}, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = collab.ChatKind(kind)
	if editedAt.Valid {
		at := editedAt.Time
		m.EditedAt = &at
	}
	return m, nil
}

var _ collab.Store = (*PostgresStore)(nil)

// ExpirePresence marks rows offline when their last heartbeat is older than
// the cutoff. A janitor goroutine calls this periodically so crashed
// clients do not linger as online.
func (s *PostgresStore) ExpirePresence(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE presence SET status = 'offline'
		WHERE status <> 'offline' AND last_seen_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("expire presence: %w", err)
	}
	return res.RowsAffected()
}
