package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"docket/api/internal/auth"
	"docket/api/internal/collab"
	"docket/api/internal/config"
	"docket/api/internal/exhibits"
	"docket/api/internal/export"
	"docket/api/internal/notes"
	"docket/api/internal/rbac"
	"docket/api/internal/search"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

// Session is what a verified bearer token resolves to.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

// dataStore is the persistence surface the service needs. PostgresStore
// satisfies it; tests substitute a fake.
type dataStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash, role string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	CreateMatter(ctx context.Context, title, clientName, createdBy string) (store.Matter, error)
	GetMatter(ctx context.Context, matterID string) (store.Matter, error)
	ListMatters(ctx context.Context) ([]store.Matter, error)
	UpdateMatterStatus(ctx context.Context, matterID, status string) (store.Matter, error)
	AddMatterMember(ctx context.Context, matterID, userID, role string) error
	ListMatterMembers(ctx context.Context, matterID string) ([]store.MatterMember, error)
	GetMemberRole(ctx context.Context, matterID, userID string) (string, error)

	CreateDocument(ctx context.Context, doc store.Document) (store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, matterID string) ([]store.Document, error)
	UpdateDocument(ctx context.Context, documentID string, title, body *string) (store.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error

	InsertExhibit(ctx context.Context, e store.Exhibit) (store.Exhibit, error)
	GetExhibit(ctx context.Context, exhibitID string) (store.Exhibit, error)
	ListExhibits(ctx context.Context, matterID string) ([]store.Exhibit, error)
	DeleteExhibit(ctx context.Context, exhibitID string) error

	// The collaboration store surface is shared with the hosted engine.
	collab.Store
	GetComment(ctx context.Context, id string) (collab.Comment, error)
	GetMessage(ctx context.Context, id string) (collab.ChatMessage, error)

	SummaryCounts(ctx context.Context) (int, int, int, error)
}

// pinger reports backend connectivity for readiness checks.
type pinger interface {
	PingContext(ctx context.Context) error
}

// Service holds the application's use cases. All realtime side effects go
// through the collab transport: every confirmed mutation publishes a change
// event so connected clients converge without polling.
type Service struct {
	cfg       config.Config
	store     dataStore
	db        pinger
	transport collab.Transport
	search    *search.Service
	exhibits  *exhibits.Service
	notes     *notes.Service
	exporter  *export.Service
	host      *collabHost
}

func NewService(cfg config.Config, st dataStore, db pinger, transport collab.Transport, searchSvc *search.Service, exhibitSvc *exhibits.Service, noteSvc *notes.Service, exporter *export.Service) *Service {
	s := &Service{
		cfg:       cfg,
		store:     st,
		db:        db,
		transport: transport,
		search:    searchSvc,
		exhibits:  exhibitSvc,
		notes:     noteSvc,
		exporter:  exporter,
	}
	if transport != nil {
		s.host = newCollabHost(st, transport, cfg.ActivityPageSize, cfg.ChatPageSize)
	}
	return s
}

// Close tears down the hosted collaboration clients.
func (s *Service) Close(ctx context.Context) {
	if s.host != nil {
		s.host.close(ctx)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// --- auth ---

func (s *Service) Signup(ctx context.Context, name, email, password, role string) (store.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return store.User{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Name and email are required", nil)
	}
	if len(password) < 8 {
		return store.User{}, domainError(http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 8 characters", nil)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, err
	}
	return s.store.CreateUser(ctx, name, email, string(hash), string(rbac.Normalize(role)))
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// requireMatterRole resolves the session's effective role on the matter and
// checks the action against it.
func (s *Service) requireMatterRole(ctx context.Context, session Session, matterID string, action rbac.Action) error {
	role, err := s.store.GetMemberRole(ctx, matterID, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		return err
	}
	if !rbac.Can(rbac.Normalize(role), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// --- matters ---

func (s *Service) CreateMatter(ctx context.Context, session Session, title, clientName string) (store.Matter, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionWrite) {
		return store.Matter{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Matter{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Title is required", nil)
	}
	matter, err := s.store.CreateMatter(ctx, title, strings.TrimSpace(clientName), session.UserID)
	if err != nil {
		return store.Matter{}, err
	}
	if err := s.store.AddMatterMember(ctx, matter.ID, session.UserID, "admin"); err != nil {
		return store.Matter{}, err
	}
	s.recordActivity(ctx, session, matter.ID, "matter-created", matter.ID, matter.Title)
	return matter, nil
}

func (s *Service) GetMatter(ctx context.Context, session Session, matterID string) (store.Matter, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return store.Matter{}, err
	}
	matter, err := s.store.GetMatter(ctx, matterID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Matter{}, domainError(http.StatusNotFound, "NOT_FOUND", "Matter not found", nil)
	}
	return matter, err
}

func (s *Service) ListMatters(ctx context.Context, session Session) ([]store.Matter, error) {
	return s.store.ListMatters(ctx)
}

func (s *Service) UpdateMatterStatus(ctx context.Context, session Session, matterID, status string) (store.Matter, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionManage); err != nil {
		return store.Matter{}, err
	}
	if status != store.MatterOpen && status != store.MatterClosed {
		return store.Matter{}, domainError(http.StatusBadRequest, "INVALID_STATUS", "Status must be open or closed", nil)
	}
	matter, err := s.store.UpdateMatterStatus(ctx, matterID, status)
	if errors.Is(err, store.ErrNotFound) {
		return store.Matter{}, domainError(http.StatusNotFound, "NOT_FOUND", "Matter not found", nil)
	}
	if err != nil {
		return store.Matter{}, err
	}
	s.recordActivity(ctx, session, matterID, "matter-status-changed", matterID, status)
	return matter, nil
}

func (s *Service) AddMatterMember(ctx context.Context, session Session, matterID, userID, role string) error {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionManage); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return err
	}
	if err := s.store.AddMatterMember(ctx, matterID, userID, string(rbac.Normalize(role))); err != nil {
		return err
	}
	s.recordActivity(ctx, session, matterID, "member-added", userID, role)
	return nil
}

func (s *Service) ListMatterMembers(ctx context.Context, session Session, matterID string) ([]store.MatterMember, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListMatterMembers(ctx, matterID)
}

// --- documents ---

func (s *Service) CreateDocument(ctx context.Context, session Session, matterID, title, body string) (store.Document, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Title is required", nil)
	}
	doc, err := s.store.CreateDocument(ctx, store.Document{
		MatterID:  matterID,
		Title:     title,
		Body:      body,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(doc)
	s.recordActivity(ctx, session, matterID, "document-created", doc.ID, doc.Title)
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return store.Document{}, err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, rbac.ActionRead); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, matterID string) ([]store.Document, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, matterID)
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, title, body *string) (store.Document, error) {
	existing, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return store.Document{}, err
	}
	if err := s.requireMatterRole(ctx, session, existing.MatterID, rbac.ActionWrite); err != nil {
		return store.Document{}, err
	}
	doc, err := s.store.UpdateDocument(ctx, documentID, title, body)
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(doc)
	s.recordActivity(ctx, session, doc.MatterID, "document-updated", doc.ID, doc.Title)
	return doc, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	s.recordActivity(ctx, session, doc.MatterID, "document-deleted", doc.ID, doc.Title)
	return nil
}

// --- comments ---

func (s *Service) AddComment(ctx context.Context, session Session, documentID string, draft collab.CommentDraft) (collab.Comment, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return collab.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return collab.Comment{}, err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, rbac.ActionComment); err != nil {
		return collab.Comment{}, err
	}
	if strings.TrimSpace(draft.Body) == "" {
		return collab.Comment{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Comment body is required", nil)
	}
	kind := draft.Kind
	if kind == "" {
		kind = collab.KindComment
	}
	stored, err := s.store.InsertComment(ctx, collab.Comment{
		DocumentID: documentID,
		ParentID:   draft.ParentID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Kind:       kind,
		Body:       draft.Body,
	})
	if err != nil {
		return collab.Comment{}, err
	}
	s.publishEvent(documentChannel(documentID), collab.OpInsert, collab.EntityComment, stored)
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         stored.ID,
			Body:       stored.Body,
			AuthorName: stored.AuthorName,
			DocumentID: stored.DocumentID,
			MatterID:   doc.MatterID,
		})
	}
	return stored, nil
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]collab.Comment, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, documentID)
}

// commentForWrite loads a comment and checks the session can act on its
// document's matter.
func (s *Service) commentForWrite(ctx context.Context, session Session, commentID string, action rbac.Action) (collab.Comment, error) {
	existing, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return collab.Comment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
	}
	if err != nil {
		return collab.Comment{}, err
	}
	doc, err := s.store.GetDocument(ctx, existing.DocumentID)
	if err != nil {
		return collab.Comment{}, err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, action); err != nil {
		return collab.Comment{}, err
	}
	return existing, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID string, patch collab.CommentPatch) (collab.Comment, error) {
	existing, err := s.commentForWrite(ctx, session, commentID, rbac.ActionComment)
	if err != nil {
		return collab.Comment{}, err
	}
	if existing.AuthorID != session.UserID {
		return collab.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	stored, err := s.store.UpdateComment(ctx, commentID, patch)
	if err != nil {
		return collab.Comment{}, err
	}
	s.publishEvent(documentChannel(stored.DocumentID), collab.OpUpdate, collab.EntityComment, stored)
	return stored, nil
}

func (s *Service) ResolveComment(ctx context.Context, session Session, commentID string) (collab.Comment, error) {
	if _, err := s.commentForWrite(ctx, session, commentID, rbac.ActionComment); err != nil {
		return collab.Comment{}, err
	}
	stored, err := s.store.ResolveComment(ctx, commentID, session.UserID)
	if err != nil {
		return collab.Comment{}, err
	}
	s.publishEvent(documentChannel(stored.DocumentID), collab.OpUpdate, collab.EntityComment, stored)
	return stored, nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	existing, err := s.commentForWrite(ctx, session, commentID, rbac.ActionComment)
	if err != nil {
		return err
	}
	if existing.AuthorID != session.UserID && !rbac.Can(rbac.Normalize(session.Role), rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can delete a comment", nil)
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.publishEvent(documentChannel(existing.DocumentID), collab.OpDelete, collab.EntityComment, existing)
	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return nil
}

// --- presence, activity, chat ---

func (s *Service) Heartbeat(ctx context.Context, session Session, matterID, documentID string, status collab.PresenceStatus, cursor *collab.Cursor) (collab.Presence, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return collab.Presence{}, err
	}
	if status == "" {
		status = collab.StatusOnline
	}
	stored, err := s.store.UpsertPresence(ctx, collab.Presence{
		UserID:     session.UserID,
		UserName:   session.UserName,
		MatterID:   matterID,
		DocumentID: documentID,
		Status:     status,
		Cursor:     cursor,
		LastSeenAt: time.Now().UTC(),
	})
	if err != nil {
		return collab.Presence{}, err
	}
	op := collab.OpUpdate
	if stored.Status == collab.StatusOffline {
		// A final offline heartbeat is a departure; subscribers drop the
		// record instead of showing an offline row.
		op = collab.OpDelete
	}
	s.publishEvent(matterPresenceChannel(matterID), op, collab.EntityPresence, stored)
	return stored, nil
}

func (s *Service) ListPresence(ctx context.Context, session Session, matterID string) ([]collab.Presence, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListPresence(ctx, matterID)
}

// MatterSnapshot returns the server-hosted engine's converged view of the
// matter: who is online, recent activity and chat, plus channel health.
func (s *Service) MatterSnapshot(ctx context.Context, session Session, matterID string) (collab.Snapshot, error) {
	if s.host == nil {
		return collab.Snapshot{}, domainError(http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime transport not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return collab.Snapshot{}, err
	}
	return s.host.snapshot(ctx, matterID)
}

func (s *Service) ListActivity(ctx context.Context, session Session, matterID string) ([]collab.Activity, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, matterID, s.cfg.ActivityPageSize)
}

func (s *Service) SendMessage(ctx context.Context, session Session, matterID string, draft collab.MessageDraft) (collab.ChatMessage, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionComment); err != nil {
		return collab.ChatMessage{}, err
	}
	if strings.TrimSpace(draft.Body) == "" && draft.FileKey == "" {
		return collab.ChatMessage{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Message body is required", nil)
	}
	kind := draft.Kind
	if kind == "" {
		kind = collab.ChatText
	}
	stored, err := s.store.InsertMessage(ctx, collab.ChatMessage{
		MatterID:   matterID,
		ThreadID:   draft.ThreadID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Kind:       kind,
		Body:       draft.Body,
		FileKey:    draft.FileKey,
	})
	if err != nil {
		return collab.ChatMessage{}, err
	}
	s.publishEvent(matterChatChannel(matterID), collab.OpInsert, collab.EntityMessage, stored)
	return stored, nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, matterID string) ([]collab.ChatMessage, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, matterID, s.cfg.ChatPageSize)
}

func (s *Service) EditMessage(ctx context.Context, session Session, messageID, body string) (collab.ChatMessage, error) {
	existing, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return collab.ChatMessage{}, domainError(http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
	}
	if err != nil {
		return collab.ChatMessage{}, err
	}
	if existing.AuthorID != session.UserID {
		return collab.ChatMessage{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a message", nil)
	}
	stored, err := s.store.UpdateMessage(ctx, messageID, body)
	if err != nil {
		return collab.ChatMessage{}, err
	}
	s.publishEvent(matterChatChannel(stored.MatterID), collab.OpUpdate, collab.EntityMessage, stored)
	return stored, nil
}

// recordActivity inserts an activity row and broadcasts it. Activity is
// best-effort bookkeeping: failures are logged, never returned.
func (s *Service) recordActivity(ctx context.Context, session Session, matterID, kind, targetID, detail string) {
	stored, err := s.store.InsertActivity(ctx, collab.Activity{
		MatterID:  matterID,
		ActorID:   session.UserID,
		ActorName: session.UserName,
		Kind:      kind,
		TargetID:  targetID,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("app: record activity %s on %s: %v", kind, matterID, err)
		return
	}
	s.publishEvent(matterActivityChannel(matterID), collab.OpInsert, collab.EntityActivity, stored)
}

// --- exhibits ---

func (s *Service) UploadExhibit(ctx context.Context, session Session, matterID, label, filename, contentType string, size int64, r io.Reader) (store.Exhibit, error) {
	if s.exhibits == nil {
		return store.Exhibit{}, domainError(http.StatusServiceUnavailable, "EXHIBITS_UNAVAILABLE", "Exhibit storage not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionWrite); err != nil {
		return store.Exhibit{}, err
	}
	if label == "" {
		label = filename
	}

	exhibitID := util.NewID("exh")
	key := exhibits.FileKey(matterID, exhibitID, filename)
	if err := s.exhibits.Put(ctx, key, r, size, contentType); err != nil {
		return store.Exhibit{}, err
	}
	exhibit, err := s.store.InsertExhibit(ctx, store.Exhibit{
		ID:          exhibitID,
		MatterID:    matterID,
		Label:       label,
		FileKey:     key,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	})
	if err != nil {
		if rmErr := s.exhibits.Remove(ctx, key); rmErr != nil {
			log.Printf("app: clean up exhibit object %s: %v", key, rmErr)
		}
		return store.Exhibit{}, err
	}
	s.recordActivity(ctx, session, matterID, "exhibit-uploaded", exhibit.ID, label)
	return exhibit, nil
}

func (s *Service) ListExhibits(ctx context.Context, session Session, matterID string) ([]store.Exhibit, error) {
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListExhibits(ctx, matterID)
}

func (s *Service) ExhibitDownloadURL(ctx context.Context, session Session, exhibitID string) (string, error) {
	if s.exhibits == nil {
		return "", domainError(http.StatusServiceUnavailable, "EXHIBITS_UNAVAILABLE", "Exhibit storage not configured", nil)
	}
	exhibit, err := s.store.GetExhibit(ctx, exhibitID)
	if errors.Is(err, store.ErrNotFound) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Exhibit not found", nil)
	}
	if err != nil {
		return "", err
	}
	if err := s.requireMatterRole(ctx, session, exhibit.MatterID, rbac.ActionRead); err != nil {
		return "", err
	}
	return s.exhibits.PresignedGetURL(ctx, exhibit.FileKey, 15*time.Minute)
}

// DownloadExhibit streams the object directly; the caller must close the
// reader. Used when the client cannot follow a presigned URL.
func (s *Service) DownloadExhibit(ctx context.Context, session Session, exhibitID string) (store.Exhibit, io.ReadCloser, error) {
	if s.exhibits == nil {
		return store.Exhibit{}, nil, domainError(http.StatusServiceUnavailable, "EXHIBITS_UNAVAILABLE", "Exhibit storage not configured", nil)
	}
	exhibit, err := s.store.GetExhibit(ctx, exhibitID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Exhibit{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "Exhibit not found", nil)
	}
	if err != nil {
		return store.Exhibit{}, nil, err
	}
	if err := s.requireMatterRole(ctx, session, exhibit.MatterID, rbac.ActionRead); err != nil {
		return store.Exhibit{}, nil, err
	}
	body, err := s.exhibits.Get(ctx, exhibit.FileKey)
	if err != nil {
		return store.Exhibit{}, nil, err
	}
	return exhibit, body, nil
}

func (s *Service) DeleteExhibit(ctx context.Context, session Session, exhibitID string) error {
	if s.exhibits == nil {
		return domainError(http.StatusServiceUnavailable, "EXHIBITS_UNAVAILABLE", "Exhibit storage not configured", nil)
	}
	exhibit, err := s.store.GetExhibit(ctx, exhibitID)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Exhibit not found", nil)
	}
	if err != nil {
		return err
	}
	if err := s.requireMatterRole(ctx, session, exhibit.MatterID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteExhibit(ctx, exhibitID); err != nil {
		return err
	}
	if err := s.exhibits.Remove(ctx, exhibit.FileKey); err != nil {
		log.Printf("app: remove exhibit object %s: %v", exhibit.FileKey, err)
	}
	s.recordActivity(ctx, session, exhibit.MatterID, "exhibit-deleted", exhibit.ID, exhibit.Label)
	return nil
}

// --- notes ---

func (s *Service) SaveNote(ctx context.Context, session Session, matterID, name, body, message string) (notes.CommitInfo, error) {
	if s.notes == nil {
		return notes.CommitInfo{}, domainError(http.StatusServiceUnavailable, "NOTES_UNAVAILABLE", "Notes storage not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionWrite); err != nil {
		return notes.CommitInfo{}, err
	}
	rev, err := s.notes.SaveNote(matterID, name, body, session.UserName, message)
	if err != nil {
		return notes.CommitInfo{}, err
	}
	s.recordActivity(ctx, session, matterID, "note-saved", name, rev.Hash)
	return rev, nil
}

func (s *Service) GetNote(ctx context.Context, session Session, matterID, name, rev string) (notes.Note, error) {
	if s.notes == nil {
		return notes.Note{}, domainError(http.StatusServiceUnavailable, "NOTES_UNAVAILABLE", "Notes storage not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return notes.Note{}, err
	}
	var (
		note notes.Note
		err  error
	)
	if rev == "" || rev == "latest" {
		note, err = s.notes.GetNote(matterID, name)
	} else {
		note, err = s.notes.GetNoteAt(matterID, name, rev)
	}
	if errors.Is(err, notes.ErrNoteNotFound) {
		return notes.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return note, err
}

func (s *Service) ListNotes(ctx context.Context, session Session, matterID string) ([]notes.Note, error) {
	if s.notes == nil {
		return nil, domainError(http.StatusServiceUnavailable, "NOTES_UNAVAILABLE", "Notes storage not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.notes.ListNotes(matterID)
}

func (s *Service) NoteHistory(ctx context.Context, session Session, matterID, name string) ([]notes.CommitInfo, error) {
	if s.notes == nil {
		return nil, domainError(http.StatusServiceUnavailable, "NOTES_UNAVAILABLE", "Notes storage not configured", nil)
	}
	if err := s.requireMatterRole(ctx, session, matterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	history, err := s.notes.History(matterID, name, 50)
	if errors.Is(err, notes.ErrNoteNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return history, err
}

// --- search, export, summary ---

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.FilterMatterID != "" {
		if err := s.requireMatterRole(ctx, session, q.FilterMatterID, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
	}
	return s.search.Search(q), nil
}

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireMatterRole(ctx, session, doc.MatterID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) Summary(ctx context.Context) (map[string]int, error) {
	matters, documents, exhibitCount, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"matters":   matters,
		"documents": documents,
		"exhibits":  exhibitCount,
	}, nil
}

// --- event publishing ---

// Channel keys double as transport topics; these must stay in sync with
// what the collab engine subscribes to.
func matterPresenceChannel(matterID string) string { return "matter-presence:" + matterID }
func matterActivityChannel(matterID string) string { return "matter-activity:" + matterID }
func matterChatChannel(matterID string) string     { return "matter-chat:" + matterID }
func documentChannel(documentID string) string     { return "document-comments:" + documentID }

// publishEvent broadcasts a change notification. Publishing is
// fire-and-forget: the mutation already committed, and clients that miss an
// event recover on their next join or resubscribe.
func (s *Service) publishEvent(topic string, op collab.Op, entity collab.EntityKind, v any) {
	if s.transport == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("app: encode event for %s: %v", topic, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.transport.Publish(ctx, topic, collab.Event{
		Op:      op,
		Entity:  entity,
		Payload: payload,
		At:      time.Now(),
	}); err != nil {
		log.Printf("app: publish %s: %v", topic, err)
	}
}

// indexDocument pushes the document into the search index (fire-and-forget).
func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:       doc.ID,
		Title:    doc.Title,
		Body:     doc.Body,
		MatterID: doc.MatterID,
	})
}
