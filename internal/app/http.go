package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docket/api/internal/auth"
	"docket/api/internal/collab"
	"docket/api/internal/export"
	"docket/api/internal/search"
	"docket/api/internal/store"
)

const maxExhibitUploadBytes = 64 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		var body struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.Signup(r.Context(), body.Name, body.Email, body.Password, body.Role)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, user)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Email, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userId":    session.UserID,
			"userName":  session.UserName,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:           strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:     search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterMatterID: strings.TrimSpace(r.URL.Query().Get("matterId")),
			Limit:          20,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			q.Limit = parsed
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			q.Offset = parsed
		}
		payload, err := s.service.Search(r.Context(), session, q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		payload, err := s.service.Summary(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load summary", nil)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/matters" {
		items, err := s.service.ListMatters(r.Context(), session)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list matters", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"matters": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/matters" {
		var body struct {
			Title      string `json:"title"`
			ClientName string `json:"clientName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		matter, err := s.service.CreateMatter(r.Context(), session, body.Title, body.ClientName)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, matter)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "matters" {
		s.handleMatter(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "comments" {
		s.handleComment(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "chat" && r.Method == http.MethodPut {
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.EditMessage(r.Context(), session, parts[2], body.Body)
		if err != nil {
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		writeJSON(w, http.StatusOK, message)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "exhibits" {
		s.handleExhibit(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleMatter routes /api/matters/{id} and its subresources; rest holds the
// path segments after the matter id.
func (s *HTTPServer) handleMatter(w http.ResponseWriter, r *http.Request, session Session, matterID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			matter, err := s.service.GetMatter(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, matter)
		case http.MethodPut:
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			matter, err := s.service.UpdateMatterStatus(r.Context(), session, matterID, body.Status)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, matter)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "documents":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDocuments(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var body struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateDocument(r.Context(), session, matterID, body.Title, body.Body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, doc)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "members":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListMatterMembers(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"members": items})
		case http.MethodPost:
			var body struct {
				UserID string `json:"userId"`
				Role   string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.AddMatterMember(r.Context(), session, matterID, body.UserID, body.Role); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "snapshot":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		snap, err := s.service.MatterSnapshot(r.Context(), session, matterID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"matterId":    snap.MatterID,
			"connected":   snap.Connected,
			"degraded":    snap.Degraded,
			"activeUsers": snap.ActiveUsers,
			"activity":    snap.Activities,
			"messages":    snap.Messages,
		})
	case "activity":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		items, err := s.service.ListActivity(r.Context(), session, matterID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": items})
	case "chat":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListMessages(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": items})
		case http.MethodPost:
			var body struct {
				ThreadID string          `json:"threadId"`
				Kind     collab.ChatKind `json:"kind"`
				Body     string          `json:"body"`
				FileKey  string          `json:"fileKey"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			message, err := s.service.SendMessage(r.Context(), session, matterID, collab.MessageDraft{
				ThreadID: body.ThreadID,
				Kind:     body.Kind,
				Body:     body.Body,
				FileKey:  body.FileKey,
			})
			if err != nil {
				status, code, msg, details := mapError(err)
				writeError(w, status, code, msg, details)
				return
			}
			writeJSON(w, http.StatusCreated, message)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "presence":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListPresence(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"presence": items})
		case http.MethodPost:
			var body struct {
				DocumentID string                `json:"documentId"`
				Status     collab.PresenceStatus `json:"status"`
				Cursor     *collab.Cursor        `json:"cursor"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			presence, err := s.service.Heartbeat(r.Context(), session, matterID, body.DocumentID, body.Status, body.Cursor)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, presence)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "exhibits":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListExhibits(r.Context(), session, matterID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"exhibits": items})
		case http.MethodPost:
			s.handleExhibitUpload(w, r, session, matterID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "notes":
		s.handleNotes(w, r, session, matterID, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, session Session, documentID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodPut:
			var body struct {
				Title *string `json:"title"`
				Body  *string `json:"body"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDocument(r.Context(), session, documentID, body.Title, body.Body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "comments":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListComments(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": items})
		case http.MethodPost:
			var body struct {
				ParentID string             `json:"parentId"`
				Kind     collab.CommentKind `json:"kind"`
				Body     string             `json:"body"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), session, documentID, collab.CommentDraft{
				ParentID: body.ParentID,
				Kind:     body.Kind,
				Body:     body.Body,
			})
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, comment)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "export":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Format          string `json:"format"`
			IncludeComments bool   `json:"includeComments"`
			ResolvedOnly    bool   `json:"resolvedOnly"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Export(r.Context(), session, export.Request{
			DocumentID:      documentID,
			Format:          export.Format(body.Format),
			IncludeComments: body.IncludeComments,
			ResolvedOnly:    body.ResolvedOnly,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, session Session, commentID string, rest []string) {
	if len(rest) == 1 && rest[0] == "resolve" && r.Method == http.MethodPost {
		comment, err := s.service.ResolveComment(r.Context(), session, commentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, comment)
		return
	}
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Body *string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), session, commentID, collab.CommentPatch{Body: body.Body})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, comment)
	case http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleExhibit(w http.ResponseWriter, r *http.Request, session Session, exhibitID string, rest []string) {
	if len(rest) == 1 && rest[0] == "url" && r.Method == http.MethodGet {
		url, err := s.service.ExhibitDownloadURL(r.Context(), session, exhibitID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}
	if len(rest) == 1 && rest[0] == "download" && r.Method == http.MethodGet {
		exhibit, body, err := s.service.DownloadExhibit(r.Context(), session, exhibitID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Type", exhibit.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exhibit.Label))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, body)
		return
	}
	if len(rest) == 0 && r.Method == http.MethodDelete {
		if err := s.service.DeleteExhibit(r.Context(), session, exhibitID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExhibitUpload(w http.ResponseWriter, r *http.Request, session Session, matterID string) {
	if err := r.ParseMultipartForm(maxExhibitUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form upload", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing file field", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	label := strings.TrimSpace(r.FormValue("label"))
	exhibit, err := s.service.UploadExhibit(r.Context(), session, matterID, label, header.Filename, contentType, header.Size, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, exhibit)
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session, matterID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListNotes(r.Context(), session, matterID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": items})
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Name    string `json:"name"`
			Body    string `json:"body"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rev, err := s.service.SaveNote(r.Context(), session, matterID, body.Name, body.Body, body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, rev)
	case len(rest) == 1 && r.Method == http.MethodGet:
		note, err := s.service.GetNote(r.Context(), session, matterID, rest[0], strings.TrimSpace(r.URL.Query().Get("rev")))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, note)
	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		history, err := s.service.NoteHistory(r.Context(), session, matterID, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
