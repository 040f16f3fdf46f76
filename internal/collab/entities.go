// Package collab implements the realtime collaboration engine: presence,
// comments, activity history and chat kept consistent across clients via
// pub/sub channels scoped to a matter and, within it, to a single document.
package collab

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Cursor pins a collaborator's position inside a document.
type Cursor struct {
	Line          int `json:"line"`
	Column        int `json:"column"`
	SelectionFrom int `json:"selectionFrom"`
	SelectionTo   int `json:"selectionTo"`
}

// Presence is the liveness record for one user within one matter. The store
// keeps at most one row per (matter, user); last-seen never moves backwards.
type Presence struct {
	UserID     string         `json:"userId"`
	UserName   string         `json:"userName"`
	MatterID   string         `json:"matterId"`
	DocumentID string         `json:"documentId,omitempty"`
	Status     PresenceStatus `json:"status"`
	Cursor     *Cursor        `json:"cursor,omitempty"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
}

type CommentKind string

const (
	KindComment    CommentKind = "comment"
	KindHighlight  CommentKind = "highlight"
	KindStickyNote CommentKind = "sticky-note"
	KindSuggestion CommentKind = "suggestion"
)

// Comment belongs to exactly one document and optionally to a parent
// comment, forming a reply tree of unbounded depth.
type Comment struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"documentId"`
	ParentID   string      `json:"parentId,omitempty"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	Kind       CommentKind `json:"kind"`
	Body       string      `json:"body"`
	Resolved   bool        `json:"resolved"`
	ResolvedBy string      `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Activity is an append-only per-matter log entry.
type Activity struct {
	ID        string    `json:"id"`
	MatterID  string    `json:"matterId"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"targetId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatKind string

const (
	ChatText    ChatKind = "text"
	ChatFile    ChatKind = "file"
	ChatSystem  ChatKind = "system"
	ChatMention ChatKind = "mention"
)

// ChatMessage belongs to a matter, optionally to a sub-thread within it.
type ChatMessage struct {
	ID         string     `json:"id"`
	MatterID   string     `json:"matterId"`
	ThreadID   string     `json:"threadId,omitempty"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Kind       ChatKind   `json:"kind"`
	Body       string     `json:"body"`
	FileKey    string     `json:"fileKey,omitempty"`
	Edited     bool       `json:"edited"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CommentDraft carries the caller-supplied fields of a new comment; the
// store assigns id and timestamps.
type CommentDraft struct {
	DocumentID string
	ParentID   string
	Kind       CommentKind
	Body       string
}

// CommentPatch is a partial comment update; nil fields are left unchanged.
type CommentPatch struct {
	Body *string
}

type ActivityDraft struct {
	Kind     string
	TargetID string
	Detail   string
}

type MessageDraft struct {
	ThreadID string
	Kind     ChatKind
	Body     string
	FileKey  string
}

// User is the actor identity consumed from the identity provider.
type User struct {
	ID   string
	Name string
}
