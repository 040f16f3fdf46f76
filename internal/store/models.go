package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Matter is one legal case workspace. Everything else hangs off a matter:
// documents, exhibits, activity, chat.
type Matter struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ClientName string    `json:"clientName"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	MatterOpen   = "open"
	MatterClosed = "closed"
)

type Document struct {
	ID          string    `json:"id"`
	MatterID    string    `json:"matterId"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ContentType string    `json:"contentType"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Exhibit is an uploaded evidence file. The bytes live in object storage
// under FileKey; this row is the catalog entry.
type Exhibit struct {
	ID          string    `json:"id"`
	MatterID    string    `json:"matterId"`
	Label       string    `json:"label"`
	FileKey     string    `json:"fileKey"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MatterMember grants a user a role on one matter, overriding their
// workspace-wide role for that matter.
type MatterMember struct {
	MatterID string    `json:"matterId"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Role     string    `json:"role"`
	AddedAt  time.Time `json:"addedAt"`
}
