// Package export renders a document and its review comments to PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation.
type Request struct {
	DocumentID      string
	Format          Format
	IncludeComments bool
	ResolvedOnly    bool
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds the document metadata and body for rendering.
type DocumentInfo struct {
	ID        string
	MatterID  string
	Title     string
	Body      string
	UpdatedAt time.Time
}

// MatterInfo holds matter metadata for the export header.
type MatterInfo struct {
	ID         string
	Title      string
	ClientName string
}

// CommentInfo holds one comment for rendering. Replies are attached to
// their parent by ParentID.
type CommentInfo struct {
	ID         string
	ParentID   string
	AuthorName string
	Body       string
	Resolved   bool
	ResolvedBy string
	CreatedAt  time.Time
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
