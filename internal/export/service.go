package export

import (
	"context"
	"fmt"
)

// DataStore defines the data access the exporter needs.
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	GetMatter(ctx context.Context, id string) (MatterInfo, error)
	ListComments(ctx context.Context, documentID string) ([]CommentInfo, error)
}

// Service renders documents to PDF or DOCX.
type Service struct {
	store DataStore
}

// NewService creates an export service.
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	matter, err := s.store.GetMatter(ctx, doc.MatterID)
	if err != nil {
		return nil, fmt.Errorf("get matter: %w", err)
	}

	data := TemplateData{
		Title:      doc.Title,
		MatterName: matter.Title,
		ClientName: matter.ClientName,
		Body:       doc.Body,
		UpdatedAt:  doc.UpdatedAt,
	}

	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Threads = buildThreads(comments, req.ResolvedOnly)
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, doc.Title)
	case FormatDOCX:
		return exportDOCX(html, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildThreads groups replies under their top-level comment and orders
// threads oldest-first so the export reads as a transcript.
func buildThreads(comments []CommentInfo, resolvedOnly bool) []TemplateThread {
	byParent := make(map[string][]CommentInfo)
	var roots []CommentInfo
	for _, c := range comments {
		if c.ParentID == "" {
			roots = append(roots, c)
		} else {
			byParent[c.ParentID] = append(byParent[c.ParentID], c)
		}
	}

	// Roots arrive newest-first from the store; flip for reading order.
	for i, j := 0, len(roots)-1; i < j; i, j = i+1, j-1 {
		roots[i], roots[j] = roots[j], roots[i]
	}

	threads := make([]TemplateThread, 0, len(roots))
	for _, root := range roots {
		if resolvedOnly && !root.Resolved {
			continue
		}
		thread := TemplateThread{
			Author:     root.AuthorName,
			Body:       root.Body,
			Resolved:   root.Resolved,
			ResolvedBy: root.ResolvedBy,
			CreatedAt:  root.CreatedAt,
		}
		replies := byParent[root.ID]
		for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
			replies[i], replies[j] = replies[j], replies[i]
		}
		for _, r := range replies {
			thread.Replies = append(thread.Replies, TemplateReply{
				Author: r.AuthorName,
				Body:   r.Body,
			})
		}
		threads = append(threads, thread)
	}
	return threads
}
