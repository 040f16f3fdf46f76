package export

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeExportStore struct {
	doc      DocumentInfo
	matter   MatterInfo
	comments []CommentInfo
}

func (f *fakeExportStore) GetDocument(context.Context, string) (DocumentInfo, error) {
	return f.doc, nil
}
func (f *fakeExportStore) GetMatter(context.Context, string) (MatterInfo, error) {
	return f.matter, nil
}
func (f *fakeExportStore) ListComments(context.Context, string) ([]CommentInfo, error) {
	return f.comments, nil
}

func TestRenderDocumentHTML(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:      "Motion to Dismiss",
		MatterName: "Smith v. Jones",
		ClientName: "Smith & Co",
		Body:       "First paragraph.\n\nSecond paragraph.",
		UpdatedAt:  time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
		Threads: []TemplateThread{
			{
				Author:     "Dana",
				Body:       "Check the citation in section II.",
				Resolved:   true,
				ResolvedBy: "Lee",
				CreatedAt:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
				Replies:    []TemplateReply{{Author: "Lee", Body: "Fixed."}},
			},
		},
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	for _, want := range []string{
		"<h1>Motion to Dismiss</h1>",
		"Smith v. Jones",
		"Smith &amp; Co",
		"<p>First paragraph.</p>",
		"<p>Second paragraph.</p>",
		"Check the citation in section II.",
		"Resolved by Lee",
		"Fixed.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderEscapesBody(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title: "Doc",
		Body:  "<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatal("body was not escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatal("expected escaped script tag")
	}
}

func TestBuildThreadsGroupsReplies(t *testing.T) {
	comments := []CommentInfo{
		// Newest-first, as the store returns them.
		{ID: "c2", AuthorName: "Lee", Body: "Second thread", CreatedAt: ts(2)},
		{ID: "c1", AuthorName: "Dana", Body: "First thread", Resolved: true, ResolvedBy: "Lee", CreatedAt: ts(1)},
		{ID: "c3", ParentID: "c1", AuthorName: "Lee", Body: "A reply", CreatedAt: ts(3)},
	}

	threads := buildThreads(comments, false)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].Body != "First thread" || threads[1].Body != "Second thread" {
		t.Fatalf("threads not in reading order: %+v", threads)
	}
	if len(threads[0].Replies) != 1 || threads[0].Replies[0].Body != "A reply" {
		t.Fatalf("reply not grouped under parent: %+v", threads[0].Replies)
	}

	resolved := buildThreads(comments, true)
	if len(resolved) != 1 || resolved[0].Body != "First thread" {
		t.Fatalf("resolved-only filter failed: %+v", resolved)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&fakeExportStore{
		doc:    DocumentInfo{ID: "doc_1", Title: "Doc"},
		matter: MatterInfo{ID: "mat_1", Title: "Matter"},
	})
	_, err := svc.Export(context.Background(), Request{DocumentID: "doc_1", Format: "rtf"})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Simple Title", "Simple-Title"},
		{"Title/With\\Slashes", "TitleWithSlashes"},
		{"", "document"},
		{"!!!", "document"},
		{strings.Repeat("a", 60), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b&c")
	if got != "a%20b%26c" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func ts(sec int) time.Time {
	return time.Date(2026, 5, 1, 9, 0, sec, 0, time.UTC)
}
