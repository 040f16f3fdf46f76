package notes

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNoteLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.SaveNote("mat-1", "Strategy", "Initial theory of the case.", "Avery", "")
	if err != nil {
		t.Fatalf("SaveNote() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "mat-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second, err := svc.SaveNote("mat-1", "Strategy", "Revised after deposition.", "Avery", "Revise strategy")
	if err != nil {
		t.Fatalf("second SaveNote() error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("expected a new commit for the second save")
	}

	note, err := svc.GetNote("mat-1", "Strategy")
	if err != nil {
		t.Fatalf("GetNote() error = %v", err)
	}
	if note.Body != "Revised after deposition." {
		t.Fatalf("unexpected head body: %q", note.Body)
	}

	old, err := svc.GetNoteAt("mat-1", "Strategy", first.Hash)
	if err != nil {
		t.Fatalf("GetNoteAt() error = %v", err)
	}
	if old.Body != "Initial theory of the case." {
		t.Fatalf("unexpected body at first revision: %q", old.Body)
	}

	history, err := svc.History("mat-1", "Strategy", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Message != "Revise strategy" {
		t.Fatalf("unexpected newest message: %q", history[0].Message)
	}
}

func TestListNotes(t *testing.T) {
	svc := New(t.TempDir())

	if _, err := svc.SaveNote("mat-1", "Witnesses", "List of witnesses.", "Avery", ""); err != nil {
		t.Fatalf("SaveNote() error = %v", err)
	}
	if _, err := svc.SaveNote("mat-1", "Deadlines", "Filing deadlines.", "Avery", ""); err != nil {
		t.Fatalf("SaveNote() error = %v", err)
	}

	notes, err := svc.ListNotes("mat-1")
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].Name != "deadlines" || notes[1].Name != "witnesses" {
		t.Fatalf("unexpected order: %q, %q", notes[0].Name, notes[1].Name)
	}
}

func TestListNotesEmptyMatter(t *testing.T) {
	svc := New(t.TempDir())
	notes, err := svc.ListNotes("never-saved")
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("expected no notes, got %d", len(notes))
	}
}

func TestDeleteNoteKeepsHistory(t *testing.T) {
	svc := New(t.TempDir())

	saved, err := svc.SaveNote("mat-1", "Scratch", "Temporary.", "Avery", "")
	if err != nil {
		t.Fatalf("SaveNote() error = %v", err)
	}
	if _, err := svc.DeleteNote("mat-1", "Scratch", "Avery"); err != nil {
		t.Fatalf("DeleteNote() error = %v", err)
	}

	if _, err := svc.GetNote("mat-1", "Scratch"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound at head, got %v", err)
	}
	old, err := svc.GetNoteAt("mat-1", "Scratch", saved.Hash)
	if err != nil {
		t.Fatalf("GetNoteAt() error = %v", err)
	}
	if old.Body != "Temporary." {
		t.Fatalf("unexpected body at old revision: %q", old.Body)
	}
}

func TestGetNoteUnknownMatter(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.GetNote("missing", "anything"); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
}

func TestNoteFilenameSlugs(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Strategy", "strategy.md"},
		{"Key Witnesses", "key-witnesses.md"},
		{"Q3_review!", "q3-review.md"},
		{"///", "note.md"},
	}
	for _, tc := range cases {
		if got := noteFilename(tc.in); got != tc.want {
			t.Errorf("noteFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
