// Package notes keeps versioned case notes, one git repository per matter.
// Each note is a markdown file in the repo; every save is a commit, so the
// full revision history of a matter's notes survives edits and deletions.
package notes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoteNotFound is returned when the note file does not exist at the
// requested revision.
var ErrNoteNotFound = errors.New("note not found")

// CommitInfo summarizes one revision of a note.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Note is a named markdown note plus the commit that produced it.
type Note struct {
	Name string     `json:"name"`
	Body string     `json:"body"`
	Rev  CommitInfo `json:"rev"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// SaveNote writes the note body and commits it. The matter's repository is
// created on first save.
func (s *Service) SaveNote(matterID, name, body, author, message string) (CommitInfo, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(matterID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	filename := noteFilename(name)
	path := filepath.Join(worktree.Filesystem.Root(), filename)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write note %s: %w", filename, err)
	}
	if _, err := worktree.Add(filename); err != nil {
		return CommitInfo{}, fmt.Errorf("git add %s: %w", filename, err)
	}

	if message == "" {
		message = fmt.Sprintf("Update %s", name)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit note %s: %w", filename, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// DeleteNote removes the note file in a new commit. The note's history
// remains reachable through earlier revisions.
func (s *Service) DeleteNote(matterID, name, author string) (CommitInfo, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(matterID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	filename := noteFilename(name)
	if _, err := worktree.Remove(filename); err != nil {
		return CommitInfo{}, ErrNoteNotFound
	}
	hash, err := worktree.Commit(fmt.Sprintf("Delete %s", name), &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit delete %s: %w", filename, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// GetNote reads the note at the head of the matter's repository.
func (s *Service) GetNote(matterID, name string) (Note, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(matterID))
	if err != nil {
		return Note{}, ErrNoteNotFound
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Note{}, err
	}
	return readNoteFromCommit(commitObj, name)
}

// GetNoteAt reads the note as of a specific revision.
func (s *Service) GetNoteAt(matterID, name, hash string) (Note, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(matterID))
	if err != nil {
		return Note{}, ErrNoteNotFound
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Note{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Note{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readNoteFromCommit(commitObj, name)
}

// ListNotes returns every note in the matter's repository at head.
func (s *Service) ListNotes(matterID string) ([]Note, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(matterID))
	if err != nil {
		// No repo yet means no notes were ever saved.
		return []Note{}, nil
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	tree, err := commitObj.Tree()
	if err != nil {
		return nil, fmt.Errorf("read commit tree: %w", err)
	}

	notes := make([]Note, 0)
	err = tree.Files().ForEach(func(f *object.File) error {
		if !strings.HasSuffix(f.Name, ".md") {
			return nil
		}
		body, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read note %s: %w", f.Name, err)
		}
		notes = append(notes, Note{
			Name: strings.TrimSuffix(f.Name, ".md"),
			Body: body,
			Rev:  toCommitInfo(commitObj),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Name < notes[j].Name })
	return notes, nil
}

// History lists the revisions that touched the given note, newest first.
func (s *Service) History(matterID, name string, limit int) ([]CommitInfo, error) {
	lock := s.matterLock(matterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(matterID))
	if err != nil {
		return nil, ErrNoteNotFound
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	filename := noteFilename(name)
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &filename})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) ensureRepo(matterID string) (*git.Repository, error) {
	path := s.repoPath(matterID)
	if repo, err := git.PlainOpen(path); err == nil {
		return repo, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(matterID string) string {
	return filepath.Join(s.baseDir, matterID)
}

func (s *Service) matterLock(matterID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[matterID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[matterID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readNoteFromCommit(commitObj *object.Commit, name string) (Note, error) {
	file, err := commitObj.File(noteFilename(name))
	if err != nil {
		return Note{}, ErrNoteNotFound
	}
	body, err := file.Contents()
	if err != nil {
		return Note{}, fmt.Errorf("read note contents: %w", err)
	}
	return Note{Name: name, Body: body, Rev: toCommitInfo(commitObj)}, nil
}

// noteFilename slugs the note name into a safe markdown filename.
func noteFilename(name string) string {
	slug := make([]rune, 0, len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			slug = append(slug, r)
		case r == ' ' || r == '-' || r == '_':
			slug = append(slug, '-')
		}
	}
	if len(slug) == 0 {
		slug = []rune("note")
	}
	return string(slug) + ".md"
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.docket.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
