// Package history keeps a git repository per document and commits a JSON
// snapshot on every write. The short commit hash doubles as the document
// version.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"folio/api/internal/document"
)

const snapshotFile = "document.json"

var (
	ErrNoHistory  = errors.New("document has no history")
	ErrInvalidID  = errors.New("invalid document id")
	ErrNoRevision = errors.New("unknown revision")

	safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
}

type Recorder struct {
	baseDir string
	author  string
	now     func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(baseDir string) *Recorder {
	return &Recorder{
		baseDir: baseDir,
		author:  "folio",
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits doc as the new head of the document's history, creating
// the repository on first use. The version key is left out of the snapshot.
func (r *Recorder) Record(kind, id string, doc document.Document, message string) (Commit, error) {
	path, err := r.repoPath(kind, id)
	if err != nil {
		return Commit{}, err
	}
	lock := r.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.openOrInit(path)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	snapshot := doc.Clone()
	if snapshot == nil {
		snapshot = document.Document{}
	}
	delete(snapshot, document.FieldVersion)
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  r.author,
			Email: r.author + "@local.folio.dev",
			When:  r.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists commits newest first. limit <= 0 returns all of them.
func (r *Recorder) History(kind, id string, limit int) ([]Commit, error) {
	path, err := r.repoPath(kind, id)
	if err != nil {
		return nil, err
	}
	lock := r.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := open(path)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns the document as it was committed at hash, which may be
// abbreviated.
func (r *Recorder) Snapshot(kind, id, hash string) (document.Document, error) {
	path, err := r.repoPath(kind, id)
	if err != nil {
		return nil, err
	}
	lock := r.documentLock(kind, id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := open(path)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRevision, hash)
	}
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return document.Decode([]byte(contents))
}

func (r *Recorder) openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (r *Recorder) repoPath(kind, id string) (string, error) {
	if !safeName.MatchString(kind) || !safeName.MatchString(id) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidID, kind, id)
	}
	return filepath.Join(r.baseDir, kind, id), nil
}

func (r *Recorder) documentLock(kind, id string) *sync.Mutex {
	key := kind + "/" + id
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	r.locks[key] = lock
	return lock
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:    commitObj.Hash.String()[:7],
		Message: commitObj.Message,
		Author:  commitObj.Author.Name,
		At:      commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrNoRevision, hash)
	}
	return *resolved, nil
}
