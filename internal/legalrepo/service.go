// Package legalrepo keeps the source text of each legal document under git
// version control, one repository per document type. Every published version
// becomes a commit tagged with its version string, so the exact wording a
// user consented to can always be recovered.
package legalrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const documentFile = "document.md"

// CommitInfo describes one recorded revision of a document's source text.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
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

// CommitVersion records the text of a new published version and tags it.
// The repository is created on first publish.
func (s *Service) CommitVersion(docType, text, version, author string) (CommitInfo, error) {
	lock := s.typeLock(docType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(docType)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	path := filepath.Join(s.repoPath(docType), documentFile)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write document text: %w", err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add document: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Publish %s v%s", docType, version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit document: %w", err)
	}

	if _, err := repo.CreateTag("v"+version, hash, &git.CreateTagOptions{
		Tagger:  signature(author),
		Message: "v" + version,
	}); err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("tag version: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// HeadText returns the current source text of a document type.
func (s *Service) HeadText(docType string) (string, CommitInfo, error) {
	lock := s.typeLock(docType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(docType))
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	text, err := readTextFromCommit(commitObj)
	if err != nil {
		return "", CommitInfo{}, err
	}
	return text, toCommitInfo(commitObj), nil
}

// TextAtVersion returns the exact wording published under a version tag.
func (s *Service) TextAtVersion(docType, version string) (string, error) {
	lock := s.typeLock(docType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(docType))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	resolved, err := repo.ResolveRevision(plumbing.Revision("v" + version))
	if err != nil {
		return "", fmt.Errorf("resolve version v%s: %w", version, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit v%s: %w", version, err)
	}
	return readTextFromCommit(commitObj)
}

// History lists recorded revisions, newest first.
func (s *Service) History(docType string, limit int) ([]CommitInfo, error) {
	lock := s.typeLock(docType)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(docType))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
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

func (s *Service) openOrInit(docType string) (*git.Repository, error) {
	path := s.repoPath(docType)
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
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(docType string) string {
	return filepath.Join(s.baseDir, docType)
}

func (s *Service) typeLock(docType string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[docType]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[docType] = lock
	return lock
}

func readTextFromCommit(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(documentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", documentFile, err)
	}
	text, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read document contents: %w", err)
	}
	return text, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	if author == "" {
		author = "Connsura"
	}
	return &object.Signature{
		Name:  author,
		Email: sanitizeEmail(author) + "@local.connsura.dev",
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}
