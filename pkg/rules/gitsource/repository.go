package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"datum-hq/soe/pkg/config"
)

// ErrNotCloned is returned by Head before the first successful Sync.
var ErrNotCloned = errors.New("rule repository not cloned")

// ruleExtensions are the file types the pack loader reads.
var ruleExtensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// Commit describes the checked out HEAD.
type Commit struct {
	SHA        string    `json:"sha"`
	Author     string    `json:"author"`
	Email      string    `json:"email"`
	Time       time.Time `json:"time"`
	Message    string    `json:"message"`
	Branch     string    `json:"branch"`
	Repository string    `json:"repository"`
}

// SyncResult reports what a Sync moved.
type SyncResult struct {
	Cloned       bool     `json:"cloned"`
	FromSHA      string   `json:"from_sha,omitempty"`
	ToSHA        string   `json:"to_sha"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

// Changed reports whether HEAD moved.
func (r *SyncResult) Changed() bool {
	return r.Cloned || r.FromSHA != r.ToSHA
}

// RulesChanged reports whether the sync touched any rule file. A fresh clone
// always counts.
func (r *SyncResult) RulesChanged() bool {
	if r.Cloned {
		return true
	}
	for _, f := range r.ChangedFiles {
		if ruleExtensions[strings.ToLower(filepath.Ext(f))] {
			return true
		}
	}
	return false
}

// Repository is a local checkout of a rule repository.
type Repository struct {
	cfg    config.GitConfig
	auth   Auth
	logger *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewRepository validates cfg and prepares a checkout at cfg.LocalPath.
// Nothing is cloned until Sync.
func NewRepository(cfg *config.GitConfig, logger *slog.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("git config cannot be nil")
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local path cannot be empty")
	}

	auth, err := NewAuth(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("git auth: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultGitTimeout
	}

	return &Repository{
		cfg:    c,
		auth:   auth,
		logger: logger.With("component", "rules.gitsource", "repository", cfg.Repository),
	}, nil
}

// PacksDir is the rule pack directory inside the checkout.
func (r *Repository) PacksDir() string {
	return filepath.Join(r.cfg.LocalPath, r.cfg.PacksPath)
}

// IndustriesDir is the industry profile directory inside the checkout.
func (r *Repository) IndustriesDir() string {
	return filepath.Join(r.cfg.LocalPath, r.cfg.IndustriesPath)
}

// Sync clones the repository if there is no checkout yet and pulls the
// tracked branch otherwise.
func (r *Repository) Sync(ctx context.Context) (*SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if r.repo == nil {
		cloned, err := r.open(ctx)
		if err != nil {
			return nil, err
		}
		if cloned {
			head, err := r.repo.Head()
			if err != nil {
				return nil, fmt.Errorf("read HEAD: %w", err)
			}
			r.logger.Info("rule repository cloned", "sha", head.Hash().String(), "path", r.cfg.LocalPath)
			return &SyncResult{Cloned: true, ToSHA: head.Hash().String()}, nil
		}
	}
	return r.pull(ctx)
}

// open reuses an existing checkout or clones a new one.
func (r *Repository) open(ctx context.Context) (bool, error) {
	if _, err := os.Stat(filepath.Join(r.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.cfg.LocalPath)
		if err != nil {
			return false, fmt.Errorf("open checkout %s: %w", r.cfg.LocalPath, err)
		}
		r.repo = repo
		return false, nil
	}

	if err := os.MkdirAll(r.cfg.LocalPath, 0o755); err != nil {
		return false, fmt.Errorf("create checkout directory: %w", err)
	}
	auth, err := r.auth.Method()
	if err != nil {
		return false, err
	}

	repo, err := gogit.PlainCloneContext(ctx, r.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
		Auth:          auth,
	})
	if err != nil {
		return false, fmt.Errorf("clone %s: %w", r.cfg.Repository, err)
	}
	r.repo = repo
	return true, nil
}

func (r *Repository) pull(ctx context.Context) (*SyncResult, error) {
	before, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	auth, err := r.auth.Method()
	if err != nil {
		return nil, err
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("pull %s: %w", r.cfg.Branch, err)
	}

	after, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	res := &SyncResult{FromSHA: before.Hash().String(), ToSHA: after.Hash().String()}
	if !res.Changed() {
		return res, nil
	}

	res.ChangedFiles, err = r.changedFiles(before.Hash(), after.Hash())
	if err != nil {
		return nil, err
	}
	r.logger.Info("rule repository updated",
		"from", res.FromSHA,
		"to", res.ToSHA,
		"changed_files", len(res.ChangedFiles),
	)
	return res, nil
}

// changedFiles lists paths added, modified or removed between two commits.
func (r *Repository) changedFiles(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", from, err)
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", to, err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, err
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}
	files := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.To.Name != "" {
			files = append(files, c.To.Name)
		} else {
			files = append(files, c.From.Name)
		}
	}
	return files, nil
}

// Head describes the checked out commit.
func (r *Repository) Head() (*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", ref.Hash(), err)
	}
	return &Commit{
		SHA:        c.Hash.String(),
		Author:     c.Author.Name,
		Email:      c.Author.Email,
		Time:       c.Author.When,
		Message:    strings.TrimSpace(c.Message),
		Branch:     r.cfg.Branch,
		Repository: r.cfg.Repository,
	}, nil
}

// Poll syncs every interval and calls onChange when rule files moved. It
// blocks until ctx is cancelled. Sync failures are logged and retried on
// the next tick.
func (r *Repository) Poll(ctx context.Context, interval time.Duration, onChange func(*SyncResult)) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.Sync(ctx)
			if err != nil {
				r.logger.Warn("rule repository sync failed", "error", err)
				continue
			}
			if res.RulesChanged() {
				onChange(res)
			}
		}
	}
}
