package gitsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"datum-hq/soe/pkg/config"
)

const workmanshipPack = `pack_id: SPACE_WORKMANSHIP
version: "1.0.0"
rules:
  - rule_id: SPACE_CLEAN
    then:
      action: INSERT_STEP
      payload:
        step_type: CLEAN
`

// originRepo initialises a repository in dir with one rule pack committed.
func originRepo(t *testing.T, dir string) *gogit.Repository {
	t.Helper()

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	commitFile(t, repo, dir, "packs/workmanship.yaml", workmanshipPack, "add workmanship pack")
	return repo
}

func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content, msg string) {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	_, err = wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Quality Engineer",
			Email: "qe@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func testConfig(origin, local string) *config.GitConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	git := cfg.Rules.Git
	git.Repository = origin
	git.Branch = "master"
	git.LocalPath = local
	return &git
}

func TestNewRepository(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.GitConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(*config.GitConfig) {}},
		{name: "no repository", modify: func(c *config.GitConfig) { c.Repository = "" }, wantErr: true},
		{name: "no branch", modify: func(c *config.GitConfig) { c.Branch = "" }, wantErr: true},
		{name: "no local path", modify: func(c *config.GitConfig) { c.LocalPath = "" }, wantErr: true},
		{name: "token without token", modify: func(c *config.GitConfig) { c.Auth.Type = "token" }, wantErr: true},
		{name: "unknown auth", modify: func(c *config.GitConfig) { c.Auth.Type = "kerberos" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://example.com/rules.git", t.TempDir())
			tt.modify(cfg)
			_, err := NewRepository(cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if _, err := NewRepository(nil, nil); err == nil {
		t.Error("NewRepository(nil) should error")
	}
}

func TestRepository_Dirs(t *testing.T) {
	cfg := testConfig("https://example.com/rules.git", "/var/lib/soe/rules")
	cfg.IndustriesPath = "profiles/industries"
	repo, err := NewRepository(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := repo.PacksDir(); got != "/var/lib/soe/rules/packs" {
		t.Errorf("PacksDir() = %q", got)
	}
	if got := repo.IndustriesDir(); got != "/var/lib/soe/rules/profiles/industries" {
		t.Errorf("IndustriesDir() = %q", got)
	}
}

func TestRepository_HeadBeforeSync(t *testing.T) {
	repo, err := NewRepository(testConfig(t.TempDir(), t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Head(); !errors.Is(err, ErrNotCloned) {
		t.Errorf("Head() error = %v, want ErrNotCloned", err)
	}
}

func TestRepository_Sync(t *testing.T) {
	originDir := t.TempDir()
	origin := originRepo(t, originDir)
	localDir := filepath.Join(t.TempDir(), "checkout")
	ctx := context.Background()

	repo, err := NewRepository(testConfig(originDir, localDir), nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := repo.Sync(ctx)
	if err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	if !res.Cloned || !res.RulesChanged() {
		t.Errorf("first Sync() = %+v, want a fresh clone", res)
	}
	if _, err := os.Stat(filepath.Join(repo.PacksDir(), "workmanship.yaml")); err != nil {
		t.Errorf("pack not checked out: %v", err)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.SHA != res.ToSHA || head.Message != "add workmanship pack" || head.Branch != "master" {
		t.Errorf("Head() = %+v", head)
	}

	res, err = repo.Sync(ctx)
	if err != nil {
		t.Fatalf("up to date Sync() error = %v", err)
	}
	if res.Changed() || res.RulesChanged() {
		t.Errorf("up to date Sync() = %+v, want no change", res)
	}

	commitFile(t, origin, originDir, "README.md", "# rules\n", "add readme")
	res, err = repo.Sync(ctx)
	if err != nil {
		t.Fatalf("readme Sync() error = %v", err)
	}
	if !res.Changed() || res.RulesChanged() {
		t.Errorf("readme Sync() = %+v, want change without rule files", res)
	}

	commitFile(t, origin, originDir, "industries/space.yaml", "name: space\n", "add space industry")
	res, err = repo.Sync(ctx)
	if err != nil {
		t.Fatalf("industry Sync() error = %v", err)
	}
	if !res.RulesChanged() || !slices.Contains(res.ChangedFiles, "industries/space.yaml") {
		t.Errorf("industry Sync() = %+v, want industries/space.yaml changed", res)
	}
}

func TestRepository_SyncReopensCheckout(t *testing.T) {
	originDir := t.TempDir()
	originRepo(t, originDir)
	localDir := t.TempDir()
	cfg := testConfig(originDir, localDir)

	first, err := NewRepository(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	second, err := NewRepository(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := second.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() on existing checkout error = %v", err)
	}
	if res.Cloned {
		t.Error("existing checkout was cloned again")
	}
}

func TestRepository_SyncBadRemote(t *testing.T) {
	repo, err := NewRepository(testConfig(filepath.Join(t.TempDir(), "missing"), t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Sync(context.Background()); err == nil {
		t.Error("Sync() from a missing remote should error")
	}
}

func TestRepository_Poll(t *testing.T) {
	originDir := t.TempDir()
	originRepo(t, originDir)

	repo, err := NewRepository(testConfig(originDir, t.TempDir()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Poll(context.Background(), 0, func(*SyncResult) {}); err == nil {
		t.Error("Poll() with zero interval should error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan *SyncResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- repo.Poll(ctx, 10*time.Millisecond, func(res *SyncResult) {
			select {
			case changed <- res:
			default:
			}
		})
	}()

	select {
	case res := <-changed:
		if !res.Cloned {
			t.Errorf("first poll = %+v, want clone", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll never reported the clone")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Poll() error = %v, want nil on cancel", err)
	}
}
