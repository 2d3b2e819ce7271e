package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ruleRepo commits the test pack and industry profile to a new repository.
func ruleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	writeFile(t, filepath.Join(dir, "packs", "workmanship.yaml"), workmanshipPack)
	writeFile(t, filepath.Join(dir, "industries", "space.yaml"), spaceIndustry)

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"packs/workmanship.yaml", "industries/space.yaml"} {
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
	}
	_, err = wt.Commit("space rules", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Quality Engineer", Email: "qe@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return dir
}

func TestSyncPacks(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Rules.Git.Repository = ruleRepo(t)
	a.cfg.Rules.Git.Branch = "master"
	a.cfg.Rules.Git.LocalPath = filepath.Join(t.TempDir(), "checkout")
	// The configured directories are ignored once a repository is set.
	if err := os.RemoveAll(a.cfg.Rules.PacksDir); err != nil {
		t.Fatal(err)
	}

	prev := packSyncFlags.importAfter
	packSyncFlags.importAfter = false
	t.Cleanup(func() { packSyncFlags.importAfter = prev })

	cmd, out := testCommand()
	ctx := context.Background()
	if err := syncPacks(ctx, cmd, nil, a); err != nil {
		t.Fatalf("syncPacks() error = %v", err)
	}
	report := decodeOutput[syncReport](t, out)
	if !report.Sync.Cloned || report.Packs != 1 || report.Head.Message != "space rules" {
		t.Errorf("report = %+v", report)
	}

	if _, err := a.filePacks().LoadIndustryProfile(ctx, "space"); err != nil {
		t.Errorf("industry profile not loaded from checkout: %v", err)
	}

	cmd, out = testCommand()
	if err := syncPacks(ctx, cmd, nil, a); err != nil {
		t.Fatalf("second syncPacks() error = %v", err)
	}
	if report := decodeOutput[syncReport](t, out); report.Sync.Changed() {
		t.Errorf("second sync = %+v, want up to date", report.Sync)
	}
}

func TestSyncPacks_NotConfigured(t *testing.T) {
	a := newTestApp(t)
	cmd, _ := testCommand()
	if err := syncPacks(context.Background(), cmd, nil, a); err == nil {
		t.Error("syncPacks() without a repository should error")
	}
}
