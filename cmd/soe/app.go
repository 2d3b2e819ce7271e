package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"datum-hq/soe/pkg/audit"
	"datum-hq/soe/pkg/cli"
	"datum-hq/soe/pkg/config"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/gitsource"
	"datum-hq/soe/pkg/rules/pack"
	"datum-hq/soe/pkg/storage"
	"datum-hq/soe/pkg/telemetry/metrics"
)

// app wires the components a command needs from the loaded configuration.
type app struct {
	cfg       *config.Config
	store     storage.Store
	files     *pack.Store
	rulesRepo *gitsource.Repository
	collector *metrics.Collector
	logger    *slog.Logger
}

func newApp() (*app, error) {
	cfg := config.MustGetConfig()
	logger := slog.Default().With("component", "cli")

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout,
		WALMode:     cfg.Storage.WAL(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == storage.DriverMemory {
		logger.Warn("memory storage does not persist between commands")
	}

	return &app{
		cfg:       cfg,
		store:     store,
		collector: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
		logger:    logger,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// ruleDirs returns the pack and industry profile directories, which live in
// the git checkout when a rule repository is configured.
func (a *app) ruleDirs() (packsDir, industriesDir string, err error) {
	if !a.cfg.Rules.Git.Enabled() {
		return a.cfg.Rules.PacksDir, a.cfg.Rules.IndustryProfilesDir, nil
	}
	repo, err := a.gitRepo()
	if err != nil {
		return "", "", err
	}
	return repo.PacksDir(), repo.IndustriesDir(), nil
}

// gitRepo returns the configured rule repository checkout.
func (a *app) gitRepo() (*gitsource.Repository, error) {
	if a.rulesRepo != nil {
		return a.rulesRepo, nil
	}
	if !a.cfg.Rules.Git.Enabled() {
		return nil, fmt.Errorf("no rule repository configured: set rules.git.repository")
	}
	repo, err := gitsource.NewRepository(&a.cfg.Rules.Git, a.logger)
	if err != nil {
		return nil, err
	}
	a.rulesRepo = repo
	return repo, nil
}

// filePacks loads the pack and industry profile directories once. Missing
// directories leave the registry empty.
func (a *app) filePacks() *pack.Store {
	if a.files != nil {
		return a.files
	}
	packsDir, industriesDir, err := a.ruleDirs()
	if err != nil {
		a.logger.Warn("rule repository unusable, falling back to configured directories", "error", err)
		packsDir, industriesDir = a.cfg.Rules.PacksDir, a.cfg.Rules.IndustryProfilesDir
	}
	a.files = pack.NewStore(packsDir, industriesDir, nil, a.logger)
	if err := a.files.Reload(); err != nil {
		a.logger.Warn("rule pack directories not loaded",
			"packs_dir", packsDir,
			"error", err,
		)
	}
	return a.files
}

// packs serves packs from the directories first and from storage second.
func (a *app) packs() pack.Repository {
	return packChain{a.filePacks(), a.store}
}

func (a *app) engine() (*engine.Engine, error) {
	engCfg := engine.DefaultConfig().
		WithSOEVersion(a.cfg.Engine.SOEVersion).
		WithAllowDraftProfiles(a.cfg.Engine.AllowDraftProfiles)
	return engine.New(engCfg, a.packs(), a.store, engine.WithObserver(a.collector))
}

func (a *app) governor() *plan.Governor {
	return plan.NewGovernor(a.store,
		plan.WithRecorder(a.store),
		plan.WithObserver(a.collector),
	)
}

func (a *app) lifecycle() *profile.Lifecycle {
	return profile.NewLifecycle(a.store,
		profile.WithRecorder(a.store),
		profile.WithObserver(a.collector),
	)
}

func (a *app) auditor() *audit.Auditor {
	return audit.New(a.store, a.store, a.store, audit.WithObserver(a.collector))
}

// commandFunc is a command body that needs the wired components.
type commandFunc func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error

// withApp opens the app for the duration of fn. ctx is canceled on SIGINT or
// SIGTERM. Failures other than exit outcomes are tagged with the command.
func withApp(fn commandFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return cli.NewCommandError(cmd.CommandPath(), err)
		}
		defer a.Close()

		ctx, stop := cli.SetupSignalHandler(cmd.Context())
		defer stop()

		err = fn(ctx, cmd, args, a)
		var exitErr *cli.ExitError
		if err == nil || errors.As(err, &exitErr) {
			return err
		}
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
}

// packChain is a pack.Repository that asks each repository in turn and
// moves on only when a pack is not found.
type packChain []pack.Repository

func (c packChain) LoadPack(ctx context.Context, id string) (*pack.RulePack, error) {
	for _, repo := range c {
		p, err := repo.LoadPack(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, pack.ErrPackNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", pack.ErrPackNotFound, id)
}

func (c packChain) LoadIndustryProfile(ctx context.Context, name string) (*pack.IndustryProfile, error) {
	for _, repo := range c {
		ip, err := repo.LoadIndustryProfile(ctx, name)
		if err == nil {
			return ip, nil
		}
		if !errors.Is(err, pack.ErrIndustryProfileNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", pack.ErrIndustryProfileNotFound, name)
}

// readDocument decodes a YAML or JSON file into v using v's json tags. A path
// of "-" reads standard input.
func readDocument(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decodeDocument(data, v)
}

func decodeDocument(data []byte, v any) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// render writes v in the selected output format. For text output, text is
// used instead when it is not nil.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if format == cli.FormatText && text != nil {
		text(cmd.OutOrStdout())
		return nil
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), v)
}
