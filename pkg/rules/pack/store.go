package pack

import (
	"context"
	"log/slog"
	"time"
)

// Store keeps a Registry in sync with pack and industry profile directories.
type Store struct {
	*Registry

	packsDir      string
	industriesDir string
	loader        *Loader
	logger        *slog.Logger
}

// NewStore creates a store over the given directories. Call Reload to
// populate it.
func NewStore(packsDir, industriesDir string, loader *Loader, logger *slog.Logger) *Store {
	if loader == nil {
		loader = NewLoader(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Registry:      NewRegistry(),
		packsDir:      packsDir,
		industriesDir: industriesDir,
		loader:        loader,
		logger:        logger.With("component", "rules.pack"),
	}
}

// Reload reads both directories and swaps the registry contents. Files that
// fail to load are reported in the returned error; packs that did load are
// still installed so that one broken file does not hide the rest.
func (s *Store) Reload() error {
	errs := &ErrorList{}

	packs, err := s.loader.LoadPackDirectory(s.packsDir)
	errs.Add(err)

	var industries []*IndustryProfile
	if s.industriesDir != "" {
		industries, err = s.loader.LoadIndustryProfileDirectory(s.industriesDir)
		errs.Add(err)
	}

	if len(packs) == 0 && len(industries) == 0 && errs.HasErrors() {
		return errs.ToError()
	}

	s.Replace(packs, industries)
	s.logger.Info("rule packs loaded",
		"packs", len(packs),
		"industry_profiles", len(industries),
		"version", s.Version(),
		"errors", len(errs.Errors),
	)
	return errs.ToError()
}

// Watch reloads the store whenever a watched file changes. It blocks until
// ctx is cancelled.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	paths := []string{s.packsDir}
	if s.industriesDir != "" {
		paths = append(paths, s.industriesDir)
	}

	w, err := NewWatcher(paths, s.loader.config.Extensions, debounce, s.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Watch(ctx, func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("rule pack reload reported errors", "error", err)
		}
	})
}
