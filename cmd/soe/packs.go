package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/rules/gitsource"
	"datum-hq/soe/pkg/rules/pack"
	"datum-hq/soe/pkg/telemetry/logging"
)

var packsCmd = &cobra.Command{
	Use:     "packs",
	Aliases: []string{"pack"},
	Short:   "Validate, import and list rule packs",
}

var packsValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate rule pack files",
	Long: `Load every rule pack under dir (default: the configured packs_dir) and report
every load and validation problem. Exits non-zero when any pack is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(validatePacks),
}

var packsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy rule packs and industry profiles from disk into storage",
	RunE:  withApp(importPacks),
}

var packsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rule packs found on disk",
	RunE:  withApp(listPacks),
}

var packsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload rule packs whenever their files change",
	RunE:  withApp(watchPacks),
}

var packSyncFlags struct {
	importAfter bool
}

var packsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Clone or pull the configured rule repository",
	Long: `Clone the repository named by rules.git.repository on first use and pull the
tracked branch afterwards. Packs are reloaded when rule files changed.

Examples:
  soe packs sync
  soe packs sync --import`,
	RunE: withApp(syncPacks),
}

func init() {
	rootCmd.AddCommand(packsCmd)
	packsCmd.AddCommand(packsValidateCmd, packsImportCmd, packsListCmd, packsWatchCmd, packsSyncCmd)

	packsSyncCmd.Flags().BoolVar(&packSyncFlags.importAfter, "import", false, "copy packs into storage after syncing")
}

// packReport is the validation outcome of one pack.
type packReport struct {
	PackID string `json:"pack_id"`
	Path   string `json:"path,omitempty"`
	Rules  int    `json:"rules"`
	Error  string `json:"error,omitempty"`
}

func validatePacks(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	dir, _, err := a.ruleDirs()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		dir = args[0]
	}

	packs, loadErr := pack.NewLoader(nil).LoadPackDirectory(dir)
	var (
		reports []packReport
		errs    []error
	)
	if loadErr != nil {
		errs = append(errs, loadErr)
	}
	for _, p := range packs {
		r := packReport{PackID: p.ID, Path: p.SourcePath, Rules: len(p.Rules)}
		if err := p.Validate(); err != nil {
			r.Error = err.Error()
			errs = append(errs, err)
		}
		reports = append(reports, r)
	}

	if err := render(cmd, reports, func(w io.Writer) {
		for _, r := range reports {
			status := "ok"
			if r.Error != "" {
				status = r.Error
			}
			fmt.Fprintf(w, "%-24s %3d rules  %s\n", r.PackID, r.Rules, status)
		}
		if loadErr != nil {
			fmt.Fprintf(w, "\n%v\n", loadErr)
		}
	}); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func importPacks(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	files := a.filePacks()
	logger := logging.FromContext(ctx, a.logger)

	var errs []error
	packs := files.Packs()
	for _, p := range packs {
		if err := a.store.SavePack(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("pack %s: %w", p.ID, err))
		}
	}

	industries := files.IndustryProfiles()
	for _, ip := range industries {
		if err := a.store.SaveIndustryProfile(ctx, ip); err != nil {
			errs = append(errs, fmt.Errorf("industry profile %s: %w", ip.Name, err))
		}
	}

	logger.Info("rule packs imported",
		"packs", len(packs),
		"industry_profiles", len(industries),
		"version", files.Version(),
		"errors", len(errs),
	)
	if err := render(cmd, map[string]int{"packs": len(packs), "industry_profiles": len(industries)}, func(w io.Writer) {
		fmt.Fprintf(w, "imported %d packs and %d industry profiles\n", len(packs), len(industries))
	}); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func listPacks(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	files := a.filePacks()
	packs := files.Packs()

	reports := make([]packReport, 0, len(packs))
	for _, p := range packs {
		reports = append(reports, packReport{PackID: p.ID, Path: p.SourcePath, Rules: len(p.Rules)})
	}
	return render(cmd, reports, func(w io.Writer) {
		for _, r := range reports {
			fmt.Fprintf(w, "%-24s %3d rules  %s\n", r.PackID, r.Rules, r.Path)
		}
		fmt.Fprintf(w, "\nregistry version %s\n", files.Version())
	})
}

func watchPacks(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	packsDir, industriesDir, err := a.ruleDirs()
	if err != nil {
		return err
	}
	files := a.filePacks()
	a.logger.Info("watching rule packs",
		"packs_dir", packsDir,
		"industry_profiles_dir", industriesDir,
		"debounce", a.cfg.Rules.Debounce,
	)
	return files.Watch(ctx, a.cfg.Rules.Debounce)
}

// syncReport is the outcome of pulling the rule repository.
type syncReport struct {
	Sync   *gitsource.SyncResult `json:"sync"`
	Head   *gitsource.Commit     `json:"head"`
	Packs  int                   `json:"packs"`
	Errors string                `json:"errors,omitempty"`
}

func syncPacks(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	repo, err := a.gitRepo()
	if err != nil {
		return err
	}
	res, err := repo.Sync(ctx)
	if err != nil {
		return err
	}
	head, err := repo.Head()
	if err != nil {
		return err
	}

	files := a.filePacks()
	var loadErr error
	if res.RulesChanged() {
		loadErr = files.Reload()
	}
	report := syncReport{Sync: res, Head: head, Packs: files.Count()}
	if loadErr != nil {
		report.Errors = loadErr.Error()
	}

	if err := render(cmd, report, func(w io.Writer) {
		switch {
		case res.Cloned:
			fmt.Fprintf(w, "cloned %s at %s\n", head.Repository, shortSHA(head.SHA))
		case res.Changed():
			fmt.Fprintf(w, "updated %s..%s, %d files changed\n", shortSHA(res.FromSHA), shortSHA(res.ToSHA), len(res.ChangedFiles))
		default:
			fmt.Fprintf(w, "already up to date at %s\n", shortSHA(head.SHA))
		}
		fmt.Fprintf(w, "%s: %s\n%d packs loaded\n", head.Author, head.Message, report.Packs)
	}); err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}
	if packSyncFlags.importAfter {
		return importPacks(ctx, cmd, args, a)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
