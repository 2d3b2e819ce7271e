package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/telemetry/logging"
)

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"profile"},
	Short:   "Manage compliance profiles, versions and bundles",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Load profile files into storage",
	Long: `Load every profile file under dir (default: the configured profiles_dir).
New profiles are stored as drafts. Existing profiles are updated only while
they are still draft or rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(importProfiles),
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	RunE:  withApp(listProfiles),
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <profile-id>",
	Short: "Show a stored profile and its lifecycle events",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(showProfile),
}

var profileTransitionFlags struct {
	reason       string
	supersededBy []string
}

var profilesSubmitCmd = &cobra.Command{
	Use:   "submit <profile-id>",
	Short: "Submit a draft profile for approval",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionProfile(events.ActionSubmit)),
}

var profilesApproveCmd = &cobra.Command{
	Use:   "approve <profile-id>",
	Short: "Approve a submitted profile",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionProfile(events.ActionApprove)),
}

var profilesRejectCmd = &cobra.Command{
	Use:   "reject <profile-id>",
	Short: "Reject a submitted profile",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionProfile(events.ActionReject)),
}

var profilesDeprecateCmd = &cobra.Command{
	Use:   "deprecate <profile-id>",
	Short: "Deprecate an approved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionProfile(events.ActionDeprecate)),
}

var profilesVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Snapshot and compare profile versions",
}

var profileVersionCreateFlags struct {
	parent string
}

var profilesVersionCreateCmd = &cobra.Command{
	Use:   "create <profile-id> <version>",
	Short: "Snapshot the current profile as a semantic version",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(createProfileVersion),
}

var profilesVersionListCmd = &cobra.Command{
	Use:   "list <profile-id>",
	Short: "List the versions of a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(listProfileVersions),
}

var profilesVersionCompareCmd = &cobra.Command{
	Use:   "compare <profile-id> <from> <to>",
	Short: "Compare two profile versions",
	Args:  cobra.ExactArgs(3),
	RunE:  withApp(compareProfileVersions),
}

var bundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "Manage named profile bundles",
}

var bundleCreateFlags struct {
	file string
}

var bundlesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a bundle from a file",
	RunE:  withApp(createBundle),
}

var bundlesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored bundles",
	RunE:  withApp(listBundles),
}

var bundlesResolveCmd = &cobra.Command{
	Use:   "resolve <bundle-id>",
	Short: "Print the profile ids of a bundle in stack order",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(resolveBundle),
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(
		profilesImportCmd,
		profilesListCmd,
		profilesShowCmd,
		profilesSubmitCmd,
		profilesApproveCmd,
		profilesRejectCmd,
		profilesDeprecateCmd,
		profilesVersionCmd,
		bundlesCmd,
	)
	profilesVersionCmd.AddCommand(profilesVersionCreateCmd, profilesVersionListCmd, profilesVersionCompareCmd)
	bundlesCmd.AddCommand(bundlesCreateCmd, bundlesListCmd, bundlesResolveCmd)

	for _, c := range []*cobra.Command{profilesRejectCmd, profilesDeprecateCmd} {
		c.Flags().StringVar(&profileTransitionFlags.reason, "reason", "", "reason recorded with the transition")
	}
	profilesDeprecateCmd.Flags().StringSliceVar(&profileTransitionFlags.supersededBy, "superseded-by", nil, "profiles replacing this one")

	profilesVersionCreateCmd.Flags().StringVar(&profileVersionCreateFlags.parent, "parent", "", "parent version (default the profile's current version)")

	bundlesCreateCmd.Flags().StringVarP(&bundleCreateFlags.file, "file", "f", "", "bundle file (YAML or JSON, - for stdin)")
	_ = bundlesCreateCmd.MarkFlagRequired("file")
}

// importResult reports what profiles import did.
type importResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}

func importProfiles(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	dir := a.cfg.Rules.ProfilesDir
	if len(args) > 0 {
		dir = args[0]
	}

	loaded, loadErr := profile.LoadDirectory(dir)
	if loadErr != nil && len(loaded) == 0 {
		return loadErr
	}
	if loadErr != nil {
		a.logger.Warn("some profile files were skipped", "dir", dir, "error", loadErr)
	}

	lc := a.lifecycle()
	var (
		res  importResult
		errs []error
	)
	for _, p := range loaded {
		_, err := a.store.LoadProfile(ctx, p.ID)
		switch {
		case errors.Is(err, profile.ErrNotFound):
			p.Metadata = profile.Metadata{State: profile.StateDraft}
			err = a.store.SaveProfile(ctx, p)
			if err == nil {
				res.Created = append(res.Created, p.ID)
			}
		case err == nil:
			err = lc.Update(ctx, p)
			if err == nil {
				res.Updated = append(res.Updated, p.ID)
			}
		}
		if err != nil {
			res.Failed = append(res.Failed, p.ID)
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
		}
	}

	logging.FromContext(ctx, a.logger).Info("profiles imported",
		"dir", dir,
		"created", len(res.Created),
		"updated", len(res.Updated),
		"failed", len(res.Failed),
	)
	if err := render(cmd, res, func(w io.Writer) {
		fmt.Fprintf(w, "created %d, updated %d, failed %d\n", len(res.Created), len(res.Updated), len(res.Failed))
	}); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func listProfiles(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	list, err := a.store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	return render(cmd, list, func(w io.Writer) {
		for _, p := range list {
			fmt.Fprintf(w, "%-24s %-10s %-10s %s\n", p.ID, p.Type, p.State(), p.Version)
		}
	})
}

// profileView pairs a profile with its lifecycle events.
type profileView struct {
	Profile *profile.Profile `json:"profile"`
	Events  []events.Event   `json:"events"`
}

func showProfile(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	p, err := a.store.LoadProfile(ctx, args[0])
	if err != nil {
		return err
	}
	evts, err := a.store.ListEvents(ctx, events.EntityProfile, p.ID)
	if err != nil {
		return err
	}
	view := profileView{Profile: p, Events: evts}
	return render(cmd, view, func(w io.Writer) {
		fmt.Fprintf(w, "Profile:  %s (%s)\n", p.ID, p.Type)
		if p.Name != "" {
			fmt.Fprintf(w, "Name:     %s\n", p.Name)
		}
		fmt.Fprintf(w, "State:    %s\n", p.State())
		if len(p.ParentProfiles) > 0 {
			fmt.Fprintf(w, "Parents:  %v\n", p.ParentProfiles)
		}
		fmt.Fprintf(w, "Packs:    %v\n", p.StandardsPacks)
		if len(evts) > 0 {
			fmt.Fprintln(w)
			printEvents(w, evts)
		}
	})
}

func transitionProfile(action events.Action) commandFunc {
	return func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		lc := a.lifecycle()
		id := args[0]
		var (
			p   *profile.Profile
			err error
		)
		switch action {
		case events.ActionSubmit:
			p, err = lc.Submit(ctx, id, userID)
		case events.ActionApprove:
			p, err = lc.Approve(ctx, id, userID)
		case events.ActionReject:
			p, err = lc.Reject(ctx, id, userID, profileTransitionFlags.reason)
		case events.ActionDeprecate:
			p, err = lc.Deprecate(ctx, id, userID, profileTransitionFlags.reason, profileTransitionFlags.supersededBy)
		default:
			return fmt.Errorf("unsupported profile action %s", action)
		}
		if err != nil {
			return err
		}
		return render(cmd, p, func(w io.Writer) {
			fmt.Fprintf(w, "%s is now %s\n", p.ID, p.State())
		})
	}
}

func (a *app) versioner() *profile.Versioner {
	return profile.NewVersioner(a.store, a.store, nil)
}

func createProfileVersion(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	snap, err := a.versioner().CreateVersion(ctx, args[0], args[1], profileVersionCreateFlags.parent)
	if err != nil {
		return err
	}
	return render(cmd, snap, func(w io.Writer) {
		fmt.Fprintf(w, "%s@%s created (parent %s)\n", snap.ID, snap.Version, snap.Metadata.ParentVersion)
	})
}

func listProfileVersions(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	list, err := a.versioner().ListVersions(ctx, args[0])
	if err != nil {
		return err
	}
	return render(cmd, list, func(w io.Writer) {
		for _, p := range list {
			fmt.Fprintf(w, "%-10s parent %-10s %s\n", p.Version, p.Metadata.ParentVersion,
				p.Metadata.VersionCreatedAt.Format("2006-01-02T15:04:05Z"))
		}
	})
}

func compareProfileVersions(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	diff, err := a.versioner().CompareVersions(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	return render(cmd, diff, func(w io.Writer) {
		if len(diff.Changes) == 0 {
			fmt.Fprintln(w, "no changes")
			return
		}
		for _, c := range diff.Changes {
			switch c.ChangeType {
			case "modified":
				fmt.Fprintf(w, "~ %s: %v -> %v\n", c.Field, c.OldValue, c.NewValue)
			case "added":
				fmt.Fprintf(w, "+ %s: %v\n", c.Field, c.Value)
			default:
				fmt.Fprintf(w, "- %s: %v\n", c.Field, c.Value)
			}
		}
	})
}

func createBundle(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	var b profile.Bundle
	if err := readDocument(bundleCreateFlags.file, &b); err != nil {
		return err
	}
	if err := a.store.SaveBundle(ctx, &b); err != nil {
		return err
	}
	return render(cmd, &b, func(w io.Writer) {
		fmt.Fprintf(w, "bundle %s stored with %d profiles\n", b.ID, len(b.ProfileIDs))
	})
}

func listBundles(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	list, err := a.store.ListBundles(ctx)
	if err != nil {
		return err
	}
	return render(cmd, list, func(w io.Writer) {
		for _, b := range list {
			fmt.Fprintf(w, "%-20s %v\n", b.ID, b.ProfileIDs)
		}
	})
}

func resolveBundle(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	ids, err := profile.ResolveBundle(ctx, a.store, args[0])
	if err != nil {
		return err
	}
	return render(cmd, ids, func(w io.Writer) {
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
	})
}
