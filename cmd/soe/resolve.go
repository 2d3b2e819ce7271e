package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/profile"
)

var resolveFlags struct {
	bundle string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [profile-id...]",
	Short: "Resolve a compliance profile stack",
	Long: `Resolve compliance profiles into an ordered stack, broadest scope first, and
list the rule packs each layer contributes.

Every configuration problem is reported, not only the first.

Examples:
  soe resolve ipc_base space_domain customer_x
  soe resolve --bundle program-x -o json`,
	RunE: withApp(resolveStack),
}

// resolvedStack is the output of the resolve command.
type resolvedStack struct {
	Profiles []stackEntry      `json:"profiles"`
	Packs    []string          `json:"packs"`
	Sources  map[string]string `json:"pack_sources"`
}

type stackEntry struct {
	Layer   int           `json:"layer"`
	ID      string        `json:"profile_id"`
	Type    profile.Rank  `json:"profile_type"`
	Version string        `json:"version,omitempty"`
	State   profile.State `json:"state"`
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveFlags.bundle, "bundle", "", "resolve the profiles of a bundle")
}

func resolveStack(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	ids := args
	if resolveFlags.bundle != "" {
		bundled, err := profile.ResolveBundle(ctx, a.store, resolveFlags.bundle)
		if err != nil {
			return err
		}
		ids = append(bundled, ids...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no profiles given: pass profile ids or --bundle")
	}

	stack, errs := profile.NewResolver(a.store, a.logger).Resolve(ctx, ids)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	out := resolvedStack{
		Packs:   profile.Packs(stack),
		Sources: make(map[string]string),
	}
	for i, p := range stack {
		out.Profiles = append(out.Profiles, stackEntry{
			Layer:   i,
			ID:      p.ID,
			Type:    p.Type,
			Version: p.Version,
			State:   p.State(),
		})
	}
	for packID, layer := range profile.PackSources(stack) {
		out.Sources[packID] = stack[layer].ID
	}

	return render(cmd, out, func(w io.Writer) {
		for _, e := range out.Profiles {
			fmt.Fprintf(w, "%d  %-20s %-10s %-10s %s\n", e.Layer, e.ID, e.Type, e.State, e.Version)
		}
		fmt.Fprintln(w, "\nPacks:")
		for _, id := range out.Packs {
			fmt.Fprintf(w, "  %s (from %s)\n", id, out.Sources[id])
		}
	})
}
