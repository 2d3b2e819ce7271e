package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/cli"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/telemetry/logging"
)

var runFlags struct {
	request     string
	industry    string
	hardware    string
	profiles    []string
	bundle      string
	packs       []string
	save        bool
	failOnBlock bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate rule packs for a project",
	Long: `Evaluate the rule packs of an industry profile, optional compliance profile
stack and additional packs against a project request.

The request file is YAML or JSON:

  industry_profile: space
  hardware_class: flight
  active_profiles: [ipc_base, space_domain]
  inputs:
    processes: [smt, reflow]
    tests_requested: [ict]

Flags override the matching request fields.

Examples:
  # Evaluate and store the run
  soe run --request request.yaml --save

  # Evaluate with a profile bundle and fail when the release gate is blocked
  soe run --request request.yaml --bundle program-x --fail-on-block`,
	RunE: withApp(runPolicy),
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored policy runs",
}

var runsShowFlags struct {
	manifest bool
	log      bool
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored policy run, its audit manifest or decision log",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(showRun),
}

var runsExplainCmd = &cobra.Command{
	Use:   "explain <run-id> <decision-id>",
	Short: "Explain why a decision was made",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(explainDecision),
}

func init() {
	rootCmd.AddCommand(runCmd, runsCmd)
	runsCmd.AddCommand(runsShowCmd, runsExplainCmd)

	runCmd.Flags().StringVarP(&runFlags.request, "request", "r", "", "request file (YAML or JSON, - for stdin)")
	runCmd.Flags().StringVar(&runFlags.industry, "industry", "", "industry profile")
	runCmd.Flags().StringVar(&runFlags.hardware, "hardware-class", "", "hardware class")
	runCmd.Flags().StringSliceVar(&runFlags.profiles, "profile", nil, "compliance profile ids, in stack order")
	runCmd.Flags().StringVar(&runFlags.bundle, "bundle", "", "profile bundle id (replaces --profile)")
	runCmd.Flags().StringSliceVar(&runFlags.packs, "pack", nil, "additional rule packs")
	runCmd.Flags().BoolVar(&runFlags.save, "save", false, "store the run")
	runCmd.Flags().BoolVar(&runFlags.failOnBlock, "fail-on-block", false, "exit with status 2 when the release gate is blocked")

	runsShowCmd.Flags().BoolVar(&runsShowFlags.manifest, "manifest", false, "show the audit manifest")
	runsShowCmd.Flags().BoolVar(&runsShowFlags.log, "log", false, "show the decision log")
}

func runPolicy(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	req := &engine.Request{}
	if runFlags.request != "" {
		if err := readDocument(runFlags.request, req); err != nil {
			return err
		}
	}
	if runFlags.industry != "" {
		req.IndustryProfile = runFlags.industry
	}
	if runFlags.hardware != "" {
		req.HardwareClass = runFlags.hardware
	}
	if len(runFlags.profiles) > 0 {
		req.ActiveProfiles = runFlags.profiles
	}
	if runFlags.bundle != "" {
		ids, err := profile.ResolveBundle(ctx, a.store, runFlags.bundle)
		if err != nil {
			return err
		}
		req.ActiveProfiles = ids
	}
	req.AdditionalPacks = append(req.AdditionalPacks, runFlags.packs...)

	eng, err := a.engine()
	if err != nil {
		return err
	}
	run, err := eng.Run(ctx, req)
	if err != nil {
		return err
	}

	if runFlags.save {
		if err := a.store.SaveRun(ctx, run); err != nil {
			return err
		}
		logging.FromContext(logging.WithRunID(ctx, run.ID), a.logger).Info("policy run stored",
			"industry_profile", run.IndustryProfile,
			"decisions", len(run.Decisions),
		)
	}

	if err := render(cmd, run, func(w io.Writer) { printRun(w, run) }); err != nil {
		return err
	}

	if gate := run.ReleaseGate(); runFlags.failOnBlock && gate != nil && gate.Blocked() {
		return &cli.ExitError{
			Code:    cli.ExitBlocked,
			Message: fmt.Sprintf("release gate blocked by %s", strings.Join(gate.BlockedBy, ", ")),
		}
	}
	return nil
}

func showRun(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	run, err := a.store.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case runsShowFlags.manifest:
		return render(cmd, engine.BuildManifest(run, now), nil)
	case runsShowFlags.log:
		entries := engine.DecisionLog(run, now)
		return render(cmd, entries, func(w io.Writer) {
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-8s %-7s %s/%s  [%s]\n", e.DecisionID, e.Action, e.Enforcement, e.ObjectType, e.ObjectID, e.RuleID)
			}
		})
	default:
		return render(cmd, run, func(w io.Writer) { printRun(w, run) })
	}
}

func explainDecision(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	run, err := a.store.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}
	d := run.Decision(args[1])
	if d == nil {
		return fmt.Errorf("decision %s not found in run %s", args[1], args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), engine.Explain(d))
	return nil
}

func printRun(w io.Writer, run *engine.PolicyRun) {
	if run.ID != "" {
		fmt.Fprintf(w, "Run:       %s\n", run.ID)
	}
	fmt.Fprintf(w, "Industry:  %s\n", run.IndustryProfile)
	if run.HardwareClass != "" {
		fmt.Fprintf(w, "Hardware:  %s\n", run.HardwareClass)
	}
	fmt.Fprintf(w, "Packs:     %s\n", strings.Join(run.ActivePacks, ", "))
	if len(run.ActiveProfiles) > 0 {
		fmt.Fprintf(w, "Profiles:  %s\n", strings.Join(run.ActiveProfiles, " > "))
	}

	fmt.Fprintf(w, "\nDecisions (%d):\n", len(run.Decisions))
	for _, d := range run.Decisions {
		fmt.Fprintf(w, "  %s  %-8s %-7s %s/%s  [%s]\n",
			d.ID, d.Action, d.Enforcement, d.ObjectType, d.ObjectID, d.Why.RuleID)
	}

	fmt.Fprintln(w, "\nGates:")
	for _, g := range run.Gates {
		if g.Blocked() {
			fmt.Fprintf(w, "  %s: %s by %s\n", g.ID, g.Status, strings.Join(g.BlockedBy, ", "))
		} else {
			fmt.Fprintf(w, "  %s: %s\n", g.ID, g.Status)
		}
	}

	if len(run.RequiredEvidence) > 0 {
		fmt.Fprintln(w, "\nRequired evidence:")
		for _, e := range run.RequiredEvidence {
			fmt.Fprintf(w, "  %s for %s %s (retain %s)\n", e.EvidenceType, e.AppliesTo, e.ObjectID, e.Retention)
		}
	}
	for _, warning := range run.Warnings {
		fmt.Fprintf(w, "\nWarning: %s", warning)
	}
	if len(run.Warnings) > 0 {
		fmt.Fprintln(w)
	}
}
