package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/telemetry/logging"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Derive, edit and approve manufacturing plans",
	Long: `Plans are derived from a baseline process, optional baseline rules and a
stored policy run. Every edit creates a new immutable version; rule-derived
steps are locked and can only be changed with a recorded override.`,
}

var planDeriveFlags struct {
	run      string
	inputs   string
	sides    []string
	tier     string
	ruleset  string
	revision string
}

var planDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a draft plan",
	Long: `Derive version 1 of a new draft plan and store it.

Examples:
  soe plan derive --run 1f0c... --sides TOP,BOTTOM
  soe plan derive --inputs job.yaml --tier TIER_2`,
	RunE: withApp(derivePlan),
}

var planShowFlags struct {
	version int
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan version",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(showPlan),
}

var planEditFlags struct {
	changes        string
	reason         string
	allowOverrides bool
	overrideReason string
}

var planEditCmd = &cobra.Command{
	Use:   "edit <plan-id>",
	Short: "Apply an edit to the latest plan version",
	Long: `Apply a partial edit and store it as a new version. The changes file is YAML
or JSON with any of steps, tests, evidence_intent and notes; omitted sections
are left as they are.

Removing, reordering or weakening a locked step requires --allow-overrides and
a non-blank --override-reason.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(editPlan),
}

var planTransitionFlags struct {
	reason string
}

var planSubmitCmd = &cobra.Command{
	Use:   "submit <plan-id>",
	Short: "Submit a draft plan for approval",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionPlan(events.ActionSubmit)),
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a submitted plan",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionPlan(events.ActionApprove)),
}

var planRejectCmd = &cobra.Command{
	Use:   "reject <plan-id>",
	Short: "Reject a submitted plan back to draft",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(transitionPlan(events.ActionReject)),
}

var planOptimizeFlags struct {
	objective string
}

var planOptimizeCmd = &cobra.Command{
	Use:   "optimize <plan-id>",
	Short: "Reorder unlocked steps and store the result as a new version",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(optimizePlan),
}

var planDiffCmd = &cobra.Command{
	Use:   "diff <plan-id> <from-version> <to-version>",
	Short: "Compare two plan versions",
	Args:  cobra.ExactArgs(3),
	RunE:  withApp(diffPlan),
}

var planHistoryCmd = &cobra.Command{
	Use:   "history <plan-id>",
	Short: "List plan versions and audit events",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(planHistory),
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(
		planDeriveCmd,
		planShowCmd,
		planEditCmd,
		planSubmitCmd,
		planApproveCmd,
		planRejectCmd,
		planOptimizeCmd,
		planDiffCmd,
		planHistoryCmd,
	)

	planDeriveCmd.Flags().StringVar(&planDeriveFlags.run, "run", "", "stored policy run to fold into the plan")
	planDeriveCmd.Flags().StringVar(&planDeriveFlags.inputs, "inputs", "", "baseline inputs file (YAML or JSON, - for stdin)")
	planDeriveCmd.Flags().StringSliceVar(&planDeriveFlags.sides, "sides", nil, "assembly sides (TOP, BOTTOM)")
	planDeriveCmd.Flags().StringVar(&planDeriveFlags.tier, "tier", "", "baseline rule tier (default from config)")
	planDeriveCmd.Flags().StringVar(&planDeriveFlags.ruleset, "ruleset", "", "baseline ruleset file (default from config)")
	planDeriveCmd.Flags().StringVar(&planDeriveFlags.revision, "existing-revisions", "", "comma separated revisions already used for this job")

	planShowCmd.Flags().IntVar(&planShowFlags.version, "version", 0, "plan version (default latest)")

	planEditCmd.Flags().StringVar(&planEditFlags.changes, "changes", "", "changes file (YAML or JSON, - for stdin)")
	planEditCmd.Flags().StringVar(&planEditFlags.reason, "reason", "", "reason for the edit")
	planEditCmd.Flags().BoolVar(&planEditFlags.allowOverrides, "allow-overrides", false, "permit changes to locked steps")
	planEditCmd.Flags().StringVar(&planEditFlags.overrideReason, "override-reason", "", "justification recorded with each override")
	_ = planEditCmd.MarkFlagRequired("changes")

	for _, c := range []*cobra.Command{planSubmitCmd, planApproveCmd, planRejectCmd} {
		c.Flags().StringVar(&planTransitionFlags.reason, "reason", "", "reason recorded with the transition")
	}

	planOptimizeCmd.Flags().StringVar(&planOptimizeFlags.objective, "objective", string(plan.ObjectiveThroughput), "throughput, cost or resource")
}

func derivePlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	var in plan.Inputs
	if planDeriveFlags.inputs != "" {
		if err := readDocument(planDeriveFlags.inputs, &in); err != nil {
			return err
		}
	}
	if len(planDeriveFlags.sides) > 0 {
		in.AssemblySides = planDeriveFlags.sides
	}
	if planDeriveFlags.revision != "" {
		in.ExistingRevisions = strings.Split(planDeriveFlags.revision, ",")
	}
	switch {
	case planDeriveFlags.tier != "":
		in.Tier = planDeriveFlags.tier
	case in.Tier == "":
		in.Tier = a.cfg.Engine.BaselineTier
	}

	rulesetPath := planDeriveFlags.ruleset
	if rulesetPath == "" {
		rulesetPath = a.cfg.Rules.BaselineRulesFile
	}
	var ruleset *plan.Ruleset
	if rulesetPath != "" {
		rs, err := plan.LoadRuleset(rulesetPath)
		if err != nil {
			return err
		}
		ruleset = rs
	}

	var run *engine.PolicyRun
	if planDeriveFlags.run != "" {
		r, err := a.store.LoadRun(ctx, planDeriveFlags.run)
		if err != nil {
			return err
		}
		run = r
	}

	p, err := plan.NewDeriver(ruleset, plan.WithLogger(a.logger)).Derive(in, run)
	if err != nil {
		return err
	}
	if err := a.governor().Create(ctx, p); err != nil {
		return err
	}

	logging.FromContext(logging.WithPlanID(ctx, p.ID), a.logger).Info("plan derived",
		"revision", p.Revision,
		"steps", len(p.Steps),
		"tests", len(p.Tests),
	)
	return render(cmd, p, func(w io.Writer) { printPlan(w, p) })
}

func showPlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	var (
		p   *plan.Plan
		err error
	)
	if planShowFlags.version > 0 {
		p, err = a.store.LoadPlanVersion(ctx, args[0], planShowFlags.version)
	} else {
		p, err = a.store.LoadPlan(ctx, args[0])
	}
	if err != nil {
		return err
	}
	return render(cmd, p, func(w io.Writer) { printPlan(w, p) })
}

func editPlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	var changes plan.Changes
	if err := readDocument(planEditFlags.changes, &changes); err != nil {
		return err
	}
	base, err := a.store.LoadPlan(ctx, args[0])
	if err != nil {
		return err
	}

	p, err := a.governor().ApplyEdit(ctx, base, changes, plan.EditOptions{
		UserID:         userID,
		Reason:         planEditFlags.reason,
		AllowOverrides: planEditFlags.allowOverrides,
		OverrideReason: planEditFlags.overrideReason,
	})
	if err != nil {
		return err
	}
	return render(cmd, p, func(w io.Writer) { printPlan(w, p) })
}

func transitionPlan(action events.Action) commandFunc {
	return func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		gov := a.governor()
		var (
			p   *plan.Plan
			err error
		)
		switch action {
		case events.ActionSubmit:
			p, err = gov.Submit(ctx, args[0], userID, planTransitionFlags.reason)
		case events.ActionApprove:
			p, err = gov.Approve(ctx, args[0], userID, planTransitionFlags.reason)
		case events.ActionReject:
			p, err = gov.Reject(ctx, args[0], userID, planTransitionFlags.reason)
		default:
			return fmt.Errorf("unsupported plan action %s", action)
		}
		if err != nil {
			return err
		}
		return render(cmd, p, func(w io.Writer) {
			fmt.Fprintf(w, "%s v%d is now %s\n", p.ID, p.Version, p.State)
		})
	}
}

func optimizePlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	base, err := a.store.LoadPlan(ctx, args[0])
	if err != nil {
		return err
	}
	p, diff, err := a.governor().Optimize(ctx, base, plan.Objective(planOptimizeFlags.objective), userID)
	if err != nil {
		return err
	}
	return render(cmd, diff, func(w io.Writer) {
		if diff.Empty() {
			fmt.Fprintf(w, "%s v%d: order unchanged\n", p.ID, p.Version)
			return
		}
		fmt.Fprintf(w, "%s v%d -> v%d\n", p.ID, diff.FromVersion, diff.ToVersion)
		printDiff(w, diff)
	})
}

func diffPlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	from, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid from version %q: %w", args[1], err)
	}
	to, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid to version %q: %w", args[2], err)
	}

	va, err := a.store.LoadPlanVersion(ctx, args[0], from)
	if err != nil {
		return err
	}
	vb, err := a.store.LoadPlanVersion(ctx, args[0], to)
	if err != nil {
		return err
	}
	diff := plan.Diff(va, vb)
	return render(cmd, diff, func(w io.Writer) { printDiff(w, diff) })
}

// planHistoryView is the output of plan history.
type planHistoryView struct {
	Versions []versionSummary `json:"versions"`
	Events   []events.Event   `json:"events"`
}

type versionSummary struct {
	Version int        `json:"version"`
	State   plan.State `json:"state"`
	Steps   int        `json:"steps"`
	EditBy  string     `json:"edited_by,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

func planHistory(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	versions, err := a.governor().History(ctx, args[0])
	if err != nil {
		return err
	}
	evts, err := a.store.ListEvents(ctx, events.EntityPlan, args[0])
	if err != nil {
		return err
	}

	view := planHistoryView{Events: evts}
	for _, p := range versions {
		s := versionSummary{Version: p.Version, State: p.State, Steps: len(p.Steps)}
		if p.EditMetadata != nil {
			s.EditBy = p.EditMetadata.EditedBy
			s.Reason = p.EditMetadata.EditReason
		}
		view.Versions = append(view.Versions, s)
	}

	return render(cmd, view, func(w io.Writer) {
		for _, s := range view.Versions {
			fmt.Fprintf(w, "v%-3d %-10s %2d steps  %s %s\n", s.Version, s.State, s.Steps, s.EditBy, s.Reason)
		}
		if len(view.Events) > 0 {
			fmt.Fprintln(w)
			printEvents(w, view.Events)
		}
	})
}

func printPlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "Plan:      %s\n", p.ID)
	fmt.Fprintf(w, "Revision:  %s\n", p.Revision)
	fmt.Fprintf(w, "Version:   %d (%s)\n", p.Version, p.State)
	if p.PolicyRunID != "" {
		fmt.Fprintf(w, "Run:       %s\n", p.PolicyRunID)
	}

	fmt.Fprintf(w, "\nSteps (%d):\n", len(p.Steps))
	for _, s := range p.Steps {
		lock := " "
		if s.Locked() {
			lock = "*"
		}
		fmt.Fprintf(w, "  %3d %s %-10s %s\n", s.Sequence, lock, s.Type, s.Title)
	}
	if len(p.Tests) > 0 {
		fmt.Fprintf(w, "\nTests (%d):\n", len(p.Tests))
		for _, t := range p.Tests {
			fmt.Fprintf(w, "  %-12s %s\n", t.TestType, t.Title)
		}
	}
	if len(p.EvidenceIntent) > 0 {
		fmt.Fprintf(w, "\nEvidence (%d):\n", len(p.EvidenceIntent))
		for _, e := range p.EvidenceIntent {
			fmt.Fprintf(w, "  %-20s retain %s\n", e.EvidenceType, e.Retention)
		}
	}
}

func printDiff(w io.Writer, d *plan.PlanDiff) {
	for _, s := range d.StepsAdded {
		fmt.Fprintf(w, "  + step %s\n", s.Title)
	}
	for _, s := range d.StepsRemoved {
		fmt.Fprintf(w, "  - step %s\n", s.Title)
	}
	for _, c := range d.StepsModified {
		fmt.Fprintf(w, "  ~ step %s (%s)\n", c.Title, strings.Join(c.Fields, ", "))
	}
	for _, t := range d.TestsAdded {
		fmt.Fprintf(w, "  + test %s\n", t.Title)
	}
	for _, t := range d.TestsRemoved {
		fmt.Fprintf(w, "  - test %s\n", t.Title)
	}
	for _, e := range d.EvidenceAdded {
		fmt.Fprintf(w, "  + evidence %s\n", e.EvidenceType)
	}
	for _, e := range d.EvidenceRemoved {
		fmt.Fprintf(w, "  - evidence %s\n", e.EvidenceType)
	}
}

func printEvents(w io.Writer, evts []events.Event) {
	for _, e := range evts {
		fmt.Fprintf(w, "%s  %-10s %-12s %s", e.Timestamp.Format("2006-01-02T15:04:05Z"), e.Action, e.UserID, e.EntityID)
		if e.Reason != "" {
			fmt.Fprintf(w, "  %q", e.Reason)
		}
		fmt.Fprintln(w)
	}
}
