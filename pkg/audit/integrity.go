package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/profile"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusInfo Status = "INFO"
)

// Check identifiers.
const (
	CheckPlanExists            = "plan_exists"
	CheckPlanApproved          = "plan_approved"
	CheckPlanProvenance        = "plan_provenance"
	CheckRunTraceable          = "soe_run_traceable"
	CheckProfileStates         = "profile_states_valid"
	CheckProfileStackRecorded  = "profile_stack_recorded"
	CheckDecisionIDsFormat     = "soe_decision_ids_deterministic"
	CheckPlanDecisionTraceable = "plan_soe_traceability"
)

var decisionIDPattern = regexp.MustCompile(`^DEC-[0-9A-F]{8}$`)

// CheckResult is one line of a checklist.
type CheckResult struct {
	ID      string         `json:"check_id"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Checklist is the audit readiness report for one plan.
type Checklist struct {
	PlanID    string        `json:"plan_id"`
	Overall   Status        `json:"overall_status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (c *Checklist) add(id string, status Status, msg string, details map[string]any) {
	c.Checks = append(c.Checks, CheckResult{ID: id, Status: status, Message: msg, Details: details})
}

// Passed reports whether no check failed.
func (c *Checklist) Passed() bool { return c.Overall == StatusPass }

// Count returns how many checks ended with status s.
func (c *Checklist) Count(s Status) int {
	n := 0
	for _, r := range c.Checks {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Result returns the check with the given id, or nil.
func (c *Checklist) Result(id string) *CheckResult {
	for i := range c.Checks {
		if c.Checks[i].ID == id {
			return &c.Checks[i]
		}
	}
	return nil
}

// Summary renders the checklist as plain text.
func (c *Checklist) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit Integrity Check for Plan %s: %s\n\n", c.PlanID, c.Overall)
	fmt.Fprintf(&b, "Results: %d PASS, %d FAIL, %d WARN, %d INFO\n\n",
		c.Count(StatusPass), c.Count(StatusFail), c.Count(StatusWarn), c.Count(StatusInfo))
	for _, r := range c.Checks {
		fmt.Fprintf(&b, "[%s] %s: %s\n", r.Status, r.ID, r.Message)
	}
	return b.String()
}

// Check verifies that a plan can be audited: it exists, is approved, has
// provenance, and traces back to a deterministic policy run whose profiles
// were in a usable state.
func (a *Auditor) Check(ctx context.Context, planID string) *Checklist {
	cl := &Checklist{PlanID: planID, CheckedAt: a.clock().UTC()}
	defer func() {
		cl.Overall = StatusPass
		if cl.Count(StatusFail) > 0 {
			cl.Overall = StatusFail
		}
		if a.observer != nil {
			a.observer.ObserveAudit(string(cl.Overall))
		}
		a.logger.Info("audit integrity check",
			"plan_id", planID,
			"status", cl.Overall,
			"failed", cl.Count(StatusFail),
			"warnings", cl.Count(StatusWarn),
		)
	}()

	p, err := a.plans.LoadPlan(ctx, planID)
	if err != nil {
		cl.add(CheckPlanExists, StatusFail, fmt.Sprintf("plan %s not found", planID),
			map[string]any{"error": err.Error()})
		return cl
	}
	cl.add(CheckPlanExists, StatusPass, fmt.Sprintf("plan %s exists (version %d)", planID, p.Version), nil)

	if p.State == plan.StateApproved {
		cl.add(CheckPlanApproved, StatusPass, "plan is approved",
			map[string]any{"approved_by": p.ApprovedBy})
	} else {
		cl.add(CheckPlanApproved, StatusFail, fmt.Sprintf("plan is %s, not approved", p.State), nil)
	}

	if len(p.RuleTraces) > 0 || p.DerivedFrom.RulesetID != "" {
		cl.add(CheckPlanProvenance, StatusPass, "plan records the ruleset it was derived from",
			map[string]any{"ruleset_id": p.DerivedFrom.RulesetID, "rule_traces": len(p.RuleTraces)})
	} else {
		cl.add(CheckPlanProvenance, StatusWarn, "plan has no ruleset provenance", nil)
	}

	run := a.loadRun(ctx, p.PolicyRunID)
	switch {
	case p.PolicyRunID == "":
		cl.add(CheckRunTraceable, StatusWarn, "plan has no policy run reference", nil)
	case run == nil:
		cl.add(CheckRunTraceable, StatusWarn, fmt.Sprintf("policy run %s not found", p.PolicyRunID), nil)
	default:
		cl.add(CheckRunTraceable, StatusPass, fmt.Sprintf("policy run %s is stored", run.ID),
			map[string]any{"industry_profile": run.IndustryProfile})
	}

	if run != nil {
		if len(run.ActiveProfiles) > 0 {
			a.checkProfileStates(ctx, cl, run.ActiveProfiles)
			cl.add(CheckProfileStackRecorded, StatusPass,
				fmt.Sprintf("policy run recorded %d profiles", len(run.ActiveProfiles)),
				map[string]any{"active_profiles": run.ActiveProfiles})
		} else {
			cl.add(CheckProfileStackRecorded, StatusInfo, "policy run used no compliance profiles", nil)
		}

		var bad []string
		for _, d := range run.Decisions {
			if !decisionIDPattern.MatchString(d.ID) {
				bad = append(bad, d.ID)
			}
		}
		if len(bad) > 0 {
			cl.add(CheckDecisionIDsFormat, StatusWarn,
				fmt.Sprintf("%d decision ids are not deterministic", len(bad)),
				map[string]any{"decision_ids": bad})
		} else {
			cl.add(CheckDecisionIDsFormat, StatusPass,
				fmt.Sprintf("all %d decision ids are deterministic", len(run.Decisions)), nil)
		}
	}

	if len(p.DecisionIDs) > 0 {
		cl.add(CheckPlanDecisionTraceable, StatusPass,
			fmt.Sprintf("plan references %d decisions", len(p.DecisionIDs)), nil)
	} else {
		cl.add(CheckPlanDecisionTraceable, StatusInfo, "plan references no decisions", nil)
	}
	return cl
}

func (a *Auditor) checkProfileStates(ctx context.Context, cl *Checklist, ids []string) {
	if a.profiles == nil {
		cl.add(CheckProfileStates, StatusFail, "no profile repository to verify profile states", nil)
		return
	}
	invalid := map[string]any{}
	for _, id := range ids {
		p, err := a.profiles.LoadProfile(ctx, id)
		if err != nil {
			invalid[id] = "not found"
			continue
		}
		switch p.State() {
		case profile.StateApproved, profile.StateDeprecated:
		default:
			invalid[id] = string(p.State())
		}
	}
	if len(invalid) > 0 {
		cl.add(CheckProfileStates, StatusFail,
			fmt.Sprintf("%d profiles were not approved", len(invalid)), invalid)
		return
	}
	cl.add(CheckProfileStates, StatusPass, "all profiles are approved or deprecated", nil)
}
