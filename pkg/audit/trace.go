package audit

import (
	"context"
	"fmt"

	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
)

// Trace links one plan item to the decision, profile, standard clause and
// rule behind it. Items without a decision fall back to their first source
// rule.
type Trace struct {
	DecisionID      string       `json:"soe_decision_id,omitempty"`
	ProfileSource   string       `json:"profile_source,omitempty"`
	ProfileType     profile.Rank `json:"profile_type,omitempty"`
	ProfileLayer    *int         `json:"profile_layer,omitempty"`
	ClauseReference string       `json:"clause_reference,omitempty"`

	SourceStandard  string `json:"source_standard,omitempty"`
	StandardClause  string `json:"standard_clause,omitempty"`
	StandardSection string `json:"standard_section,omitempty"`

	RuleID        string   `json:"rule_id,omitempty"`
	PackID        string   `json:"pack_id,omitempty"`
	Citations     []string `json:"citations,omitempty"`
	Justification string   `json:"justification,omitempty"`
}

// StepTrace is the trace of one step.
type StepTrace struct {
	StepID    string `json:"step_id"`
	StepType  string `json:"step_type"`
	StepTitle string `json:"step_title"`
	Trace     Trace  `json:"compliance_trace"`
}

// TestTrace is the trace of one test intent.
type TestTrace struct {
	TestID    string `json:"test_id"`
	TestType  string `json:"test_type"`
	TestTitle string `json:"test_title"`
	Trace     Trace  `json:"compliance_trace"`
}

// EvidenceTrace is the trace of one evidence intent.
type EvidenceTrace struct {
	EvidenceID   string `json:"evidence_id"`
	EvidenceType string `json:"evidence_type"`
	Trace        Trace  `json:"compliance_trace"`
}

// StackLayer is one profile of the stack a plan's run used.
type StackLayer struct {
	ProfileID       string                   `json:"profile_id"`
	ProfileType     profile.Rank             `json:"profile_type"`
	Name            string                   `json:"name,omitempty"`
	Layer           int                      `json:"layer"`
	SourceStandards []profile.SourceStandard `json:"source_standards,omitempty"`
}

// ComplianceTrace maps every item of a plan version to its origin.
type ComplianceTrace struct {
	PlanID       string          `json:"plan_id"`
	PlanVersion  int             `json:"plan_version"`
	PolicyRunID  string          `json:"soe_run_id,omitempty"`
	ProfileStack []StackLayer    `json:"profile_stack"`
	Steps        []StepTrace     `json:"steps"`
	Tests        []TestTrace     `json:"tests"`
	Evidence     []EvidenceTrace `json:"evidence"`
}

// Trace builds the compliance trace of the latest version of a plan.
func (a *Auditor) Trace(ctx context.Context, planID string) (*ComplianceTrace, error) {
	p, err := a.plans.LoadPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	run := a.loadRun(ctx, p.PolicyRunID)
	return BuildTrace(p, run, a.resolveStack(ctx, run)), nil
}

// BuildTrace maps the items of p onto run's decisions and the profiles of
// stack. run and stack may be nil.
func BuildTrace(p *plan.Plan, run *engine.PolicyRun, stack []*profile.Profile) *ComplianceTrace {
	byID := make(map[string]*profile.Profile, len(stack))
	ct := &ComplianceTrace{
		PlanID:       p.ID,
		PlanVersion:  p.Version,
		PolicyRunID:  p.PolicyRunID,
		ProfileStack: make([]StackLayer, 0, len(stack)),
		Steps:        make([]StepTrace, 0, len(p.Steps)),
		Tests:        make([]TestTrace, 0, len(p.Tests)),
		Evidence:     make([]EvidenceTrace, 0, len(p.EvidenceIntent)),
	}
	for i, prof := range stack {
		byID[prof.ID] = prof
		ct.ProfileStack = append(ct.ProfileStack, StackLayer{
			ProfileID:       prof.ID,
			ProfileType:     prof.Type,
			Name:            prof.Name,
			Layer:           i,
			SourceStandards: prof.SourceStandards,
		})
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		t := decisionTrace(findDecision(run, s.DecisionID), byID)
		if t.RuleID == "" && len(s.SourceRules) > 0 {
			t.RuleID = s.SourceRules[0].RuleID
			t.Justification = s.SourceRules[0].Justification
		}
		ct.Steps = append(ct.Steps, StepTrace{StepID: s.ID, StepType: s.Type, StepTitle: s.Title, Trace: t})
	}
	for _, test := range p.Tests {
		ct.Tests = append(ct.Tests, TestTrace{
			TestID:    test.ID,
			TestType:  test.TestType,
			TestTitle: test.Title,
			Trace:     decisionTrace(findDecision(run, test.DecisionID), byID),
		})
	}
	for _, ev := range p.EvidenceIntent {
		t := decisionTrace(findDecision(run, ev.DecisionID), byID)
		if t.RuleID == "" && ev.Why != nil {
			t.DecisionID = ev.DecisionID
			t.RuleID = ev.Why.RuleID
			t.PackID = ev.Why.PackID
		}
		ct.Evidence = append(ct.Evidence, EvidenceTrace{EvidenceID: ev.ID, EvidenceType: ev.EvidenceType, Trace: t})
	}
	return ct
}

func findDecision(run *engine.PolicyRun, id string) *engine.Decision {
	if run == nil || id == "" {
		return nil
	}
	return run.Decision(id)
}

func decisionTrace(d *engine.Decision, profiles map[string]*profile.Profile) Trace {
	if d == nil {
		return Trace{}
	}
	t := Trace{
		DecisionID:      d.ID,
		ProfileSource:   d.ProfileSource,
		ProfileType:     d.ProfileType,
		ProfileLayer:    d.ProfileLayer,
		ClauseReference: d.ClauseReference,
		RuleID:          d.Why.RuleID,
		PackID:          d.Why.PackID,
		Citations:       d.Why.Citations,
	}
	if prof := profiles[d.ProfileSource]; prof != nil && d.ClauseReference != "" && len(prof.SourceStandards) > 0 {
		std := prof.SourceStandards[0]
		for _, s := range prof.SourceStandards {
			if s.Clause == d.ClauseReference {
				std = s
				break
			}
		}
		t.SourceStandard = std.StandardID
		t.StandardClause = std.Clause
		t.StandardSection = std.Section
	}
	return t
}
