package plan

import (
	"time"
)

// State is the lifecycle state of a plan version.
type State string

const (
	StateDraft     State = "draft"
	StateSubmitted State = "submitted"
	StateApproved  State = "approved"
)

// Step types produced by derivation.
const (
	StepFab      = "FAB"
	StepSMT      = "SMT"
	StepReflow   = "REFLOW"
	StepInspect  = "INSPECT"
	StepPack     = "PACK"
	StepTest     = "TEST"
	StepAssembly = "ASSEMBLY"
)

// Origin tells where a source rule came from.
type Origin string

const (
	// OriginBaseline marks rules of the baseline process template.
	OriginBaseline Origin = "baseline"

	// OriginPolicy marks rules that reached the plan through a policy
	// decision. Steps carrying one are locked.
	OriginPolicy Origin = "policy"

	// OriginEdit marks steps added by a user edit.
	OriginEdit Origin = "edit"
)

// SourceRule justifies the presence of a step.
type SourceRule struct {
	RuleID         string `json:"rule_id"`
	RulesetVersion int    `json:"ruleset_version,omitempty"`
	Justification  string `json:"justification"`
	Origin         Origin `json:"origin,omitempty"`
}

// DecisionRef points back at the policy decision behind a plan item.
type DecisionRef struct {
	RuleID    string   `json:"rule_id"`
	PackID    string   `json:"pack_id"`
	Citations []string `json:"citations,omitempty"`
}

// Acceptance describes how a step's output is accepted.
type Acceptance struct {
	Criteria string `json:"criteria"`
	Sampling string `json:"sampling,omitempty"`
}

// Step is one ordered manufacturing operation.
type Step struct {
	ID             string                 `json:"step_id"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Sequence       int                    `json:"sequence"`
	Required       bool                   `json:"required"`
	LockedSequence bool                   `json:"locked_sequence"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Acceptance     *Acceptance            `json:"acceptance,omitempty"`
	SourceRules    []SourceRule           `json:"source_rules"`
	DecisionID     string                 `json:"soe_decision_id,omitempty"`
	Why            *DecisionRef           `json:"soe_why,omitempty"`
}

// Locked reports whether the step is rule-derived: removing or reordering it
// needs a recorded override.
func (s *Step) Locked() bool {
	if s.LockedSequence || s.DecisionID != "" {
		return true
	}
	for _, r := range s.SourceRules {
		if r.Origin == OriginPolicy {
			return true
		}
	}
	return false
}

func (s *Step) hasRule(ruleID string) bool {
	for _, r := range s.SourceRules {
		if r.RuleID == ruleID {
			return true
		}
	}
	return false
}

// Test is a test the plan intends to run.
type Test struct {
	ID                 string       `json:"test_id"`
	TestType           string       `json:"test_type"`
	Title              string       `json:"title"`
	Required           bool         `json:"required"`
	AcceptanceCriteria string       `json:"acceptance_criteria,omitempty"`
	DecisionID         string       `json:"soe_decision_id,omitempty"`
	Why                *DecisionRef `json:"soe_why,omitempty"`
}

// Locked reports whether the test came from a decision.
func (t *Test) Locked() bool {
	return t.DecisionID != ""
}

// EvidenceIntent is evidence the plan intends to collect.
type EvidenceIntent struct {
	ID           string       `json:"evidence_id"`
	EvidenceType string       `json:"evidence_type"`
	AppliesTo    string       `json:"applies_to"`
	ObjectID     string       `json:"object_id,omitempty"`
	Retention    string       `json:"retention"`
	Required     bool         `json:"required"`
	DecisionID   string       `json:"soe_decision_id,omitempty"`
	Why          *DecisionRef `json:"soe_why,omitempty"`
}

// Locked reports whether the evidence intent came from a decision.
func (e *EvidenceIntent) Locked() bool {
	return e.DecisionID != ""
}

// Override records an audited exception to a lock.
type Override struct {
	Constraint string    `json:"constraint"`
	Reason     string    `json:"reason"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// EditMetadata describes the edit that produced a version.
type EditMetadata struct {
	EditedBy   string     `json:"edited_by"`
	EditedAt   time.Time  `json:"edited_at"`
	EditReason string     `json:"edit_reason,omitempty"`
	Overrides  []Override `json:"overrides,omitempty"`
}

// RulesetRef names the baseline ruleset a plan was derived from.
type RulesetRef struct {
	RulesetID      string `json:"ruleset_id"`
	RulesetVersion int    `json:"ruleset_version"`
}

// Plan is one version of a manufacturing plan lineage. Versions are never
// modified in content once stored; edits mint a new version.
type Plan struct {
	ID            string `json:"id"`
	Revision      string `json:"plan_revision"`
	Version       int    `json:"version"`
	ParentVersion int    `json:"parent_version,omitempty"`
	State         State  `json:"state"`
	Locked        bool   `json:"locked"`
	LockID        string `json:"lock_id,omitempty"`

	DerivedFrom RulesetRef  `json:"derived_from_ruleset"`
	RuleTraces  []RuleTrace `json:"rule_traces,omitempty"`
	PolicyRunID string      `json:"soe_run_id,omitempty"`
	DecisionIDs []string    `json:"soe_decision_ids,omitempty"`

	Steps          []Step           `json:"steps"`
	Tests          []Test           `json:"tests"`
	EvidenceIntent []EvidenceIntent `json:"evidence_intent"`
	Notes          string           `json:"notes,omitempty"`

	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ApprovedBy   string        `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time    `json:"approved_at,omitempty"`
	EditMetadata *EditMetadata `json:"edit_metadata,omitempty"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.RuleTraces = append([]RuleTrace(nil), p.RuleTraces...)
	c.DecisionIDs = append([]string(nil), p.DecisionIDs...)

	c.Steps = make([]Step, len(p.Steps))
	for i := range p.Steps {
		c.Steps[i] = p.Steps[i].clone()
	}
	c.Tests = make([]Test, len(p.Tests))
	for i, t := range p.Tests {
		t.Why = t.Why.clone()
		c.Tests[i] = t
	}
	c.EvidenceIntent = make([]EvidenceIntent, len(p.EvidenceIntent))
	for i, e := range p.EvidenceIntent {
		e.Why = e.Why.clone()
		c.EvidenceIntent[i] = e
	}

	if p.ApprovedAt != nil {
		at := *p.ApprovedAt
		c.ApprovedAt = &at
	}
	if p.EditMetadata != nil {
		m := *p.EditMetadata
		m.Overrides = append([]Override(nil), p.EditMetadata.Overrides...)
		c.EditMetadata = &m
	}
	return &c
}

func (s Step) clone() Step {
	c := s
	if s.Parameters != nil {
		c.Parameters = make(map[string]interface{}, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	if s.Acceptance != nil {
		a := *s.Acceptance
		c.Acceptance = &a
	}
	c.SourceRules = append([]SourceRule(nil), s.SourceRules...)
	c.Why = s.Why.clone()
	return c
}

func (r *DecisionRef) clone() *DecisionRef {
	if r == nil {
		return nil
	}
	c := *r
	c.Citations = append([]string(nil), r.Citations...)
	return &c
}
