package engine

import (
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/pack"
)

// Request is the input of a policy run.
type Request struct {
	// IndustryProfile names the industry profile whose default packs and
	// defaults apply. Required.
	IndustryProfile string `json:"industry_profile"`

	// HardwareClass optionally narrows rule applicability (e.g. "flight").
	HardwareClass string `json:"hardware_class,omitempty"`

	// Inputs is the project context the rule conditions are evaluated
	// against, such as processes, tests_requested, materials, bom_items and
	// board_metrics.
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// ActiveProfiles is the optional profile stack.
	ActiveProfiles []string `json:"active_profiles,omitempty"`

	// AdditionalPacks are evaluated on top of the defaults.
	AdditionalPacks []string `json:"additional_packs,omitempty"`
}

// DecisionWhy is the justification carried by a decision.
type DecisionWhy struct {
	RuleID    string   `json:"rule_id"`
	PackID    string   `json:"pack_id"`
	Citations []string `json:"citations"`
	Summary   string   `json:"summary,omitempty"`
}

// Decision records one rule matching the run context. Decisions are never
// modified after the run that created them.
type Decision struct {
	ID          string           `json:"id"`
	ObjectType  string           `json:"object_type"`
	ObjectID    string           `json:"object_id"`
	Action      pack.Action      `json:"action"`
	Enforcement pack.Enforcement `json:"enforcement"`
	Why         DecisionWhy      `json:"why"`

	// Payload is the action payload of the rule, kept for plan derivation.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Profile source tag, set when the rule's pack came from the profile stack.
	ProfileSource   string       `json:"profile_source,omitempty"`
	ProfileType     profile.Rank `json:"profile_type,omitempty"`
	ProfileLayer    *int         `json:"profile_layer,omitempty"`
	ClauseReference string       `json:"clause_reference,omitempty"`
}

// Blocking reports whether the decision blocks release.
func (d *Decision) Blocking() bool {
	return d.Enforcement == pack.EnforcementBlockRelease
}

// CitationsOrRule returns the citations, or the rule id when there are none.
func (d *Decision) CitationsOrRule() []string {
	if len(d.Why.Citations) > 0 {
		return d.Why.Citations
	}
	return []string{d.Why.RuleID}
}

// GateStatus is the admission state of a gate.
type GateStatus string

const (
	GateOpen    GateStatus = "open"
	GateBlocked GateStatus = "blocked"
)

// ReleaseGateID identifies the release gate of every run.
const ReleaseGateID = "GATE-RELEASE"

// Gate is an aggregate admission status computed from decisions.
type Gate struct {
	ID        string     `json:"gate_id"`
	Status    GateStatus `json:"status"`
	BlockedBy []string   `json:"blocked_by"`
}

// Blocked reports whether the gate is closed.
func (g *Gate) Blocked() bool {
	return g != nil && g.Status == GateBlocked
}

// EvidenceRequirement is evidence the run requires to be collected.
type EvidenceRequirement struct {
	EvidenceType string `json:"evidence_type"`
	AppliesTo    string `json:"applies_to"`
	ObjectID     string `json:"object_id"`
	Retention    string `json:"retention"`
	DecisionID   string `json:"decision_id,omitempty"`
}

// CostModifier is a cost adjustment requested by a rule. The arithmetic is
// left to the cost estimator.
type CostModifier struct {
	Reason       string  `json:"reason"`
	ModifierType string  `json:"modifier_type"`
	Value        float64 `json:"value"`
	RuleID       string  `json:"rule_id"`
	DecisionID   string  `json:"decision_id,omitempty"`
}

// StackEntry describes one profile of the stack used by a run.
type StackEntry struct {
	ProfileID   string       `json:"profile_id"`
	ProfileType profile.Rank `json:"profile_type"`
	Name        string       `json:"name,omitempty"`
	Layer       int          `json:"layer"`
}

// PolicyRun is the complete, reproducible output of one engine invocation.
type PolicyRun struct {
	// ID is assigned by the caller when the run is stored; the engine leaves
	// it empty.
	ID string `json:"id,omitempty"`

	SOEVersion      string                 `json:"soe_version"`
	IndustryProfile string                 `json:"industry_profile"`
	HardwareClass   string                 `json:"hardware_class,omitempty"`
	Inputs          map[string]interface{} `json:"inputs,omitempty"`
	ActivePacks     []string               `json:"active_packs"`
	ActiveProfiles  []string               `json:"active_profiles,omitempty"`
	ProfileStack    []StackEntry           `json:"profile_stack,omitempty"`

	Decisions        []Decision            `json:"decisions"`
	Gates            []Gate                `json:"gates"`
	RequiredEvidence []EvidenceRequirement `json:"required_evidence"`
	CostModifiers    []CostModifier        `json:"cost_modifiers"`

	// Warnings lists recoverable problems: packs that failed to load and
	// profile stacks that were ignored.
	Warnings []string `json:"warnings,omitempty"`
}

// Decision returns the decision with the given id, or nil.
func (r *PolicyRun) Decision(id string) *Decision {
	for i := range r.Decisions {
		if r.Decisions[i].ID == id {
			return &r.Decisions[i]
		}
	}
	return nil
}

// Gate returns the gate with the given id, or nil.
func (r *PolicyRun) Gate(id string) *Gate {
	for i := range r.Gates {
		if r.Gates[i].ID == id {
			return &r.Gates[i]
		}
	}
	return nil
}

// ReleaseGate returns the GATE-RELEASE gate.
func (r *PolicyRun) ReleaseGate() *Gate {
	return r.Gate(ReleaseGateID)
}

// DecisionIDs returns the ids of all decisions in run order.
func (r *PolicyRun) DecisionIDs() []string {
	ids := make([]string, len(r.Decisions))
	for i, d := range r.Decisions {
		ids[i] = d.ID
	}
	return ids
}
