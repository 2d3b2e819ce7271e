package engine

import (
	"fmt"
	"strings"
	"time"

	"datum-hq/soe/pkg/rules/pack"
)

// ManifestDecision is a decision enriched for audit export.
type ManifestDecision struct {
	ID            string           `json:"id"`
	ObjectType    string           `json:"object_type"`
	ObjectID      string           `json:"object_id"`
	Action        pack.Action      `json:"action"`
	Enforcement   pack.Enforcement `json:"enforcement"`
	RuleID        string           `json:"rule_id"`
	PackID        string           `json:"pack_id"`
	Citations     []string         `json:"citations"`
	Explanation   string           `json:"explanation"`
	ProfileSource string           `json:"profile_source,omitempty"`
}

// RuleReference identifies one rule that produced at least one decision.
type RuleReference struct {
	RuleID    string   `json:"rule_id"`
	PackID    string   `json:"pack_id"`
	Citations []string `json:"citations"`
}

// AuditManifest lists everything a run decided and why.
type AuditManifest struct {
	SOEVersion          string                `json:"soe_version"`
	IndustryProfile     string                `json:"industry_profile"`
	HardwareClass       string                `json:"hardware_class,omitempty"`
	EvaluationTimestamp time.Time             `json:"evaluation_timestamp"`
	ActivePacks         []string              `json:"active_packs"`
	ActiveProfiles      []string              `json:"active_profiles,omitempty"`
	Decisions           []ManifestDecision    `json:"decisions"`
	RulesApplied        []RuleReference       `json:"rules_applied"`
	EvidenceRequired    []EvidenceRequirement `json:"evidence_required"`
	Gates               []Gate                `json:"gates"`
	CostModifiers       []CostModifier        `json:"cost_modifiers"`
}

// BuildManifest exports run as an audit manifest stamped with at. Rules are
// listed once each, in order of first use.
func BuildManifest(run *PolicyRun, at time.Time) *AuditManifest {
	m := &AuditManifest{
		SOEVersion:          run.SOEVersion,
		IndustryProfile:     run.IndustryProfile,
		HardwareClass:       run.HardwareClass,
		EvaluationTimestamp: at.UTC(),
		ActivePacks:         run.ActivePacks,
		ActiveProfiles:      run.ActiveProfiles,
		Decisions:           make([]ManifestDecision, 0, len(run.Decisions)),
		RulesApplied:        []RuleReference{},
		EvidenceRequired:    run.RequiredEvidence,
		Gates:               run.Gates,
		CostModifiers:       run.CostModifiers,
	}

	seen := make(map[string]bool)
	for i := range run.Decisions {
		d := &run.Decisions[i]
		m.Decisions = append(m.Decisions, ManifestDecision{
			ID:            d.ID,
			ObjectType:    d.ObjectType,
			ObjectID:      d.ObjectID,
			Action:        d.Action,
			Enforcement:   d.Enforcement,
			RuleID:        d.Why.RuleID,
			PackID:        d.Why.PackID,
			Citations:     d.Why.Citations,
			Explanation:   Explain(d),
			ProfileSource: d.ProfileSource,
		})

		key := d.Why.PackID + "/" + d.Why.RuleID
		if !seen[key] {
			seen[key] = true
			m.RulesApplied = append(m.RulesApplied, RuleReference{
				RuleID:    d.Why.RuleID,
				PackID:    d.Why.PackID,
				Citations: d.Why.Citations,
			})
		}
	}
	return m
}

// DecisionLogEntry is one line of the decision log.
type DecisionLogEntry struct {
	DecisionID  string           `json:"decision_id"`
	Timestamp   time.Time        `json:"timestamp"`
	RuleID      string           `json:"rule_id"`
	PackID      string           `json:"pack_id"`
	ObjectType  string           `json:"object_type"`
	ObjectID    string           `json:"object_id"`
	Action      pack.Action      `json:"action"`
	Enforcement pack.Enforcement `json:"enforcement"`
	Citations   []string         `json:"citations"`
}

// DecisionLog returns one entry per decision, stamped with at.
func DecisionLog(run *PolicyRun, at time.Time) []DecisionLogEntry {
	out := make([]DecisionLogEntry, 0, len(run.Decisions))
	for _, d := range run.Decisions {
		out = append(out, DecisionLogEntry{
			DecisionID:  d.ID,
			Timestamp:   at.UTC(),
			RuleID:      d.Why.RuleID,
			PackID:      d.Why.PackID,
			ObjectType:  d.ObjectType,
			ObjectID:    d.ObjectID,
			Action:      d.Action,
			Enforcement: d.Enforcement,
			Citations:   d.Why.Citations,
		})
	}
	return out
}

// Explain renders the human-readable reason a decision exists: the rule
// summary, or "ACTION required by RULE in pack PACK", followed by the
// citations in parentheses.
func Explain(d *Decision) string {
	text := d.Why.Summary
	if text == "" {
		text = fmt.Sprintf("%s required by %s in pack %s", d.Action, d.Why.RuleID, d.Why.PackID)
	}
	if len(d.Why.Citations) > 0 {
		text += " (" + strings.Join(d.Why.Citations, ", ") + ")"
	}
	return text
}
