package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/pack"
)

// Evidence defaults.
const (
	DefaultAppliesTo         = "material"
	DefaultRetentionSet      = "LIFE_OF_PROGRAM"
	DefaultRetentionRequired = "5_YEARS"
	DefaultCostModifierType  = "PERCENT"
)

// DecisionID derives the identity of a decision from its deterministic key.
func DecisionID(ruleID, objectType, objectID, industryProfile, hardwareClass string) string {
	key := strings.Join([]string{ruleID, objectType, objectID, industryProfile, hardwareClass}, "|")
	sum := sha256.Sum256([]byte(key))
	return "DEC-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

func newDecision(rule *pack.Rule, packID, industryProfile, hardwareClass string) Decision {
	ruleID := rule.ID
	if ruleID == "" {
		ruleID = "UNKNOWN"
	}
	objectType := rule.ObjectType()
	objectID := rule.ObjectID()

	enforcement := rule.Then.Enforcement
	if enforcement == "" {
		enforcement = pack.EnforcementNone
	}

	citations := append([]string{}, rule.Why.Citations...)

	var payload map[string]interface{}
	if len(rule.Then.Payload) > 0 {
		payload = make(map[string]interface{}, len(rule.Then.Payload))
		for k, v := range rule.Then.Payload {
			payload[k] = v
		}
	}

	return Decision{
		ID:          DecisionID(ruleID, objectType, objectID, industryProfile, hardwareClass),
		ObjectType:  objectType,
		ObjectID:    objectID,
		Action:      rule.Then.Action,
		Enforcement: enforcement,
		Why: DecisionWhy{
			RuleID:    ruleID,
			PackID:    packID,
			Citations: citations,
			Summary:   rule.Why.Summary,
		},
		Payload: payload,
	}
}

// tagDecision records which profile of the stack contributed the decision's
// pack. The first citation serves as the clause reference.
func tagDecision(d *Decision, p *profile.Profile, layer int) {
	d.ProfileSource = p.ID
	d.ProfileType = p.Type
	l := layer
	d.ProfileLayer = &l
	if len(d.Why.Citations) > 0 {
		d.ClauseReference = d.Why.Citations[0]
	}
}

func deriveGates(decisions []Decision) []Gate {
	release := Gate{ID: ReleaseGateID, Status: GateOpen, BlockedBy: []string{}}
	for _, d := range decisions {
		if d.Blocking() {
			release.BlockedBy = append(release.BlockedBy, d.ID)
		}
	}
	if len(release.BlockedBy) > 0 {
		release.Status = GateBlocked
	}
	return []Gate{release}
}

func deriveEvidence(decisions []Decision, industry *pack.IndustryProfile) []EvidenceRequirement {
	industryRetention := ""
	if industry != nil {
		industryRetention = industry.Defaults.EvidenceRetention
	}

	out := []EvidenceRequirement{}
	for _, d := range decisions {
		if d.ObjectType != pack.ObjectTypeEvidence {
			continue
		}
		switch d.Action {
		case pack.ActionSetRetention:
			out = append(out, EvidenceRequirement{
				EvidenceType: d.ObjectID,
				AppliesTo:    payloadString(d.Payload, "applies_to", DefaultAppliesTo),
				ObjectID:     d.ObjectID,
				Retention:    payloadString(d.Payload, "retention", firstNonEmpty(industryRetention, DefaultRetentionSet)),
				DecisionID:   d.ID,
			})
		case pack.ActionRequire:
			out = append(out, EvidenceRequirement{
				EvidenceType: payloadString(d.Payload, "evidence_type", d.ObjectID),
				AppliesTo:    payloadString(d.Payload, "applies_to", DefaultAppliesTo),
				ObjectID:     d.ObjectID,
				Retention:    payloadString(d.Payload, "retention", firstNonEmpty(industryRetention, DefaultRetentionRequired)),
				DecisionID:   d.ID,
			})
		}
	}
	return out
}

func deriveCostModifiers(decisions []Decision) []CostModifier {
	out := []CostModifier{}
	for _, d := range decisions {
		if d.Action != pack.ActionAddCostModifier {
			continue
		}
		out = append(out, CostModifier{
			Reason:       firstNonEmpty(payloadString(d.Payload, "reason", ""), d.Why.Summary, "SOE cost modifier"),
			ModifierType: payloadString(d.Payload, "modifier_type", DefaultCostModifierType),
			Value:        payloadFloat(d.Payload, "value"),
			RuleID:       d.Why.RuleID,
			DecisionID:   d.ID,
		})
	}
	return out
}

func payloadString(payload map[string]interface{}, key, fallback string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func payloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
