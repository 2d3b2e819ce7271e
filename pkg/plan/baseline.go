package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"datum-hq/soe/pkg/rules/expr"
)

// DefaultRulesetID names the ruleset used when none is configured.
const DefaultRulesetID = "ruleset_default"

// Baseline action types.
const (
	ActionAddStep      = "ADD_STEP"
	ActionLockSequence = "LOCK_SEQUENCE"
	ActionAddTest      = "ADD_TEST"
)

// Tiers gate which baseline rules apply. Unknown tiers rank as TIER_1.
const (
	Tier1 = "TIER_1"
	Tier2 = "TIER_2"
	Tier3 = "TIER_3"
)

var tierOrder = map[string]int{Tier1: 1, Tier2: 2, Tier3: 3}

func tierRank(tier string) int {
	if r, ok := tierOrder[tier]; ok {
		return r
	}
	return 1
}

// BaselineAction is one effect of a matched baseline rule. Every key other
// than type is a parameter of the action.
type BaselineAction struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:",inline"`
}

// BaselineRule is a process-template rule, evaluated before policy
// decisions are folded in.
type BaselineRule struct {
	ID            string           `yaml:"rule_id"`
	Category      string           `yaml:"category"`
	TierRequired  string           `yaml:"tier_required"`
	Severity      string           `yaml:"severity"`
	When          *expr.Node       `yaml:"when"`
	Actions       []BaselineAction `yaml:"actions"`
	Justification string           `yaml:"justification"`
}

// RuleTrace records a baseline rule that matched during derivation.
type RuleTrace struct {
	RuleID         string `json:"rule_id"`
	RulesetVersion int    `json:"ruleset_version"`
	Justification  string `json:"justification"`
	Category       string `json:"category"`
	Severity       string `json:"severity"`
}

// Ruleset is a versioned set of baseline rules.
type Ruleset struct {
	ID      string         `yaml:"ruleset_id"`
	Version int            `yaml:"ruleset_version"`
	Rules   []BaselineRule `yaml:"rules"`
}

// LoadRuleset reads a ruleset document.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode ruleset %s: %w", path, err)
	}
	if rs.ID == "" {
		rs.ID = DefaultRulesetID
	}
	if rs.Version <= 0 {
		rs.Version = 1
	}
	for i, r := range rs.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("ruleset %s: rule %d has no rule_id", path, i)
		}
	}
	return &rs, nil
}

// Match returns the rules that apply at tier and whose condition holds,
// in ruleset order.
func (rs *Ruleset) Match(ev *expr.Evaluator, ctx expr.Context, tier string) []*BaselineRule {
	if rs == nil {
		return nil
	}
	current := tierRank(tier)
	var out []*BaselineRule
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if tierRank(r.TierRequired) > current {
			continue
		}
		if ev.Evaluate(r.When, ctx) {
			out = append(out, r)
		}
	}
	return out
}

// Trace describes r as matched within ruleset version v.
func (r *BaselineRule) Trace(version int) RuleTrace {
	severity := r.Severity
	if severity == "" {
		severity = "MEDIUM"
	}
	return RuleTrace{
		RuleID:         r.ID,
		RulesetVersion: version,
		Justification:  r.Justification,
		Category:       r.Category,
		Severity:       severity,
	}
}
