package pack

import (
	"fmt"
	"strings"

	"datum-hq/soe/pkg/rules/expr"
)

// Enforcement is how strongly a matching rule constrains release.
type Enforcement string

const (
	EnforcementNone         Enforcement = "NONE"
	EnforcementBlockRelease Enforcement = "BLOCK_RELEASE"
)

// Action is what a matching rule asks for.
type Action string

const (
	ActionRequire         Action = "REQUIRE"
	ActionInsertStep      Action = "INSERT_STEP"
	ActionSetRetention    Action = "SET_RETENTION"
	ActionAddCostModifier Action = "ADD_COST_MODIFIER"
	ActionRecommend       Action = "RECOMMEND"
	ActionFlagForReview   Action = "FLAG_FOR_REVIEW"
)

// Object types a rule may target.
const (
	ObjectTypeProcessStep = "process_step"
	ObjectTypeTest        = "test"
	ObjectTypeEvidence    = "evidence"
	ObjectTypeCost        = "cost"

	DefaultObjectType = ObjectTypeProcessStep
)

// Applicability restricts a rule or pack to industry profiles and hardware
// classes.
type Applicability struct {
	IndustryProfiles []string `yaml:"industry_profiles,omitempty" json:"industry_profiles,omitempty"`
	HardwareClasses  []string `yaml:"hardware_classes,omitempty" json:"hardware_classes,omitempty"`
}

// Matches reports whether industry is listed and, when hardwareClass is given
// and the filter names hardware classes, whether it is listed too.
func (a Applicability) Matches(industry, hardwareClass string) bool {
	if !containsString(a.IndustryProfiles, industry) {
		return false
	}
	if hardwareClass != "" && len(a.HardwareClasses) > 0 {
		return containsString(a.HardwareClasses, hardwareClass)
	}
	return true
}

// Target names the object a rule acts upon.
type Target struct {
	ObjectType string                 `yaml:"object_type,omitempty" json:"object_type,omitempty"`
	Selector   map[string]interface{} `yaml:"selector,omitempty" json:"selector,omitempty"`
}

// Then is the consequence of a matching rule.
type Then struct {
	Action      Action                 `yaml:"action" json:"action"`
	Enforcement Enforcement            `yaml:"enforcement,omitempty" json:"enforcement,omitempty"`
	Target      Target                 `yaml:"target,omitempty" json:"target,omitempty"`
	Payload     map[string]interface{} `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// Why carries the justification of a rule.
type Why struct {
	Citations []string `yaml:"citations,omitempty" json:"citations,omitempty"`
	Summary   string   `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// Rule is one declarative rule of a pack.
type Rule struct {
	ID      string        `yaml:"rule_id" json:"rule_id"`
	PackID  string        `yaml:"pack_id,omitempty" json:"pack_id,omitempty"`
	Applies Applicability `yaml:"applies" json:"applies"`
	When    *expr.Node    `yaml:"when,omitempty" json:"when,omitempty"`
	Then    Then          `yaml:"then" json:"then"`
	Why     Why           `yaml:"why,omitempty" json:"why,omitempty"`

	// Target at rule level takes precedence over then.target.
	Target *Target `yaml:"target,omitempty" json:"target,omitempty"`
}

// target returns the rule-level target if one is set, else then.target.
func (r *Rule) target() Target {
	if r.Target != nil && (r.Target.ObjectType != "" || len(r.Target.Selector) > 0) {
		return *r.Target
	}
	return r.Then.Target
}

// ObjectType returns the target object type, defaulting to process_step.
func (r *Rule) ObjectType() string {
	if t := r.target(); t.ObjectType != "" {
		return t.ObjectType
	}
	return DefaultObjectType
}

// ObjectID returns the identity of the object the rule acts upon: the
// selector id, then the payload object_id, step_type or test_type, else
// "UNKNOWN".
func (r *Rule) ObjectID() string {
	if id := stringField(r.target().Selector, "id"); id != "" {
		return id
	}
	for _, key := range []string{"object_id", "step_type", "test_type"} {
		if id := stringField(r.Then.Payload, key); id != "" {
			return id
		}
	}
	return "UNKNOWN"
}

// RulePack is a named collection of rules.
type RulePack struct {
	ID        string        `yaml:"pack_id" json:"pack_id"`
	Name      string        `yaml:"name,omitempty" json:"name,omitempty"`
	Version   string        `yaml:"version,omitempty" json:"version,omitempty"`
	AppliesTo Applicability `yaml:"applies_to,omitempty" json:"applies_to,omitempty"`
	Rules     []Rule        `yaml:"rules" json:"rules"`

	// SourcePath is the file the pack was loaded from, if any.
	SourcePath string `yaml:"-" json:"-"`
}

// Validate reports structural problems of the pack and its rules. Condition
// problems are reported but do not stop evaluation, which fails closed on
// them.
func (p *RulePack) Validate() error {
	errs := &ErrorList{}
	if p.ID == "" {
		errs.Add(&ValidationError{FieldPath: "pack_id", Message: "pack_id is required"})
	}
	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		rule := &p.Rules[i]
		path := fmt.Sprintf("rules[%d]", i)
		if rule.ID == "" {
			errs.Add(&ValidationError{PackID: p.ID, FieldPath: path + ".rule_id", Message: "rule_id is required"})
		} else if seen[rule.ID] {
			errs.Add(&ValidationError{PackID: p.ID, RuleID: rule.ID, FieldPath: path, Message: "duplicate rule_id"})
		}
		seen[rule.ID] = true

		if len(rule.Applies.IndustryProfiles) == 0 {
			errs.Add(&ValidationError{PackID: p.ID, RuleID: rule.ID, FieldPath: path + ".applies.industry_profiles", Message: "at least one industry profile is required"})
		}
		if rule.Then.Action == "" {
			errs.Add(&ValidationError{PackID: p.ID, RuleID: rule.ID, FieldPath: path + ".then.action", Message: "action is required"})
		}
		switch rule.Then.Enforcement {
		case "", EnforcementNone, EnforcementBlockRelease:
		default:
			errs.Add(&ValidationError{PackID: p.ID, RuleID: rule.ID, FieldPath: path + ".then.enforcement",
				Message: fmt.Sprintf("unknown enforcement %q", rule.Then.Enforcement)})
		}
		if err := rule.When.Validate(); err != nil {
			errs.Add(&ValidationError{PackID: p.ID, RuleID: rule.ID, FieldPath: path + ".when", Message: "invalid condition", Cause: err})
		}
	}
	return errs.ToError()
}

// normalize fills rule pack ids and default enforcement after decoding.
func (p *RulePack) normalize() {
	for i := range p.Rules {
		if p.Rules[i].PackID == "" {
			p.Rules[i].PackID = p.ID
		}
		if p.Rules[i].Then.Enforcement == "" {
			p.Rules[i].Then.Enforcement = EnforcementNone
		}
	}
}

// IndustryProfile declares the default packs and defaults of an industry.
type IndustryProfile struct {
	Name         string           `yaml:"name" json:"name"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	DefaultPacks []string         `yaml:"default_packs" json:"default_packs"`
	Defaults     IndustryDefaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// IndustryDefaults holds industry-wide defaults used when rules omit them.
type IndustryDefaults struct {
	EvidenceRetention string `yaml:"evidence_retention,omitempty" json:"evidence_retention,omitempty"`
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}
