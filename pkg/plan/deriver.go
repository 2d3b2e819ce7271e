package plan

import (
	"fmt"
	"sort"
	"strings"

	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/rules/expr"
	"datum-hq/soe/pkg/rules/pack"
)

// Assembly sides.
const (
	SideTop    = "TOP"
	SideBottom = "BOTTOM"
)

// Synthetic source rules.
const (
	BaselineDefaultRuleID        = "BASELINE_DEFAULT_STEP"
	baselineDefaultJustification = "Default manufacturing step required by baseline process"

	EvidenceRequirementRuleID = "SOE_EVIDENCE_REQUIREMENT"

	sampleAll = "100_PERCENT"
)

// decisionStepTypes maps decision object ids onto canonical step types.
var decisionStepTypes = map[string]string{
	"CLEAN":     "CLEAN",
	"BAKE":      "BAKE",
	"POLYMER":   "POLYMER",
	"CURE":      "CURE",
	"INSPECT":   StepInspect,
	"TVAC":      StepTest,
	"VIBRATION": StepTest,
	"SHOCK":     StepTest,
	"XRAY":      StepTest,
}

// Inputs is the baseline description of the job being planned.
type Inputs struct {
	// AssemblySides lists the sides that get an SMT and reflow step.
	// Default: TOP only.
	AssemblySides []string `json:"assembly_sides,omitempty"`

	// Tier caps which baseline rules apply. Default: TIER_1.
	Tier string `json:"tier,omitempty"`

	// Context is what baseline rule conditions are evaluated against, such
	// as board_metrics and bom_items.
	Context map[string]interface{} `json:"context,omitempty"`

	// ExistingRevisions are the revisions already used for this job.
	ExistingRevisions []string `json:"existing_revisions,omitempty"`
}

// Deriver builds draft plans from a baseline and an optional policy run.
type Deriver struct {
	ruleset   *Ruleset
	evaluator *expr.Evaluator
	opts      options
}

// NewDeriver creates a deriver. ruleset may be nil, in which case only the
// baseline process and policy decisions contribute steps.
func NewDeriver(ruleset *Ruleset, opts ...Option) *Deriver {
	o := newOptions(opts)
	return &Deriver{
		ruleset:   ruleset,
		evaluator: expr.NewEvaluator(o.logger),
		opts:      o.withComponent("plan.deriver"),
	}
}

// Derive builds version 1 of a new plan. Step ids, sequences and source
// rules depend only on in and run.
func (d *Deriver) Derive(in Inputs, run *engine.PolicyRun) (*Plan, error) {
	sides, err := normalizeSides(in.AssemblySides)
	if err != nil {
		return nil, err
	}

	rulesetVersion := 1
	rulesetID := DefaultRulesetID
	if d.ruleset != nil {
		rulesetVersion = d.ruleset.Version
		rulesetID = d.ruleset.ID
	}

	b := &stepBuilder{rulesetVersion: rulesetVersion}
	b.baseline(sides)

	var traces []RuleTrace
	for _, rule := range d.ruleset.Match(d.evaluator, expr.Context(in.Context), in.Tier) {
		traces = append(traces, rule.Trace(rulesetVersion))
		b.applyRule(rule)
	}

	now := d.opts.clock().UTC()
	p := &Plan{
		ID:          d.opts.newID(),
		Revision:    NextRevision(in.ExistingRevisions),
		Version:     1,
		State:       StateDraft,
		DerivedFrom: RulesetRef{RulesetID: rulesetID, RulesetVersion: rulesetVersion},
		RuleTraces:  traces,
		Tests:       []Test{},

		EvidenceIntent: []EvidenceIntent{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if run != nil {
		for i := range run.Decisions {
			b.applyDecision(&run.Decisions[i])
		}
		p.Tests = testsFromRun(run)
		p.EvidenceIntent = evidenceFromRun(run)
		p.PolicyRunID = run.ID
		p.DecisionIDs = run.DecisionIDs()
	}

	for i := range b.steps {
		ensureSourceRule(&b.steps[i], rulesetVersion)
	}
	sort.SliceStable(b.steps, func(i, j int) bool { return b.steps[i].Sequence < b.steps[j].Sequence })
	p.Steps = b.steps

	d.opts.logger.Info("plan derived",
		"plan_id", p.ID,
		"revision", p.Revision,
		"steps", len(p.Steps),
		"tests", len(p.Tests),
		"evidence", len(p.EvidenceIntent),
		"baseline_rules", len(traces),
		"soe_run_id", p.PolicyRunID,
	)
	return p, nil
}

func normalizeSides(sides []string) ([]string, error) {
	if len(sides) == 0 {
		return []string{SideTop}, nil
	}
	var top, bottom bool
	for _, s := range sides {
		switch strings.ToUpper(s) {
		case SideTop:
			top = true
		case SideBottom:
			bottom = true
		default:
			return nil, fmt.Errorf("unknown assembly side %q", s)
		}
	}
	var out []string
	if top {
		out = append(out, SideTop)
	}
	if bottom {
		out = append(out, SideBottom)
	}
	return out, nil
}

// stepBuilder accumulates steps in derivation order.
type stepBuilder struct {
	steps          []Step
	seq            int
	rulesetVersion int
}

func (b *stepBuilder) add(s Step) *Step {
	b.seq++
	s.Sequence = b.seq
	s.ID = StepID(s.Type, s.Sequence, s.Title)
	b.steps = append(b.steps, s)
	return &b.steps[len(b.steps)-1]
}

// find returns the first step whose type equals name or whose title equals
// it case-insensitively.
func (b *stepBuilder) find(name string) *Step {
	for i := range b.steps {
		s := &b.steps[i]
		if s.Type == name || strings.EqualFold(s.Title, name) {
			return s
		}
	}
	return nil
}

func (b *stepBuilder) baseline(sides []string) {
	ipc610 := &Acceptance{Criteria: "IPC-A-610 Class 3", Sampling: sampleAll}
	def := []SourceRule{defaultSourceRule(b.rulesetVersion)}

	b.add(Step{
		Type:        StepFab,
		Title:       "PCB Fabrication",
		Required:    true,
		Acceptance:  &Acceptance{Criteria: "IPC-A-600 Class 3", Sampling: sampleAll},
		SourceRules: def,
	})
	for _, side := range sides {
		label := titleCase(side) + "-side"
		a := *ipc610
		b.add(Step{
			Type:        StepSMT,
			Title:       label + " SMT",
			Required:    true,
			Parameters:  map[string]interface{}{"side": side},
			Acceptance:  &a,
			SourceRules: append([]SourceRule(nil), def...),
		})
		b.add(Step{
			Type:        StepReflow,
			Title:       label + " Reflow",
			Required:    true,
			Parameters:  map[string]interface{}{"side": side},
			SourceRules: append([]SourceRule(nil), def...),
		})
	}
	b.add(Step{
		Type:        StepInspect,
		Title:       "Final Inspection",
		Required:    true,
		Acceptance:  &Acceptance{Criteria: "Visual inspection per IPC-A-610", Sampling: sampleAll},
		SourceRules: append([]SourceRule(nil), def...),
	})
	b.add(Step{
		Type:        StepPack,
		Title:       "Packaging",
		Required:    true,
		SourceRules: append([]SourceRule(nil), def...),
	})
}

func (b *stepBuilder) applyRule(rule *BaselineRule) {
	src := SourceRule{
		RuleID:         rule.ID,
		RulesetVersion: b.rulesetVersion,
		Justification:  rule.Justification,
		Origin:         OriginBaseline,
	}

	for _, action := range rule.Actions {
		params := action.Params
		switch action.Type {
		case ActionAddStep:
			stepType := paramString(params, "step_type", StepAssembly)
			b.add(Step{
				Type:           stepType,
				Title:          paramString(params, "title", titleCase(stepType)),
				Required:       paramBool(params, "required", true),
				LockedSequence: paramBool(params, "lock_sequence", false),
				Parameters:     paramMap(params, "parameters"),
				Acceptance:     paramAcceptance(params),
				SourceRules:    []SourceRule{src},
			})

		case ActionLockSequence:
			for _, name := range paramStrings(params, "steps") {
				if s := b.find(name); s != nil {
					s.LockedSequence = true
					if !s.hasRule(src.RuleID) {
						s.SourceRules = append(s.SourceRules, src)
					}
					continue
				}
				step := Step{
					Type:           name,
					Title:          titleCase(name),
					Required:       true,
					LockedSequence: true,
					SourceRules:    []SourceRule{src},
				}
				if name == StepInspect {
					step.Acceptance = &Acceptance{
						Criteria: "NASA-STD-8739.1 compliance for " + step.Title,
						Sampling: sampleAll,
					}
				}
				b.add(step)
			}

		case ActionAddTest:
			testType := paramString(params, "test_type", "FUNCTIONAL")
			parameters := map[string]interface{}{"test_type": testType}
			for k, v := range paramMap(params, "parameters") {
				parameters[k] = v
			}
			b.add(Step{
				Type:           StepTest,
				Title:          paramString(params, "title", titleCase(testType)),
				Required:       paramBool(params, "required", true),
				LockedSequence: paramBool(params, "lock_sequence", false),
				Parameters:     parameters,
				Acceptance:     paramAcceptance(params),
				SourceRules:    []SourceRule{src},
			})
		}
	}
}

// applyDecision folds a step-producing decision into the plan: an existing
// step of the same type or title is upgraded, otherwise a step is appended.
func (b *stepBuilder) applyDecision(d *engine.Decision) {
	if d.Action != pack.ActionInsertStep && d.Action != pack.ActionRequire {
		return
	}
	if d.ObjectType != pack.ObjectTypeProcessStep && d.ObjectType != pack.ObjectTypeTest {
		return
	}

	cited := strings.Join(d.CitationsOrRule(), ", ")
	src := SourceRule{
		RuleID:        d.Why.RuleID,
		Justification: "SOE: " + cited,
		Origin:        OriginPolicy,
	}

	if s := b.find(d.ObjectID); s != nil {
		s.Required = true
		if d.Blocking() {
			s.LockedSequence = true
		}
		s.DecisionID = d.ID
		s.Why = decisionRef(d)
		if !s.hasRule(src.RuleID) {
			s.SourceRules = append(s.SourceRules, src)
		}
		return
	}

	stepType, ok := decisionStepTypes[d.ObjectID]
	if !ok {
		stepType = StepTest
		if d.ObjectType == pack.ObjectTypeProcessStep {
			stepType = StepAssembly
		}
	}

	step := Step{
		Type:           stepType,
		Title:          titleCase(d.ObjectID),
		Required:       true,
		LockedSequence: d.Blocking(),
		SourceRules:    []SourceRule{src},
		DecisionID:     d.ID,
		Why:            decisionRef(d),
	}
	if stepType == StepTest {
		step.Parameters = map[string]interface{}{"test_type": d.ObjectID}
	}
	if stepType == StepTest || stepType == StepInspect {
		step.Acceptance = &Acceptance{Criteria: "SOE requirement: " + cited, Sampling: sampleAll}
	}
	b.add(step)
}

func testsFromRun(run *engine.PolicyRun) []Test {
	tests := []Test{}
	for i := range run.Decisions {
		d := &run.Decisions[i]
		if d.Action != pack.ActionInsertStep && d.Action != pack.ActionRequire {
			continue
		}
		if d.ObjectType != pack.ObjectTypeTest {
			continue
		}
		tests = append(tests, Test{
			ID:                 TestID(d.ObjectID, d.ID),
			TestType:           d.ObjectID,
			Title:              titleCase(d.ObjectID),
			Required:           true,
			AcceptanceCriteria: "SOE requirement: " + strings.Join(d.CitationsOrRule(), ", "),
			DecisionID:         d.ID,
			Why:                decisionRef(d),
		})
	}
	return tests
}

func evidenceFromRun(run *engine.PolicyRun) []EvidenceIntent {
	out := []EvidenceIntent{}
	for _, req := range run.RequiredEvidence {
		ev := EvidenceIntent{
			ID:           EvidenceID(req.EvidenceType, req.ObjectID),
			EvidenceType: req.EvidenceType,
			AppliesTo:    req.AppliesTo,
			ObjectID:     req.ObjectID,
			Retention:    req.Retention,
			Required:     true,
		}

		if d := evidenceDecision(run, req); d != nil {
			ev.DecisionID = d.ID
			ev.Why = decisionRef(d)
		} else {
			ev.DecisionID = "DEC-EVIDENCE-" + req.EvidenceType
			ev.Why = &DecisionRef{RuleID: EvidenceRequirementRuleID}
			if len(run.ActivePacks) > 0 {
				ev.Why.PackID = run.ActivePacks[0]
			}
		}
		out = append(out, ev)
	}
	return out
}

// evidenceDecision finds the decision behind an evidence requirement: the
// recorded decision id, else the first evidence decision for its type.
func evidenceDecision(run *engine.PolicyRun, req engine.EvidenceRequirement) *engine.Decision {
	if req.DecisionID != "" {
		if d := run.Decision(req.DecisionID); d != nil {
			return d
		}
	}
	for i := range run.Decisions {
		d := &run.Decisions[i]
		if d.ObjectType == pack.ObjectTypeEvidence && d.ObjectID == req.EvidenceType {
			return d
		}
	}
	return nil
}

func decisionRef(d *engine.Decision) *DecisionRef {
	return &DecisionRef{
		RuleID:    d.Why.RuleID,
		PackID:    d.Why.PackID,
		Citations: append([]string(nil), d.Why.Citations...),
	}
}

func defaultSourceRule(rulesetVersion int) SourceRule {
	return SourceRule{
		RuleID:         BaselineDefaultRuleID,
		RulesetVersion: rulesetVersion,
		Justification:  baselineDefaultJustification,
		Origin:         OriginBaseline,
	}
}

func ensureSourceRule(s *Step, rulesetVersion int) {
	if len(s.SourceRules) == 0 {
		s.SourceRules = []SourceRule{defaultSourceRule(rulesetVersion)}
	}
}

func paramString(params map[string]interface{}, key, fallback string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func paramBool(params map[string]interface{}, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}

func paramMap(params map[string]interface{}, key string) map[string]interface{} {
	m, ok := params[key].(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func paramStrings(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func paramAcceptance(params map[string]interface{}) *Acceptance {
	switch v := params["acceptance"].(type) {
	case string:
		if v != "" {
			return &Acceptance{Criteria: v}
		}
	case map[string]interface{}:
		criteria := paramString(v, "criteria", "")
		if criteria == "" {
			return nil
		}
		return &Acceptance{Criteria: criteria, Sampling: paramString(v, "sampling", "")}
	}
	return nil
}
