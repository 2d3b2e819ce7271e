package plan

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/rules/expr"
	"datum-hq/soe/pkg/rules/pack"
)

var derivedAt = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return derivedAt }

func fixedID() string { return "plan-1" }

func testDeriver(rs *Ruleset) *Deriver {
	return NewDeriver(rs, WithClock(fixedClock), WithIDGenerator(fixedID))
}

func spaceRun() *engine.PolicyRun {
	tvac := engine.Decision{
		ID:          engine.DecisionID("SPACE-TVAC-001", pack.ObjectTypeTest, "TVAC", "space", "flight"),
		ObjectType:  pack.ObjectTypeTest,
		ObjectID:    "TVAC",
		Action:      pack.ActionRequire,
		Enforcement: pack.EnforcementBlockRelease,
		Why:         engine.DecisionWhy{RuleID: "SPACE-TVAC-001", PackID: "SPACE_CORE", Citations: []string{"GSFC-STD-7000 2.6"}},
	}
	inspect := engine.Decision{
		ID:          engine.DecisionID("SPACE-INSP-001", pack.ObjectTypeProcessStep, "INSPECT", "space", "flight"),
		ObjectType:  pack.ObjectTypeProcessStep,
		ObjectID:    "INSPECT",
		Action:      pack.ActionInsertStep,
		Enforcement: pack.EnforcementNone,
		Why:         engine.DecisionWhy{RuleID: "SPACE-INSP-001", PackID: "SPACE_CORE"},
	}
	coc := engine.Decision{
		ID:          engine.DecisionID("SPACE-COC-001", pack.ObjectTypeEvidence, "COC", "space", "flight"),
		ObjectType:  pack.ObjectTypeEvidence,
		ObjectID:    "COC",
		Action:      pack.ActionRequire,
		Enforcement: pack.EnforcementNone,
		Why:         engine.DecisionWhy{RuleID: "SPACE-COC-001", PackID: "SPACE_CORE"},
	}
	return &engine.PolicyRun{
		ID:              "run-1",
		IndustryProfile: "space",
		HardwareClass:   "flight",
		ActivePacks:     []string{"SPACE_CORE"},
		Decisions:       []engine.Decision{tvac, inspect, coc},
		RequiredEvidence: []engine.EvidenceRequirement{
			{EvidenceType: "COC", AppliesTo: "material", ObjectID: "COC", Retention: "10_YEARS", DecisionID: coc.ID},
			{EvidenceType: "XRAY_IMAGES", AppliesTo: "assembly", ObjectID: "XRAY_IMAGES", Retention: "LIFE_OF_PROGRAM"},
		},
	}
}

func stepTitles(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Title
	}
	return out
}

func TestDerive_Baseline(t *testing.T) {
	tests := []struct {
		name  string
		sides []string
		want  []string
	}{
		{
			name: "default top side",
			want: []string{"PCB Fabrication", "Top-side SMT", "Top-side Reflow", "Final Inspection", "Packaging"},
		},
		{
			name:  "both sides in canonical order",
			sides: []string{"bottom", "TOP"},
			want: []string{"PCB Fabrication", "Top-side SMT", "Top-side Reflow", "Bottom-side SMT",
				"Bottom-side Reflow", "Final Inspection", "Packaging"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := testDeriver(nil).Derive(Inputs{AssemblySides: tt.sides}, nil)
			if err != nil {
				t.Fatalf("Derive() error = %v", err)
			}
			if got := stepTitles(p.Steps); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("titles = %v, want %v", got, tt.want)
			}
			for i, s := range p.Steps {
				if s.Sequence != i+1 {
					t.Errorf("step %q sequence = %d, want %d", s.Title, s.Sequence, i+1)
				}
				if want := StepID(s.Type, s.Sequence, s.Title); s.ID != want {
					t.Errorf("step %q id = %s, want %s", s.Title, s.ID, want)
				}
				if len(s.SourceRules) != 1 || s.SourceRules[0].RuleID != BaselineDefaultRuleID {
					t.Errorf("step %q source rules = %+v, want baseline default", s.Title, s.SourceRules)
				}
				if s.Locked() {
					t.Errorf("baseline step %q is locked", s.Title)
				}
			}

			if p.Version != 1 || p.State != StateDraft || p.Locked {
				t.Errorf("plan = v%d %s locked=%v, want v1 draft unlocked", p.Version, p.State, p.Locked)
			}
			if p.Revision != "A" {
				t.Errorf("Revision = %q, want A", p.Revision)
			}
			if !p.CreatedAt.Equal(derivedAt) {
				t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, derivedAt)
			}
		})
	}
}

func TestDerive_UnknownSide(t *testing.T) {
	if _, err := testDeriver(nil).Derive(Inputs{AssemblySides: []string{"LEFT"}}, nil); err == nil {
		t.Error("Derive() with unknown side succeeded")
	}
}

func TestDerive_FoldsDecisions(t *testing.T) {
	run := spaceRun()
	p, err := testDeriver(nil).Derive(Inputs{}, run)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	want := []string{"PCB Fabrication", "Top-side SMT", "Top-side Reflow", "Final Inspection", "Packaging", "Tvac"}
	if got := stepTitles(p.Steps); !reflect.DeepEqual(got, want) {
		t.Fatalf("titles = %v, want %v", got, want)
	}

	tvac := p.Steps[5]
	if tvac.Type != StepTest || tvac.Sequence != 6 || !tvac.LockedSequence || !tvac.Required {
		t.Errorf("TVAC step = %+v, want locked required TEST at 6", tvac)
	}
	if tvac.DecisionID != run.Decisions[0].ID {
		t.Errorf("TVAC decision = %s, want %s", tvac.DecisionID, run.Decisions[0].ID)
	}
	if tvac.Parameters["test_type"] != "TVAC" {
		t.Errorf("TVAC parameters = %v", tvac.Parameters)
	}
	if tvac.Acceptance == nil || tvac.Acceptance.Criteria != "SOE requirement: GSFC-STD-7000 2.6" {
		t.Errorf("TVAC acceptance = %+v", tvac.Acceptance)
	}
	wantRule := SourceRule{RuleID: "SPACE-TVAC-001", Justification: "SOE: GSFC-STD-7000 2.6", Origin: OriginPolicy}
	if !reflect.DeepEqual(tvac.SourceRules, []SourceRule{wantRule}) {
		t.Errorf("TVAC source rules = %+v, want %+v", tvac.SourceRules, wantRule)
	}

	inspect := p.Steps[3]
	if inspect.DecisionID != run.Decisions[1].ID || inspect.LockedSequence {
		t.Errorf("inspection = %+v, want upgraded without sequence lock", inspect)
	}
	if len(inspect.SourceRules) != 2 || inspect.SourceRules[1].Origin != OriginPolicy {
		t.Errorf("inspection source rules = %+v", inspect.SourceRules)
	}
	if !inspect.Locked() {
		t.Error("policy-upgraded inspection should be locked")
	}

	if len(p.Tests) != 1 || p.Tests[0].ID != TestID("TVAC", run.Decisions[0].ID) || p.Tests[0].Title != "Tvac" {
		t.Errorf("Tests = %+v", p.Tests)
	}

	if len(p.EvidenceIntent) != 2 {
		t.Fatalf("len(EvidenceIntent) = %d, want 2", len(p.EvidenceIntent))
	}
	if got := p.EvidenceIntent[0]; got.DecisionID != run.Decisions[2].ID || got.Retention != "10_YEARS" {
		t.Errorf("COC evidence = %+v", got)
	}
	xray := p.EvidenceIntent[1]
	if xray.DecisionID != "DEC-EVIDENCE-XRAY_IMAGES" || xray.Why.RuleID != EvidenceRequirementRuleID || xray.Why.PackID != "SPACE_CORE" {
		t.Errorf("XRAY evidence = %+v, want synthetic decision reference", xray)
	}
	if xray.ID != EvidenceID("XRAY_IMAGES", "XRAY_IMAGES") {
		t.Errorf("XRAY evidence id = %s", xray.ID)
	}

	if p.PolicyRunID != "run-1" || !reflect.DeepEqual(p.DecisionIDs, run.DecisionIDs()) {
		t.Errorf("run reference = %s %v", p.PolicyRunID, p.DecisionIDs)
	}
}

func TestDerive_Idempotent(t *testing.T) {
	in := Inputs{AssemblySides: []string{"TOP", "BOTTOM"}}
	a, err := NewDeriver(nil).Derive(in, spaceRun())
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	b, err := NewDeriver(nil).Derive(in, spaceRun())
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if a.ID == b.ID {
		t.Error("two derivations share a lineage id")
	}
	if !reflect.DeepEqual(a.Steps, b.Steps) {
		t.Errorf("steps differ between derivations:\n%+v\n%+v", a.Steps, b.Steps)
	}
	if !reflect.DeepEqual(a.Tests, b.Tests) || !reflect.DeepEqual(a.EvidenceIntent, b.EvidenceIntent) {
		t.Error("tests or evidence differ between derivations")
	}
}

const rulesetYAML = `
ruleset_id: ruleset_space
ruleset_version: 3
rules:
  - rule_id: HDI-CLEAN
    category: PROCESS
    tier_required: TIER_1
    severity: HIGH
    justification: High layer count boards need ionic cleaning
    when:
      field: board_metrics.layer_count
      operator: gte
      value: 8
    actions:
      - type: ADD_STEP
        step_type: CLEAN
        lock_sequence: true
        acceptance:
          criteria: IPC-TM-650 2.3.25
          sampling: LOT
  - rule_id: REFLOW-LOCK
    category: PROCESS
    tier_required: TIER_1
    justification: Reflow order is qualified
    actions:
      - type: LOCK_SEQUENCE
        steps: [REFLOW, CONFORMAL_COAT]
  - rule_id: FLYING-PROBE
    category: TEST
    tier_required: TIER_2
    justification: Electrical test for tier 2 jobs
    actions:
      - type: ADD_TEST
        test_type: FLYING_PROBE
        parameters:
          coverage: 0.95
`

func writeRuleset(t *testing.T) *Ruleset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ruleset.yaml")
	if err := os.WriteFile(path, []byte(rulesetYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset() error = %v", err)
	}
	return rs
}

func TestLoadRuleset(t *testing.T) {
	rs := writeRuleset(t)
	if rs.ID != "ruleset_space" || rs.Version != 3 || len(rs.Rules) != 3 {
		t.Fatalf("ruleset = %s v%d with %d rules", rs.ID, rs.Version, len(rs.Rules))
	}
	if rs.Rules[0].When == nil || rs.Rules[0].When.Type != expr.NodeLeaf {
		t.Errorf("first rule condition = %+v, want leaf", rs.Rules[0].When)
	}
	if got := rs.Rules[1].Actions[0].Params["steps"]; !reflect.DeepEqual(got, []interface{}{"REFLOW", "CONFORMAL_COAT"}) {
		t.Errorf("LOCK_SEQUENCE steps = %#v", got)
	}
}

func TestDerive_BaselineRules(t *testing.T) {
	rs := writeRuleset(t)
	ctx := map[string]interface{}{"board_metrics": map[string]interface{}{"layer_count": 10}}

	tests := []struct {
		name       string
		tier       string
		wantTitles []string
		wantTraces []string
	}{
		{
			name:       "tier 1",
			tier:       Tier1,
			wantTitles: []string{"PCB Fabrication", "Top-side SMT", "Top-side Reflow", "Final Inspection", "Packaging", "Clean", "Conformal Coat"},
			wantTraces: []string{"HDI-CLEAN", "REFLOW-LOCK"},
		},
		{
			name:       "tier 2 adds test",
			tier:       Tier2,
			wantTitles: []string{"PCB Fabrication", "Top-side SMT", "Top-side Reflow", "Final Inspection", "Packaging", "Clean", "Conformal Coat", "Flying Probe"},
			wantTraces: []string{"HDI-CLEAN", "REFLOW-LOCK", "FLYING-PROBE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := testDeriver(rs).Derive(Inputs{Tier: tt.tier, Context: ctx}, nil)
			if err != nil {
				t.Fatalf("Derive() error = %v", err)
			}
			if got := stepTitles(p.Steps); !reflect.DeepEqual(got, tt.wantTitles) {
				t.Fatalf("titles = %v, want %v", got, tt.wantTitles)
			}
			var traces []string
			for _, tr := range p.RuleTraces {
				traces = append(traces, tr.RuleID)
				if tr.RulesetVersion != 3 {
					t.Errorf("trace %s version = %d, want 3", tr.RuleID, tr.RulesetVersion)
				}
			}
			if !reflect.DeepEqual(traces, tt.wantTraces) {
				t.Errorf("traces = %v, want %v", traces, tt.wantTraces)
			}
			if p.DerivedFrom != (RulesetRef{RulesetID: "ruleset_space", RulesetVersion: 3}) {
				t.Errorf("DerivedFrom = %+v", p.DerivedFrom)
			}

			reflow := p.Steps[2]
			if !reflow.LockedSequence || len(reflow.SourceRules) != 2 || reflow.SourceRules[1].RuleID != "REFLOW-LOCK" {
				t.Errorf("reflow = %+v, want locked with REFLOW-LOCK source", reflow)
			}
			clean := p.Steps[5]
			if clean.Type != "CLEAN" || !clean.LockedSequence || clean.Acceptance == nil || clean.Acceptance.Sampling != "LOT" {
				t.Errorf("clean = %+v", clean)
			}
			if p.RuleTraces[0].Severity != "HIGH" {
				t.Errorf("severity = %s, want HIGH", p.RuleTraces[0].Severity)
			}
		})
	}

	t.Run("condition not met", func(t *testing.T) {
		small := map[string]interface{}{"board_metrics": map[string]interface{}{"layer_count": 4}}
		p, err := testDeriver(rs).Derive(Inputs{Tier: Tier1, Context: small}, nil)
		if err != nil {
			t.Fatalf("Derive() error = %v", err)
		}
		if len(p.RuleTraces) != 1 || p.RuleTraces[0].RuleID != "REFLOW-LOCK" {
			t.Errorf("traces = %+v, want only REFLOW-LOCK", p.RuleTraces)
		}
		if p.RuleTraces[0].Severity != "MEDIUM" {
			t.Errorf("default severity = %s, want MEDIUM", p.RuleTraces[0].Severity)
		}
	})
}

// A blocking TVAC requirement appends a locked TEST step and blocks release
// with the same decision.
func TestDerive_BlockingRequirementFromEngine(t *testing.T) {
	reg := pack.NewRegistry()
	if err := reg.RegisterPack(&pack.RulePack{
		ID: "SPACE_CORE",
		Rules: []pack.Rule{{
			ID:      "SPACE-TVAC-001",
			Applies: pack.Applicability{IndustryProfiles: []string{"space"}},
			When:    expr.Leaf("tests_requested", expr.OpContains, "TVAC"),
			Then: pack.Then{
				Action:      pack.ActionRequire,
				Enforcement: pack.EnforcementBlockRelease,
				Target:      pack.Target{ObjectType: pack.ObjectTypeTest, Selector: map[string]interface{}{"id": "TVAC"}},
			},
			Why: pack.Why{Citations: []string{"GSFC-STD-7000 2.6"}},
		}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterIndustryProfile(&pack.IndustryProfile{Name: "space", DefaultPacks: []string{"SPACE_CORE"}}); err != nil {
		t.Fatal(err)
	}

	eng, err := engine.New(nil, reg, nil)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	run, err := eng.Run(context.Background(), &engine.Request{
		IndustryProfile: "space",
		HardwareClass:   "flight",
		Inputs:          map[string]interface{}{"tests_requested": []interface{}{"TVAC"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	gate := run.ReleaseGate()
	if !gate.Blocked() || len(gate.BlockedBy) != 1 {
		t.Fatalf("release gate = %+v, want blocked by one decision", gate)
	}

	p, err := testDeriver(nil).Derive(Inputs{}, run)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	last := p.Steps[len(p.Steps)-1]
	if last.Type != StepTest || !last.LockedSequence || last.DecisionID != gate.BlockedBy[0] {
		t.Errorf("appended step = %+v, want locked TEST for %s", last, gate.BlockedBy[0])
	}
}

func TestNextRevision(t *testing.T) {
	tests := []struct {
		existing []string
		want     string
	}{
		{nil, "A"},
		{[]string{"A"}, "B"},
		{[]string{"A", "C", "B"}, "D"},
		{[]string{"Z"}, "AA"},
		{[]string{"AZ"}, "BA"},
		{[]string{"ZZ"}, "AAA"},
		{[]string{"x1", ""}, "A"},
	}
	for _, tt := range tests {
		if got := NextRevision(tt.existing); got != tt.want {
			t.Errorf("NextRevision(%v) = %q, want %q", tt.existing, got, tt.want)
		}
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"TVAC":           "Tvac",
		"VIBRATION_TEST": "Vibration Test",
		"conformal_coat": "Conformal Coat",
		"":               "",
	}
	for in, want := range tests {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
