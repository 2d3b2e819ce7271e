package plan

import (
	"context"
	"reflect"
	"testing"
)

func twoSidedPlan(t *testing.T) *Plan {
	t.Helper()
	p, err := testDeriver(nil).Derive(Inputs{AssemblySides: []string{"TOP", "BOTTOM"}}, spaceRun())
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	return p
}

func TestReorder_Throughput(t *testing.T) {
	p := twoSidedPlan(t)

	got, err := Reorder(p, ObjectiveThroughput)
	if err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	want := []string{"PCB Fabrication", "Top-side SMT", "Bottom-side SMT", "Top-side Reflow",
		"Bottom-side Reflow", "Final Inspection", "Packaging", "Tvac"}
	if titles := stepTitles(got); !reflect.DeepEqual(titles, want) {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
	for i, s := range got {
		if s.Sequence != p.Steps[i].Sequence {
			t.Errorf("slot %d sequence = %d, want %d", i, s.Sequence, p.Steps[i].Sequence)
		}
		if s.Locked() && s.ID != p.Steps[i].ID {
			t.Errorf("locked step %q moved from slot %d", s.Title, i)
		}
	}
	if p.Steps[2].Title != "Top-side Reflow" {
		t.Error("Reorder() modified its input")
	}
}

func TestReorder_Objectives(t *testing.T) {
	p := twoSidedPlan(t)
	for _, obj := range []Objective{ObjectiveCost, ObjectiveResource} {
		got, err := Reorder(p, obj)
		if err != nil {
			t.Fatalf("Reorder(%s) error = %v", obj, err)
		}
		if !reflect.DeepEqual(stepTitles(got), stepTitles(p.Steps)) {
			t.Errorf("Reorder(%s) changed the order", obj)
		}
	}
	if _, err := Reorder(p, "speed"); err == nil {
		t.Error("Reorder() with unknown objective succeeded")
	}
}

func TestOptimize_MintsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := twoSidedPlan(t)
	p.ID = "plan-2"
	if err := f.gov.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	next, diff, err := f.gov.Optimize(ctx, p, ObjectiveThroughput, "planner")
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if next.Version != 2 || next.ParentVersion != 1 {
		t.Errorf("optimized = v%d parent %d", next.Version, next.ParentVersion)
	}
	if next.EditMetadata.EditReason != "Optimized for throughput" || len(next.EditMetadata.Overrides) != 0 {
		t.Errorf("edit metadata = %+v", next.EditMetadata)
	}
	if len(diff.StepsModified) != 2 || len(diff.StepsAdded) != 0 || len(diff.StepsRemoved) != 0 {
		t.Fatalf("diff = %+v", diff)
	}
	for _, c := range diff.StepsModified {
		if !reflect.DeepEqual(c.Fields, []string{"sequence"}) {
			t.Errorf("%s changed %v, want only sequence", c.Title, c.Fields)
		}
	}
}

func TestDiff(t *testing.T) {
	a := twoSidedPlan(t)
	b := a.Clone()
	b.Version = 2

	b.Steps[1].Required = false
	b.Steps[1].Parameters["side"] = "BOTTOM"
	b.Steps = append(b.Steps[:6], b.Steps[7:]...)
	b.Steps = append(b.Steps, Step{ID: "step_new", Title: "Bake", Sequence: 9})
	b.Tests = nil
	b.EvidenceIntent = append(b.EvidenceIntent, EvidenceIntent{ID: "evid_new", EvidenceType: "FAI"})

	d := Diff(a, b)
	if d.FromVersion != 1 || d.ToVersion != 2 {
		t.Errorf("versions = %d -> %d", d.FromVersion, d.ToVersion)
	}
	if len(d.StepsAdded) != 1 || d.StepsAdded[0].ID != "step_new" {
		t.Errorf("StepsAdded = %+v", d.StepsAdded)
	}
	if len(d.StepsRemoved) != 1 || d.StepsRemoved[0].Title != "Packaging" {
		t.Errorf("StepsRemoved = %+v", d.StepsRemoved)
	}
	if len(d.StepsModified) != 1 || !reflect.DeepEqual(d.StepsModified[0].Fields, []string{"parameters", "required"}) {
		t.Errorf("StepsModified = %+v", d.StepsModified)
	}
	if len(d.TestsRemoved) != 1 || len(d.TestsAdded) != 0 {
		t.Errorf("tests diff = +%d -%d", len(d.TestsAdded), len(d.TestsRemoved))
	}
	if len(d.EvidenceAdded) != 1 || len(d.EvidenceRemoved) != 0 {
		t.Errorf("evidence diff = +%d -%d", len(d.EvidenceAdded), len(d.EvidenceRemoved))
	}
	if d.Empty() {
		t.Error("Empty() = true")
	}
	if !Diff(a, a.Clone()).Empty() {
		t.Error("Diff of identical plans is not empty")
	}
}

func TestClone_IsDeep(t *testing.T) {
	a := twoSidedPlan(t)
	b := a.Clone()
	b.Steps[1].Parameters["side"] = "BOTTOM"
	b.Steps[0].SourceRules[0].RuleID = "X"
	b.Tests[0].Why.Citations[0] = "X"

	if a.Steps[1].Parameters["side"] != "TOP" || a.Steps[0].SourceRules[0].RuleID != BaselineDefaultRuleID {
		t.Error("Clone() shares step data")
	}
	if a.Tests[0].Why.Citations[0] != "GSFC-STD-7000 2.6" {
		t.Error("Clone() shares decision references")
	}
}
