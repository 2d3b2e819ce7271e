package plan

import (
	"reflect"
	"sort"
)

// StepChange describes a step present in both versions with different
// content.
type StepChange struct {
	StepID string   `json:"step_id"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

// PlanDiff summarizes the differences between two plan versions.
type PlanDiff struct {
	FromVersion int `json:"from_version"`
	ToVersion   int `json:"to_version"`

	StepsAdded    []Step       `json:"steps_added"`
	StepsRemoved  []Step       `json:"steps_removed"`
	StepsModified []StepChange `json:"steps_modified"`

	TestsAdded   []Test `json:"tests_added"`
	TestsRemoved []Test `json:"tests_removed"`

	EvidenceAdded   []EvidenceIntent `json:"evidence_added"`
	EvidenceRemoved []EvidenceIntent `json:"evidence_removed"`
}

// Empty reports whether the two versions have the same items.
func (d *PlanDiff) Empty() bool {
	return len(d.StepsAdded)+len(d.StepsRemoved)+len(d.StepsModified)+
		len(d.TestsAdded)+len(d.TestsRemoved)+
		len(d.EvidenceAdded)+len(d.EvidenceRemoved) == 0
}

// Diff computes the diff from a to b. Items are matched by id.
func Diff(a, b *Plan) *PlanDiff {
	d := &PlanDiff{
		FromVersion:     a.Version,
		ToVersion:       b.Version,
		StepsAdded:      []Step{},
		StepsRemoved:    []Step{},
		StepsModified:   []StepChange{},
		TestsAdded:      []Test{},
		TestsRemoved:    []Test{},
		EvidenceAdded:   []EvidenceIntent{},
		EvidenceRemoved: []EvidenceIntent{},
	}

	before := make(map[string]*Step, len(a.Steps))
	for i := range a.Steps {
		before[a.Steps[i].ID] = &a.Steps[i]
	}
	after := make(map[string]*Step, len(b.Steps))
	for i := range b.Steps {
		after[b.Steps[i].ID] = &b.Steps[i]
	}

	for i := range b.Steps {
		s := &b.Steps[i]
		prev, ok := before[s.ID]
		if !ok {
			d.StepsAdded = append(d.StepsAdded, *s)
			continue
		}
		if fields := changedFields(prev, s); len(fields) > 0 {
			d.StepsModified = append(d.StepsModified, StepChange{StepID: s.ID, Title: s.Title, Fields: fields})
		}
	}
	for i := range a.Steps {
		if _, ok := after[a.Steps[i].ID]; !ok {
			d.StepsRemoved = append(d.StepsRemoved, a.Steps[i])
		}
	}

	testsBefore := make(map[string]bool, len(a.Tests))
	for _, t := range a.Tests {
		testsBefore[t.ID] = true
	}
	testsAfter := make(map[string]bool, len(b.Tests))
	for _, t := range b.Tests {
		testsAfter[t.ID] = true
		if !testsBefore[t.ID] {
			d.TestsAdded = append(d.TestsAdded, t)
		}
	}
	for _, t := range a.Tests {
		if !testsAfter[t.ID] {
			d.TestsRemoved = append(d.TestsRemoved, t)
		}
	}

	evBefore := make(map[string]bool, len(a.EvidenceIntent))
	for _, e := range a.EvidenceIntent {
		evBefore[e.ID] = true
	}
	evAfter := make(map[string]bool, len(b.EvidenceIntent))
	for _, e := range b.EvidenceIntent {
		evAfter[e.ID] = true
		if !evBefore[e.ID] {
			d.EvidenceAdded = append(d.EvidenceAdded, e)
		}
	}
	for _, e := range a.EvidenceIntent {
		if !evAfter[e.ID] {
			d.EvidenceRemoved = append(d.EvidenceRemoved, e)
		}
	}
	return d
}

func changedFields(a, b *Step) []string {
	var fields []string
	if a.Type != b.Type {
		fields = append(fields, "type")
	}
	if a.Title != b.Title {
		fields = append(fields, "title")
	}
	if a.Sequence != b.Sequence {
		fields = append(fields, "sequence")
	}
	if a.Required != b.Required {
		fields = append(fields, "required")
	}
	if a.LockedSequence != b.LockedSequence {
		fields = append(fields, "locked_sequence")
	}
	if !reflect.DeepEqual(a.Parameters, b.Parameters) {
		fields = append(fields, "parameters")
	}
	if !reflect.DeepEqual(a.Acceptance, b.Acceptance) {
		fields = append(fields, "acceptance")
	}
	if !reflect.DeepEqual(a.SourceRules, b.SourceRules) {
		fields = append(fields, "source_rules")
	}
	if a.DecisionID != b.DecisionID {
		fields = append(fields, "soe_decision_id")
	}
	sort.Strings(fields)
	return fields
}
