package plan

import (
	"fmt"
	"sort"
	"strings"
)

// EditRuleID marks steps that entered a plan through a user edit.
const EditRuleID = "PLAN_EDIT"

// Changes is a partial edit. Nil fields are left as they are; a non-nil
// pointer to an empty slice clears the section.
type Changes struct {
	Steps          *[]Step           `json:"steps,omitempty"`
	Tests          *[]Test           `json:"tests,omitempty"`
	EvidenceIntent *[]EvidenceIntent `json:"evidence_intent,omitempty"`
	Notes          *string           `json:"notes,omitempty"`
}

// EditOptions identifies who edits and whether locks may be overridden.
type EditOptions struct {
	UserID string
	Reason string

	// AllowOverrides permits touching locked items. OverrideReason must then
	// be non-blank.
	AllowOverrides bool
	OverrideReason string
}

// apply returns a copy of base with changes applied.
func (c Changes) apply(base *Plan) *Plan {
	p := base.Clone()
	if c.Steps != nil {
		p.Steps = make([]Step, len(*c.Steps))
		for i := range *c.Steps {
			p.Steps[i] = (*c.Steps)[i].clone()
		}
	}
	if c.Tests != nil {
		p.Tests = append([]Test{}, (*c.Tests)...)
	}
	if c.EvidenceIntent != nil {
		p.EvidenceIntent = append([]EvidenceIntent{}, (*c.EvidenceIntent)...)
	}
	if c.Notes != nil {
		p.Notes = *c.Notes
	}
	return p
}

// normalizeSteps assigns ids to new steps, justifies unjustified ones and
// orders steps by sequence.
func normalizeSteps(p *Plan, reason string) error {
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Sequence <= 0 {
			return fmt.Errorf("%w: step %q has non-positive sequence %d", ErrInvalidEdit, s.Title, s.Sequence)
		}
		if s.ID == "" {
			s.ID = StepID(s.Type, s.Sequence, s.Title)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate step id %s", ErrInvalidEdit, s.ID)
		}
		seen[s.ID] = true
		if len(s.SourceRules) == 0 {
			justification := reason
			if strings.TrimSpace(justification) == "" {
				justification = "Added by plan edit"
			}
			s.SourceRules = []SourceRule{{RuleID: EditRuleID, Justification: justification, Origin: OriginEdit}}
		}
	}
	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Sequence < p.Steps[j].Sequence })
	return nil
}

// CheckLocks lists every way edited touches a locked item of original:
// removal, alteration, or a change in the relative order of locked steps
// inside one contiguous locked run.
func CheckLocks(original, edited *Plan) []Violation {
	var out []Violation

	editedSteps := make(map[string]*Step, len(edited.Steps))
	for i := range edited.Steps {
		editedSteps[edited.Steps[i].ID] = &edited.Steps[i]
	}
	for i := range original.Steps {
		s := &original.Steps[i]
		if !s.Locked() {
			continue
		}
		constraint := "SOE-required step: " + s.Title
		next, ok := editedSteps[s.ID]
		switch {
		case !ok:
			out = append(out, Violation{Kind: ViolationRemoved, ItemKind: "step", ItemID: s.ID, Constraint: constraint})
		case stepWeakened(s, next):
			out = append(out, Violation{Kind: ViolationModified, ItemKind: "step", ItemID: s.ID, Constraint: constraint})
		}
	}
	out = append(out, checkLockedOrder(original, edited)...)

	editedTests := make(map[string]*Test, len(edited.Tests))
	for i := range edited.Tests {
		editedTests[edited.Tests[i].ID] = &edited.Tests[i]
	}
	for i := range original.Tests {
		t := &original.Tests[i]
		if !t.Locked() {
			continue
		}
		constraint := "SOE-required test: " + t.Title
		next, ok := editedTests[t.ID]
		switch {
		case !ok:
			out = append(out, Violation{Kind: ViolationRemoved, ItemKind: "test", ItemID: t.ID, Constraint: constraint})
		case next.DecisionID != t.DecisionID || !next.Required:
			out = append(out, Violation{Kind: ViolationModified, ItemKind: "test", ItemID: t.ID, Constraint: constraint})
		}
	}

	editedEvidence := make(map[string]*EvidenceIntent, len(edited.EvidenceIntent))
	for i := range edited.EvidenceIntent {
		editedEvidence[edited.EvidenceIntent[i].ID] = &edited.EvidenceIntent[i]
	}
	for i := range original.EvidenceIntent {
		e := &original.EvidenceIntent[i]
		if !e.Locked() {
			continue
		}
		constraint := "SOE-required evidence: " + e.EvidenceType
		next, ok := editedEvidence[e.ID]
		switch {
		case !ok:
			out = append(out, Violation{Kind: ViolationRemoved, ItemKind: "evidence", ItemID: e.ID, Constraint: constraint})
		case next.DecisionID != e.DecisionID || next.Retention != e.Retention:
			out = append(out, Violation{Kind: ViolationModified, ItemKind: "evidence", ItemID: e.ID, Constraint: constraint})
		}
	}
	return out
}

// stepWeakened reports whether next drops anything that made prev locked.
func stepWeakened(prev, next *Step) bool {
	if next.Type != prev.Type || next.Title != prev.Title || next.DecisionID != prev.DecisionID {
		return true
	}
	if prev.Required && !next.Required {
		return true
	}
	if prev.LockedSequence && !next.LockedSequence {
		return true
	}
	for _, r := range prev.SourceRules {
		if !next.hasRule(r.RuleID) {
			return true
		}
	}
	return false
}

// checkLockedOrder groups the locked steps of original into contiguous runs
// by sequence and verifies that the surviving steps of each run keep their
// relative order. Order across runs is free.
func checkLockedOrder(original, edited *Plan) []Violation {
	present := make(map[string]int, len(edited.Steps))
	for _, s := range edited.Steps {
		present[s.ID] = s.Sequence
	}

	var out []Violation
	for _, group := range lockedGroups(original.Steps) {
		var want []*Step
		for _, s := range group {
			if _, ok := present[s.ID]; ok {
				want = append(want, s)
			}
		}
		got := append([]*Step(nil), want...)
		sort.SliceStable(got, func(i, j int) bool { return present[got[i].ID] < present[got[j].ID] })

		for i := range want {
			if want[i].ID == got[i].ID {
				continue
			}
			titles := make([]string, len(group))
			for j, s := range group {
				titles[j] = s.Title
			}
			out = append(out, Violation{
				Kind:       ViolationReorder,
				ItemKind:   "step",
				ItemID:     got[i].ID,
				Constraint: "SOE locked sequence: " + strings.Join(titles, " > "),
			})
			break
		}
	}
	return out
}

// lockedGroups returns the runs of consecutive locked steps in sequence
// order.
func lockedGroups(steps []Step) [][]*Step {
	ordered := make([]*Step, len(steps))
	for i := range steps {
		ordered[i] = &steps[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	var groups [][]*Step
	var current []*Step
	for _, s := range ordered {
		if s.Locked() {
			current = append(current, s)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
