package profile

import "sort"

// ApplyInheritance merges parents into a copy of child. Parents are given in
// order of precedence.
//
// Pack references are unioned and sorted. Source standards are keyed by
// standard id; the child's own definitions come first, then each parent
// contributes the standards the merged set does not have yet. When a
// standard is defined twice with different clauses, CHILD_WINS keeps the
// nearer definition and ERROR fails with an InheritanceConflictError.
func ApplyInheritance(child *Profile, parents []*Profile) (*Profile, error) {
	merged := child.Clone()
	merged.InheritanceRules = child.InheritanceRules.withDefaults()

	packs := make(map[string]bool, len(child.StandardsPacks))
	for _, id := range child.StandardsPacks {
		packs[id] = true
	}
	for _, parent := range parents {
		for _, id := range parent.StandardsPacks {
			packs[id] = true
		}
	}
	merged.StandardsPacks = make([]string, 0, len(packs))
	for id := range packs {
		merged.StandardsPacks = append(merged.StandardsPacks, id)
	}
	sort.Strings(merged.StandardsPacks)

	type entry struct {
		std  SourceStandard
		from string
	}
	byID := make(map[string]entry)
	var ids []string
	add := func(std SourceStandard, from string) error {
		existing, ok := byID[std.StandardID]
		if !ok {
			byID[std.StandardID] = entry{std: std, from: from}
			ids = append(ids, std.StandardID)
			return nil
		}
		if existing.std.Clause == std.Clause {
			return nil
		}
		if merged.InheritanceRules.ConflictResolution == ConflictChildWins {
			return nil
		}
		return &InheritanceConflictError{
			ProfileID:    child.ID,
			StandardID:   std.StandardID,
			ExistingFrom: existing.from,
			Existing:     existing.std.Clause,
			IncomingFrom: from,
			Incoming:     std.Clause,
		}
	}

	for _, std := range child.SourceStandards {
		if err := add(std, child.ID); err != nil {
			return nil, err
		}
	}
	for _, parent := range parents {
		for _, std := range parent.SourceStandards {
			if err := add(std, parent.ID); err != nil {
				return nil, err
			}
		}
	}

	merged.SourceStandards = make([]SourceStandard, 0, len(ids))
	for _, id := range ids {
		merged.SourceStandards = append(merged.SourceStandards, byID[id].std)
	}
	return merged, nil
}

// Flatten applies inheritance down a resolved stack: every profile is merged
// with the already merged versions of its parents. The result keeps stack
// order.
func Flatten(stack []*Profile) ([]*Profile, error) {
	merged := make(map[string]*Profile, len(stack))
	out := make([]*Profile, 0, len(stack))
	for _, p := range stack {
		var parents []*Profile
		for _, parentID := range p.ParentProfiles {
			if parent, ok := merged[parentID]; ok {
				parents = append(parents, parent)
			}
		}
		m, err := ApplyInheritance(p, parents)
		if err != nil {
			return nil, err
		}
		merged[p.ID] = m
		out = append(out, m)
	}
	return out, nil
}
