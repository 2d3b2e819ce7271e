package plan

import (
	"context"
	"fmt"
	"sort"
)

// Objective selects how Optimize reorders steps.
type Objective string

const (
	// ObjectiveThroughput groups unlocked steps of the same type so that
	// like operations run back to back.
	ObjectiveThroughput Objective = "throughput"

	// ObjectiveCost and ObjectiveResource keep the current order; they
	// exist so callers can record the intent.
	ObjectiveCost     Objective = "cost"
	ObjectiveResource Objective = "resource"
)

// Reorder returns the steps of p reordered for objective. Locked steps keep
// their slot and sequence number; unlocked steps fill the remaining slots.
func Reorder(p *Plan, objective Objective) ([]Step, error) {
	steps := make([]Step, len(p.Steps))
	for i := range p.Steps {
		steps[i] = p.Steps[i].clone()
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })

	switch objective {
	case ObjectiveThroughput:
	case ObjectiveCost, ObjectiveResource:
		return steps, nil
	default:
		return nil, fmt.Errorf("unknown optimization objective %q", objective)
	}

	sequences := make([]int, len(steps))
	var unlocked []Step
	for i, s := range steps {
		sequences[i] = s.Sequence
		if !s.Locked() {
			unlocked = append(unlocked, s)
		}
	}

	// Types are ranked by first appearance so grouping does not move whole
	// phases of the process around.
	rank := make(map[string]int)
	for _, s := range unlocked {
		if _, ok := rank[s.Type]; !ok {
			rank[s.Type] = len(rank)
		}
	}
	sort.SliceStable(unlocked, func(i, j int) bool { return rank[unlocked[i].Type] < rank[unlocked[j].Type] })

	out := make([]Step, len(steps))
	next := 0
	for i, s := range steps {
		if s.Locked() {
			out[i] = s
			continue
		}
		out[i] = unlocked[next]
		out[i].Sequence = sequences[i]
		next++
	}
	return out, nil
}

// Optimize reorders the unlocked steps of base and stores the result as a
// new version through ApplyEdit.
func (g *Governor) Optimize(ctx context.Context, base *Plan, objective Objective, userID string) (*Plan, *PlanDiff, error) {
	steps, err := Reorder(base, objective)
	if err != nil {
		return nil, nil, err
	}
	next, err := g.ApplyEdit(ctx, base, Changes{Steps: &steps}, EditOptions{
		UserID: userID,
		Reason: fmt.Sprintf("Optimized for %s", objective),
	})
	if err != nil {
		return nil, nil, err
	}
	return next, Diff(base, next), nil
}
