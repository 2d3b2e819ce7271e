package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Resolver turns a requested list of profile ids into an ordered, validated
// stack.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
}

// NewResolver creates a resolver over repo.
func NewResolver(repo Repository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, logger: logger.With("component", "profile.resolver")}
}

// Resolve loads the profiles named by ids and checks the stack: DOMAIN
// profiles must inherit only from BASE profiles in the stack, CUSTOMER_OVERRIDE
// only from DOMAIN profiles in the stack, and the parent graph must be
// acyclic.
//
// On success the stack is ordered BASE, DOMAIN, CUSTOMER_OVERRIDE, keeping
// request order within a rank. When any problem is found, no profiles are
// returned, only the full list of problems.
func (r *Resolver) Resolve(ctx context.Context, ids []string) ([]*Profile, []error) {
	var errs []error
	loaded := make(map[string]*Profile, len(ids))
	var order []string

	for _, id := range ids {
		if _, dup := loaded[id]; dup {
			continue
		}
		p, err := r.repo.LoadProfile(ctx, id)
		if err != nil {
			errs = append(errs, &ResolutionError{
				ProfileID: id,
				Kind:      ErrLoadFailed,
				Message:   fmt.Sprintf("failed to load profile %s", id),
				Cause:     err,
			})
			continue
		}
		if !p.Type.Valid() {
			errs = append(errs, &ResolutionError{
				ProfileID: id,
				Kind:      ErrInvalidType,
				Message:   fmt.Sprintf("invalid profile_type for %s: %q", id, p.Type),
			})
			continue
		}
		loaded[id] = p
		order = append(order, id)
	}

	for _, id := range order {
		errs = append(errs, checkParents(loaded[id], loaded)...)
	}
	errs = append(errs, findCycles(order, loaded)...)

	if len(errs) > 0 {
		r.logger.Warn("profile stack rejected", "profiles", ids, "errors", len(errs))
		return nil, errs
	}

	stack := make([]*Profile, 0, len(order))
	for _, rank := range []Rank{RankBase, RankDomain, RankCustomerOverride} {
		for _, id := range order {
			if loaded[id].Type == rank {
				stack = append(stack, loaded[id])
			}
		}
	}
	return stack, nil
}

func checkParents(p *Profile, loaded map[string]*Profile) []error {
	want, constrained := p.Type.parentRank()
	if !constrained {
		return nil
	}

	if len(p.ParentProfiles) == 0 {
		return []error{&ResolutionError{
			ProfileID: p.ID,
			Kind:      ErrMissingParents,
			Message:   fmt.Sprintf("%s profile %s must have parent_profiles", p.Type, p.ID),
		}}
	}

	var errs []error
	for _, parentID := range p.ParentProfiles {
		parent, ok := loaded[parentID]
		if !ok {
			errs = append(errs, &ResolutionError{
				ProfileID: p.ID,
				Kind:      ErrUnknownParent,
				Message:   fmt.Sprintf("%s profile %s references unknown parent: %s", p.Type, p.ID, parentID),
			})
			continue
		}
		if parent.Type != want {
			errs = append(errs, &ResolutionError{
				ProfileID: p.ID,
				Kind:      ErrInvalidParentRank,
				Message: fmt.Sprintf("%s profile %s can only inherit from %s, not %s (%s)",
					p.Type, p.ID, want, parentID, parent.Type),
			})
		}
	}
	return errs
}

// findCycles reports every distinct cycle in the parent graph of the loaded
// profiles, of any length. Each cycle is reported once, rotated to start at
// its smallest id.
func findCycles(order []string, loaded map[string]*Profile) []error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(order))
	seen := make(map[string]bool)
	var errs []error
	var path []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = inProgress
		path = append(path, id)
		for _, parentID := range loaded[id].ParentProfiles {
			if _, ok := loaded[parentID]; !ok {
				continue
			}
			switch state[parentID] {
			case unvisited:
				visit(parentID)
			case inProgress:
				cycle := cycleFrom(path, parentID)
				key := strings.Join(cycle, ">")
				if !seen[key] {
					seen[key] = true
					errs = append(errs, &ResolutionError{
						ProfileID: cycle[0],
						Kind:      ErrCircularDependency,
						Message:   "circular dependency detected: " + describeCycle(cycle),
					})
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
	}

	for _, id := range order {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return errs
}

// cycleFrom extracts the cycle that closes at start from the DFS path and
// rotates it to begin at its smallest id.
func cycleFrom(path []string, start string) []string {
	i := len(path) - 1
	for i >= 0 && path[i] != start {
		i--
	}
	cycle := append([]string(nil), path[i:]...)

	minIdx := 0
	for j := range cycle {
		if cycle[j] < cycle[minIdx] {
			minIdx = j
		}
	}
	return append(cycle[minIdx:], cycle[:minIdx]...)
}

func describeCycle(cycle []string) string {
	if len(cycle) == 2 {
		return cycle[0] + " <-> " + cycle[1]
	}
	return strings.Join(append(cycle, cycle[0]), " -> ")
}

// Layer returns the index of id in a resolved stack, or -1.
func Layer(stack []*Profile, id string) int {
	for i, p := range stack {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// PackSources maps each pack of the stack to the profile that contributes it.
// When several profiles list the same pack, the nearest scope (latest in the
// stack) is the source.
func PackSources(stack []*Profile) map[string]int {
	out := make(map[string]int)
	for i, p := range stack {
		for _, packID := range p.StandardsPacks {
			out[packID] = i
		}
	}
	return out
}

// Packs returns the sorted union of pack ids in the stack.
func Packs(stack []*Profile) []string {
	sources := PackSources(stack)
	out := make([]string, 0, len(sources))
	for id := range sources {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
