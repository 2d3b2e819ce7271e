package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/pack"
)

// MemoryStore implements Store in process memory. Every value is copied on
// the way in and out, so callers never share state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	packs    *pack.Registry
	profiles map[string]*profile.Profile
	versions map[string]map[string]*profile.Profile
	bundles  map[string]*profile.Bundle
	plans    map[string][]*plan.Plan
	runs     map[string][]byte
	eventLog *events.MemoryLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packs:    pack.NewRegistry(),
		profiles: make(map[string]*profile.Profile),
		versions: make(map[string]map[string]*profile.Profile),
		bundles:  make(map[string]*profile.Bundle),
		plans:    make(map[string][]*plan.Plan),
		runs:     make(map[string][]byte),
		eventLog: events.NewMemoryLog(),
	}
}

// LoadPack implements pack.Repository.
func (s *MemoryStore) LoadPack(ctx context.Context, id string) (*pack.RulePack, error) {
	return s.packs.LoadPack(ctx, id)
}

// LoadIndustryProfile implements pack.Repository.
func (s *MemoryStore) LoadIndustryProfile(ctx context.Context, name string) (*pack.IndustryProfile, error) {
	return s.packs.LoadIndustryProfile(ctx, name)
}

// SavePack stores a rule pack, replacing any pack with the same id.
func (s *MemoryStore) SavePack(_ context.Context, p *pack.RulePack) error {
	return s.packs.RegisterPack(p)
}

// SaveIndustryProfile stores an industry profile.
func (s *MemoryStore) SaveIndustryProfile(_ context.Context, ip *pack.IndustryProfile) error {
	return s.packs.RegisterIndustryProfile(ip)
}

// LoadProfile implements profile.Repository.
func (s *MemoryStore) LoadProfile(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, id)
	}
	return p.Clone(), nil
}

// SaveProfile implements profile.Repository.
func (s *MemoryStore) SaveProfile(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	return nil
}

// CompareAndSaveProfile implements profile.StateRepository.
func (s *MemoryStore) CompareAndSaveProfile(_ context.Context, p *profile.Profile, from profile.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.profiles[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, p.ID)
	}
	if got := stored.State(); got != from {
		return fmt.Errorf("%w: profile %s is %s, expected %s", profile.ErrStateConflict, p.ID, got, from)
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

// ListProfiles returns every profile ordered by id.
func (s *MemoryStore) ListProfiles(context.Context) ([]*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*profile.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveProfileVersion implements profile.VersionRepository.
func (s *MemoryStore) SaveProfileVersion(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVersion := s.versions[p.ID]
	if byVersion == nil {
		byVersion = make(map[string]*profile.Profile)
		s.versions[p.ID] = byVersion
	}
	if _, exists := byVersion[p.Version]; exists {
		return fmt.Errorf("%w: %s@%s", profile.ErrVersionExists, p.ID, p.Version)
	}
	byVersion[p.Version] = p.Clone()
	return nil
}

// LoadProfileVersion implements profile.VersionRepository.
func (s *MemoryStore) LoadProfileVersion(_ context.Context, id, version string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.versions[id][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", profile.ErrNotFound, id, version)
	}
	return p.Clone(), nil
}

// ListProfileVersions implements profile.VersionRepository.
func (s *MemoryStore) ListProfileVersions(_ context.Context, id string) ([]*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*profile.Profile, 0, len(s.versions[id]))
	for _, p := range s.versions[id] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// SaveBundle implements profile.BundleRepository.
func (s *MemoryStore) SaveBundle(_ context.Context, b *profile.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	c.ProfileIDs = append([]string(nil), b.ProfileIDs...)
	s.bundles[b.ID] = &c
	return nil
}

// LoadBundle implements profile.BundleRepository.
func (s *MemoryStore) LoadBundle(_ context.Context, id string) (*profile.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", profile.ErrBundleNotFound, id)
	}
	c := *b
	c.ProfileIDs = append([]string(nil), b.ProfileIDs...)
	return &c, nil
}

// ListBundles implements profile.BundleRepository.
func (s *MemoryStore) ListBundles(context.Context) ([]*profile.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*profile.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		c := *b
		c.ProfileIDs = append([]string(nil), b.ProfileIDs...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadPlan implements plan.Repository.
func (s *MemoryStore) LoadPlan(_ context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.plans[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", plan.ErrNotFound, id)
	}
	return versions[len(versions)-1].Clone(), nil
}

// LoadPlanVersion implements plan.Repository.
func (s *MemoryStore) LoadPlanVersion(_ context.Context, id string, version int) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.plans[id]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("%w: %s v%d", plan.ErrNotFound, id, version)
	}
	return versions[version-1].Clone(), nil
}

// ListPlanVersions implements plan.Repository.
func (s *MemoryStore) ListPlanVersions(_ context.Context, id string) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.plans[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", plan.ErrNotFound, id)
	}
	out := make([]*plan.Plan, len(versions))
	for i, p := range versions {
		out[i] = p.Clone()
	}
	return out, nil
}

// CreatePlanVersion implements plan.Repository.
func (s *MemoryStore) CreatePlanVersion(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *plan.Plan
	if versions := s.plans[p.ID]; len(versions) > 0 {
		latest = versions[len(versions)-1]
	}
	if err := checkNextVersion(p, latest); err != nil {
		return err
	}
	s.plans[p.ID] = append(s.plans[p.ID], p.Clone())
	return nil
}

// UpdatePlanState implements plan.Repository.
func (s *MemoryStore) UpdatePlanState(_ context.Context, p *plan.Plan, from plan.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.plans[p.ID]
	if p.Version < 1 || p.Version > len(versions) {
		return fmt.Errorf("%w: %s v%d", plan.ErrNotFound, p.ID, p.Version)
	}
	stored := versions[p.Version-1]
	if err := checkStateChange(p, stored, len(versions), from); err != nil {
		return err
	}
	applyState(stored, p)
	return nil
}

// ListPlanIDs returns the id of every plan lineage in order.
func (s *MemoryStore) ListPlanIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.plans))
	for id := range s.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveRun implements RunRepository.
func (s *MemoryStore) SaveRun(_ context.Context, run *engine.PolicyRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	data, err := json.Marshal(run)
	if err != nil {
		return newStorageError(DriverMemory, "save_run", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = data
	return nil
}

// LoadRun implements RunRepository.
func (s *MemoryStore) LoadRun(_ context.Context, id string) (*engine.PolicyRun, error) {
	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	var run engine.PolicyRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, newStorageError(DriverMemory, "load_run", err)
	}
	return &run, nil
}

// Record implements events.Recorder.
func (s *MemoryStore) Record(ctx context.Context, e events.Event) error {
	return s.eventLog.Record(ctx, e)
}

// ListEvents returns the events of one entity in timestamp order. An empty
// entityID lists every entity of the type.
func (s *MemoryStore) ListEvents(_ context.Context, entityType, entityID string) ([]events.Event, error) {
	if entityID != "" {
		return s.eventLog.ForEntity(entityType, entityID), nil
	}
	var out []events.Event
	for _, e := range s.eventLog.All() {
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
