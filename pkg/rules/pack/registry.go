package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Repository is the read capability the policy engine needs.
type Repository interface {
	LoadPack(ctx context.Context, packID string) (*RulePack, error)
	LoadIndustryProfile(ctx context.Context, name string) (*IndustryProfile, error)
}

// Registry is a thread-safe in-memory set of packs and industry profiles.
// Packs handed out are shared and must be treated as read-only; Replace swaps
// whole sets so that a running evaluation keeps a consistent view.
type Registry struct {
	mu         sync.RWMutex
	packs      map[string]*RulePack
	industries map[string]*IndustryProfile
	version    string
	loadTime   time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		packs:      make(map[string]*RulePack),
		industries: make(map[string]*IndustryProfile),
	}
	r.updateVersion()
	return r
}

// RegisterPack adds or replaces a pack.
func (r *Registry) RegisterPack(p *RulePack) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("register pack: pack id cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs[p.ID] = p
	r.updateVersion()
	return nil
}

// RegisterIndustryProfile adds or replaces an industry profile.
func (r *Registry) RegisterIndustryProfile(ip *IndustryProfile) error {
	if ip == nil || ip.Name == "" {
		return fmt.Errorf("register industry profile: name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.industries[ip.Name] = ip
	r.updateVersion()
	return nil
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(packs []*RulePack, industries []*IndustryProfile) {
	nextPacks := make(map[string]*RulePack, len(packs))
	for _, p := range packs {
		if p != nil && p.ID != "" {
			nextPacks[p.ID] = p
		}
	}
	nextIndustries := make(map[string]*IndustryProfile, len(industries))
	for _, ip := range industries {
		if ip != nil && ip.Name != "" {
			nextIndustries[ip.Name] = ip
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs = nextPacks
	r.industries = nextIndustries
	r.updateVersion()
}

// LoadPack implements Repository.
func (r *Registry) LoadPack(_ context.Context, packID string) (*RulePack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[packID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	return p, nil
}

// LoadIndustryProfile implements Repository.
func (r *Registry) LoadIndustryProfile(_ context.Context, name string) (*IndustryProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ip, ok := r.industries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndustryProfileNotFound, name)
	}
	return ip, nil
}

// Packs returns every pack sorted by id.
func (r *Registry) Packs() []*RulePack {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*RulePack, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.packs[id])
	}
	return out
}

// IndustryProfiles returns every industry profile sorted by name.
func (r *Registry) IndustryProfiles() []*IndustryProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.industries))
	for name := range r.industries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*IndustryProfile, 0, len(names))
	for _, name := range names {
		out = append(out, r.industries[name])
	}
	return out
}

// Count returns the number of packs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packs)
}

// Version returns a content hash over pack ids, pack versions and rule ids.
// It changes whenever the registry contents change.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// LoadTime returns when the registry contents last changed.
func (r *Registry) LoadTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadTime
}

// updateVersion must be called with the write lock held.
func (r *Registry) updateVersion() {
	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		p := r.packs[id]
		fmt.Fprintf(h, "%s@%s:", p.ID, p.Version)
		for _, rule := range p.Rules {
			fmt.Fprintf(h, "%s,", rule.ID)
		}
		h.Write([]byte{'\n'})
	}
	names := make([]string, 0, len(r.industries))
	for name := range r.industries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "industry:%s:%v\n", name, r.industries[name].DefaultPacks)
	}

	r.version = hex.EncodeToString(h.Sum(nil))[:16]
	r.loadTime = time.Now()
}
