package profile

import (
	"context"
	"time"
)

// Rank is the layer a profile occupies in a stack.
type Rank string

const (
	RankBase             Rank = "BASE"
	RankDomain           Rank = "DOMAIN"
	RankCustomerOverride Rank = "CUSTOMER_OVERRIDE"
)

// Valid reports whether r is a known rank.
func (r Rank) Valid() bool {
	return r == RankBase || r == RankDomain || r == RankCustomerOverride
}

// parentRank is the only rank r may inherit from. BASE has none.
func (r Rank) parentRank() (Rank, bool) {
	switch r {
	case RankDomain:
		return RankBase, true
	case RankCustomerOverride:
		return RankDomain, true
	default:
		return "", false
	}
}

// OverrideMode controls how a child combines with its parents.
type OverrideMode string

const OverrideAdditive OverrideMode = "ADDITIVE"

// ConflictResolution controls overlapping source standards.
type ConflictResolution string

const (
	ConflictChildWins ConflictResolution = "CHILD_WINS"
	ConflictError     ConflictResolution = "ERROR"
)

// InheritanceRules is the inheritance policy of a profile.
type InheritanceRules struct {
	OverrideMode       OverrideMode       `yaml:"override_mode,omitempty" json:"override_mode,omitempty"`
	ConflictResolution ConflictResolution `yaml:"conflict_resolution,omitempty" json:"conflict_resolution,omitempty"`
}

// withDefaults fills ADDITIVE and ERROR.
func (r InheritanceRules) withDefaults() InheritanceRules {
	if r.OverrideMode == "" {
		r.OverrideMode = OverrideAdditive
	}
	if r.ConflictResolution == "" {
		r.ConflictResolution = ConflictError
	}
	return r
}

// SourceStandard references a clause of an external standard.
type SourceStandard struct {
	StandardID string `yaml:"standard_id" json:"standard_id"`
	Clause     string `yaml:"clause,omitempty" json:"clause,omitempty"`
	Section    string `yaml:"section,omitempty" json:"section,omitempty"`
	Title      string `yaml:"title,omitempty" json:"title,omitempty"`
}

// State is the lifecycle state of a profile.
type State string

const (
	StateDraft      State = "draft"
	StateSubmitted  State = "submitted"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateDeprecated State = "deprecated"
)

// Metadata carries lifecycle bookkeeping.
type Metadata struct {
	State          State     `yaml:"state,omitempty" json:"state,omitempty"`
	StateUpdatedAt time.Time `yaml:"state_updated_at,omitempty" json:"state_updated_at,omitempty"`
	StateUpdatedBy string    `yaml:"state_updated_by,omitempty" json:"state_updated_by,omitempty"`
	StateReason    string    `yaml:"state_reason,omitempty" json:"state_reason,omitempty"`
	SupersededBy   []string  `yaml:"superseded_by,omitempty" json:"superseded_by,omitempty"`

	ParentVersion    string    `yaml:"parent_version,omitempty" json:"parent_version,omitempty"`
	VersionCreatedAt time.Time `yaml:"version_created_at,omitempty" json:"version_created_at,omitempty"`
}

// Profile is a ranked bundle of rule pack references and standards metadata.
type Profile struct {
	ID               string           `yaml:"profile_id" json:"profile_id"`
	Name             string           `yaml:"name,omitempty" json:"name,omitempty"`
	Description      string           `yaml:"description,omitempty" json:"description,omitempty"`
	Type             Rank             `yaml:"profile_type" json:"profile_type"`
	Version          string           `yaml:"version,omitempty" json:"version,omitempty"`
	ParentProfiles   []string         `yaml:"parent_profiles,omitempty" json:"parent_profiles,omitempty"`
	StandardsPacks   []string         `yaml:"standards_packs,omitempty" json:"standards_packs,omitempty"`
	InheritanceRules InheritanceRules `yaml:"inheritance_rules,omitempty" json:"inheritance_rules,omitempty"`
	SourceStandards  []SourceStandard `yaml:"source_standards,omitempty" json:"source_standards,omitempty"`
	Metadata         Metadata         `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// State returns the lifecycle state; profiles without one are drafts.
func (p *Profile) State() State {
	if p.Metadata.State == "" {
		return StateDraft
	}
	return p.Metadata.State
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.ParentProfiles = append([]string(nil), p.ParentProfiles...)
	c.StandardsPacks = append([]string(nil), p.StandardsPacks...)
	c.SourceStandards = append([]SourceStandard(nil), p.SourceStandards...)
	c.Metadata.SupersededBy = append([]string(nil), p.Metadata.SupersededBy...)
	return &c
}

// ClauseFor returns the clause declared for standardID, or "".
func (p *Profile) ClauseFor(standardID string) string {
	for _, s := range p.SourceStandards {
		if s.StandardID == standardID {
			return s.Clause
		}
	}
	return ""
}

// Repository loads and stores profiles.
type Repository interface {
	LoadProfile(ctx context.Context, id string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}

// StateRepository is a Repository that can replace a profile only while its
// stored state is still the one the caller observed.
type StateRepository interface {
	Repository

	// CompareAndSaveProfile stores p if the stored profile is in state
	// from, and fails with ErrStateConflict otherwise.
	CompareAndSaveProfile(ctx context.Context, p *Profile, from State) error
}
