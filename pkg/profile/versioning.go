package profile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidVersion = errors.New("invalid semantic version")
	ErrVersionExists  = errors.New("profile version already exists")
)

// VersionRepository stores immutable snapshots of a profile per version.
type VersionRepository interface {
	SaveProfileVersion(ctx context.Context, p *Profile) error
	LoadProfileVersion(ctx context.Context, id, version string) (*Profile, error)
	ListProfileVersions(ctx context.Context, id string) ([]*Profile, error)
}

// Semver is a parsed MAJOR.MINOR.PATCH version.
type Semver struct {
	Major, Minor, Patch int
}

// ParseSemver parses "X.Y.Z". A leading "v" is accepted.
func ParseSemver(s string) (Semver, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Semver{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}
	return Semver{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Less orders versions numerically.
func (v Semver) Less(o Semver) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Versioner snapshots profiles into versions.
type Versioner struct {
	profiles Repository
	versions VersionRepository
	clock    func() time.Time
}

// NewVersioner creates a versioner. A nil clock uses time.Now.
func NewVersioner(profiles Repository, versions VersionRepository, clock func() time.Time) *Versioner {
	if clock == nil {
		clock = time.Now
	}
	return &Versioner{profiles: profiles, versions: versions, clock: clock}
}

// CreateVersion snapshots the current profile as newVersion. When
// parentVersion is empty the profile's current version is recorded as parent.
func (v *Versioner) CreateVersion(ctx context.Context, id, newVersion, parentVersion string) (*Profile, error) {
	if _, err := ParseSemver(newVersion); err != nil {
		return nil, err
	}
	if existing, err := v.versions.LoadProfileVersion(ctx, id, newVersion); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s@%s", ErrVersionExists, id, newVersion)
	}

	current, err := v.profiles.LoadProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := current.Clone()
	if parentVersion == "" {
		parentVersion = current.Version
	}
	snap.Version = newVersion
	snap.Metadata.ParentVersion = parentVersion
	snap.Metadata.VersionCreatedAt = v.clock().UTC()

	if err := v.versions.SaveProfileVersion(ctx, snap); err != nil {
		return nil, fmt.Errorf("save profile version %s@%s: %w", id, newVersion, err)
	}
	return snap, nil
}

// ListVersions returns every stored version of id in semver order. Versions
// that do not parse sort first.
func (v *Versioner) ListVersions(ctx context.Context, id string) ([]*Profile, error) {
	list, err := v.versions.ListProfileVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, _ := ParseSemver(list[i].Version)
		b, _ := ParseSemver(list[j].Version)
		return a.Less(b)
	})
	return list, nil
}

// Change is one difference between two profile versions.
type Change struct {
	Field      string      `json:"field"`
	ChangeType string      `json:"change_type"`
	Value      interface{} `json:"value,omitempty"`
	OldValue   interface{} `json:"old_value,omitempty"`
	NewValue   interface{} `json:"new_value,omitempty"`
}

// VersionDiff lists the changes from one version to another.
type VersionDiff struct {
	ProfileID string   `json:"profile_id"`
	From      string   `json:"version1"`
	To        string   `json:"version2"`
	Changes   []Change `json:"changes"`
}

// CompareVersions loads two versions of id and diffs them.
func (v *Versioner) CompareVersions(ctx context.Context, id, from, to string) (*VersionDiff, error) {
	a, err := v.versions.LoadProfileVersion(ctx, id, from)
	if err != nil {
		return nil, err
	}
	b, err := v.versions.LoadProfileVersion(ctx, id, to)
	if err != nil {
		return nil, err
	}
	return &VersionDiff{ProfileID: id, From: from, To: to, Changes: Diff(a, b)}, nil
}

// Diff compares type, name, version, packs and source standards. The result
// is ordered by field, then change type, then value.
func Diff(a, b *Profile) []Change {
	var changes []Change
	modified := func(field string, old, next interface{}) {
		if !reflect.DeepEqual(old, next) {
			changes = append(changes, Change{Field: field, ChangeType: "modified", OldValue: old, NewValue: next})
		}
	}
	modified("profile_type", a.Type, b.Type)
	modified("name", a.Name, b.Name)
	modified("version", a.Version, b.Version)

	oldPacks := toSet(a.StandardsPacks)
	newPacks := toSet(b.StandardsPacks)
	for _, id := range sortedKeys(newPacks) {
		if !oldPacks[id] {
			changes = append(changes, Change{Field: "standards_packs", ChangeType: "added", Value: id})
		}
	}
	for _, id := range sortedKeys(oldPacks) {
		if !newPacks[id] {
			changes = append(changes, Change{Field: "standards_packs", ChangeType: "removed", Value: id})
		}
	}

	oldStd := make(map[string]SourceStandard)
	for _, s := range a.SourceStandards {
		oldStd[s.StandardID] = s
	}
	newStd := make(map[string]SourceStandard)
	for _, s := range b.SourceStandards {
		newStd[s.StandardID] = s
	}
	ids := make(map[string]bool)
	for id := range oldStd {
		ids[id] = true
	}
	for id := range newStd {
		ids[id] = true
	}
	for _, id := range sortedKeys(ids) {
		o, inOld := oldStd[id]
		n, inNew := newStd[id]
		switch {
		case !inOld:
			changes = append(changes, Change{Field: "source_standards", ChangeType: "added", Value: n})
		case !inNew:
			changes = append(changes, Change{Field: "source_standards", ChangeType: "removed", Value: o})
		case o != n:
			changes = append(changes, Change{Field: "source_standards", ChangeType: "modified", OldValue: o, NewValue: n})
		}
	}
	return changes
}

func toSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, s := range list {
		out[s] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
