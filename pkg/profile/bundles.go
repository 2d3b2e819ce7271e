package profile

import (
	"context"
	"errors"
	"fmt"
)

// ErrBundleNotFound indicates no bundle with the requested id exists.
var ErrBundleNotFound = errors.New("profile bundle not found")

// Bundle names a reusable profile stack for a program or customer.
type Bundle struct {
	ID         string   `yaml:"bundle_id" json:"bundle_id"`
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	ProfileIDs []string `yaml:"profile_ids" json:"profile_ids"`
	ProgramID  string   `yaml:"program_id,omitempty" json:"program_id,omitempty"`
	CustomerID string   `yaml:"customer_id,omitempty" json:"customer_id,omitempty"`
}

// Validate checks the bundle has an id and at least one profile.
func (b *Bundle) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	if len(b.ProfileIDs) == 0 {
		return fmt.Errorf("bundle %s: profile_ids cannot be empty", b.ID)
	}
	return nil
}

// BundleRepository stores bundles.
type BundleRepository interface {
	SaveBundle(ctx context.Context, b *Bundle) error
	LoadBundle(ctx context.Context, id string) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
}

// ResolveBundle returns the profile ids of a bundle, ready for Resolve.
func ResolveBundle(ctx context.Context, repo BundleRepository, id string) ([]string, error) {
	b, err := repo.LoadBundle(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), b.ProfileIDs...), nil
}
