package storage

import (
	"context"
	"fmt"
	"time"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/pack"
)

// Driver names.
const (
	DriverMemory  = "memory"
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
)

// RunRepository stores policy runs. Runs are immutable once saved.
type RunRepository interface {
	// SaveRun stores run. A run without an id is given a random one.
	SaveRun(ctx context.Context, run *engine.PolicyRun) error
	LoadRun(ctx context.Context, id string) (*engine.PolicyRun, error)
}

// EventLog stores and lists audit events.
type EventLog interface {
	events.Recorder
	ListEvents(ctx context.Context, entityType, entityID string) ([]events.Event, error)
}

// Store is the complete persistence surface of the system.
type Store interface {
	pack.Repository
	SavePack(ctx context.Context, p *pack.RulePack) error
	SaveIndustryProfile(ctx context.Context, ip *pack.IndustryProfile) error

	profile.StateRepository
	profile.VersionRepository
	profile.BundleRepository
	ListProfiles(ctx context.Context) ([]*profile.Profile, error)

	plan.Repository
	ListPlanIDs(ctx context.Context) ([]string, error)

	RunRepository
	EventLog

	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	// Driver is one of memory, sqlite3 or sqlite. Default: sqlite3.
	Driver string

	// Path is the database file path for the SQL drivers.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging.
	WALMode bool
}

// Open creates the backend named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case "", DriverSQLite3:
		cfg.Driver = DriverSQLite3
		return NewSQLiteStore(cfg)
	case DriverSQLite:
		return NewSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// checkNextVersion enforces plan version compare-and-swap: p must be the
// direct successor of latest, and latest must still be an unlocked draft.
// latest is nil for an empty lineage.
func checkNextVersion(p, latest *plan.Plan) error {
	n := 0
	if latest != nil {
		n = latest.Version
	}
	if p.Version != n+1 || p.ParentVersion != n {
		return fmt.Errorf("%w: plan %s version %d (parent %d), latest is %d",
			plan.ErrVersionConflict, p.ID, p.Version, p.ParentVersion, n)
	}
	switch {
	case latest == nil:
		return nil
	case latest.Locked || latest.State == plan.StateApproved:
		return fmt.Errorf("%w: plan %s version %d is %s", plan.ErrPlanLocked, p.ID, n, latest.State)
	case latest.State != plan.StateDraft:
		return fmt.Errorf("%w: plan %s version %d is %s", plan.ErrInvalidTransition, p.ID, n, latest.State)
	}
	return nil
}

// checkStateChange enforces plan state compare-and-swap: the stored version
// must be the latest and still be in state from.
func checkStateChange(p, stored *plan.Plan, latest int, from plan.State) error {
	if stored.Version != latest {
		return fmt.Errorf("%w: plan %s version %d superseded by version %d",
			plan.ErrStateConflict, p.ID, stored.Version, latest)
	}
	if stored.State != from {
		return fmt.Errorf("%w: plan %s version %d is %s, expected %s",
			plan.ErrStateConflict, p.ID, stored.Version, stored.State, from)
	}
	return nil
}

// applyState copies the lifecycle fields of src onto dst.
func applyState(dst, src *plan.Plan) {
	dst.State = src.State
	dst.Locked = src.Locked
	dst.LockID = src.LockID
	dst.ApprovedBy = src.ApprovedBy
	dst.ApprovedAt = src.ApprovedAt
	dst.UpdatedAt = src.UpdatedAt
}
