package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/pack"
)

// SQLiteStore implements Store on SQLite through database/sql. Either the
// cgo driver (sqlite3) or the pure Go driver (sqlite) can back it; the
// schema and queries are the same.
type SQLiteStore struct {
	db      *sql.DB
	backend string
	logger  *slog.Logger
}

// NewSQLiteStore opens the database at cfg.Path and creates the schema.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite3
	}
	if cfg.Path == "" {
		return nil, newStorageError(cfg.Driver, "open", errors.New("db path cannot be empty"))
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "storage.sqlite")

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, newStorageError(cfg.Driver, "open", err)
	}

	// SQLite has a single writer; one connection serializes transactions,
	// which is what plan version compare-and-swap relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, backend: cfg.Driver, logger: logger}
	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"driver", cfg.Driver,
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
	)
	return s, nil
}

func (s *SQLiteStore) initialize(cfg Config) error {
	if cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return s.fail("enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		return s.fail("set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return s.fail("create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return s.fail("insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return s.fail("get_schema_version", err)
	}
	if version != SchemaVersion {
		return s.fail("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

func (s *SQLiteStore) fail(op string, err error) error {
	return newStorageError(s.backend, op, err)
}

// queryDoc scans the single document selected by query into dst. It reports
// false when no row matched.
func queryDoc(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, dst any, query string, args ...any) (bool, error) {
	var doc string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	return true, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

// LoadPack implements pack.Repository.
func (s *SQLiteStore) LoadPack(ctx context.Context, id string) (*pack.RulePack, error) {
	var p pack.RulePack
	found, err := queryDoc(ctx, s.db, &p, `SELECT document FROM rule_packs WHERE pack_id = ?`, id)
	if err != nil {
		return nil, s.fail("load_pack", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", pack.ErrPackNotFound, id)
	}
	return &p, nil
}

// SavePack stores a rule pack, replacing any pack with the same id.
func (s *SQLiteStore) SavePack(ctx context.Context, p *pack.RulePack) error {
	if err := p.Validate(); err != nil {
		return err
	}
	doc, err := encode(p)
	if err != nil {
		return s.fail("save_pack", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_packs (pack_id, version, document) VALUES (?, ?, ?)
		ON CONFLICT(pack_id) DO UPDATE SET version = excluded.version, document = excluded.document`,
		p.ID, p.Version, doc)
	if err != nil {
		return s.fail("save_pack", err)
	}
	return nil
}

// LoadIndustryProfile implements pack.Repository.
func (s *SQLiteStore) LoadIndustryProfile(ctx context.Context, name string) (*pack.IndustryProfile, error) {
	var ip pack.IndustryProfile
	found, err := queryDoc(ctx, s.db, &ip, `SELECT document FROM industry_profiles WHERE name = ?`, name)
	if err != nil {
		return nil, s.fail("load_industry_profile", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", pack.ErrIndustryProfileNotFound, name)
	}
	return &ip, nil
}

// SaveIndustryProfile stores an industry profile.
func (s *SQLiteStore) SaveIndustryProfile(ctx context.Context, ip *pack.IndustryProfile) error {
	if ip.Name == "" {
		return fmt.Errorf("industry profile name cannot be empty")
	}
	doc, err := encode(ip)
	if err != nil {
		return s.fail("save_industry_profile", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO industry_profiles (name, document) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document`,
		ip.Name, doc)
	if err != nil {
		return s.fail("save_industry_profile", err)
	}
	return nil
}

// LoadProfile implements profile.Repository.
func (s *SQLiteStore) LoadProfile(ctx context.Context, id string) (*profile.Profile, error) {
	var p profile.Profile
	found, err := queryDoc(ctx, s.db, &p, `SELECT document FROM profiles WHERE profile_id = ?`, id)
	if err != nil {
		return nil, s.fail("load_profile", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, id)
	}
	return &p, nil
}

// SaveProfile implements profile.Repository.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *profile.Profile) error {
	doc, err := encode(p)
	if err != nil {
		return s.fail("save_profile", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (profile_id, profile_type, state, document) VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			profile_type = excluded.profile_type,
			state = excluded.state,
			document = excluded.document`,
		p.ID, string(p.Type), string(p.State()), doc)
	if err != nil {
		return s.fail("save_profile", err)
	}
	return nil
}

// CompareAndSaveProfile implements profile.StateRepository. The state
// column is the compare value.
func (s *SQLiteStore) CompareAndSaveProfile(ctx context.Context, p *profile.Profile, from profile.State) error {
	doc, err := encode(p)
	if err != nil {
		return s.fail("compare_and_save_profile", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM profiles WHERE profile_id = ?`, p.ID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, p.ID)
	}
	if err != nil {
		return s.fail("compare_and_save_profile", err)
	}
	if profile.State(state) != from {
		return fmt.Errorf("%w: profile %s is %s, expected %s", profile.ErrStateConflict, p.ID, state, from)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles SET profile_type = ?, state = ?, document = ? WHERE profile_id = ? AND state = ?`,
		string(p.Type), string(p.State()), doc, p.ID, string(from))
	if err != nil {
		return s.fail("compare_and_save_profile", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// ListProfiles returns every profile ordered by id.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM profiles ORDER BY profile_id`)
	if err != nil {
		return nil, s.fail("list_profiles", err)
	}
	out, err := scanDocs[profile.Profile](rows)
	if err != nil {
		return nil, s.fail("list_profiles", err)
	}
	return out, nil
}

// SaveProfileVersion implements profile.VersionRepository.
func (s *SQLiteStore) SaveProfileVersion(ctx context.Context, p *profile.Profile) error {
	doc, err := encode(p)
	if err != nil {
		return s.fail("save_profile_version", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_versions (profile_id, version, document) VALUES (?, ?, ?)
		ON CONFLICT(profile_id, version) DO NOTHING`,
		p.ID, p.Version, doc)
	if err != nil {
		return s.fail("save_profile_version", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s@%s", profile.ErrVersionExists, p.ID, p.Version)
	}
	return nil
}

// LoadProfileVersion implements profile.VersionRepository.
func (s *SQLiteStore) LoadProfileVersion(ctx context.Context, id, version string) (*profile.Profile, error) {
	var p profile.Profile
	found, err := queryDoc(ctx, s.db, &p,
		`SELECT document FROM profile_versions WHERE profile_id = ? AND version = ?`, id, version)
	if err != nil {
		return nil, s.fail("load_profile_version", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s@%s", profile.ErrNotFound, id, version)
	}
	return &p, nil
}

// ListProfileVersions implements profile.VersionRepository.
func (s *SQLiteStore) ListProfileVersions(ctx context.Context, id string) ([]*profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM profile_versions WHERE profile_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, s.fail("list_profile_versions", err)
	}
	out, err := scanDocs[profile.Profile](rows)
	if err != nil {
		return nil, s.fail("list_profile_versions", err)
	}
	return out, nil
}

// SaveBundle implements profile.BundleRepository.
func (s *SQLiteStore) SaveBundle(ctx context.Context, b *profile.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	doc, err := encode(b)
	if err != nil {
		return s.fail("save_bundle", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_bundles (bundle_id, document) VALUES (?, ?)
		ON CONFLICT(bundle_id) DO UPDATE SET document = excluded.document`,
		b.ID, doc)
	if err != nil {
		return s.fail("save_bundle", err)
	}
	return nil
}

// LoadBundle implements profile.BundleRepository.
func (s *SQLiteStore) LoadBundle(ctx context.Context, id string) (*profile.Bundle, error) {
	var b profile.Bundle
	found, err := queryDoc(ctx, s.db, &b, `SELECT document FROM profile_bundles WHERE bundle_id = ?`, id)
	if err != nil {
		return nil, s.fail("load_bundle", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", profile.ErrBundleNotFound, id)
	}
	return &b, nil
}

// ListBundles implements profile.BundleRepository.
func (s *SQLiteStore) ListBundles(ctx context.Context) ([]*profile.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM profile_bundles ORDER BY bundle_id`)
	if err != nil {
		return nil, s.fail("list_bundles", err)
	}
	out, err := scanDocs[profile.Bundle](rows)
	if err != nil {
		return nil, s.fail("list_bundles", err)
	}
	return out, nil
}

// LoadPlan implements plan.Repository.
func (s *SQLiteStore) LoadPlan(ctx context.Context, id string) (*plan.Plan, error) {
	var p plan.Plan
	found, err := queryDoc(ctx, s.db, &p,
		`SELECT document FROM plans WHERE plan_id = ? ORDER BY version DESC LIMIT 1`, id)
	if err != nil {
		return nil, s.fail("load_plan", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", plan.ErrNotFound, id)
	}
	return &p, nil
}

// LoadPlanVersion implements plan.Repository.
func (s *SQLiteStore) LoadPlanVersion(ctx context.Context, id string, version int) (*plan.Plan, error) {
	var p plan.Plan
	found, err := queryDoc(ctx, s.db, &p,
		`SELECT document FROM plans WHERE plan_id = ? AND version = ?`, id, version)
	if err != nil {
		return nil, s.fail("load_plan_version", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s v%d", plan.ErrNotFound, id, version)
	}
	return &p, nil
}

// ListPlanVersions implements plan.Repository.
func (s *SQLiteStore) ListPlanVersions(ctx context.Context, id string) ([]*plan.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM plans WHERE plan_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, s.fail("list_plan_versions", err)
	}
	out, err := scanDocs[plan.Plan](rows)
	if err != nil {
		return nil, s.fail("list_plan_versions", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", plan.ErrNotFound, id)
	}
	return out, nil
}

// CreatePlanVersion implements plan.Repository. The latest version is read
// and the new one inserted in one transaction.
func (s *SQLiteStore) CreatePlanVersion(ctx context.Context, p *plan.Plan) error {
	doc, err := encode(p)
	if err != nil {
		return s.fail("create_plan_version", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	var stored plan.Plan
	found, err := queryDoc(ctx, tx, &stored,
		`SELECT document FROM plans WHERE plan_id = ? ORDER BY version DESC LIMIT 1`, p.ID)
	if err != nil {
		return s.fail("create_plan_version", err)
	}
	var latest *plan.Plan
	if found {
		latest = &stored
	}
	if err := checkNextVersion(p, latest); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (plan_id, version, parent_version, state, document)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Version, p.ParentVersion, string(p.State), doc)
	if err != nil {
		return s.fail("create_plan_version", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// UpdatePlanState implements plan.Repository.
func (s *SQLiteStore) UpdatePlanState(ctx context.Context, p *plan.Plan, from plan.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	var stored plan.Plan
	found, err := queryDoc(ctx, tx, &stored,
		`SELECT document FROM plans WHERE plan_id = ? AND version = ?`, p.ID, p.Version)
	if err != nil {
		return s.fail("update_plan_state", err)
	}
	if !found {
		return fmt.Errorf("%w: %s v%d", plan.ErrNotFound, p.ID, p.Version)
	}
	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM plans WHERE plan_id = ?`, p.ID).Scan(&latest)
	if err != nil {
		return s.fail("update_plan_state", err)
	}
	if err := checkStateChange(p, &stored, latest, from); err != nil {
		return err
	}
	applyState(&stored, p)

	doc, err := encode(&stored)
	if err != nil {
		return s.fail("update_plan_state", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE plans SET state = ?, document = ? WHERE plan_id = ? AND version = ? AND state = ?`,
		string(stored.State), doc, p.ID, p.Version, string(from))
	if err != nil {
		return s.fail("update_plan_state", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.fail("update_plan_state", err)
	} else if n != 1 {
		return fmt.Errorf("%w: plan %s version %d is no longer %s", plan.ErrStateConflict, p.ID, p.Version, from)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

// ListPlanIDs returns the id of every plan lineage in order.
func (s *SQLiteStore) ListPlanIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT plan_id FROM plans ORDER BY plan_id`)
	if err != nil {
		return nil, s.fail("list_plan_ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("list_plan_ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_plan_ids", err)
	}
	return ids, nil
}

// SaveRun implements RunRepository.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.PolicyRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	doc, err := encode(run)
	if err != nil {
		return s.fail("save_run", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_runs (run_id, industry_profile, soe_version, document) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		run.ID, run.IndustryProfile, run.SOEVersion, doc)
	if err != nil {
		return s.fail("save_run", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	return nil
}

// LoadRun implements RunRepository.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (*engine.PolicyRun, error) {
	var run engine.PolicyRun
	found, err := queryDoc(ctx, s.db, &run, `SELECT document FROM policy_runs WHERE run_id = ?`, id)
	if err != nil {
		return nil, s.fail("load_run", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return &run, nil
}

// Record implements events.Recorder.
func (s *SQLiteStore) Record(ctx context.Context, e events.Event) error {
	doc, err := encode(e)
	if err != nil {
		return s.fail("record_event", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, entity_type, entity_id, action, user_id, timestamp, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityType, e.EntityID, string(e.Action), e.UserID, e.Timestamp.UnixNano(), doc)
	if err != nil {
		return s.fail("record_event", err)
	}
	return nil
}

// ListEvents returns the events of one entity in timestamp order. An empty
// entityID lists every entity of the type.
func (s *SQLiteStore) ListEvents(ctx context.Context, entityType, entityID string) ([]events.Event, error) {
	query := `SELECT document FROM audit_events WHERE entity_type = ?`
	args := []any{entityType}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY timestamp, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("list_events", err)
	}
	list, err := scanDocs[events.Event](rows)
	if err != nil {
		return nil, s.fail("list_events", err)
	}
	out := make([]events.Event, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return s.fail("close", err)
	}
	s.logger.Debug("SQLite storage closed")
	return nil
}

func scanDocs[T any](rows *sql.Rows) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
