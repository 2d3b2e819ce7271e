package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
	"datum-hq/soe/pkg/rules/expr"
	"datum-hq/soe/pkg/rules/pack"
)

// backends returns a constructor per storage backend under test. The SQL
// backend uses the pure Go driver so the tests run without cgo.
func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			t.Helper()
			s, err := NewSQLiteStore(Config{
				Driver:      DriverSQLite,
				Path:        filepath.Join(t.TempDir(), "soe.db"),
				WALMode:     true,
				BusyTimeout: 5 * time.Second,
			})
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func draftPlan(id string) *plan.Plan {
	return &plan.Plan{
		ID:      id,
		Version: 1,
		State:   plan.StateDraft,
		Steps: []plan.Step{{
			ID: "step_fab", Type: plan.StepFab, Title: "PCB Fabrication", Sequence: 1, Required: true,
			Parameters:  map[string]interface{}{"process": "standard"},
			SourceRules: []plan.SourceRule{{RuleID: plan.BaselineDefaultRuleID, Origin: plan.OriginBaseline}},
		}},
	}
}

func nextVersion(p *plan.Plan) *plan.Plan {
	n := p.Clone()
	n.ParentVersion = p.Version
	n.Version = p.Version + 1
	return n
}

func TestStore_PlanVersions(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.LoadPlan(ctx, "plan-1"); !errors.Is(err, plan.ErrNotFound) {
			t.Fatalf("LoadPlan() on empty store error = %v, want ErrNotFound", err)
		}

		v1 := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, v1); err != nil {
			t.Fatalf("CreatePlanVersion(v1) error = %v", err)
		}
		v2 := nextVersion(v1)
		v2.Notes = "second"
		if err := s.CreatePlanVersion(ctx, v2); err != nil {
			t.Fatalf("CreatePlanVersion(v2) error = %v", err)
		}

		latest, err := s.LoadPlan(ctx, "plan-1")
		if err != nil {
			t.Fatal(err)
		}
		if latest.Version != 2 || latest.Notes != "second" {
			t.Errorf("LoadPlan() = v%d %q", latest.Version, latest.Notes)
		}
		if latest.Steps[0].Parameters["process"] != "standard" {
			t.Errorf("step parameters = %v", latest.Steps[0].Parameters)
		}

		first, err := s.LoadPlanVersion(ctx, "plan-1", 1)
		if err != nil || first.Version != 1 {
			t.Errorf("LoadPlanVersion(1) = %v, %v", first, err)
		}
		if _, err := s.LoadPlanVersion(ctx, "plan-1", 3); !errors.Is(err, plan.ErrNotFound) {
			t.Errorf("LoadPlanVersion(3) error = %v, want ErrNotFound", err)
		}

		all, err := s.ListPlanVersions(ctx, "plan-1")
		if err != nil || len(all) != 2 || all[0].Version != 1 || all[1].Version != 2 {
			t.Errorf("ListPlanVersions() = %d versions, %v", len(all), err)
		}

		if err := s.CreatePlanVersion(ctx, draftPlan("plan-0")); err != nil {
			t.Fatal(err)
		}
		ids, err := s.ListPlanIDs(ctx)
		if err != nil || len(ids) != 2 || ids[0] != "plan-0" || ids[1] != "plan-1" {
			t.Errorf("ListPlanIDs() = %v, %v", ids, err)
		}
	})
}

func TestStore_PlanVersionConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v1 := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, v1); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			p    *plan.Plan
		}{
			{"duplicate first version", draftPlan("plan-1")},
			{"skips a version", func() *plan.Plan { p := nextVersion(nextVersion(v1)); return p }()},
			{"stale parent", func() *plan.Plan { p := nextVersion(v1); p.ParentVersion = 0; return p }()},
		}
		for _, tt := range tests {
			if err := s.CreatePlanVersion(ctx, tt.p); !errors.Is(err, plan.ErrVersionConflict) {
				t.Errorf("%s: error = %v, want ErrVersionConflict", tt.name, err)
			}
		}
	})
}

func TestStore_ConcurrentVersionsOneWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v1 := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, v1); err != nil {
			t.Fatal(err)
		}

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CreatePlanVersion(ctx, nextVersion(v1))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, plan.ErrVersionConflict):
					conflicts.Add(1)
				default:
					t.Errorf("CreatePlanVersion() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 || conflicts.Load() != 7 {
			t.Errorf("wins = %d, conflicts = %d", wins.Load(), conflicts.Load())
		}
	})
}

func TestStore_UpdatePlanState(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, p); err != nil {
			t.Fatal(err)
		}

		at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		p.State = plan.StateApproved
		p.Locked = true
		p.LockID = "lock_1"
		p.ApprovedBy = "qa-lead"
		p.ApprovedAt = &at
		p.Notes = "not a lifecycle field"
		if err := s.UpdatePlanState(ctx, p, plan.StateDraft); err != nil {
			t.Fatalf("UpdatePlanState() error = %v", err)
		}

		got, err := s.LoadPlan(ctx, "plan-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.State != plan.StateApproved || !got.Locked || got.LockID != "lock_1" || got.ApprovedBy != "qa-lead" {
			t.Errorf("state = %+v", got)
		}
		if got.ApprovedAt == nil || !got.ApprovedAt.Equal(at) {
			t.Errorf("ApprovedAt = %v", got.ApprovedAt)
		}
		if got.Notes != "" {
			t.Errorf("UpdatePlanState() wrote Notes = %q", got.Notes)
		}

		p.Version = 9
		if err := s.UpdatePlanState(ctx, p, plan.StateApproved); !errors.Is(err, plan.ErrNotFound) {
			t.Errorf("UpdatePlanState(v9) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_PlanStateConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v1 := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, v1); err != nil {
			t.Fatal(err)
		}

		submitted := v1.Clone()
		submitted.State = plan.StateSubmitted
		if err := s.UpdatePlanState(ctx, submitted, plan.StateSubmitted); !errors.Is(err, plan.ErrStateConflict) {
			t.Errorf("UpdatePlanState(wrong from) error = %v, want ErrStateConflict", err)
		}
		if err := s.UpdatePlanState(ctx, submitted, plan.StateDraft); err != nil {
			t.Fatalf("UpdatePlanState() error = %v", err)
		}

		// A second reviewer acting on the same observed state loses.
		approved := submitted.Clone()
		approved.State, approved.Locked = plan.StateApproved, true
		rejected := submitted.Clone()
		rejected.State = plan.StateDraft
		if err := s.UpdatePlanState(ctx, approved, plan.StateSubmitted); err != nil {
			t.Fatalf("UpdatePlanState(approve) error = %v", err)
		}
		if err := s.UpdatePlanState(ctx, rejected, plan.StateSubmitted); !errors.Is(err, plan.ErrStateConflict) {
			t.Errorf("UpdatePlanState(reject) error = %v, want ErrStateConflict", err)
		}
		got, _ := s.LoadPlan(ctx, "plan-1")
		if got.State != plan.StateApproved || !got.Locked {
			t.Errorf("stored = %s locked = %v, want approved", got.State, got.Locked)
		}
	})
}

func TestStore_SupersededVersionStateConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v1 := draftPlan("plan-1")
		if err := s.CreatePlanVersion(ctx, v1); err != nil {
			t.Fatal(err)
		}
		if err := s.CreatePlanVersion(ctx, nextVersion(v1)); err != nil {
			t.Fatal(err)
		}

		old := v1.Clone()
		old.State = plan.StateSubmitted
		if err := s.UpdatePlanState(ctx, old, plan.StateDraft); !errors.Is(err, plan.ErrStateConflict) {
			t.Errorf("UpdatePlanState(v1) error = %v, want ErrStateConflict", err)
		}
	})
}

func TestStore_NewVersionNeedsDraftParent(t *testing.T) {
	tests := []struct {
		name   string
		parent plan.State
		locked bool
		want   error
	}{
		{"submitted parent", plan.StateSubmitted, false, plan.ErrInvalidTransition},
		{"approved parent", plan.StateApproved, true, plan.ErrPlanLocked},
		{"locked draft parent", plan.StateDraft, true, plan.ErrPlanLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eachBackend(t, func(t *testing.T, s Store) {
				ctx := context.Background()
				v1 := draftPlan("plan-1")
				v1.State, v1.Locked = tt.parent, tt.locked
				if err := s.CreatePlanVersion(ctx, v1); err != nil {
					t.Fatal(err)
				}

				v2 := nextVersion(v1)
				v2.State, v2.Locked = plan.StateDraft, false
				if err := s.CreatePlanVersion(ctx, v2); !errors.Is(err, tt.want) {
					t.Errorf("CreatePlanVersion(v2) error = %v, want %v", err, tt.want)
				}
				if all, _ := s.ListPlanVersions(ctx, "plan-1"); len(all) != 1 {
					t.Errorf("len(versions) = %d, want 1", len(all))
				}
			})
		})
	}
}

func TestStore_GovernorRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		gov := plan.NewGovernor(s, plan.WithRecorder(s))

		p := draftPlan("plan-1")
		if err := gov.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
		if _, err := gov.Submit(ctx, "plan-1", "planner", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := gov.Approve(ctx, "plan-1", "qa-lead", ""); err != nil {
			t.Fatal(err)
		}

		evs, err := s.ListEvents(ctx, events.EntityPlan, "plan-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(evs) != 2 || evs[0].Action != events.ActionSubmit || evs[1].Action != events.ActionApprove {
			t.Errorf("events = %+v", evs)
		}
	})
}

func TestStore_CompareAndSaveProfile(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := &profile.Profile{ID: "space_domain", Type: profile.RankDomain, ParentProfiles: []string{"ipc_base"}}

		if err := s.CompareAndSaveProfile(ctx, p, profile.StateDraft); !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("CompareAndSaveProfile(missing) error = %v, want ErrNotFound", err)
		}
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatal(err)
		}

		submitted := p.Clone()
		submitted.Metadata.State = profile.StateSubmitted
		if err := s.CompareAndSaveProfile(ctx, submitted, profile.StateDraft); err != nil {
			t.Fatalf("CompareAndSaveProfile() error = %v", err)
		}

		// Both reviewers observed submitted; only the first write lands.
		approved := submitted.Clone()
		approved.Metadata.State = profile.StateApproved
		rejected := submitted.Clone()
		rejected.Metadata.State = profile.StateDraft
		if err := s.CompareAndSaveProfile(ctx, approved, profile.StateSubmitted); err != nil {
			t.Fatalf("CompareAndSaveProfile(approve) error = %v", err)
		}
		if err := s.CompareAndSaveProfile(ctx, rejected, profile.StateSubmitted); !errors.Is(err, profile.ErrStateConflict) {
			t.Errorf("CompareAndSaveProfile(reject) error = %v, want ErrStateConflict", err)
		}

		got, err := s.LoadProfile(ctx, "space_domain")
		if err != nil {
			t.Fatal(err)
		}
		if got.State() != profile.StateApproved {
			t.Errorf("state = %s, want approved", got.State())
		}
	})
}

func TestStore_Profiles(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := &profile.Profile{
			ID:              "space_domain",
			Type:            profile.RankDomain,
			Version:         "1.0.0",
			ParentProfiles:  []string{"ipc_base"},
			StandardsPacks:  []string{"SPACE_CORE"},
			SourceStandards: []profile.SourceStandard{{StandardID: "GSFC-STD-7000", Clause: "2.6"}},
		}

		if _, err := s.LoadProfile(ctx, p.ID); !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("LoadProfile() error = %v, want ErrNotFound", err)
		}
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
		p.Metadata.State = profile.StateApproved
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatal(err)
		}

		got, err := s.LoadProfile(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State() != profile.StateApproved || got.ClauseFor("GSFC-STD-7000") != "2.6" {
			t.Errorf("LoadProfile() = %+v", got)
		}
		list, err := s.ListProfiles(ctx)
		if err != nil || len(list) != 1 {
			t.Errorf("ListProfiles() = %d, %v", len(list), err)
		}

		versioner := profile.NewVersioner(s, s, nil)
		if _, err := versioner.CreateVersion(ctx, p.ID, "1.1.0", ""); err != nil {
			t.Fatalf("CreateVersion() error = %v", err)
		}
		if err := s.SaveProfileVersion(ctx, &profile.Profile{ID: p.ID, Version: "1.1.0"}); !errors.Is(err, profile.ErrVersionExists) {
			t.Errorf("SaveProfileVersion(duplicate) error = %v, want ErrVersionExists", err)
		}
		snap, err := s.LoadProfileVersion(ctx, p.ID, "1.1.0")
		if err != nil || snap.Metadata.ParentVersion != "1.0.0" {
			t.Errorf("LoadProfileVersion() = %+v, %v", snap, err)
		}
	})
}

func TestStore_Bundles(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		b := &profile.Bundle{ID: "prog-x", ProfileIDs: []string{"ipc_base", "space_domain"}, ProgramID: "X"}
		if err := s.SaveBundle(ctx, b); err != nil {
			t.Fatal(err)
		}
		if err := s.SaveBundle(ctx, &profile.Bundle{ID: "empty"}); err == nil {
			t.Error("SaveBundle() accepted a bundle without profiles")
		}

		ids, err := profile.ResolveBundle(ctx, s, "prog-x")
		if err != nil || len(ids) != 2 || ids[1] != "space_domain" {
			t.Errorf("ResolveBundle() = %v, %v", ids, err)
		}
		if _, err := s.LoadBundle(ctx, "nope"); !errors.Is(err, profile.ErrBundleNotFound) {
			t.Errorf("LoadBundle() error = %v, want ErrBundleNotFound", err)
		}
		list, err := s.ListBundles(ctx)
		if err != nil || len(list) != 1 {
			t.Errorf("ListBundles() = %d, %v", len(list), err)
		}
	})
}

func TestStore_Runs(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		run := &engine.PolicyRun{
			SOEVersion:      "1.0.0",
			IndustryProfile: "space",
			ActivePacks:     []string{"SPACE_CORE"},
			Decisions: []engine.Decision{{
				ID: "DEC-0A1B2C3D", ObjectType: pack.ObjectTypeTest, ObjectID: "TVAC",
				Action: pack.ActionRequire, Enforcement: pack.EnforcementBlockRelease,
				Why: engine.DecisionWhy{RuleID: "SPACE-TVAC-001", PackID: "SPACE_CORE"},
			}},
		}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		if run.ID == "" {
			t.Fatal("SaveRun() did not assign an id")
		}
		if err := s.SaveRun(ctx, run); !errors.Is(err, ErrRunExists) {
			t.Errorf("SaveRun(again) error = %v, want ErrRunExists", err)
		}

		got, err := s.LoadRun(ctx, run.ID)
		if err != nil {
			t.Fatal(err)
		}
		if d := got.Decision("DEC-0A1B2C3D"); d == nil || !d.Blocking() {
			t.Errorf("LoadRun() decisions = %+v", got.Decisions)
		}
		if _, err := s.LoadRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("LoadRun(missing) error = %v, want ErrRunNotFound", err)
		}
	})
}

func TestStore_Packs(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rp := &pack.RulePack{
			ID:      "SPACE_CORE",
			Version: "1.0.0",
			Rules: []pack.Rule{{
				ID:      "SPACE-TVAC-001",
				Applies: pack.Applicability{IndustryProfiles: []string{"space"}},
				When:    expr.Leaf("processes", expr.OpContains, "SMT"),
				Then: pack.Then{
					Action:      pack.ActionRequire,
					Target:      pack.Target{ObjectType: pack.ObjectTypeTest, Selector: map[string]interface{}{"test_type": "TVAC"}},
					Enforcement: pack.EnforcementBlockRelease,
				},
			}},
		}
		if err := s.SavePack(ctx, rp); err != nil {
			t.Fatalf("SavePack() error = %v", err)
		}
		if err := s.SaveIndustryProfile(ctx, &pack.IndustryProfile{Name: "space", DefaultPacks: []string{"SPACE_CORE"}}); err != nil {
			t.Fatal(err)
		}

		got, err := s.LoadPack(ctx, "SPACE_CORE")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Rules) != 1 || got.Rules[0].When == nil || got.Rules[0].When.Field != "processes" {
			t.Errorf("LoadPack() rules = %+v", got.Rules)
		}
		ip, err := s.LoadIndustryProfile(ctx, "space")
		if err != nil || ip.DefaultPacks[0] != "SPACE_CORE" {
			t.Errorf("LoadIndustryProfile() = %+v, %v", ip, err)
		}
		if _, err := s.LoadPack(ctx, "NOPE"); !errors.Is(err, pack.ErrPackNotFound) {
			t.Errorf("LoadPack(NOPE) error = %v, want ErrPackNotFound", err)
		}
	})
}

func TestStore_Events(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		for i, a := range []events.Action{events.ActionApprove, events.ActionSubmit} {
			e := events.New(events.EntityProfile, "space_domain", a, "qa", base.Add(-time.Duration(i)*time.Minute), "")
			if err := s.Record(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Record(ctx, events.New(events.EntityPlan, "plan-1", events.ActionEdit, "u", base, "r")); err != nil {
			t.Fatal(err)
		}

		evs, err := s.ListEvents(ctx, events.EntityProfile, "space_domain")
		if err != nil {
			t.Fatal(err)
		}
		if len(evs) != 2 || evs[0].Action != events.ActionSubmit {
			t.Errorf("ListEvents() = %+v, want timestamp order", evs)
		}
		all, err := s.ListEvents(ctx, events.EntityPlan, "")
		if err != nil || len(all) != 1 {
			t.Errorf("ListEvents(plan, all) = %d, %v", len(all), err)
		}
	})
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", s)
	}
	if _, err := Open(Config{Driver: "postgres"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(postgres) error = %v, want ErrUnknownDriver", err)
	}
	if _, err := Open(Config{Driver: DriverSQLite}); err == nil {
		t.Error("Open(sqlite) without a path succeeded")
	}
}
