package audit

import (
	"context"
	"reflect"
	"testing"

	"datum-hq/soe/pkg/plan"
)

func TestScheduler_Sweep(t *testing.T) {
	s := newFakeStore()
	seed(s)
	draft := s.plans["plan-1"].Clone()
	draft.ID = "plan-2"
	draft.State = plan.StateDraft
	s.plans["plan-2"] = draft

	obs := &countingObserver{}
	sched := NewScheduler(newAuditor(s, WithObserver(obs)), s, "")

	res, err := sched.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Checked != 2 || !reflect.DeepEqual(res.Failed, []string{"plan-2"}) {
		t.Errorf("Sweep() = %+v", res)
	}
	if obs.counts["PASS"] != 1 || obs.counts["FAIL"] != 1 {
		t.Errorf("observer counts = %v", obs.counts)
	}
}

func TestScheduler_SweepCancelled(t *testing.T) {
	s := newFakeStore()
	seed(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewScheduler(newAuditor(s), s, "").Sweep(ctx)
	if err == nil {
		t.Fatal("Sweep() with cancelled context succeeded")
	}
	if res.Checked != 0 {
		t.Errorf("Checked = %d, want 0", res.Checked)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newFakeStore()
	a := newAuditor(s)

	t.Run("empty schedule", func(t *testing.T) {
		sched := NewScheduler(a, s, "")
		if err := sched.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if sched.IsRunning() || sched.NextRun() != nil {
			t.Error("scheduler without schedule is running")
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		if err := NewScheduler(a, s, "every day").Start(context.Background()); err == nil {
			t.Error("Start() accepted an invalid schedule")
		}
	})

	t.Run("daily", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sched := NewScheduler(a, s, "0 2 * * *")
		if err := sched.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if !sched.IsRunning() {
			t.Fatal("IsRunning() = false after Start")
		}
		next := sched.NextRun()
		if next == nil || next.Hour() != 2 || next.Minute() != 0 {
			t.Errorf("NextRun() = %v", next)
		}
		sched.Stop()
		if sched.IsRunning() {
			t.Error("IsRunning() = true after Stop")
		}
	})
}
