package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		MaxRestarts:   5,
		RestartWindow: time.Minute,
		ShutdownGrace: time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSupervisorRestartsFailedChild(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)

	var runs atomic.Int32
	err := s.Add(ChildSpec{
		Name: "worker",
		Run: func(ctx context.Context) error {
			if runs.Add(1) <= 2 {
				return errors.New("crash")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return runs.Load() >= 3 }, "child was not restarted after failures")
}

func TestSupervisorBudgetExhaustion(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.MaxRestarts = 2
	s := NewSupervisor(cfg, nil, nil, nil)

	var runs atomic.Int32
	s.Add(ChildSpec{
		Name: "flapping",
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("crash")
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if errors.Is(ev.Err, ErrRestartBudgetExhausted) {
				if ev.Child != "flapping" {
					t.Errorf("event child = %q", ev.Child)
				}
				// Initial run plus the budgeted restarts, nothing more.
				if got := runs.Load(); got != 3 {
					t.Errorf("runs = %d, want 3", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("budget exhaustion never surfaced")
		}
	}
}

func TestSupervisorPermanentRestartsCleanExit(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)

	var runs atomic.Int32
	s.Add(ChildSpec{
		Name: "oneshot",
		Run: func(ctx context.Context) error {
			if runs.Add(1) <= 2 {
				return nil
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return runs.Load() >= 3 }, "permanent child was not restarted after a clean exit")
}

func TestSupervisorTemporaryChildNotRestarted(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)

	var runs atomic.Int32
	s.Add(ChildSpec{
		Name:   "probe",
		Policy: PolicyTemporary,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want exactly 1", got)
	}
}

func TestSupervisorOneForOneLeavesSiblings(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)

	var crasherRuns, steadyRuns atomic.Int32
	s.Add(ChildSpec{
		Name: "crasher",
		Run: func(ctx context.Context) error {
			if crasherRuns.Add(1) <= 2 {
				return errors.New("crash")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s.Add(ChildSpec{
		Name: "steady",
		Run: func(ctx context.Context) error {
			steadyRuns.Add(1)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return crasherRuns.Load() >= 3 }, "crasher was not restarted")
	if got := steadyRuns.Load(); got != 1 {
		t.Errorf("steady runs = %d, one_for_one must not touch siblings", got)
	}
}

func TestSupervisorStop(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)
	s.Add(ChildSpec{
		Name: "worker",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSupervisorAddValidation(t *testing.T) {
	s := NewSupervisor(testSupervisorConfig(), nil, nil, nil)
	if err := s.Add(ChildSpec{Name: ""}); err == nil {
		t.Error("nameless child accepted")
	}
	noop := func(context.Context) error { return nil }
	if err := s.Add(ChildSpec{Name: "a", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ChildSpec{Name: "a", Run: noop}); err == nil {
		t.Error("duplicate child accepted")
	}
}
