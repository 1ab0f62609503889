package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"* * * * *", "@every 5m", "@hourly"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("Expected no error adding job %q, got %v", expr, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Expected 3 jobs, got %d", s.Len())
	}
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"", "every 5m", "* * *", "@every nope"} {
		if err := s.AddJob(expr, func() {}); err == nil {
			t.Errorf("Expected error for %q", expr)
		}
	}
}

func TestSchedulerRunsAndRecovers(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() {
		runs.Add(1)
		panic("job failure")
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() < 2 {
		t.Errorf("expected the job to keep running after a panic, ran %d times", runs.Load())
	}
}

func TestSchedulerKeepsRunningAfterFirstPanic(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() {
		if runs.Add(1) == 1 {
			panic("first sweep failed")
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() < 3 {
		t.Errorf("expected later runs after the first panic, ran %d times", runs.Load())
	}
}
