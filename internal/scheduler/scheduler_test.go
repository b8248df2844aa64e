package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colebrumley/cortex/internal/orchestrator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpec(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "0 0 3 * * *"},
		{"0 30 2 * * *", "0 30 2 * * *"},
		{"@daily", "@daily"},
		{"04:15", "0 15 04 * * *"},
		{"6h", "@every 6h0m0s"},
		{"90s", "@every 1m30s"},
	}
	for _, tt := range tests {
		if got := Spec(tt.in); got != tt.want {
			t.Errorf("Spec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) RunCycle(context.Context) (orchestrator.Report, error) {
	r.calls.Add(1)
	return orchestrator.Report{}, orchestrator.ErrBusy
}

func TestScheduleCycles_Fires(t *testing.T) {
	s := New(quietLogger(), nil)
	runner := &countingRunner{}
	if err := s.ScheduleCycles(time.Second, runner); err != nil {
		t.Fatalf("ScheduleCycles: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	_ = s.Start(ctx)
	s.Stop()

	if runner.calls.Load() < 1 {
		t.Errorf("expected at least one cycle request, got %d", runner.calls.Load())
	}
}

func TestScheduleCycles_RejectsZeroInterval(t *testing.T) {
	s := New(quietLogger(), nil)
	if err := s.ScheduleCycles(0, &countingRunner{}); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestScheduleCycles_ReplacesExistingJob(t *testing.T) {
	s := New(quietLogger(), nil)
	runner := &countingRunner{}
	if err := s.ScheduleCycles(time.Hour, runner); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleCycles(2*time.Hour, runner); err != nil {
		t.Fatal(err)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("expected 1 cron entry after replace, got %d", n)
	}
}

type fakeRetention struct {
	eventsDays, historyDays, keep int
}

func (f *fakeRetention) CleanupEvents(_ context.Context, days int, _ time.Time) (int64, error) {
	f.eventsDays = days
	return 3, nil
}

func (f *fakeRetention) CleanupHistory(_ context.Context, days int, _ time.Time) (int64, error) {
	f.historyDays = days
	return 1, nil
}

func (f *fakeRetention) TrimEvents(_ context.Context, keep int) (int64, error) {
	f.keep = keep
	return 0, nil
}

func TestPurge(t *testing.T) {
	s := New(quietLogger(), nil)
	store := &fakeRetention{}
	s.Purge(context.Background(), RetentionPolicy{Days: 30, MaxEvents: 5000}, store)

	if store.eventsDays != 30 || store.historyDays != 30 {
		t.Errorf("retention days not applied: events=%d history=%d", store.eventsDays, store.historyDays)
	}
	if store.keep != 5000 {
		t.Errorf("keep = %d, want 5000", store.keep)
	}
}

func TestScheduleRetention_InvalidSpec(t *testing.T) {
	s := New(quietLogger(), nil)
	err := s.ScheduleRetention(RetentionPolicy{Schedule: "not a schedule", Days: 1}, &fakeRetention{})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}
