package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loadmesh/loadmesh/pkg/script"
)

func f(v float64) *float64 { return &v }

func TestVirtualUserEngineConstantRate(t *testing.T) {
	s := &script.Script{Config: script.Config{Phases: []script.Phase{
		{ArrivalRate: f(20), Duration: f(1)},
	}}}

	var calls int64
	vu := func(ctx context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}

	e := &VirtualUserEngine{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := e.Run(ctx, s, vu, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Arrivals == 0 {
		t.Fatal("expected at least one arrival")
	}
	// 20 req/s for ~1s should land in a generous neighborhood of 20,
	// tolerating ticker jitter.
	if report.Arrivals < 5 || report.Arrivals > 60 {
		t.Fatalf("arrivals = %d, expected roughly 20", report.Arrivals)
	}
}

func TestVirtualUserEngineTracksErrors(t *testing.T) {
	s := &script.Script{Config: script.Config{Phases: []script.Phase{
		{ArrivalRate: f(10), Duration: f(1)},
	}}}

	vu := func(ctx context.Context) error {
		return context.DeadlineExceeded
	}

	e := &VirtualUserEngine{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := e.Run(ctx, s, vu, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Errors != report.Arrivals {
		t.Fatalf("expected all arrivals to error, got errors=%d arrivals=%d", report.Errors, report.Arrivals)
	}
}

func TestVirtualUserEnginePhaseEvents(t *testing.T) {
	s := &script.Script{Config: script.Config{Phases: []script.Phase{
		{Pause: f(0.1)},
		{ArrivalRate: f(1), Duration: f(0.1)},
	}}}

	var kinds []EventKind
	trace := func(e Event) { kinds = append(kinds, e.Kind) }

	e := &VirtualUserEngine{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.Run(ctx, s, func(context.Context) error { return nil }, trace); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSeq := []EventKind{EventPhaseStart, EventPhaseEnd, EventPhaseStart, EventPhaseEnd, EventDone}
	if len(kinds) != len(wantSeq) {
		t.Fatalf("got %v events, want %d", kinds, len(wantSeq))
	}
	for i, k := range wantSeq {
		if kinds[i] != k {
			t.Fatalf("event %d = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestVirtualUserEngineRespectsContextCancellation(t *testing.T) {
	s := &script.Script{Config: script.Config{Phases: []script.Phase{
		{ArrivalRate: f(100), Duration: f(60)},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &VirtualUserEngine{}
	report, err := e.Run(ctx, s, func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Arrivals > 5 {
		t.Fatalf("expected cancellation to stop arrivals quickly, got %d", report.Arrivals)
	}
}
