// Package runner implements the load-generation engine adapter of spec.md
// §4.7: given a leaf script small enough to fit one worker, it emits the
// prescribed synthetic arrivals and reports aggregate counts back to the
// orchestrator.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadmesh/loadmesh/pkg/script"
)

// VirtualUserFunc performs one synthetic arrival against the target. It is
// the engine's equivalent of a k6 VU iteration or a ratelord simulation
// agent action; implementations typically issue one HTTP request.
type VirtualUserFunc func(ctx context.Context) error

// Report is the aggregated result of running one leaf script. Latency
// samples are deliberately suppressed per spec.md §4.7 — only counts and a
// compact summary survive into the report the orchestrator hands to its
// callback.
type Report struct {
	Arrivals     uint64
	Errors       uint64
	StartedAt    time.Time
	FinishedAt   time.Time
	LatencyP50Ms float64
	LatencyP99Ms float64
}

// Event is a diagnostic notification emitted while running a leaf script,
// consumed only when the script's _trace flag is set.
type Event struct {
	Kind      EventKind
	PhaseIdx  int
	Timestamp time.Time
	Detail    string
}

type EventKind int

const (
	EventPhaseStart EventKind = iota
	EventPhaseEnd
	EventDone
)

// Engine runs a leaf script and reports the outcome. VirtualUserEngine is
// the production implementation; tests substitute a fake.
type Engine interface {
	Run(ctx context.Context, s *script.Script, vu VirtualUserFunc, trace func(Event)) (Report, error)
}

// VirtualUserEngine emits arrivals on a timer per phase, grounded in
// grafana-k6's ramping-VUs executor and the teacher's own agent-behavior
// loop (pkg/simulation/runner.go): each phase computes its instantaneous
// rate from pkg/geometry-equivalent arithmetic inlined here (duplicated
// rather than imported, since the engine only needs linear interpolation,
// not the splitter's full phase-shape dispatch) and spawns arrivals
// accordingly.
type VirtualUserEngine struct {
	// Concurrency caps how many VirtualUserFunc calls may be in flight at
	// once; zero means unbounded.
	Concurrency int
}

func (e *VirtualUserEngine) Run(ctx context.Context, s *script.Script, vu VirtualUserFunc, trace func(Event)) (Report, error) {
	report := Report{StartedAt: time.Now()}
	var sem chan struct{}
	if e.Concurrency > 0 {
		sem = make(chan struct{}, e.Concurrency)
	}

	var wg sync.WaitGroup
	var latencies latencyReservoir

	fire := func() {
		if sem != nil {
			sem <- struct{}{}
			defer func() { <-sem }()
		}
		start := time.Now()
		err := vu(ctx)
		latencies.add(time.Since(start))
		atomic.AddUint64(&report.Arrivals, 1)
		if err != nil {
			atomic.AddUint64(&report.Errors, 1)
		}
	}

	for idx, p := range s.Config.Phases {
		if ctx.Err() != nil {
			break
		}
		if trace != nil {
			trace(Event{Kind: EventPhaseStart, PhaseIdx: idx, Timestamp: time.Now()})
		}

		if err := runPhase(ctx, p, &wg, fire); err != nil {
			return Report{}, fmt.Errorf("runner: phase %d: %w", idx, err)
		}

		if trace != nil {
			trace(Event{Kind: EventPhaseEnd, PhaseIdx: idx, Timestamp: time.Now()})
		}
	}

	wg.Wait()
	report.FinishedAt = time.Now()
	report.LatencyP50Ms, report.LatencyP99Ms = latencies.percentiles()

	if trace != nil {
		trace(Event{Kind: EventDone, Timestamp: report.FinishedAt})
	}
	return report, nil
}

func runPhase(ctx context.Context, p script.Phase, wg *sync.WaitGroup, fire func()) error {
	switch script.ShapeOf(p) {
	case script.ShapePause:
		return sleepOrDone(ctx, secondsToDuration(*p.Pause))

	case script.ShapeConstant:
		return rateLoop(ctx, *p.Duration, func(elapsed float64) float64 { return *p.ArrivalRate }, wg, fire)

	case script.ShapeRamp:
		from, to, dur := *p.ArrivalRate, *p.RampTo, *p.Duration
		return rateLoop(ctx, dur, func(elapsed float64) float64 {
			if dur == 0 {
				return to
			}
			return from + (to-from)*(elapsed/dur)
		}, wg, fire)

	case script.ShapeCount:
		rate := *p.ArrivalCount / *p.Duration
		return rateLoop(ctx, *p.Duration, func(elapsed float64) float64 { return rate }, wg, fire)

	default:
		return fmt.Errorf("unrecognized phase shape")
	}
}

// rateLoop spawns arrivals at the instantaneous rate returned by rateAt,
// ticking every 100ms, the granularity the teacher's own agent loop
// (pkg/simulation/runner.go BehaviorPoisson/BehaviorPeriodic) uses for
// sub-second rate control.
func rateLoop(ctx context.Context, duration float64, rateAt func(elapsed float64) float64, wg *sync.WaitGroup, fire func()) error {
	if duration <= 0 {
		return nil
	}
	const tick = 100 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	var carry float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(start).Seconds()
			if elapsed >= duration {
				return nil
			}
			rate := rateAt(elapsed)
			expected := rate*tick.Seconds() + carry
			n := math.Floor(expected)
			carry = expected - n
			for i := 0; i < int(n); i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fire()
				}()
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(d):
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// latencyReservoir keeps a bounded sample of observed VU latencies for the
// p50/p99 summary; it never retains enough to reconstruct per-request
// samples, matching spec.md §4.7's "latency samples suppressed".
type latencyReservoir struct {
	mu      sync.Mutex
	samples []time.Duration
	seen    int
	rng     *rand.Rand
}

const reservoirCap = 1000

func (r *latencyReservoir) add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(1))
	}
	r.seen++
	if len(r.samples) < reservoirCap {
		r.samples = append(r.samples, d)
		return
	}
	j := r.rng.Intn(r.seen)
	if j < reservoirCap {
		r.samples[j] = d
	}
}

func (r *latencyReservoir) percentiles() (p50, p99 float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), r.samples...)
	sortDurations(sorted)
	p50 = float64(sorted[len(sorted)*50/100].Milliseconds())
	idx := len(sorted)*99/100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p99 = float64(sorted[idx].Milliseconds())
	return p50, p99
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1] > d[j]; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

// LogEvent renders an Event via slog, wired in when a script's _trace flag
// is set (spec.md §3, §4.7).
func LogEvent(logger *slog.Logger, runID string, e Event) {
	switch e.Kind {
	case EventPhaseStart:
		logger.Info("phase started", "run_id", runID, "phase", e.PhaseIdx)
	case EventPhaseEnd:
		logger.Info("phase finished", "run_id", runID, "phase", e.PhaseIdx)
	case EventDone:
		logger.Info("leaf run done", "run_id", runID)
	}
}
