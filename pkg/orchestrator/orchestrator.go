// Package orchestrator implements the recursive run loop of spec.md §4.5:
// given a script and a wall-clock "now", it decides whether the script must
// be split by length, split by width, or is small enough to execute
// directly, recursing or dispatching to peers as needed.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loadmesh/loadmesh/pkg/dispatch"
	"github.com/loadmesh/loadmesh/pkg/runner"
	"github.com/loadmesh/loadmesh/pkg/script"
	"github.com/loadmesh/loadmesh/pkg/splitter"
	"github.com/loadmesh/loadmesh/pkg/validate"
)

// Report is what a successful top-level invocation's Callback receives: a
// human-readable message plus the genesis timestamp the whole chunk tree
// shares, per spec.md §6 "Completion callback".
type Report struct {
	Message string
	Genesis int64
	Started time.Time
	Runner  *runner.Report
}

// Callback is invoked exactly once per invocation of Run: either with a
// populated Report and a nil error on success, or a zero Report and a
// non-nil error on failure. Errors are always a single human-readable
// message, per spec.md §7 — the orchestrator never retries.
type Callback func(Report, error)

// Metrics receives counters at each branch decision. A nil *Dependencies.Metrics
// is valid; every method is a no-op in that case.
type Metrics interface {
	DispatchIssued()
	ChunkCompleted()
	RecursionDepth(depth int)
}

// AuditLog receives one record per chunk the orchestrator creates or
// executes. A nil AuditLog is valid.
type AuditLog interface {
	RecordChunk(ctx context.Context, runID, chunkID string, genesis int64, start int64, s *script.Script)
}

// Coordinator optionally tracks cross-process completion obligations (for
// example backed by Redis) so that a chunk dispatched to a distinct worker
// process can signal completion without a shared address space. A nil
// Coordinator means completion is tracked purely in-process via the
// toComplete closure, which is always also done regardless of Coordinator.
type Coordinator interface {
	Register(ctx context.Context, runID string, n int) error
	Complete(ctx context.Context, runID string) (remaining int, err error)
}

// Dependencies are the externally supplied collaborators a Run invocation
// needs: a way to reach peers, a way to execute a leaf script, and the
// optional observability/coordination hooks described above.
type Dependencies struct {
	Transport   dispatch.Transport
	Engine      runner.Engine
	Generation  string
	Logger      *slog.Logger
	Metrics     Metrics
	Audit       AuditLog
	Coordinator Coordinator

	// RunID identifies the top-level invocation for audit/coordinator
	// correlation; generated if empty.
	RunID string

	// PeerTarget resolves the dispatch.Target a chunk should be sent to.
	// Tests and single-process deployments can return a fixed address;
	// mesh deployments consult a meshstate.Registry here.
	PeerTarget func(ctx context.Context, s *script.Script) dispatch.Target

	// VirtualUser is invoked once per arrival a leaf script schedules.
	// Defaults to defaultVirtualUser (a no-op) if nil, matching
	// spec.md §4.7's "target-agnostic" runner contract.
	VirtualUser runner.VirtualUserFunc
}

func (d Dependencies) virtualUser() runner.VirtualUserFunc {
	if d.VirtualUser != nil {
		return d.VirtualUser
	}
	return defaultVirtualUser
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Dependencies) metrics() Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) DispatchIssued()    {}
func (noopMetrics) ChunkCompleted()    {}
func (noopMetrics) RecursionDepth(int) {}

// Run is the orchestrator's entry point, matching spec.md §4.5's
// run(timeNow, script, context, callback). now is the caller's wall-clock
// reading; Run does not use it, since a fresh reading is taken internally
// per step 2 of the algorithm ("resample").
func Run(ctx context.Context, now time.Time, s *script.Script, deps Dependencies, callback Callback) {
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	deps.RunID = runID
	run(ctx, s, deps, callback, 0)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func run(ctx context.Context, s *script.Script, deps Dependencies, callback Callback, depth int) {
	deps.metrics().RecursionDepth(depth)
	log := deps.logger()

	// Step 1: validate. The validator's own Error already carries a
	// descriptive message; the orchestrator does not add to it.
	settings, err := validate.Resolve(s.Split)
	if err != nil {
		callback(Report{}, err)
		return
	}
	if err := validate.Validate(s, settings); err != nil {
		callback(Report{}, err)
		return
	}

	// Step 2: resample timeNow, compute settings/duration/width.
	timeNow := nowMillis()
	duration, err := splitter.ScriptDuration(s)
	if err != nil {
		callback(Report{}, fmt.Errorf("orchestrator: computing duration: %w", err))
		return
	}
	width, err := splitter.ScriptWidth(s)
	if err != nil {
		callback(Report{}, fmt.Errorf("orchestrator: computing width: %w", err))
		return
	}

	// Step 4: assign genesis if unset.
	if s.Genesis == nil {
		g := timeNow
		s.Genesis = &g
	}
	// The run ID travels with the script, like Genesis, so chunks split
	// from it carry it to peers.
	if s.RunID == "" {
		s.RunID = deps.RunID
	}

	// Success reports from the length/width branches carry the genesis the
	// whole chunk tree shares, like leaf reports do.
	genesis := *s.Genesis
	top := callback
	callback = func(rep Report, err error) {
		if err == nil && rep.Genesis == 0 {
			rep.Genesis = genesis
		}
		top(rep, err)
	}

	if deps.Audit != nil {
		start := int64(0)
		if s.Start != nil {
			start = *s.Start
		}
		deps.Audit.RecordChunk(ctx, deps.RunID, uuid.NewString(), *s.Genesis, start, s)
	}

	switch {
	case duration > float64(settings.MaxChunkDurationInSeconds):
		log.Debug("length split", "run_id", deps.RunID, "depth", depth, "duration", duration)
		runBranchLengthSplit(ctx, s, settings, timeNow, deps, callback, depth)
	case width > float64(settings.MaxChunkRequestsPerSecond):
		log.Debug("width split", "run_id", deps.RunID, "depth", depth, "width", width)
		runBranchWidthSplit(ctx, s, settings, timeNow, deps, callback)
	default:
		log.Debug("leaf", "run_id", deps.RunID, "depth", depth)
		runLeaf(ctx, s, timeNow, deps, callback)
	}
}

// runBranchLengthSplit implements step 5: length exceeds the chunk limit.
func runBranchLengthSplit(ctx context.Context, s *script.Script, settings validate.Settings, timeNow int64, deps Dependencies, callback Callback, depth int) {
	split, err := splitter.SplitScriptByLength(s, float64(settings.MaxChunkDurationInSeconds))
	if err != nil {
		callback(Report{}, fmt.Errorf("orchestrator: length split: %w", err))
		return
	}
	chunk, remainder := split.Chunk, split.Remainder

	if chunk.Start == nil {
		start := timeNow + int64(settings.TimeBufferInMilliseconds)
		chunk.Start = &start
	}
	remainderStart := *chunk.Start + int64(settings.MaxChunkDurationInSeconds)*1000
	remainder.Start = &remainderStart

	if deps.Coordinator != nil {
		if err := deps.Coordinator.Register(ctx, deps.RunID, 2); err != nil {
			deps.logger().Warn("failed to register mesh completion obligation", "error", err, "run_id", deps.RunID)
		}
	}

	counter := newCompletionCounter(2, deps, callback)

	chunkWidth, err := splitter.ScriptWidth(chunk)
	if err != nil {
		counter.fail(fmt.Errorf("orchestrator: chunk width: %w", err))
		return
	}

	if chunkWidth > float64(settings.MaxChunkRequestsPerSecond) {
		cb := counter.callback()
		go run(ctx, chunk, deps, func(_ Report, err error) { cb(err) }, depth+1)
	} else {
		issueDispatch(ctx, chunk, timeNow, settings, deps, counter.callback())
	}

	issueDispatch(ctx, remainder, timeNow, settings, deps, counter.callback())
}

// runBranchWidthSplit implements step 6: width exceeds the chunk limit.
func runBranchWidthSplit(ctx context.Context, s *script.Script, settings validate.Settings, timeNow int64, deps Dependencies, callback Callback) {
	if s.Start == nil {
		start := timeNow + int64(settings.TimeBufferInMilliseconds)
		s.Start = &start
	}

	width, err := splitter.ScriptWidth(s)
	if err != nil {
		callback(Report{}, fmt.Errorf("orchestrator: width: %w", err))
		return
	}

	// Step 6 calls for ceil(W/maxChunkRequestsPerSecond) chunks, but the
	// actual number produced by repeated width-splitting may differ by
	// rounding; the completion counter must track the chunks actually
	// dispatched; math.Ceil below only estimates the loop's expected
	// trip count for diagnostics.
	estimated := int(math.Ceil(width / float64(settings.MaxChunkRequestsPerSecond)))

	var chunks []*script.Script
	remaining := s
	for {
		w, err := splitter.ScriptWidth(remaining)
		if err != nil {
			callback(Report{}, fmt.Errorf("orchestrator: width: %w", err))
			return
		}
		if w <= 0 {
			break
		}

		split, err := splitter.SplitScriptByWidth(remaining, float64(settings.MaxChunkRequestsPerSecond))
		if err != nil {
			callback(Report{}, fmt.Errorf("orchestrator: width split: %w", err))
			return
		}
		split.Chunk.Start = remaining.Start
		chunks = append(chunks, split.Chunk)

		remaining = split.Remainder
		remaining.Start = s.Start
	}

	if len(chunks) == 0 {
		callback(Report{}, fmt.Errorf("orchestrator: width split produced no chunks for width %v", width))
		return
	}
	deps.logger().Debug("width split chunks", "run_id", deps.RunID, "estimated", estimated, "actual", len(chunks))

	if deps.Coordinator != nil {
		if err := deps.Coordinator.Register(ctx, deps.RunID, len(chunks)); err != nil {
			deps.logger().Warn("failed to register mesh completion obligation", "error", err, "run_id", deps.RunID)
		}
	}

	counter := newCompletionCounter(len(chunks), deps, callback)
	for _, chunk := range chunks {
		issueDispatch(ctx, chunk, timeNow, settings, deps, counter.callback())
	}
}

// runLeaf implements step 7: execute directly via the runner adapter.
func runLeaf(ctx context.Context, s *script.Script, timeNow int64, deps Dependencies, callback Callback) {
	if s.Start == nil {
		start := timeNow
		s.Start = &start
	}

	fire := func() {
		if deps.Engine == nil {
			callback(Report{}, fmt.Errorf("orchestrator: no runner engine configured"))
			return
		}
		trace := func(e runner.Event) {
			if s.Trace {
				runner.LogEvent(deps.logger(), deps.RunID, e)
			}
		}
		rep, err := deps.Engine.Run(ctx, s, deps.virtualUser(), trace)
		if err != nil {
			callback(Report{}, fmt.Errorf("orchestrator: leaf run: %w", err))
			return
		}
		genesis := int64(0)
		if s.Genesis != nil {
			genesis = *s.Genesis
		}
		callback(Report{
			Message: "leaf run completed",
			Genesis: genesis,
			Started: time.UnixMilli(*s.Start),
			Runner:  &rep,
		}, nil)
	}

	delay := *s.Start - nowMillis()
	if delay <= 0 {
		fire()
		return
	}
	timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
			callback(Report{}, fmt.Errorf("orchestrator: context canceled before leaf start"))
		case <-timer.C:
			fire()
		}
	}()
}

// defaultVirtualUser is the production leaf arrival: it has no target
// configured by the orchestrator alone, so callers who need real HTTP
// traffic must supply a Dependencies.VirtualUser bound to a real target. The orchestrator itself is target-agnostic, per spec.md §4.7
// ("construct an engine runner over the leaf script").
func defaultVirtualUser(ctx context.Context) error { return nil }

// issueDispatch wraps deps.Transport.Dispatch, resolving delay/target and
// recording the metrics counter, per spec.md §4.6.
func issueDispatch(ctx context.Context, s *script.Script, timeNow int64, settings validate.Settings, deps Dependencies, callback func(error)) {
	deps.metrics().DispatchIssued()

	target := dispatch.Target{Generation: deps.Generation}
	if deps.PeerTarget != nil {
		target = deps.PeerTarget(ctx, s)
	}

	start := timeNow
	if s.Start != nil {
		start = *s.Start
	}
	delayMs := start - nowMillis() - int64(settings.TimeBufferInMilliseconds)
	delay := time.Duration(delayMs) * time.Millisecond

	deps.Transport.Dispatch(ctx, delay, target, s, callback)
}

// completionCounter implements spec.md §9's "global counter mutation"
// note: an atomically-decremented toComplete counter shared by fire-and-
// forget completion closures, race-free on the zero-detection.
type completionCounter struct {
	mu        sync.Mutex
	remaining int
	deps      Dependencies
	top       Callback
	done      bool
}

func newCompletionCounter(n int, deps Dependencies, top Callback) *completionCounter {
	return &completionCounter{remaining: n, deps: deps, top: top}
}

func (c *completionCounter) callback() func(error) {
	return func(err error) {
		if err != nil {
			c.fail(err)
			return
		}
		c.complete()
	}
}

func (c *completionCounter) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.remaining--
	c.deps.metrics().ChunkCompleted()
	if c.remaining <= 0 {
		c.done = true
		c.top(Report{Message: "dispatch tree completed"}, nil)
	}
}

func (c *completionCounter) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.top(Report{}, err)
}
