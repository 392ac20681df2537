// Package script defines the declarative load-test script format that the
// orchestrator splits and dispatches: a phase sequence plus the control
// fields (genesis, start, split overrides) that accompany every chunk as it
// travels through the mesh.
package script

import "encoding/json"

// SplitSettings carries the _split overrides a caller may embed in a script.
// Zero values mean "use the default"; Resolve (pkg/validate) fills in and
// bounds-checks the effective values.
type SplitSettings struct {
	MaxScriptDurationInSeconds int `json:"maxScriptDurationInSeconds,omitempty"`
	MaxScriptRequestsPerSecond int `json:"maxScriptRequestsPerSecond,omitempty"`
	MaxChunkDurationInSeconds  int `json:"maxChunkDurationInSeconds,omitempty"`
	MaxChunkRequestsPerSecond  int `json:"maxChunkRequestsPerSecond,omitempty"`
	TimeBufferInMilliseconds   int `json:"timeBufferInMilliseconds,omitempty"`
}

// Config wraps the phase sequence, matching the script's config.phases shape.
type Config struct {
	Phases []Phase `json:"phases"`
}

// Script is one load-test script, a top-level invocation or a chunk/remainder
// produced by splitting one.
type Script struct {
	Config Config         `json:"config"`
	Split  *SplitSettings `json:"_split,omitempty"`

	// Genesis is the epoch-millisecond timestamp of the top-level
	// invocation. Immutable once set; propagated unchanged to every
	// descendant chunk.
	Genesis *int64 `json:"_genesis,omitempty"`

	// Start is the epoch-millisecond wall-clock time this chunk must
	// begin emitting load. Assigned by a parent, never decreased by a
	// child.
	Start *int64 `json:"_start,omitempty"`

	// Trace enables progress diagnostics in the orchestrator run loop.
	Trace bool `json:"_trace,omitempty"`

	// RunID identifies the top-level invocation this script belongs to,
	// for the audit ledger and mesh completion-counter keys. Not part of
	// the original wire format; set at genesis and propagated like
	// Genesis.
	RunID string `json:"_runID,omitempty"`
}

// Phase is one interval of the load curve. Its shape — constant-rate, ramp,
// count-over-duration, or pause — is discriminated by which of
// ArrivalRate/RampTo/ArrivalCount/Duration/Pause are present, per the wire
// format's field-presence convention. Name and Scenario are auxiliary
// pass-through attributes preserved verbatim across every split.
type Phase struct {
	ArrivalRate  *float64 `json:"arrivalRate,omitempty"`
	RampTo       *float64 `json:"rampTo,omitempty"`
	ArrivalCount *float64 `json:"arrivalCount,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Pause        *float64 `json:"pause,omitempty"`

	Name     string          `json:"name,omitempty"`
	Scenario json.RawMessage `json:"scenario,omitempty"`
}

// Shape classifies a phase by which fields are present.
type Shape int

const (
	ShapeInvalid Shape = iota
	ShapeConstant
	ShapeRamp
	ShapeCount
	ShapePause
)

// ShapeOf classifies p per spec: pause wins if set, then count, then ramp
// (rampTo present), then constant-rate (arrivalRate alone).
func ShapeOf(p Phase) Shape {
	switch {
	case p.Pause != nil:
		return ShapePause
	case p.ArrivalCount != nil && p.Duration != nil:
		return ShapeCount
	case p.ArrivalRate != nil && p.RampTo != nil && p.Duration != nil:
		return ShapeRamp
	case p.ArrivalRate != nil && p.Duration != nil:
		return ShapeConstant
	default:
		return ShapeInvalid
	}
}

func f64p(v float64) *float64 { return &v }

// Constant builds a constant-rate phase, preserving aux fields from src.
func Constant(src Phase, rate, duration float64) Phase {
	out := src
	out.ArrivalRate = f64p(rate)
	out.RampTo = nil
	out.ArrivalCount = nil
	out.Pause = nil
	out.Duration = f64p(duration)
	return out
}

// Ramp builds a ramp phase, preserving aux fields from src.
func Ramp(src Phase, from, to, duration float64) Phase {
	out := src
	out.ArrivalRate = f64p(from)
	out.RampTo = f64p(to)
	out.ArrivalCount = nil
	out.Pause = nil
	out.Duration = f64p(duration)
	return out
}

// Count builds a count-over-duration phase, preserving aux fields from src.
func Count(src Phase, count, duration float64) Phase {
	out := src
	out.ArrivalCount = f64p(count)
	out.ArrivalRate = nil
	out.RampTo = nil
	out.Pause = nil
	out.Duration = f64p(duration)
	return out
}

// Pause builds a pause phase, preserving aux fields from src.
func Pause(src Phase, seconds float64) Phase {
	out := src
	out.Pause = f64p(seconds)
	out.ArrivalRate = nil
	out.RampTo = nil
	out.ArrivalCount = nil
	out.Duration = nil
	return out
}
