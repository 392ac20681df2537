// Package splitter implements the phase and script decomposition described
// in spec.md §4.2–§4.3: splitting a single phase (or a whole phase
// sequence) into a worker-sized chunk and a remainder, by length or by
// width.
package splitter

import (
	"fmt"
	"math"

	"github.com/loadmesh/loadmesh/pkg/geometry"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// PhaseSplit is the {chunk, remainder} pair produced by splitting one
// phase. A width split can fan a single input phase into several
// sub-phases on each side, so both fields are slices.
type PhaseSplit struct {
	Chunk     []script.Phase
	Remainder []script.Phase
}

// SplitPhaseByLength splits p at k seconds into the phase occupying [0,k)
// and the phase occupying [k, duration). k must be in (0, length(p)].
func SplitPhaseByLength(p script.Phase, k float64) (chunk, remainder script.Phase, err error) {
	length, err := geometry.PhaseLength(p)
	if err != nil {
		return script.Phase{}, script.Phase{}, err
	}
	// k==length is allowed (produces a zero-duration remainder): the
	// script splitter only reaches this boundary when a phase's length
	// equals its remaining budget exactly, per the strict-less-than
	// whole-phase-move policy documented in pkg/splitter.SplitScriptByLength.
	if k <= 0 || k > length {
		return script.Phase{}, script.Phase{}, fmt.Errorf("splitter: k=%v out of range (0,%v]", k, length)
	}

	switch script.ShapeOf(p) {
	case script.ShapeConstant:
		chunk = script.Constant(p, *p.ArrivalRate, k)
		remainder = script.Constant(p, *p.ArrivalRate, length-k)

	case script.ShapeRamp:
		ratio := k / length
		diff := *p.RampTo - *p.ArrivalRate
		seam := math.Round(*p.ArrivalRate + diff*ratio)
		chunk = script.Ramp(p, *p.ArrivalRate, seam, k)
		remainder = script.Ramp(p, seam, *p.RampTo, length-k)

	case script.ShapeCount:
		ratio := k / length
		chunkCount := math.Round(*p.ArrivalCount * ratio)
		chunk = script.Count(p, chunkCount, k)
		remainder = script.Count(p, *p.ArrivalCount-chunkCount, length-k)

	case script.ShapePause:
		chunk = script.Pause(p, k)
		remainder = script.Pause(p, length-k)

	default:
		return script.Phase{}, script.Phase{}, fmt.Errorf("splitter: phase has no recognized shape")
	}
	return chunk, remainder, nil
}

// SplitPhaseByWidth splits p at ceiling c into a {chunk, remainder} pair,
// per spec.md §4.2.2's cases A–D. Each side may be one or two phases when a
// ramp crosses the ceiling.
func SplitPhaseByWidth(p script.Phase, c float64) (PhaseSplit, error) {
	switch script.ShapeOf(p) {
	case script.ShapeRamp:
		return splitRampByWidth(p, c)
	case script.ShapeConstant:
		return splitConstantByWidth(p, c)
	case script.ShapeCount:
		return splitCountByWidth(p, c)
	case script.ShapePause:
		duration, _ := geometry.PhaseLength(p)
		return PhaseSplit{
			Chunk:     []script.Phase{script.Pause(p, duration)},
			Remainder: []script.Phase{script.Pause(p, duration)},
		}, nil
	default:
		return PhaseSplit{}, fmt.Errorf("splitter: phase has no recognized shape")
	}
}

func splitRampByWidth(p script.Phase, c float64) (PhaseSplit, error) {
	duration := *p.Duration
	from, to := *p.ArrivalRate, *p.RampTo

	// Normalize a degenerate ramp (rampTo == arrivalRate) to constant-rate.
	if to == from {
		return splitConstantByWidth(script.Constant(p, from, duration), c)
	}

	hi, lo := math.Max(from, to), math.Min(from, to)

	if hi <= c {
		return PhaseSplit{
			Chunk:     []script.Phase{script.Ramp(p, from, to, duration)},
			Remainder: []script.Phase{script.Pause(p, duration)},
		}, nil
	}
	if lo >= c {
		return PhaseSplit{
			Chunk:     []script.Phase{script.Constant(p, c, duration)},
			Remainder: []script.Phase{script.Ramp(p, from-c, to-c, duration)},
		}, nil
	}

	pt, err := geometry.Intersection(p, c)
	if err != nil {
		return PhaseSplit{}, fmt.Errorf("splitter: ramp/ceiling intersection: %w", err)
	}
	x := pt.X
	if x <= 0 || x >= duration {
		// spec.md §9 open question (b): an intersection that rounds to
		// the phase boundary is undefined by the source; treat it as
		// an internal arithmetic error rather than silently producing
		// a zero-length sub-phase.
		return PhaseSplit{}, fmt.Errorf("splitter: ramp/ceiling intersection x=%v at phase boundary [0,%v]", x, duration)
	}

	if from < to {
		// Ramping up.
		return PhaseSplit{
			Chunk: []script.Phase{
				script.Ramp(p, from, c, x),
				script.Constant(p, c, duration-x),
			},
			Remainder: []script.Phase{
				script.Pause(p, x),
				// Floor of 1 keeps the remainder ramp from
				// starting at a zero rate; VirtualUserEngine
				// itself accepts zero-rate ramps.
				script.Ramp(p, 1, to-c, duration-x),
			},
		}, nil
	}

	// Ramping down.
	return PhaseSplit{
		Chunk: []script.Phase{
			script.Constant(p, c, x),
			script.Ramp(p, c, to, duration-x),
		},
		Remainder: []script.Phase{
			script.Ramp(p, from-c, 1, x),
			script.Pause(p, duration-x),
		},
	}, nil
}

func splitConstantByWidth(p script.Phase, c float64) (PhaseSplit, error) {
	duration := *p.Duration
	rate := *p.ArrivalRate
	if rate > c {
		return PhaseSplit{
			Chunk:     []script.Phase{script.Constant(p, c, duration)},
			Remainder: []script.Phase{script.Constant(p, rate-c, duration)},
		}, nil
	}
	return PhaseSplit{
		Chunk:     []script.Phase{script.Constant(p, rate, duration)},
		Remainder: []script.Phase{script.Pause(p, duration)},
	}, nil
}

func splitCountByWidth(p script.Phase, c float64) (PhaseSplit, error) {
	duration := *p.Duration
	count := *p.ArrivalCount
	rps := count / duration
	if rps >= c {
		chunkCount := math.Floor(c * duration)
		return PhaseSplit{
			Chunk:     []script.Phase{script.Count(p, chunkCount, duration)},
			Remainder: []script.Phase{script.Count(p, count-chunkCount, duration)},
		}, nil
	}
	return PhaseSplit{
		Chunk:     []script.Phase{script.Count(p, count, duration)},
		Remainder: []script.Phase{script.Pause(p, duration)},
	}, nil
}
