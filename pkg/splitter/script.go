package splitter

import (
	"github.com/loadmesh/loadmesh/pkg/geometry"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// ScriptSplit is the {chunk, remainder} pair produced by splitting a whole
// script.
type ScriptSplit struct {
	Chunk     *script.Script
	Remainder *script.Script
}

// SplitScriptByLength moves phases from the front of s into a chunk until k
// seconds have been accumulated, splitting the phase that straddles the
// boundary. Per spec.md §9 open question (a), a phase is moved whole only
// when its length is strictly less than the remaining budget, never when
// equal — matching the source's observable behavior at an exact phase
// boundary.
func SplitScriptByLength(s *script.Script, k float64) (ScriptSplit, error) {
	chunk := s.Clone()
	chunk.Config.Phases = nil

	remainder := s.Clone()
	remainder.Start = nil

	budget := k
	for budget > 0 && len(remainder.Config.Phases) > 0 {
		p := remainder.Config.Phases[0]
		length, err := geometry.PhaseLength(p)
		if err != nil {
			return ScriptSplit{}, err
		}

		if length < budget {
			chunk.Config.Phases = append(chunk.Config.Phases, p)
			remainder.Config.Phases = remainder.Config.Phases[1:]
			budget -= length
			continue
		}

		chunkSide, remainderSide, err := SplitPhaseByLength(p, budget)
		if err != nil {
			return ScriptSplit{}, err
		}
		chunk.Config.Phases = append(chunk.Config.Phases, chunkSide)
		remainder.Config.Phases[0] = remainderSide
		budget = 0
	}

	return ScriptSplit{Chunk: chunk, Remainder: remainder}, nil
}

// SplitScriptByWidth applies SplitPhaseByWidth across every phase in s,
// concatenating each phase's chunk/remainder sub-phases onto the
// corresponding output script. Both outputs span the same total duration
// as the input.
func SplitScriptByWidth(s *script.Script, c float64) (ScriptSplit, error) {
	chunk := s.Clone()
	chunk.Config.Phases = nil

	remainder := s.Clone()
	remainder.Config.Phases = nil

	for _, p := range s.Config.Phases {
		split, err := SplitPhaseByWidth(p, c)
		if err != nil {
			return ScriptSplit{}, err
		}
		chunk.Config.Phases = append(chunk.Config.Phases, split.Chunk...)
		remainder.Config.Phases = append(remainder.Config.Phases, split.Remainder...)
	}

	return ScriptSplit{Chunk: chunk, Remainder: remainder}, nil
}

// ScriptWidth returns the maximum phase width across s.
func ScriptWidth(s *script.Script) (float64, error) {
	var max float64
	for i, p := range s.Config.Phases {
		w, err := geometry.PhaseWidth(p)
		if err != nil {
			return 0, &IndexedError{Index: i, Err: err}
		}
		if w > max {
			max = w
		}
	}
	return max, nil
}

// ScriptDuration sums phase lengths across s.
func ScriptDuration(s *script.Script) (float64, error) {
	var total float64
	for i, p := range s.Config.Phases {
		l, err := geometry.PhaseLength(p)
		if err != nil {
			return 0, &IndexedError{Index: i, Err: err}
		}
		total += l
	}
	return total, nil
}

// IndexedError names the phase index at which geometry arithmetic failed,
// the convention pkg/validate's messages are built from.
type IndexedError struct {
	Index int
	Err   error
}

func (e *IndexedError) Error() string { return e.Err.Error() }
func (e *IndexedError) Unwrap() error { return e.Err }
