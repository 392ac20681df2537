// Package geometry implements the phase-level arithmetic the splitter
// builds on: length/width extraction and the line-intersection math used to
// locate where a ramp crosses a rate ceiling.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/loadmesh/loadmesh/pkg/script"
)

// ErrParallelLines is returned by Intersect when two lines have no unique
// intersection. Callers in this package never hit it by construction (a
// horizontal rate ceiling against a non-horizontal ramp always has a
// determinant), so its appearance anywhere indicates an arithmetic defect.
var ErrParallelLines = errors.New("geometry: parallel lines have no intersection")

// Point is a 2D point, x in seconds, y in requests/second.
type Point struct {
	X, Y float64
}

// Line is A*x + B*y = C.
type Line struct {
	A, B, C float64
}

// LineThroughPoints returns the line through p1 and p2.
func LineThroughPoints(p1, p2 Point) Line {
	a := p2.Y - p1.Y
	b := p1.X - p2.X
	c := a*p1.X + b*p1.Y
	return Line{A: a, B: b, C: c}
}

// Intersect finds the point where l1 and l2 cross, via Cramer's rule.
// Coordinates are rounded to the nearest integer, matching the splitter's
// integer-second/integer-rps arithmetic.
func Intersect(l1, l2 Line) (Point, error) {
	det := l1.A*l2.B - l2.A*l1.B
	if det == 0 {
		return Point{}, ErrParallelLines
	}
	x := (l2.B*l1.C - l1.B*l2.C) / det
	y := (l1.A*l2.C - l2.A*l1.C) / det
	return Point{X: math.Round(x), Y: math.Round(y)}, nil
}

// Intersection finds where the ramp line of p (from (0, arrivalRate) to
// (duration, rampTo)) crosses the horizontal line y = ceiling.
func Intersection(p script.Phase, ceiling float64) (Point, error) {
	if script.ShapeOf(p) != script.ShapeRamp {
		return Point{}, fmt.Errorf("geometry: intersection requires a ramp phase, got shape %v", script.ShapeOf(p))
	}
	rampLine := LineThroughPoints(Point{X: 0, Y: *p.ArrivalRate}, Point{X: *p.Duration, Y: *p.RampTo})
	ceilingLine := LineThroughPoints(Point{X: 0, Y: ceiling}, Point{X: 1, Y: ceiling})
	return Intersect(rampLine, ceilingLine)
}

// PhaseLength returns p.Duration if set, else p.Pause, else an error naming
// the phase as invalid. The validator (pkg/validate) attaches the phase's
// index to this per-phase error in its message; this function stays a pure
// function of one phase.
func PhaseLength(p script.Phase) (float64, error) {
	switch {
	case p.Duration != nil:
		return *p.Duration, nil
	case p.Pause != nil:
		return *p.Pause, nil
	default:
		return -1, fmt.Errorf("geometry: phase has neither duration nor pause")
	}
}

// PhaseWidth returns the peak requests/second of p: max(arrivalRate,rampTo)
// for a ramp, arrivalRate for constant-rate, arrivalCount/duration for
// count-over-duration, 0 for a pause, or an error for an invalid shape.
func PhaseWidth(p script.Phase) (float64, error) {
	switch script.ShapeOf(p) {
	case script.ShapeRamp:
		return math.Max(*p.ArrivalRate, *p.RampTo), nil
	case script.ShapeConstant:
		return *p.ArrivalRate, nil
	case script.ShapeCount:
		return *p.ArrivalCount / *p.Duration, nil
	case script.ShapePause:
		return 0, nil
	default:
		return -1, fmt.Errorf("geometry: phase has no well-defined width")
	}
}
