package splitter

import (
	"testing"

	"github.com/loadmesh/loadmesh/pkg/geometry"
	"github.com/loadmesh/loadmesh/pkg/script"
)

func f(v float64) *float64 { return &v }

func TestSplitPhaseByLengthConstant(t *testing.T) {
	p := script.Phase{ArrivalRate: f(10), Duration: f(120)}
	chunk, remainder, err := SplitPhaseByLength(p, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *chunk.Duration != 40 || *chunk.ArrivalRate != 10 {
		t.Fatalf("chunk = %+v", chunk)
	}
	if *remainder.Duration != 80 || *remainder.ArrivalRate != 10 {
		t.Fatalf("remainder = %+v", remainder)
	}
}

func TestSplitPhaseByLengthRamp(t *testing.T) {
	// ramp 0->100 over 100s, split at k=25 -> seam = round(0 + 100*0.25) = 25
	p := script.Phase{ArrivalRate: f(0), RampTo: f(100), Duration: f(100)}
	chunk, remainder, err := SplitPhaseByLength(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *chunk.ArrivalRate != 0 || *chunk.RampTo != 25 || *chunk.Duration != 25 {
		t.Fatalf("chunk = %+v", chunk)
	}
	if *remainder.ArrivalRate != 25 || *remainder.RampTo != 100 || *remainder.Duration != 75 {
		t.Fatalf("remainder = %+v", remainder)
	}
}

func TestSplitPhaseByLengthCount(t *testing.T) {
	p := script.Phase{ArrivalCount: f(100), Duration: f(10)}
	chunk, remainder, err := SplitPhaseByLength(p, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *chunk.ArrivalCount != 40 || *chunk.Duration != 4 {
		t.Fatalf("chunk = %+v", chunk)
	}
	if *remainder.ArrivalCount != 60 || *remainder.Duration != 6 {
		t.Fatalf("remainder = %+v", remainder)
	}
}

func TestSplitPhaseByLengthPause(t *testing.T) {
	p := script.Phase{Pause: f(30)}
	chunk, remainder, err := SplitPhaseByLength(p, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *chunk.Pause != 10 || *remainder.Pause != 20 {
		t.Fatalf("chunk=%+v remainder=%+v", chunk, remainder)
	}
}

func TestSplitPhaseByLengthOutOfRange(t *testing.T) {
	p := script.Phase{ArrivalRate: f(10), Duration: f(10)}
	if _, _, err := SplitPhaseByLength(p, 11); err == nil {
		t.Fatal("expected error when k exceeds phase length")
	}
	if _, _, err := SplitPhaseByLength(p, 0); err == nil {
		t.Fatal("expected error when k is zero")
	}
}

// S3: constant rate 100, ceiling 25 -> chunk 25, remainder 75.
func TestSplitPhaseByWidthConstantOverCeiling(t *testing.T) {
	p := script.Phase{ArrivalRate: f(100), Duration: f(60)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(split.Chunk) != 1 || *split.Chunk[0].ArrivalRate != 25 {
		t.Fatalf("chunk = %+v", split.Chunk)
	}
	if len(split.Remainder) != 1 || *split.Remainder[0].ArrivalRate != 75 {
		t.Fatalf("remainder = %+v", split.Remainder)
	}
}

func TestSplitPhaseByWidthConstantUnderCeiling(t *testing.T) {
	p := script.Phase{ArrivalRate: f(10), Duration: f(60)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalRate != 10 {
		t.Fatalf("chunk = %+v", split.Chunk)
	}
	if *split.Remainder[0].Pause != 60 {
		t.Fatalf("remainder = %+v", split.Remainder)
	}
}

// S4: ramp 0->50 over 100s, ceiling 25 -> crosses at x=50.
func TestSplitPhaseByWidthRampCrossingUp(t *testing.T) {
	p := script.Phase{ArrivalRate: f(0), RampTo: f(50), Duration: f(100)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(split.Chunk) != 2 {
		t.Fatalf("expected 2 chunk sub-phases, got %d: %+v", len(split.Chunk), split.Chunk)
	}
	if *split.Chunk[0].ArrivalRate != 0 || *split.Chunk[0].RampTo != 25 || *split.Chunk[0].Duration != 50 {
		t.Fatalf("chunk[0] = %+v", split.Chunk[0])
	}
	if *split.Chunk[1].ArrivalRate != 25 || *split.Chunk[1].Duration != 50 {
		t.Fatalf("chunk[1] = %+v", split.Chunk[1])
	}
	if *split.Remainder[0].Pause != 50 {
		t.Fatalf("remainder[0] = %+v", split.Remainder[0])
	}
	if *split.Remainder[1].ArrivalRate != 1 || *split.Remainder[1].RampTo != 25 || *split.Remainder[1].Duration != 50 {
		t.Fatalf("remainder[1] = %+v", split.Remainder[1])
	}
}

func TestSplitPhaseByWidthRampCrossingDown(t *testing.T) {
	p := script.Phase{ArrivalRate: f(50), RampTo: f(0), Duration: f(100)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalRate != 25 || *split.Chunk[0].Duration != 50 {
		t.Fatalf("chunk[0] = %+v", split.Chunk[0])
	}
	if *split.Chunk[1].ArrivalRate != 25 || *split.Chunk[1].RampTo != 0 {
		t.Fatalf("chunk[1] = %+v", split.Chunk[1])
	}
	if *split.Remainder[0].ArrivalRate != 25 || *split.Remainder[0].RampTo != 1 {
		t.Fatalf("remainder[0] = %+v", split.Remainder[0])
	}
	if *split.Remainder[1].Pause != 50 {
		t.Fatalf("remainder[1] = %+v", split.Remainder[1])
	}
}

func TestSplitPhaseByWidthRampFitsWhole(t *testing.T) {
	p := script.Phase{ArrivalRate: f(5), RampTo: f(10), Duration: f(20)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalRate != 5 || *split.Chunk[0].RampTo != 10 {
		t.Fatalf("chunk = %+v", split.Chunk[0])
	}
	if *split.Remainder[0].Pause != 20 {
		t.Fatalf("remainder = %+v", split.Remainder[0])
	}
}

func TestSplitPhaseByWidthRampExceedsWhole(t *testing.T) {
	p := script.Phase{ArrivalRate: f(30), RampTo: f(40), Duration: f(20)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalRate != 25 {
		t.Fatalf("chunk = %+v", split.Chunk[0])
	}
	if *split.Remainder[0].ArrivalRate != 5 || *split.Remainder[0].RampTo != 15 {
		t.Fatalf("remainder = %+v", split.Remainder[0])
	}
}

func TestSplitPhaseByWidthDegenerateRamp(t *testing.T) {
	p := script.Phase{ArrivalRate: f(30), RampTo: f(30), Duration: f(20)}
	split, err := SplitPhaseByWidth(p, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalRate != 25 {
		t.Fatalf("chunk = %+v", split.Chunk[0])
	}
}

// S5: arrivalCount 100 over 10s, ceiling 5 -> chunkCount 50, remainder 50.
func TestSplitPhaseByWidthCount(t *testing.T) {
	p := script.Phase{ArrivalCount: f(100), Duration: f(10)}
	split, err := SplitPhaseByWidth(p, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalCount != 50 || *split.Chunk[0].Duration != 10 {
		t.Fatalf("chunk = %+v", split.Chunk[0])
	}
	if *split.Remainder[0].ArrivalCount != 50 || *split.Remainder[0].Duration != 10 {
		t.Fatalf("remainder = %+v", split.Remainder[0])
	}
}

func TestSplitPhaseByWidthCountUnderCeiling(t *testing.T) {
	p := script.Phase{ArrivalCount: f(20), Duration: f(10)}
	split, err := SplitPhaseByWidth(p, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].ArrivalCount != 20 {
		t.Fatalf("chunk = %+v", split.Chunk[0])
	}
	if *split.Remainder[0].Pause != 10 {
		t.Fatalf("remainder = %+v", split.Remainder[0])
	}
}

func TestSplitPhaseByWidthPause(t *testing.T) {
	p := script.Phase{Pause: f(42)}
	split, err := SplitPhaseByWidth(p, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *split.Chunk[0].Pause != 42 || *split.Remainder[0].Pause != 42 {
		t.Fatalf("split = %+v", split)
	}
}

// Width-preservation property (spec.md §8 property 2): at every sampled
// instant, chunk rate + remainder rate == original rate, up to one unit of
// rounding, for a ramp crossing the ceiling.
func TestWidthPreservationRampCrossing(t *testing.T) {
	p := script.Phase{ArrivalRate: f(0), RampTo: f(100), Duration: f(100)}
	split, err := SplitPhaseByWidth(p, 37)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rateAt := func(phases []script.Phase, t float64) float64 {
		var offset float64
		for _, ph := range phases {
			length, _ := geometry.PhaseLength(ph)
			if t >= offset && t <= offset+length {
				local := t - offset
				switch script.ShapeOf(ph) {
				case script.ShapePause:
					return 0
				case script.ShapeConstant:
					return *ph.ArrivalRate
				case script.ShapeRamp:
					if length == 0 {
						return *ph.ArrivalRate
					}
					frac := local / length
					return *ph.ArrivalRate + (*ph.RampTo-*ph.ArrivalRate)*frac
				}
			}
			offset += length
		}
		return -1
	}

	for tSec := 0.0; tSec <= 100; tSec += 5 {
		orig := *p.ArrivalRate + (*p.RampTo-*p.ArrivalRate)*(tSec/100)
		sum := rateAt(split.Chunk, tSec) + rateAt(split.Remainder, tSec)
		if diff := sum - orig; diff > 1.0001 || diff < -1.0001 {
			t.Fatalf("at t=%v: chunk+remainder=%v, orig=%v (diff %v)", tSec, sum, orig, diff)
		}
	}
}
