// Package validate enforces the structural and numeric bounds spec.md §4.4
// places on a script and its embedded _split overrides before the
// orchestrator acts on it.
package validate

import (
	"fmt"

	"github.com/loadmesh/loadmesh/pkg/geometry"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// Defaults and ceilings, per spec.md §6.
const (
	DefaultMaxScriptDurationInSeconds = 86400
	DefaultMaxScriptRequestsPerSecond = 5000
	DefaultMaxChunkDurationInSeconds  = 240
	DefaultMaxChunkRequestsPerSecond  = 25
	DefaultTimeBufferInMilliseconds   = 15000
)

// Settings is the resolved, bounds-checked set of split parameters a script
// runs under: either the defaults above, or the script's _split overrides.
// The four duration/rate overrides are each bounded by their
// default-as-ceiling; a positive timeBufferInMilliseconds override is taken
// as given, with no ceiling.
type Settings struct {
	MaxScriptDurationInSeconds int
	MaxScriptRequestsPerSecond int
	MaxChunkDurationInSeconds  int
	MaxChunkRequestsPerSecond  int
	TimeBufferInMilliseconds   int
}

// Error reports a single validation failure with a human-readable message,
// matching the "reject via the completion callback" behavior of spec.md
// §4.4 — the orchestrator turns this into the callback's error string.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Resolve fills in defaults for unset _split fields and bounds-checks the
// overrides a caller supplied. It does not look at config.phases; that is
// Validate's job.
func Resolve(split *script.SplitSettings) (Settings, error) {
	s := Settings{
		MaxScriptDurationInSeconds: DefaultMaxScriptDurationInSeconds,
		MaxScriptRequestsPerSecond: DefaultMaxScriptRequestsPerSecond,
		MaxChunkDurationInSeconds:  DefaultMaxChunkDurationInSeconds,
		MaxChunkRequestsPerSecond:  DefaultMaxChunkRequestsPerSecond,
		TimeBufferInMilliseconds:   DefaultTimeBufferInMilliseconds,
	}
	if split == nil {
		return s, nil
	}

	if err := boundPositive("maxScriptDurationInSeconds", split.MaxScriptDurationInSeconds, DefaultMaxScriptDurationInSeconds, &s.MaxScriptDurationInSeconds); err != nil {
		return Settings{}, err
	}
	if err := boundPositive("maxScriptRequestsPerSecond", split.MaxScriptRequestsPerSecond, DefaultMaxScriptRequestsPerSecond, &s.MaxScriptRequestsPerSecond); err != nil {
		return Settings{}, err
	}
	if err := boundPositive("maxChunkDurationInSeconds", split.MaxChunkDurationInSeconds, DefaultMaxChunkDurationInSeconds, &s.MaxChunkDurationInSeconds); err != nil {
		return Settings{}, err
	}
	if err := boundPositive("maxChunkRequestsPerSecond", split.MaxChunkRequestsPerSecond, DefaultMaxChunkRequestsPerSecond, &s.MaxChunkRequestsPerSecond); err != nil {
		return Settings{}, err
	}
	if split.TimeBufferInMilliseconds > 0 {
		s.TimeBufferInMilliseconds = split.TimeBufferInMilliseconds
	}
	return s, nil
}

func boundPositive(name string, override, ceiling int, out *int) error {
	if override == 0 {
		return nil
	}
	if override < 0 || override > ceiling {
		return &Error{Message: fmt.Sprintf("_split.%s must be a positive integer <= %d, got %d", name, ceiling, override)}
	}
	*out = override
	return nil
}

// Validate enforces spec.md §4.4's full rule list against s and its
// resolved settings. A nil error means s is fully compliant.
//
// The "_split present but not a structured object" rule is enforced by the
// JSON decode step that produces *script.Script in the first place — a
// typed decoder rejects a non-object _split before Validate ever sees it —
// so it has no separate check here.
func Validate(s *script.Script, settings Settings) error {
	if len(s.Config.Phases) == 0 {
		return &Error{Message: "config.phases is missing, not a list, or empty"}
	}

	total, err := firstInvalidLength(s.Config.Phases)
	if err != nil {
		return err
	}

	if total > float64(settings.MaxScriptDurationInSeconds) {
		return &Error{Message: fmt.Sprintf("total script duration %v exceeds maxScriptDurationInSeconds %d", total, settings.MaxScriptDurationInSeconds)}
	}

	if err := firstInvalidWidth(s.Config.Phases, settings.MaxScriptRequestsPerSecond); err != nil {
		return err
	}

	return nil
}

func firstInvalidLength(phases []script.Phase) (float64, error) {
	var total float64
	for i, p := range phases {
		length, err := geometry.PhaseLength(p)
		if err != nil {
			// The message names the true loop index i, including
			// index 0: the error is returned separately from the
			// length, so no negated-index encoding is used.
			return 0, &Error{Message: fmt.Sprintf("phases[%d] has invalid length: %+v", i, p)}
		}
		total += length
	}
	return total, nil
}

func firstInvalidWidth(phases []script.Phase, maxRPS int) error {
	for i, p := range phases {
		w, err := geometry.PhaseWidth(p)
		if err != nil {
			return &Error{Message: fmt.Sprintf("phases[%d] has invalid width: %+v", i, p)}
		}
		if w > float64(maxRPS) {
			return &Error{Message: fmt.Sprintf("phases[%d] width %v exceeds maxScriptRequestsPerSecond %d", i, w, maxRPS)}
		}
	}
	return nil
}
