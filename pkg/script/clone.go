package script

import (
	"encoding/json"
	"fmt"
)

// Clone returns a deep copy of s. The source relies on a serialize-then-
// parse round trip for cloning; this keeps that behavior explicit and
// total, including auxiliary fields (Name, Scenario) a downstream runner
// may depend on.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Scripts are plain data; a marshal failure means a caller built
		// one with an un-encodable Scenario payload, a programmer error
		// rather than a runtime condition worth a typed error for.
		panic(fmt.Sprintf("script: clone failed to marshal: %v", err))
	}
	var out Script
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("script: clone failed to unmarshal: %v", err))
	}
	return &out
}

// Clone returns a deep copy of p.
func (p Phase) Clone() Phase {
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("script: phase clone failed to marshal: %v", err))
	}
	var out Phase
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("script: phase clone failed to unmarshal: %v", err))
	}
	return out
}
