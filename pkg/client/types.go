package client

import (
	"github.com/loadmesh/loadmesh/pkg/audit"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// SubmitResponse is returned by POST /v1/runs.
type SubmitResponse struct {
	RunID   string `json:"runID"`
	Genesis int64  `json:"genesis"`
}

// RunStatus mirrors audit.RunStatus as served by GET /v1/runs/{id}.
type RunStatus = audit.RunStatus

// Health is the daemon's /v1/health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ScriptInput is the payload accepted by Submit; callers build a
// *script.Script directly rather than via a separate DTO, since the wire
// format is the script itself (spec.md §6 "Input event").
type ScriptInput = script.Script
