package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/redis/go-redis/v9"

	"github.com/loadmesh/loadmesh/pkg/audit"
	"github.com/loadmesh/loadmesh/pkg/dispatch"
	"github.com/loadmesh/loadmesh/pkg/meshserver"
	"github.com/loadmesh/loadmesh/pkg/meshstate"
	"github.com/loadmesh/loadmesh/pkg/orchestrator"
	"github.com/loadmesh/loadmesh/pkg/runner"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// TestSubmitRunIntegration exercises the full stack a real loadmeshd
// exposes: an HTTP submission lands in pkg/audit (SQLite) and pkg/meshstate
// (Redis, backed here by miniredis) records/clears a completion obligation
// as the orchestrator runs the script to completion.
func TestSubmitRunIntegration(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	coordinator := meshstate.NewCoordinator(redisClient, nil)

	dbPath := t.TempDir() + "/integration.db"
	auditLog, err := audit.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	defer auditLog.Close()

	deps := orchestrator.Dependencies{
		Transport:   dispatch.NewHTTPTransport(),
		Engine:      &runner.VirtualUserEngine{},
		Coordinator: coordinator,
		Audit:       auditLog,
	}

	srv := meshserver.NewServer("127.0.0.1:0", auditLog, deps, nil)
	ts := httptest.NewServer(testHandler(srv))
	defer ts.Close()

	rate, duration := 5.0, 1.0
	sc := script.Script{Config: script.Config{Phases: []script.Phase{
		{ArrivalRate: &rate, Duration: &duration},
	}}}
	body, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal script: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var submitResp struct {
		RunID string `json:"runID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if submitResp.RunID == "" {
		t.Fatal("expected non-empty runID")
	}

	deadline := time.Now().Add(5 * time.Second)
	var finalStatus string
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/v1/runs/" + submitResp.RunID)
		if err == nil && resp.StatusCode == http.StatusOK {
			var status struct {
				Status     string `json:"status"`
				ChunkCount int    `json:"chunkCount"`
			}
			json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if status.Status == "success" {
				finalStatus = status.Status
				if status.ChunkCount < 1 {
					t.Errorf("expected at least 1 recorded chunk, got %d", status.ChunkCount)
				}
				break
			}
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(20 * time.Millisecond)
	}

	if finalStatus != "success" {
		t.Fatalf("run did not reach success status within deadline, got %q", finalStatus)
	}
}

// testHandler exposes the unexported http.Handler the daemon wires
// internally, mirroring how the real binary serves it.
func testHandler(srv *meshserver.Server) http.Handler {
	return srv.Handler()
}
