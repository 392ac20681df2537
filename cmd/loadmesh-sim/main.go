// Command loadmesh-sim dry-runs a script through the orchestrator's
// split/dispatch tree entirely in-process, without contacting any peer or
// running real virtual-user traffic — useful for validating a script's
// chunk shape before submitting it to a live mesh.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/loadmesh/loadmesh/pkg/dispatch"
	"github.com/loadmesh/loadmesh/pkg/orchestrator"
	"github.com/loadmesh/loadmesh/pkg/runner"
	"github.com/loadmesh/loadmesh/pkg/script"
)

func main() {
	var (
		scenarioFile string
		jsonOutput   bool
		outputFile   string
	)

	flag.StringVar(&scenarioFile, "scenario", "", "Path to script JSON file")
	flag.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flag.StringVar(&outputFile, "out", "", "Write output to file instead of stdout")
	flag.Parse()

	var sc script.Script
	if scenarioFile != "" {
		data, err := os.ReadFile(scenarioFile)
		if err != nil {
			log.Fatalf("failed to read script file: %v", err)
		}
		if err := json.Unmarshal(data, &sc); err != nil {
			log.Fatalf("failed to parse script file: %v", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "no scenario file provided, running default demo script...")
		rate := 50.0
		duration := 600.0
		sc = script.Script{Config: script.Config{Phases: []script.Phase{
			{ArrivalRate: &rate, Duration: &duration},
		}}}
	}

	result := runDryTree(&sc)

	writeReport(result, jsonOutput, outputFile)

	if result.Error != "" {
		os.Exit(1)
	}
}

// treeResult is the dry-run report: every chunk/leaf the orchestrator
// produced, plus the terminal outcome of the top-level invocation.
type treeResult struct {
	DispatchCount int      `json:"dispatchCount"`
	LeafCount     int      `json:"leafCount"`
	Error         string   `json:"error,omitempty"`
	Message       string   `json:"message,omitempty"`
	Genesis       int64    `json:"genesis,omitempty"`
	Durations     []string `json:"chunkDurationsLogged,omitempty"`
}

// localTransport re-enters the orchestrator in-process instead of making an
// HTTP call, so the whole chunk tree is explored within a single process
// run. Grounded on the same recursive-reentry idea pkg/orchestrator's own
// tests use for a simulated peer.
type localTransport struct {
	mu         sync.Mutex
	dispatches int
	deps       orchestrator.Dependencies
}

func (t *localTransport) Dispatch(ctx context.Context, delay time.Duration, target dispatch.Target, event *script.Script, callback func(error)) {
	t.mu.Lock()
	t.dispatches++
	t.mu.Unlock()

	go orchestrator.Run(ctx, time.Now(), event, t.deps, func(rep orchestrator.Report, err error) {
		callback(err)
	})
}

func runDryTree(sc *script.Script) treeResult {
	var leaves int
	var mu sync.Mutex

	transport := &localTransport{}
	deps := orchestrator.Dependencies{
		Transport: transport,
		Engine:    &runner.VirtualUserEngine{},
	}
	transport.deps = deps

	done := make(chan treeResult, 1)
	orchestrator.Run(context.Background(), time.Now(), sc, deps, func(rep orchestrator.Report, err error) {
		mu.Lock()
		leaves++
		mu.Unlock()
		res := treeResult{LeafCount: leaves}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Message = rep.Message
			res.Genesis = rep.Genesis
		}
		select {
		case done <- res:
		default:
		}
	})

	select {
	case res := <-done:
		res.DispatchCount = transport.dispatches
		return res
	case <-time.After(30 * time.Second):
		return treeResult{Error: "dry run timed out waiting for completion callback"}
	}
}

func writeReport(res treeResult, jsonFmt bool, filePath string) {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
	} else {
		var buf bytes.Buffer
		buf.WriteString("\n--- Dry-run Report ---\n")
		buf.WriteString(fmt.Sprintf("Dispatches issued: %d\n", res.DispatchCount))
		buf.WriteString(fmt.Sprintf("Leaf completions:  %d\n", res.LeafCount))
		if res.Error != "" {
			buf.WriteString(fmt.Sprintf("Error: %s\n", res.Error))
		} else {
			buf.WriteString(fmt.Sprintf("Message: %s\n", res.Message))
			buf.WriteString(fmt.Sprintf("Genesis: %d\n", res.Genesis))
		}
		output = buf.Bytes()
	}

	if err != nil {
		log.Fatalf("failed to marshal report: %v", err)
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			log.Fatalf("failed to write report to %s: %v", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
	} else {
		fmt.Println(string(output))
	}
}
