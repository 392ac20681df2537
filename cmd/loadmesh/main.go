package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loadmesh/loadmesh/pkg/client"
	"github.com/loadmesh/loadmesh/pkg/script"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	endpoint := os.Getenv("LOADMESH_ADDR")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	c := client.NewClient(endpoint)

	switch cmd {
	case "submit":
		runSubmit(c, os.Args[2])
	case "status":
		runStatus(c, os.Args[2])
	case "await":
		runAwait(c, os.Args[2])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: loadmesh submit <script.json>")
	fmt.Println("       loadmesh status <run-id>")
	fmt.Println("       loadmesh await <run-id>")
}

func runSubmit(c *client.Client, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("error reading script: %v\n", err)
		os.Exit(1)
	}

	var sc script.Script
	if err := json.Unmarshal(data, &sc); err != nil {
		fmt.Printf("error parsing script: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := c.Submit(ctx, &sc)
	if err != nil {
		fmt.Printf("error contacting daemon: %v\n", err)
		fmt.Println("Is loadmeshd running?")
		os.Exit(1)
	}

	fmt.Printf("Run submitted: %s (genesis=%d)\n", resp.RunID, resp.Genesis)
}

func runStatus(c *client.Client, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status, err := c.GetRun(ctx, runID)
	if err != nil {
		fmt.Printf("error fetching run status: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
}

func runAwait(c *client.Client, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	status, err := c.AwaitCompletion(ctx, runID)
	if err != nil {
		fmt.Printf("error awaiting run: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
	if status.Status != "success" {
		os.Exit(1)
	}
}
