// Command loadmesh-mcp exposes a running loadmeshd instance over the Model
// Context Protocol on stdio. pkg/mcpserver is adapted from the teacher's
// pkg/mcp, which the teacher never wired to an entrypoint of its own; this
// binary gives it one, following the same one-binary-per-concern layout as
// loadmesh, loadmeshd, loadmesh-sim, and loadmesh-tui.
package main

import (
	"fmt"
	"os"

	"github.com/loadmesh/loadmesh/pkg/mcpserver"
)

func main() {
	apiURL := os.Getenv("LOADMESH_ADDR")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8090"
	}

	srv := mcpserver.NewServer(apiURL)
	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "loadmesh-mcp: %v\n", err)
		os.Exit(1)
	}
}
