// Package mcpserver adapts loadmeshd to the Model Context Protocol,
// grounded in the teacher's pkg/mcp/server.go (same server.NewMCPServer +
// AddResource/AddTool/AddPrompt registration shape) but exposing
// submit_script and get_run_status tools and a static mesh://runs resource
// (which points callers at get_run_status) instead of the teacher's
// intent-negotiation surface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loadmesh/loadmesh/pkg/client"
	"github.com/loadmesh/loadmesh/pkg/script"
)

// Server is the MCP front door onto a running loadmeshd instance.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance pointed at apiURL.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("loadmesh", "1.0.0"),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"mesh://runs",
		"Active Runs",
		mcp.WithResourceDescription("Points to the get_run_status tool, which returns a run's status by ID"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadRun)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"submit_script",
		mcp.WithDescription("Submit a load-test script for mesh-distributed execution. Returns the assigned run ID."),
		mcp.WithString("script_json", mcp.Required(), mcp.Description("The full script object as JSON, per the config.phases schema")),
	), s.handleSubmitScript)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_run_status",
		mcp.WithDescription("Fetch the current status of a previously submitted run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("The run ID returned by submit_script")),
	), s.handleGetRunStatus)
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"loadmesh-aware",
		mcp.WithPromptDescription("Provides context about loadmesh concepts (scripts, chunks, runs)"),
	), s.handleGetPrompt)
}

func (s *Server) handleReadRun(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     "use the get_run_status tool with a specific run_id to fetch a run's status",
		},
	}, nil
}

func (s *Server) handleSubmitScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseString(request, "script_json", "")
	if raw == "" {
		return mcp.NewToolResultError("script_json is required"), nil
	}

	var sc script.Script
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid script_json: %v", err)), nil
	}

	resp, err := s.apiClient.Submit(ctx, &sc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submission failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("run submitted: runID=%s genesis=%d", resp.RunID, resp.Genesis)), nil
}

func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := mcp.ParseString(request, "run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	status, err := s.apiClient.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "loadmesh-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with loadmesh, a distributed load-test orchestrator.

Concepts:
- Script: a load profile made of phases (constant, ramp, count, pause).
- Chunk: a sub-script sized to fit one worker's duration/rate bounds.
- Run: one top-level submission, identified by a run ID and a genesis timestamp shared by all its chunks.

To start a load test, use the 'submit_script' tool with a JSON script body.
To check progress, use 'get_run_status' with the run ID it returns.
`

	return mcp.NewGetPromptResult(
		"loadmesh-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
