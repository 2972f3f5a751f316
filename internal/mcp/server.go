// Package mcp exposes the workflow pipeline as MCP tools so agentic
// clients can submit and inspect workflows over the same service.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/orchestrator"
)

type Server struct {
	mcpServer    *server.MCPServer
	orchestrator *orchestrator.Orchestrator
	query        *orchestrator.QueryService
}

func NewServer(o *orchestrator.Orchestrator, query *orchestrator.QueryService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Orchestrator",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		orchestrator: o,
		query:        query,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Run the full multi-agent pipeline for a text transformation"),
			mcp.WithString("action", mcp.Required(), mcp.Description("The requested transformation name")),
			mcp.WithString("text", mcp.Required(), mcp.Description("The input text")),
			mcp.WithString("context", mcp.Description("Optional caller-supplied context")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Fetch a workflow's status and full step history"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleGetWorkflow,
	)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return mcp.NewToolResultError("Missing required parameter: text"), nil
	}
	contextNote, _ := args["context"].(string)

	result, err := s.orchestrator.Run(ctx, orchestrator.Submission{
		Action:  action,
		Text:    text,
		Context: contextNote,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	detail, err := s.query.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(detail)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
