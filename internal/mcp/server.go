package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voxhall/concierge/internal/orchestrator"
	"github.com/voxhall/concierge/internal/workflow"
)

// Server exposes the orchestrator over the MCP tool protocol.
type Server struct {
	mcpServer *server.MCPServer
	manager   *orchestrator.Manager
}

// NewServer creates the MCP server and registers its tools.
func NewServer(manager *orchestrator.Manager) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Concierge",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		manager: manager,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the registered workflows"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Run a named workflow synchronously"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The workflow name")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The input message")),
			mcp.WithObject("params", mcp.Description("Structured workflow parameters")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_job",
			mcp.WithDescription("Start an asynchronous job and return its ID immediately"),
			mcp.WithString("message", mcp.Required(), mcp.Description("The input message")),
			mcp.WithString("workflow", mcp.Description("The workflow name; defaults to order-food")),
			mcp.WithString("user_id", mcp.Description("Principal the job is billed to")),
			mcp.WithObject("params", mcp.Description("Structured workflow parameters")),
		),
		s.handleStartJob,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_job_status",
			mcp.WithDescription("Get the current status of a job"),
			mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID")),
		),
		s.handleGetJobStatus,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.manager.ListWorkflows())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("Missing required parameter: name"), nil
	}
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return mcp.NewToolResultError("Missing required parameter: message"), nil
	}
	params, _ := args["params"].(map[string]interface{})

	outcome, err := s.manager.RunWorkflow(ctx, name,
		workflow.Input{Message: message, Params: params}, workflow.Correlation{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(outcome)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStartJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	message, ok := args["message"].(string)
	if !ok || message == "" {
		return mcp.NewToolResultError("Missing required parameter: message"), nil
	}
	name, _ := args["workflow"].(string)
	userID, _ := args["user_id"].(string)
	params, _ := args["params"].(map[string]interface{})

	result, err := s.manager.Start(ctx, orchestrator.StartRequest{
		Message:  message,
		Workflow: name,
		Params:   params,
		UserID:   userID,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start job: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	jobID, ok := args["job_id"].(string)
	if !ok || jobID == "" {
		return mcp.NewToolResultError("Missing required parameter: job_id"), nil
	}

	session, err := s.manager.GetStatus(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get job status: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(session)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers mounts the MCP endpoints on the given mux.
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
