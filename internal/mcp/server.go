// Package mcp exposes the review engine as MCP tools over stdio so
// agent hosts can start, watch, and cancel reviews.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/panel/internal/api"
	"github.com/joescharf/panel/internal/models"
	"github.com/joescharf/panel/internal/orchestrator"
	"github.com/joescharf/panel/internal/session"
)

// Server wraps the review engine and exposes it as MCP tools.
type Server struct {
	registry  *session.Registry
	engineFor api.EngineFactory
}

// NewServer creates the MCP server wrapper.
func NewServer(registry *session.Registry, engineFor api.EngineFactory) *Server {
	return &Server{registry: registry, engineFor: engineFor}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("panel", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.startReviewTool())
	srv.AddTool(s.reviewStatusTool())
	srv.AddTool(s.listReviewsTool())
	srv.AddTool(s.cancelReviewTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type reviewOut struct {
	TaskID   string              `json:"task_id"`
	Status   session.Status      `json:"status"`
	Report   *models.FinalReport `json:"report,omitempty"`
	Error    string              `json:"error,omitempty"`
	Progress int                 `json:"progress_events"`
}

func viewOf(sess *session.Session) reviewOut {
	return reviewOut{
		TaskID:   sess.TaskID,
		Status:   sess.Status(),
		Report:   sess.Report(),
		Error:    sess.Err(),
		Progress: len(sess.History()),
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// panel_start_review
func (s *Server) startReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("panel_start_review",
		mcp.WithDescription("Start a multi-reviewer code review of a directory. Returns the task id immediately; poll panel_review_status for the report."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory to review")),
		mcp.WithString("task_id", mcp.Description("Stable task id; reuse it to resume a crashed review")),
		mcp.WithString("mode", mcp.Description("Review mode: full (default) or architecture")),
		mcp.WithBoolean("fresh", mcp.Description("Discard existing checkpoints instead of resuming")),
	)
	return tool, s.handleStartReview
}

func (s *Server) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	taskID := request.GetString("task_id", "")
	if taskID == "" {
		// Stable per target so a crashed review of the same path resumes.
		taskID = "review-" + filepath.Base(path)
	}

	engine, err := s.engineFor(nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("backend configuration: %v", err)), nil
	}

	req := orchestrator.Request{
		TaskID: taskID,
		Path:   path,
		Mode:   request.GetString("mode", ""),
		Fresh:  request.GetBool("fresh", false),
	}
	sess, existed := s.registry.StartOrGet(taskID, func(ctx context.Context, sess *session.Session) (*models.FinalReport, error) {
		return engine.Run(ctx, req, sess)
	})

	out := viewOf(sess)
	if existed {
		return marshalResult(map[string]any{"task_id": out.TaskID, "status": out.Status, "already_running": true})
	}
	return marshalResult(map[string]any{"task_id": out.TaskID, "status": out.Status})
}

// panel_review_status
func (s *Server) reviewStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("panel_review_status",
		mcp.WithDescription("Get a review's status and, once completed, its full report: merged issues, score, and recommendation."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id returned by panel_start_review")),
	)
	return tool, s.handleReviewStatus
}

func (s *Server) handleReviewStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}
	sess, ok := s.registry.Get(taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("review not found: %s", taskID)), nil
	}
	return marshalResult(viewOf(sess))
}

// panel_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("panel_list_reviews",
		mcp.WithDescription("List every known review session with its status."),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.registry.List()
	out := make([]reviewOut, len(sessions))
	for i, sess := range sessions {
		out[i] = viewOf(sess)
		out[i].Report = nil // keep the listing small; fetch one for the report
	}
	return marshalResult(out)
}

// panel_cancel_review
func (s *Server) cancelReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("panel_cancel_review",
		mcp.WithDescription("Cancel a running review. Completed reviewers keep their checkpoints; the task can be resumed later."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id of the running review")),
	)
	return tool, s.handleCancelReview
}

func (s *Server) handleCancelReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}
	if !s.registry.Cancel(taskID) {
		return mcp.NewToolResultError(fmt.Sprintf("review is not running: %s", taskID)), nil
	}
	return marshalResult(map[string]any{"task_id": taskID, "cancelled": true})
}
