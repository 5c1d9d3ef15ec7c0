package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/creativemri/internal/creative"
	"github.com/kalambet/creativemri/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Worker Notifier // optional
}

// NewMCPServer creates an MCP server exposing report runs as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"creativemri",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("creativemri runs Creative MRI diagnostics over batches of ads and returns structured effectiveness reports."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_report",
			mcp.WithDescription("Queue a Creative MRI run over a stored batch or an inline list of ads. Returns the job id; poll get_job for the result."),
			mcp.WithString("label", mcp.Description("Report label")),
			mcp.WithString("batch_id", mcp.Description("ID of a batch stored with POST /batches")),
			mcp.WithString("ads", mcp.Description("JSON array of ad records, used when batch_id is absent")),
		),
		mcpRunReport(deps),
	)

	s.AddTool(
		mcp.NewTool("get_job",
			mcp.WithDescription("Return a job's status, progress and, once complete, its report."),
			mcp.WithString("id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpGetJob(deps),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List recent jobs, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, running, complete or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 10)")),
		),
		mcpListJobs(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jobs://recent",
			"Recent Jobs",
			mcp.WithResourceDescription("Last 10 report jobs without report bodies"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpRunReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := ReportRequest{
			Label:   req.GetString("label", ""),
			BatchID: req.GetString("batch_id", ""),
		}
		if raw := req.GetString("ads", ""); raw != "" {
			var ads []creative.AdRecord
			if err := json.Unmarshal([]byte(raw), &ads); err != nil {
				return mcpError(fmt.Sprintf("invalid ads JSON: %v", err)), nil
			}
			in.Ads = ads
		}

		run, err := resolveRunRequest(deps.Store, in)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		jobID := uuid.New().String()
		if err := enqueueRun(deps.Store, deps.Worker, jobID, in.BatchID, run); err != nil {
			return mcpError(fmt.Sprintf("failed to queue run: %v", err)), nil
		}

		return mcpJSON(map[string]any{"job_id": jobID, "status": storage.StatusPending, "ads": len(run.Ads)})
	}
}

func mcpGetJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		return mcpJSON(newJobView(job))
	}
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		jobs, err := deps.Store.ListJobs(storage.JobFilter{Status: req.GetString("status", ""), Limit: limit})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list jobs: %v", err)), nil
		}
		return mcpJSON(jobSummaries(jobs))
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Store.ListJobs(storage.JobFilter{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		b, err := json.Marshal(jobSummaries(jobs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func jobSummaries(jobs []storage.Job) []JobView {
	out := make([]JobView, len(jobs))
	for i, j := range jobs {
		out[i] = newJobView(j)
		out[i].Report = nil
	}
	return out
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
