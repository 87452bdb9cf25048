package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/session"
	"github.com/kalambet/intelwatch/internal/tracker"
)

const (
	defaultWaitSeconds = 60
	maxWaitSeconds     = 600
)

// MCPTracker abstracts the session controller for the MCP layer.
type MCPTracker interface {
	Start(ctx context.Context, req backend.Request) (string, error)
	Track(ctx context.Context, jobID string) error
	Reset()
	Snapshot() session.State
	Done() <-chan struct{}
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tracker MCPTracker
	Version string
}

// NewMCPServer creates an MCP server with all research tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"intelwatch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("intelwatch tracks company research jobs: start one, follow its progress and read the final report."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("research_start",
			mcp.WithDescription("Submit a company research job and start tracking it."),
			mcp.WithString("company", mcp.Description("Company name"), mcp.Required()),
			mcp.WithString("company_url", mcp.Description("Company website")),
			mcp.WithString("industry", mcp.Description("Industry")),
			mcp.WithString("hq_location", mcp.Description("Headquarters location")),
			mcp.WithString("help_description", mcp.Description("What the research should help with")),
		),
		mcpResearchStart(deps),
	)

	s.AddTool(
		mcp.NewTool("research_track",
			mcp.WithDescription("Start tracking a research job that was submitted elsewhere."),
			mcp.WithString("job_id", mcp.Description("Backend job id"), mcp.Required()),
		),
		mcpResearchTrack(deps),
	)

	s.AddTool(
		mcp.NewTool("research_status",
			mcp.WithDescription("Return the progress of the tracked research job as JSON."),
		),
		mcpResearchStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("research_wait",
			mcp.WithDescription("Block until the tracked job finishes or the timeout elapses, then return its progress."),
			mcp.WithNumber("timeout_seconds", mcp.Description("Maximum wait in seconds (default 60)")),
		),
		mcpResearchWait(deps),
	)

	s.AddTool(
		mcp.NewTool("research_report",
			mcp.WithDescription("Return the research report text. Before completion this is the partial streamed report."),
		),
		mcpResearchReport(deps),
	)

	s.AddTool(
		mcp.NewTool("research_reset",
			mcp.WithDescription("Abandon the tracked job and clear the session."),
		),
		mcpResearchReset(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"research://session",
			"Research Session",
			mcp.WithResourceDescription("Full state of the current research session as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

// statusSummary is the research_status payload. The report and the
// in-flight queries are left out to keep it small.
type statusSummary struct {
	JobID            string                             `json:"job_id"`
	Status           session.Status                     `json:"status"`
	Phase            session.Phase                      `json:"phase"`
	Step             string                             `json:"step,omitempty"`
	Message          string                             `json:"message,omitempty"`
	Queries          int                                `json:"queries"`
	DocCounts        map[string]session.DocCount        `json:"doc_counts"`
	EnrichmentCounts map[string]session.EnrichmentCount `json:"enrichment_counts"`
	BriefingStatus   map[string]bool                    `json:"briefing_status"`
	EmailReady       bool                               `json:"email_ready"`
	ProposalReady    bool                               `json:"proposal_ready"`
	ReportLength     int                                `json:"report_length"`
	HasFinalReport   bool                               `json:"has_final_report"`
	ReconnectCount   int                                `json:"reconnect_attempts"`
	Error            string                             `json:"error,omitempty"`
	Notice           string                             `json:"notice,omitempty"`
}

func summarize(s session.State) statusSummary {
	return statusSummary{
		JobID:            s.JobID,
		Status:           s.Status,
		Phase:            s.Phase,
		Step:             s.StatusLine.Step,
		Message:          s.StatusLine.Message,
		Queries:          len(s.Queries),
		DocCounts:        s.DocCounts,
		EnrichmentCounts: s.EnrichmentCounts,
		BriefingStatus:   s.BriefingStatus,
		EmailReady:       s.Email.Text != "",
		ProposalReady:    s.Proposal.Text != "",
		ReportLength:     len(s.Report),
		HasFinalReport:   s.HasFinalReport,
		ReconnectCount:   s.Connection.ReconnectAttempts,
		Error:            s.Error,
		Notice:           s.Notice,
	}
}

func mcpResearchStart(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		company, err := req.RequireString("company")
		if err != nil {
			return mcpError("company is required"), nil
		}

		jobID, err := deps.Tracker.Start(ctx, backend.Request{
			Company:         company,
			CompanyURL:      req.GetString("company_url", ""),
			Industry:        req.GetString("industry", ""),
			HQLocation:      req.GetString("hq_location", ""),
			HelpDescription: req.GetString("help_description", ""),
		})
		if err != nil {
			if errors.Is(err, tracker.ErrAlreadyRunning) {
				return mcpError("a research job is already running; call research_reset first"), nil
			}
			return mcpError(fmt.Sprintf("failed to start research: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Started research job %s", jobID)), nil
	}
}

func mcpResearchTrack(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil || jobID == "" {
			return mcpError("job_id is required"), nil
		}
		if err := deps.Tracker.Track(ctx, jobID); err != nil {
			return mcpError(fmt.Sprintf("failed to track job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Tracking research job %s", jobID)), nil
	}
}

func mcpResearchStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return statusResult(deps.Tracker.Snapshot()), nil
	}
}

func mcpResearchWait(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Tracker.Snapshot().Status == session.StatusIdle {
			return mcpError("no research job is being tracked"), nil
		}

		secs := req.GetInt("timeout_seconds", defaultWaitSeconds)
		if secs <= 0 {
			secs = defaultWaitSeconds
		}
		if secs > maxWaitSeconds {
			secs = maxWaitSeconds
		}

		timer := time.NewTimer(time.Duration(secs) * time.Second)
		defer timer.Stop()
		select {
		case <-deps.Tracker.Done():
		case <-timer.C:
		case <-ctx.Done():
			return mcpError("wait cancelled"), nil
		}
		return statusResult(deps.Tracker.Snapshot()), nil
	}
}

func mcpResearchReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s := deps.Tracker.Snapshot()
		if s.Report == "" {
			if s.Status == session.StatusFailed {
				return mcpError(fmt.Sprintf("research failed: %s", s.Error)), nil
			}
			return mcpText("(no report yet)"), nil
		}
		return mcpText(s.Report), nil
	}
}

func mcpResearchReset(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Tracker.Reset()
		return mcpText("Session reset"), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Tracker.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
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

func statusResult(s session.State) *mcp.CallToolResult {
	b, err := json.Marshal(summarize(s))
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal status: %v", err))
	}
	return mcpText(string(b))
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
