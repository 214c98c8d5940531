package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bounty/internal/analysis"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

// Server wraps the bounty ledger and exposes it as MCP tools.
type Server struct {
	ledger   *ledger.Ledger
	analysis *analysis.Service
	callerID string
}

// NewServer creates the MCP server wrapper. callerID is used when a tool call
// does not name its caller with the "as" argument.
func NewServer(l *ledger.Ledger, an *analysis.Service, callerID string) *Server {
	return &Server{
		ledger:   l,
		analysis: an,
		callerID: callerID,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bounty", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listBugsTool())
	srv.AddTool(s.getBugTool())
	srv.AddTool(s.createBugTool())
	srv.AddTool(s.fundBugTool())
	srv.AddTool(s.claimBugTool())
	srv.AddTool(s.submitForReviewTool())
	srv.AddTool(s.resolveBugTool())
	srv.AddTool(s.analyzeBugTool())
	srv.AddTool(s.fundedByTool())

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

// bounty_list_bugs
func (s *Server) listBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_list_bugs",
		mcp.WithDescription("List bugs, newest first. Returns a JSON array with id, title, status, severity, bounty, fundsRaised and contributors."),
		mcp.WithString("status", mcp.Description("Filter by status: Open, Funded, Claimed, In Review, Resolved")),
		mcp.WithString("severity", mcp.Description("Filter by severity: Low, Medium, High, Critical")),
		mcp.WithString("tag", mcp.Description("Filter by tag")),
	)
	return tool, s.handleListBugs
}

func (s *Server) handleListBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.BugListFilter{
		Status:   models.BugStatus(request.GetString("status", "")),
		Severity: models.Severity(request.GetString("severity", "")),
		Tag:      request.GetString("tag", ""),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", filter.Status)), nil
	}

	bugs, err := s.ledger.ListBugs(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list bugs: %v", err)), nil
	}

	type bugOut struct {
		ID           string  `json:"id"`
		Title        string  `json:"title"`
		Status       string  `json:"status"`
		Severity     string  `json:"severity"`
		Bounty       float64 `json:"bounty"`
		FundsRaised  float64 `json:"fundsRaised"`
		Contributors int     `json:"contributors"`
	}

	out := make([]bugOut, len(bugs))
	for i, b := range bugs {
		out[i] = bugOut{
			ID:           b.ID,
			Title:        b.Title,
			Status:       string(b.Status),
			Severity:     string(b.Severity),
			Bounty:       b.Bounty,
			FundsRaised:  b.FundsRaised,
			Contributors: b.Contributors,
		}
	}
	return jsonResult(out, "bugs")
}

// bounty_get_bug
func (s *Server) getBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_get_bug",
		mcp.WithDescription("Get a bug by ID (full ID or unique prefix). Returns the full bug as JSON."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
	)
	return tool, s.handleGetBug
}

func (s *Server) handleGetBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(bug, "bug")
}

// bounty_create_bug
func (s *Server) createBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_create_bug",
		mcp.WithDescription("Report a new bug. It starts Open with no bounty and no funding. Returns the created bug as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Bug title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What goes wrong")),
		mcp.WithString("repo_link", mcp.Description("Repository URL")),
		mcp.WithString("logs", mcp.Description("Relevant log output")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("severity", mcp.Description("Low, Medium, High or Critical (default: Medium)")),
		mcp.WithString("expected_behavior", mcp.Description("What should happen instead")),
		mcp.WithString("as", mcp.Description("Reporting user ID (defaults to the configured identity)")),
	)
	return tool, s.handleCreateBug
}

func (s *Server) handleCreateBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: description"), nil
	}
	caller, errResult := s.caller(request)
	if errResult != nil {
		return errResult, nil
	}

	draft := models.BugDraft{
		Title:            title,
		Description:      description,
		RepoLink:         request.GetString("repo_link", ""),
		Logs:             request.GetString("logs", ""),
		Tags:             splitTags(request.GetString("tags", "")),
		Severity:         models.Severity(request.GetString("severity", "")),
		ExpectedBehavior: request.GetString("expected_behavior", ""),
		AuthorID:         caller,
	}
	bug, err := s.ledger.CreateBug(ctx, draft)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create bug: %v", err)), nil
	}
	return jsonResult(bug, "bug")
}

// bounty_fund_bug
func (s *Server) fundBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_fund_bug",
		mcp.WithDescription("Contribute money toward a bug's bounty. Only Open and Funded bugs accept funding. Returns the updated bug as JSON."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithNumber("amount", mcp.Required(), mcp.Description("Positive amount to contribute")),
		mcp.WithString("as", mcp.Description("Funding user ID (defaults to the configured identity)")),
	)
	return tool, s.handleFundBug
}

func (s *Server) handleFundBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	amount, err := request.RequireFloat("amount")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: amount"), nil
	}
	caller, errResult := s.caller(request)
	if errResult != nil {
		return errResult, nil
	}

	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	updated, err := s.ledger.FundBug(ctx, bug.ID, caller, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fund bug: %v", err)), nil
	}
	return jsonResult(updated, "bug")
}

// bounty_claim_bug
func (s *Server) claimBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_claim_bug",
		mcp.WithDescription("Claim an Open or Funded bug for a developer. Returns the updated bug as JSON."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithString("as", mcp.Description("Developer user ID (defaults to the configured identity)")),
	)
	return tool, s.handleClaimBug
}

func (s *Server) handleClaimBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	caller, errResult := s.caller(request)
	if errResult != nil {
		return errResult, nil
	}

	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	updated, err := s.ledger.ClaimBug(ctx, bug.ID, caller)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to claim bug: %v", err)), nil
	}
	return jsonResult(updated, "bug")
}

// bounty_submit_for_review
func (s *Server) submitForReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_submit_for_review",
		mcp.WithDescription("Move a Claimed bug into review. Returns the updated bug as JSON."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
	)
	return tool, s.handleSubmitForReview
}

func (s *Server) handleSubmitForReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	updated, err := s.ledger.SubmitForReview(ctx, bug.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit bug: %v", err)), nil
	}
	return jsonResult(updated, "bug")
}

// bounty_resolve_bug
func (s *Server) resolveBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_resolve_bug",
		mcp.WithDescription("Resolve a bug that is In Review. passed=true marks it Resolved; passed=false returns it to Claimed. Returns the updated bug as JSON."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
		mcp.WithBoolean("passed", mcp.Required(), mcp.Description("Whether the fix passed review")),
	)
	return tool, s.handleResolveBug
}

func (s *Server) handleResolveBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	passed, err := request.RequireBool("passed")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: passed"), nil
	}
	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	updated, err := s.ledger.ResolveBug(ctx, bug.ID, passed)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve bug: %v", err)), nil
	}
	return jsonResult(updated, "bug")
}

// bounty_analyze_bug
func (s *Server) analyzeBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_analyze_bug",
		mcp.WithDescription("Analyze a bug: category, complexity, estimated bounty, impact, priority and log insights. Also returns the best matching developers."),
		mcp.WithString("bug_id", mcp.Required(), mcp.Description("Bug ID")),
	)
	return tool, s.handleAnalyzeBug
}

func (s *Server) handleAnalyzeBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bugID, err := request.RequireString("bug_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: bug_id"), nil
	}
	bug, err := s.findBug(ctx, bugID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	a, err := s.analysis.Analyze(ctx, bug.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to analyze bug: %v", err)), nil
	}
	matches, err := s.analysis.Matches(ctx, bug.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to match developers: %v", err)), nil
	}
	if len(matches) > 3 {
		matches = matches[:3]
	}

	return jsonResult(map[string]any{
		"analysis": a,
		"matches":  matches,
	}, "analysis")
}

// caller returns the acting user ID for a tool call.
// bounty_funded_by
func (s *Server) fundedByTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bounty_funded_by",
		mcp.WithDescription("Total amount a user has contributed across all bugs. Returns JSON with userId and total."),
		mcp.WithString("user_id", mcp.Description("User ID (defaults to the caller)")),
		mcp.WithString("as", mcp.Description("Caller user ID (defaults to the configured identity)")),
	)
	return tool, s.handleFundedBy
}

func (s *Server) handleFundedBy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		caller, errResult := s.caller(request)
		if errResult != nil {
			return errResult, nil
		}
		userID = caller
	}

	total, err := s.ledger.FundedBy(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to total funding: %v", err)), nil
	}
	out := struct {
		UserID string  `json:"userId"`
		Total  float64 `json:"total"`
	}{userID, total}
	return jsonResult(out, "funding")
}

func (s *Server) caller(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	if as := request.GetString("as", ""); as != "" {
		return as, nil
	}
	if s.callerID != "" {
		return s.callerID, nil
	}
	return "", mcp.NewToolResultError("no caller identity: pass \"as\" or set identity.user_id")
}

// findBug finds a bug by full ID or unique prefix.
func (s *Server) findBug(ctx context.Context, id string) (*models.Bug, error) {
	bug, err := s.ledger.GetBug(ctx, id)
	if err == nil {
		return bug, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	bugs, err := s.ledger.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(id)
	var matches []*models.Bug
	for _, b := range bugs {
		if strings.HasPrefix(b.ID, lower) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("bug %s: %w", id, models.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous bug ID %s: matches %d bugs", id, len(matches))
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
