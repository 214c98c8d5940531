package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bounty/internal/analysis"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore wraps a MemoryStore with optional error injection.
type mockStore struct {
	*store.MemoryStore

	listBugsErr error
}

func (m *mockStore) ListBugs(ctx context.Context, filter store.BugListFilter) ([]*models.Bug, error) {
	if m.listBugsErr != nil {
		return nil, m.listBugsErr
	}
	return m.MemoryStore.ListBugs(ctx, filter)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()
	ms := &mockStore{MemoryStore: store.NewMemoryStore()}
	l := ledger.New(ms)
	return NewServer(l, analysis.NewService(l, time.Minute), "user-default"), ms
}

// callToolReq builds a CallToolRequest with the given tool name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// seedBug creates a bug through the ledger and returns it.
func seedBug(t *testing.T, srv *Server, title string) *models.Bug {
	t.Helper()
	bug, err := srv.ledger.CreateBug(context.Background(), models.BugDraft{
		Title:       title,
		Description: "Token refresh fails with 401",
		Tags:        []string{"auth"},
		Severity:    models.SeverityHigh,
		AuthorID:    "user-author",
	})
	require.NoError(t, err)
	return bug
}

// ---------------------------------------------------------------------------
// Tests: MCPServer registration
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv, "MCPServer() should return non-nil")
}

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	// Call tools/list via HandleMessage to verify registration.
	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	expectedTools := []string{
		"bounty_list_bugs",
		"bounty_get_bug",
		"bounty_create_bug",
		"bounty_fund_bug",
		"bounty_claim_bug",
		"bounty_submit_for_review",
		"bounty_resolve_bug",
		"bounty_analyze_bug",
		"bounty_funded_by",
	}
	for _, name := range expectedTools {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

// ---------------------------------------------------------------------------
// Tests: bounty_list_bugs
// ---------------------------------------------------------------------------

func TestHandleListBugs_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleListBugs(context.Background(), callToolReq("bounty_list_bugs", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestHandleListBugs_WithStatusFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	seedBug(t, srv, "alpha")
	beta := seedBug(t, srv, "beta")
	_, err := srv.ledger.ClaimBug(ctx, beta.ID, "dev-1")
	require.NoError(t, err)

	result, err := srv.handleListBugs(ctx, callToolReq("bounty_list_bugs", map[string]any{"status": "Open"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "alpha")
	assert.NotContains(t, text, "beta")

	result, err = srv.handleListBugs(ctx, callToolReq("bounty_list_bugs", map[string]any{"status": "Closed"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListBugs_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ms.listBugsErr = errors.New("database locked")

	result, err := srv.handleListBugs(context.Background(), callToolReq("bounty_list_bugs", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "database locked")
}

// ---------------------------------------------------------------------------
// Tests: bounty_get_bug
// ---------------------------------------------------------------------------

func TestHandleGetBug(t *testing.T) {
	srv, _ := newTestServer(t)
	bug := seedBug(t, srv, "alpha")

	result, err := srv.handleGetBug(context.Background(), callToolReq("bounty_get_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Bug
	resultJSON(t, result, &got)
	assert.Equal(t, "alpha", got.Title)
}

func TestHandleGetBug_Prefix(t *testing.T) {
	srv, _ := newTestServer(t)
	bug := seedBug(t, srv, "alpha")

	prefix := strings.ToUpper(bug.ID[:len(bug.ID)-4])
	result, err := srv.handleGetBug(context.Background(), callToolReq("bounty_get_bug", map[string]any{"bug_id": prefix}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Bug
	resultJSON(t, result, &got)
	assert.Equal(t, bug.ID, got.ID)
}

func TestHandleGetBug_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleGetBug(ctx, callToolReq("bounty_get_bug", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "bug_id")

	result, err = srv.handleGetBug(ctx, callToolReq("bounty_get_bug", map[string]any{"bug_id": "bug-zzz"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	seedBug(t, srv, "one")
	seedBug(t, srv, "two")
	result, err = srv.handleGetBug(ctx, callToolReq("bounty_get_bug", map[string]any{"bug_id": "bug-"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ambiguous")
}

// ---------------------------------------------------------------------------
// Tests: bounty_create_bug
// ---------------------------------------------------------------------------

func TestHandleCreateBug(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleCreateBug(context.Background(), callToolReq("bounty_create_bug", map[string]any{
		"title":       "Crash on upload",
		"description": "Uploading a 2GB file crashes the worker",
		"tags":        "upload, worker, ",
		"severity":    "Critical",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var bug models.Bug
	resultJSON(t, result, &bug)
	assert.Equal(t, models.BugStatusOpen, bug.Status)
	assert.Equal(t, []string{"upload", "worker"}, bug.Tags)
	assert.Equal(t, "user-default", bug.AuthorID)
	assert.Equal(t, models.SeverityCritical, bug.Severity)
}

func TestHandleCreateBug_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleCreateBug(ctx, callToolReq("bounty_create_bug", map[string]any{"description": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleCreateBug(ctx, callToolReq("bounty_create_bug", map[string]any{
		"title": "x", "description": "y", "severity": "Apocalyptic",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Severity")
}

// ---------------------------------------------------------------------------
// Tests: funding and lifecycle tools
// ---------------------------------------------------------------------------

func TestHandleFundBug(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "alpha")

	result, err := srv.handleFundBug(ctx, callToolReq("bounty_fund_bug", map[string]any{
		"bug_id": bug.ID, "amount": 40.0, "as": "user-f",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Bug
	resultJSON(t, result, &got)
	assert.Equal(t, 40.0, got.FundsRaised)
	assert.Equal(t, 1, got.Contributors)

	result, err = srv.handleFundedBy(ctx, callToolReq("bounty_funded_by", map[string]any{"user_id": "user-f"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var funding struct {
		UserID string  `json:"userId"`
		Total  float64 `json:"total"`
	}
	resultJSON(t, result, &funding)
	assert.Equal(t, "user-f", funding.UserID)
	assert.Equal(t, 40.0, funding.Total)

	result, err = srv.handleFundBug(ctx, callToolReq("bounty_fund_bug", map[string]any{"bug_id": bug.ID, "amount": -1.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid amount")

	result, err = srv.handleFundBug(ctx, callToolReq("bounty_fund_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFundedBy_DefaultsToCaller(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	a := seedBug(t, srv, "alpha")
	b := seedBug(t, srv, "beta")

	_, err := srv.ledger.FundBug(ctx, a.ID, "user-default", 12.5)
	require.NoError(t, err)
	_, err = srv.ledger.FundBug(ctx, b.ID, "user-default", 7.5)
	require.NoError(t, err)
	_, err = srv.ledger.FundBug(ctx, b.ID, "user-other", 100)
	require.NoError(t, err)

	result, err := srv.handleFundedBy(ctx, callToolReq("bounty_funded_by", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var funding struct {
		UserID string  `json:"userId"`
		Total  float64 `json:"total"`
	}
	resultJSON(t, result, &funding)
	assert.Equal(t, "user-default", funding.UserID)
	assert.Equal(t, 20.0, funding.Total)

	srv.callerID = ""
	result, err = srv.handleFundedBy(ctx, callToolReq("bounty_funded_by", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no caller identity")
}

func TestHandleLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "alpha")

	result, err := srv.handleClaimBug(ctx, callToolReq("bounty_claim_bug", map[string]any{"bug_id": bug.ID, "as": "dev-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleFundBug(ctx, callToolReq("bounty_fund_bug", map[string]any{"bug_id": bug.ID, "amount": 5.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not fundable")

	result, err = srv.handleResolveBug(ctx, callToolReq("bounty_resolve_bug", map[string]any{"bug_id": bug.ID, "passed": true}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid status transition")

	result, err = srv.handleSubmitForReview(ctx, callToolReq("bounty_submit_for_review", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = srv.handleResolveBug(ctx, callToolReq("bounty_resolve_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleResolveBug(ctx, callToolReq("bounty_resolve_bug", map[string]any{"bug_id": bug.ID, "passed": true}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.Bug
	resultJSON(t, result, &got)
	assert.Equal(t, models.BugStatusResolved, got.Status)
	assert.Equal(t, "dev-1", got.AssignedDeveloperID)
}

func TestHandleClaimBug_NoIdentity(t *testing.T) {
	ms := store.NewMemoryStore()
	l := ledger.New(ms)
	srv := NewServer(l, analysis.NewService(l, time.Minute), "")
	bug := seedBug(t, srv, "alpha")

	result, err := srv.handleClaimBug(context.Background(), callToolReq("bounty_claim_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no caller identity")
}

// ---------------------------------------------------------------------------
// Tests: bounty_analyze_bug
// ---------------------------------------------------------------------------

func TestHandleAnalyzeBug(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()
	bug := seedBug(t, srv, "JWT refresh loop")

	for _, dev := range []*models.User{
		{ID: "dev-1", Name: "A", Role: models.RoleDeveloper, Skills: []string{"auth"}, SuccessRate: 90},
		{ID: "dev-2", Name: "B", Role: models.RoleDeveloper},
		{ID: "dev-3", Name: "C", Role: models.RoleDeveloper},
		{ID: "dev-4", Name: "D", Role: models.RoleDeveloper},
	} {
		require.NoError(t, ms.UpsertUser(ctx, dev))
	}

	result, err := srv.handleAnalyzeBug(ctx, callToolReq("bounty_analyze_bug", map[string]any{"bug_id": bug.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out struct {
		Analysis models.Analysis         `json:"analysis"`
		Matches  []models.DeveloperMatch `json:"matches"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, "Authentication / Security", out.Analysis.Category)
	require.Len(t, out.Matches, 3)
	assert.Equal(t, "dev-1", out.Matches[0].ID)
}

func TestSplitTags(t *testing.T) {
	assert.Nil(t, splitTags(""))
	assert.Equal(t, []string{"a", "b"}, splitTags(" a ,, b "))
}
