package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/codesearch/internal/apperr"
	"github.com/hyperjump/codesearch/internal/config"
	"github.com/hyperjump/codesearch/internal/embedding"
	"github.com/hyperjump/codesearch/internal/indexer"
	"github.com/hyperjump/codesearch/internal/models"
	"github.com/hyperjump/codesearch/internal/search"
	"github.com/hyperjump/codesearch/internal/state"
	"github.com/hyperjump/codesearch/internal/status"
	"github.com/hyperjump/codesearch/internal/vector"
)

type fakeIndexer struct {
	report *indexer.RunReport
	err    error
}

func (f *fakeIndexer) Run(ctx context.Context) (*indexer.RunReport, error) { return f.report, f.err }
func (f *fakeIndexer) Progress() indexer.Progress {
	return indexer.Progress{State: indexer.StateIdle}
}
func (f *fakeIndexer) LastReport() *indexer.RunReport { return f.report }

func newTestServer(t *testing.T, idx *fakeIndexer) *Server {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.State.Path = filepath.Join(t.TempDir(), "indexed.json")

	emb := embedding.NewMockEmbedder(16)
	store := vector.NewMemoryStore("")
	require.NoError(t, store.EnsureCollection(ctx, 16))
	texts := []string{
		"class RuleApplier { public function apply(Rule $rule) {} }",
		"class PriceIndexer { public function reindex() {} }",
		"class CustomerRepository { public function save(Customer $c) {} }",
	}
	var points []models.Point
	for i, text := range texts {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		points = append(points, models.Point{
			ID:      string(rune('a' + i)),
			Vector:  v,
			Payload: models.Payload{File: "/srv/app/File.php", ChunkIndex: i, Content: text},
		})
	}
	require.NoError(t, store.Upsert(ctx, points))

	st := state.NewJSONStore(cfg.State.Path)
	require.NoError(t, st.Save(ctx, state.Snapshot{"/srv/app/File.php": "abc"}))

	svc := search.NewService(emb, store, cfg.Search)
	return NewServer(svc, idx, store, st, cfg, "test", nil)
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", res.Content[0])
		return ""
	}
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var me *MCPError
	require.True(t, errors.As(err, &me), "want *MCPError, got %v", err)
	return me.Code
}

func TestHandleSearchCode(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{})
	res, err := s.handleSearchCode(context.Background(), call("search_code", map[string]interface{}{
		"query": "class RuleApplier { public function apply(Rule $rule) {} }",
		"limit": float64(2),
	}))
	require.NoError(t, err)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.TopK)
	assert.Equal(t, 0, resp.Results[0].ChunkIndex, "identical text should rank first")
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestHandleSearchCode_invalidParams(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{})
	ctx := context.Background()

	_, err := s.handleSearchCode(ctx, call("search_code", nil))
	assert.Equal(t, ErrorCodeEmptyQuery, mcpCode(t, err))

	_, err = s.handleSearchCode(ctx, call("search_code", map[string]interface{}{"query": "x", "limit": float64(-3)}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleSearchCode(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "search_code", Arguments: "nope"}})
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestHandleIndexCodebase(t *testing.T) {
	idx := &fakeIndexer{report: &indexer.RunReport{RunID: "run-7", FilesChanged: 2, Points: 5}}
	s := newTestServer(t, idx)
	res, err := s.handleIndexCodebase(context.Background(), call("index_codebase", nil))
	require.NoError(t, err)

	var report indexer.RunReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &report))
	assert.Equal(t, "run-7", report.RunID)
	assert.Equal(t, 5, report.Points)
}

func TestHandleIndexCodebase_errors(t *testing.T) {
	ctx := context.Background()

	s := newTestServer(t, &fakeIndexer{err: indexer.ErrRunInProgress})
	_, err := s.handleIndexCodebase(ctx, call("index_codebase", nil))
	assert.Equal(t, ErrorCodeIndexingInProgress, mcpCode(t, err))

	s = newTestServer(t, &fakeIndexer{err: apperr.Upstream("embed batch", errors.New("503"))})
	_, err = s.handleIndexCodebase(ctx, call("index_codebase", nil))
	assert.Equal(t, ErrorCodeInternalError, mcpCode(t, err))
	var me *MCPError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "upstream", me.Data.(map[string]interface{})["kind"])
}

func TestHandleGetStatus(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{})
	res, err := s.handleGetStatus(context.Background(), call("get_status", nil))
	require.NoError(t, err)

	var r status.Report
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &r))
	require.NotNil(t, r.Points)
	require.NotNil(t, r.StateEntries)
	assert.Equal(t, 3, *r.Points)
	assert.Equal(t, 1, *r.StateEntries)
	assert.Equal(t, indexer.StateIdle, r.Pipeline.State)
}

func TestServer_listsTools(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{})
	ctx := context.Background()
	s.mcp.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`))
	resp := s.mcp.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"search_code", "index_codebase", "get_status"} {
		assert.Contains(t, string(b), name)
	}
}
