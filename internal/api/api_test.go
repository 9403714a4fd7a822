package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L3DigitalNet/markdownkeeper/internal/embed"
	"github.com/L3DigitalNet/markdownkeeper/internal/parser"
	"github.com/L3DigitalNet/markdownkeeper/internal/repository"
	"github.com/L3DigitalNet/markdownkeeper/internal/store"
)

func newTestServer(t *testing.T) (*Server, *repository.Repository) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.New(db, embed.NewTokenHashEmbedder())
	return New(repo, nil), repo
}

func postJSON(t *testing.T, h http.Handler, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      any             `json:"id"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRPCHandler_ParseErrorOnInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeParseError, env.Error.Code)
}

func TestRPCHandler_MethodNotFoundOnMismatch(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/v1/query", map[string]any{
		"jsonrpc": "2.0", "method": "wrong_method", "id": 1,
	})

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeMethodNotFound, env.Error.Code)
}

func TestRPCHandler_AllowsMissingMethodField(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/v1/query", map[string]any{
		"jsonrpc": "2.0", "id": 1, "params": map[string]any{"query": "budget"},
	})

	env := decodeEnvelope(t, rec)
	assert.Nil(t, env.Error)
}

func TestMethodSemanticQuery_ReturnsDocuments(t *testing.T) {
	srv, repo := newTestServer(t)
	_, err := repo.Upsert(context.Background(), "doc.md", parser.Parse("# Budget Planning\nbudget planning numbers"))
	require.NoError(t, err)

	rec := postJSON(t, srv.Handler(), "/api/v1/query", map[string]any{
		"jsonrpc": "2.0", "method": "semantic_query", "id": 1,
		"params": map[string]any{"query": "budget", "max_results": 5},
	})

	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.EqualValues(t, 1, result["count"])
}

func TestMethodGetDocument_NotFoundReturnsDomainCode(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/api/v1/get_doc", map[string]any{
		"jsonrpc": "2.0", "method": "get_document", "id": 1,
		"params": map[string]any{"document_id": 9999},
	})

	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeDocumentNotFound, env.Error.Code)
}

func TestMethodGetDocument_ReturnsDocumentDetail(t *testing.T) {
	srv, repo := newTestServer(t)
	id, err := repo.Upsert(context.Background(), "doc.md", parser.Parse("# Title\nbody text"))
	require.NoError(t, err)

	rec := postJSON(t, srv.Handler(), "/api/v1/get_doc", map[string]any{
		"jsonrpc": "2.0", "method": "get_document", "id": 1,
		"params": map[string]any{"document_id": id},
	})

	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, "Title", result["title"])
}

func TestMethodFindByConcept_ReturnsMatches(t *testing.T) {
	srv, repo := newTestServer(t)
	_, err := repo.Upsert(context.Background(), "doc.md", parser.Parse("# Kubernetes\nThe kubernetes cluster scheduler manages pods reliably."))
	require.NoError(t, err)

	rec := postJSON(t, srv.Handler(), "/api/v1/find_concept", map[string]any{
		"jsonrpc": "2.0", "method": "find_by_concept", "id": 1,
		"params": map[string]any{"concept": "kubernetes"},
	})

	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.NotZero(t, result["count"])
}
