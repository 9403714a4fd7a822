// Package api is the thin JSON-RPC 2.0 dispatcher over HTTP: it parses
// and validates request envelopes and calls into internal/repository,
// owning none of the domain logic itself.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/L3DigitalNet/markdownkeeper/internal/repository"
)

// JSON-RPC 2.0 standard error codes plus the one domain-specific code
// this surface defines.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeDocumentNotFound = -32004
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server owns the chi router wiring /health and the /api/v1/* JSON-RPC
// methods onto a *repository.Repository.
type Server struct {
	repo   *repository.Repository
	logger *slog.Logger
	router chi.Router
}

// New constructs a Server. Call Handler to get the http.Handler to serve.
func New(repo *repository.Repository, logger *slog.Logger) *Server {
	s := &Server{repo: repo, logger: logger}
	s.router = s.buildRouter()
	return s
}

// Handler returns the http.Handler to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.logger != nil {
		r.Use(slogMiddleware(s.logger))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/api/v1/query", s.rpcHandler("semantic_query", s.methodSemanticQuery))
	r.Post("/api/v1/get_doc", s.rpcHandler("get_document", s.methodGetDocument))
	r.Post("/api/v1/find_concept", s.rpcHandler("find_by_concept", s.methodFindByConcept))
	return r
}

func slogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rpcMethod func(r *http.Request, params json.RawMessage) (any, *rpcError)

// rpcHandler decodes a JSON-RPC 2.0 envelope, checks req.Method against
// expectedMethod (returning -32601 on mismatch, per the JSON-RPC unknown
// method convention; an empty or absent method is accepted), and
// otherwise dispatches to method.
func (s *Server) rpcHandler(expectedMethod string, method rpcMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeRPCError(w, nil, codeParseError, "parse error")
			return
		}
		if req.Method != "" && req.Method != expectedMethod {
			writeRPCError(w, req.ID, codeMethodNotFound, errUnknownMethod.Error())
			return
		}

		result, rpcErr := method(r, req.Params)
		if rpcErr != nil {
			writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
	}
}

type semanticQueryParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (s *Server) methodSemanticQuery(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	var p semanticQueryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 10
	}

	docs, err := s.repo.SemanticSearch(r.Context(), p.Query, p.MaxResults)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return map[string]any{
		"query":     p.Query,
		"documents": summariesToJSON(docs),
		"count":     len(docs),
	}, nil
}

type getDocumentParams struct {
	DocumentID int64 `json:"document_id"`
}

func (s *Server) methodGetDocument(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	var p getDocumentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}

	doc, err := s.repo.GetDocument(r.Context(), p.DocumentID, true, 0, "")
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	if doc == nil {
		return nil, &rpcError{Code: codeDocumentNotFound, Message: "document not found"}
	}
	return detailToJSON(doc), nil
}

type findConceptParams struct {
	Concept    string `json:"concept"`
	MaxResults int    `json:"max_results"`
}

func (s *Server) methodFindByConcept(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	var p findConceptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 10
	}

	docs, err := s.repo.FindByConcept(r.Context(), p.Concept, p.MaxResults)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return map[string]any{
		"concept":   p.Concept,
		"documents": summariesToJSON(docs),
		"count":     len(docs),
	}, nil
}

func summariesToJSON(docs []repository.DocumentSummary) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = map[string]any{
			"id":             d.ID,
			"path":           d.Path,
			"title":          d.Title,
			"summary":        d.Summary,
			"category":       d.Category,
			"token_estimate": d.TokenEstimate,
			"updated_at":     d.UpdatedAt,
		}
	}
	return out
}

func detailToJSON(d *repository.DocumentDetail) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"path":           d.Path,
		"title":          d.Title,
		"summary":        d.Summary,
		"category":       d.Category,
		"token_estimate": d.TokenEstimate,
		"updated_at":     d.UpdatedAt,
		"content_hash":   d.ContentHash,
		"content":        d.Content,
		"headings":       d.Headings,
		"links":          d.Links,
		"tags":           d.Tags,
		"concepts":       d.Concepts,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, id any, code int, message string) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message}, ID: id})
}

var errUnknownMethod = errors.New("unknown method")
