// Package server is the thin HTTP adapter over the engine. Handlers only
// parse parameters, call one engine operation, and encode the result; all
// search semantics live below this layer.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/corpusnext/papersearch/internal/engine"
	"github.com/corpusnext/papersearch/pkg/health"
	"github.com/corpusnext/papersearch/pkg/logger"
	"github.com/corpusnext/papersearch/pkg/metrics"
	"github.com/corpusnext/papersearch/pkg/middleware"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

// Handler serves the public API backed by one Engine.
type Handler struct {
	engine   *engine.Engine
	defaultK int
}

// NewHandler creates the API handler.
func NewHandler(eng *engine.Engine, defaultK int) *Handler {
	if defaultK <= 0 {
		defaultK = 10
	}
	return &Handler{engine: eng, defaultK: defaultK}
}

// Router builds the full HTTP handler with routes and middleware.
//
// Route table:
//
//	GET  /api/v1/search     → ranked results for ?q= and ?k=
//	GET  /api/v1/suggest    → completions for ?q= and ?limit=
//	POST /api/v1/documents  → incremental single-document ingest
//	POST /api/v1/reload     → rebuild engine state from disk
//	GET  /health/live       → liveness probe
//	GET  /health/ready      → readiness probe
//	GET  /metrics           → Prometheus scrape endpoint
func Router(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if m != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	if requestTimeout > 0 {
		handler = middleware.Timeout(requestTimeout)(handler)
	}
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	return middleware.RequestID(handler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("request failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, pserrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}

// Search handles GET /api/v1/search?q=...&k=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	k := h.defaultK
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			k = n
		}
	}

	res, err := h.engine.Search(query, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Suggest handles GET /api/v1/suggest?q=...&limit=...
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.engine.Suggest(query, limit))
}

type addDocumentRequest struct {
	Root    string `json:"root"`
	RelPath string `json:"json_relpath"`
	UID     string `json:"cord_uid"`
	Title   string `json:"title"`
}

// AddDocument handles POST /api/v1/documents.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, pserrors.Newf(pserrors.ErrInvalidInput, http.StatusBadRequest, "invalid json body: %v", err))
		return
	}
	if req.Root == "" || req.RelPath == "" || req.UID == "" || req.Title == "" {
		writeError(w, r, pserrors.New(pserrors.ErrInvalidInput, http.StatusBadRequest,
			"required: root, json_relpath, cord_uid, title"))
		return
	}

	res, err := h.engine.AddDocument(req.Root, req.RelPath, req.UID, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            res.OK,
		"segment":       res.Segment,
		"reloaded":      res.Reloaded,
		"total_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// Reload handles POST /api/v1/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "segments": h.engine.SegmentCount()})
}
