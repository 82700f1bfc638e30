// Package api provides the HTTP handlers for recall. Every failure is
// written as {"error": kind, "detail": message, "status_code": status}.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/blueberrycongee/recall/internal/chat"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/httputil"
	"github.com/blueberrycongee/recall/internal/memory"
	"github.com/blueberrycongee/recall/internal/observability"
	"github.com/blueberrycongee/recall/internal/records"
	"github.com/blueberrycongee/recall/internal/search"
	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

// Searcher runs similarity and graph searches.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	GraphSearch(ctx context.Context, req search.GraphRequest) (*search.Result, error)
}

// RecordManager lists and edits stored records.
type RecordManager interface {
	List(ctx context.Context, req records.ListRequest) (*records.ListResponse, error)
	Update(ctx context.Context, id string, req records.UpdateRequest) error
	Delete(ctx context.Context, id string) error
}

// Chatter answers conversations.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// Handler handles HTTP requests for the memory service.
type Handler struct {
	search  Searcher
	records RecordManager
	chat    Chatter
	config  func() *config.Config
	logger  *observability.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s Searcher, r RecordManager, c Chatter, cfg func() *config.Config, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.Wrap(slog.Default(), observability.NewRedactor())
	}
	return &Handler{search: s, records: r, chat: c, config: cfg, logger: logger}
}

// RegisterRoutes attaches the data endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /search", h.Search)
	mux.HandleFunc("POST /graph_search", h.GraphSearch)
	mux.HandleFunc("POST /list", h.List)
	mux.HandleFunc("PUT /update/{id}", h.Update)
	mux.HandleFunc("DELETE /delete/{id}", h.Delete)
	mux.HandleFunc("POST /chat", h.Chat)
}

// SearchOptions is the "config" object of a search body.
type SearchOptions struct {
	Target       string `json:"target"`
	Limit        *int   `json:"limit"`
	Compress     bool   `json:"compress"`
	RelatedLimit *int   `json:"related_limit"`
}

// SearchRequest is the body of /search and /graph_search.
type SearchRequest struct {
	Text   string        `json:"text"`
	Config SearchOptions `json:"config"`
}

// SearchResponse is returned by both search endpoints.
type SearchResponse struct {
	Results        []memory.Atom `json:"results"`
	Compressed     bool          `json:"compressed"`
	CompressedText string        `json:"compressed_text,omitempty"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, h.config().Server.MaxBodyBytes, v); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handler) searchRequest(body SearchRequest) search.Request {
	cfg := h.config().Search
	req := search.Request{
		Text:     body.Text,
		Target:   body.Config.Target,
		Limit:    cfg.DefaultLimit,
		Compress: body.Config.Compress,
	}
	if req.Target == "" {
		req.Target = cfg.DefaultTarget
	}
	if body.Config.Limit != nil {
		req.Limit = min(*body.Config.Limit, cfg.MaxLimit)
	}
	return req
}

// Search handles POST /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.search.Search(r.Context(), h.searchRequest(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse(res))
}

// GraphSearch handles POST /graph_search.
func (h *Handler) GraphSearch(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := search.GraphRequest{
		Request:      h.searchRequest(body),
		RelatedLimit: h.config().Search.DefaultRelatedLimit,
	}
	if body.Config.RelatedLimit != nil {
		req.RelatedLimit = *body.Config.RelatedLimit
	}
	res, err := h.search.GraphSearch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse(res))
}

func searchResponse(res *search.Result) SearchResponse {
	out := SearchResponse{
		Results:        res.Results,
		Compressed:     res.Compressed,
		CompressedText: res.CompressedText,
	}
	if out.Results == nil {
		out.Results = []memory.Atom{}
	}
	for i := range out.Results {
		out.Results[i].Normalize()
	}
	return out
}

// List handles POST /list.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var body records.ListRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.records.List(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// Update handles PUT /update/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body records.UpdateRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.records.Update(r.Context(), id, body); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Record " + id + " updated"})
}

// Delete handles DELETE /delete/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var body chat.Request
	if !h.decode(w, r, &body) {
		return
	}
	if n := len(body.Messages); n > 0 {
		h.logger.WithRequestID(r.Context()).
			RedactedDebug("chat request", "messages", n, "latest", body.Messages[n-1].Content)
	}
	res, err := h.chat.Chat(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError logs the full error chain and writes only the typed message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.logger.WithRequestID(r.Context())
	e, ok := llmerrors.As(err)
	switch {
	case !ok:
		log.RedactedError("unhandled error", "path", r.URL.Path, "error", err)
	case e.HTTPStatusCode() >= http.StatusInternalServerError:
		log.RedactedError("request failed", "path", r.URL.Path, "kind", e.Kind, "error", err)
	default:
		log.Debug("request rejected", "path", r.URL.Path, "kind", e.Kind, "detail", strings.TrimSpace(e.Message))
	}
	httputil.WriteError(w, err)
}
