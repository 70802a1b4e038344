// Package ctlapi serves the local control API used by the CLI and UI.
package ctlapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/plexsphere/bondd/internal/controller"
	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/recommend"
)

// Bonding is the controller surface exposed over the API.
type Bonding interface {
	Status() controller.Snapshot
	Scan(ctx context.Context) []link.Link
	Connect(ctx context.Context, links []link.Link) bool
	Disconnect(ctx context.Context) bool
	SwitchMethod(ctx context.Context, m link.Method) bool
	SetStrategy(ctx context.Context, s link.Strategy) bool
}

// CounterSource reports capture packet counters.
type CounterSource interface {
	Counters() (captured, dropped, malformed uint64)
}

// MetricsSource returns recently collected metric points.
type MetricsSource interface {
	Recent(group string, n int) []metrics.Point
}

// defaultMetricsLimit is the number of points returned when n is not given.
const defaultMetricsLimit = 100

// Handler provides HTTP handlers for the control API.
type Handler struct {
	bonding  Bonding
	counters CounterSource
	history  MetricsSource
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandler creates a new Handler. counters and history may be nil.
func NewHandler(bonding Bonding, counters CounterSource, history MetricsSource, timeout time.Duration, logger *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Handler{
		bonding:  bonding,
		counters: counters,
		history:  history,
		timeout:  timeout,
		logger:   logger.With("component", "ctlapi"),
	}
}

// Mux returns a configured ServeMux with all control API routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/links", h.handleLinks)
	mux.HandleFunc("GET /v1/scan", h.handleScan)
	mux.HandleFunc("POST /v1/connect", h.handleConnect)
	mux.HandleFunc("POST /v1/disconnect", h.handleDisconnect)
	mux.HandleFunc("PUT /v1/method", h.handleMethod)
	mux.HandleFunc("PUT /v1/strategy", h.handleStrategy)
	mux.HandleFunc("GET /v1/recommendations", h.handleRecommendations)
	mux.HandleFunc("GET /v1/metrics", h.handleMetrics)
	return mux
}

// StatusResponse is the response for GET /v1/status.
type StatusResponse struct {
	controller.Snapshot
	Captured  uint64 `json:"captured_packets"`
	Dropped   uint64 `json:"dropped_packets"`
	Malformed uint64 `json:"malformed_packets"`
}

// ConnectRequest is the body of POST /v1/connect.
type ConnectRequest struct {
	Links []string `json:"links"`
}

// MethodRequest is the body of PUT /v1/method.
type MethodRequest struct {
	Method string `json:"method"`
}

// StrategyRequest is the body of PUT /v1/strategy.
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// Result is the response of mutating routes.
type Result struct {
	OK     bool                `json:"ok"`
	Status controller.Snapshot `json:"status"`
}

func (h *Handler) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Snapshot: h.bonding.Status()}
	if h.counters != nil {
		resp.Captured, resp.Dropped, resp.Malformed = h.counters.Counters()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLinks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.bonding.Status().Links))
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()
	writeJSON(w, http.StatusOK, nonNil(h.bonding.Scan(ctx)))
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := h.opContext(r)
	defer cancel()

	links := resolve(h.bonding.Scan(ctx), req.Links)
	if len(links) == 0 {
		writeError(w, http.StatusConflict, "no links available")
		return
	}

	ok := h.bonding.Connect(ctx, links)
	h.logger.Info("connect requested", "links", link.IDs(links), "ok", ok)
	h.writeResult(w, ok, "no requested link connected")
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()
	ok := h.bonding.Disconnect(ctx)
	h.logger.Info("disconnect requested", "ok", ok)
	// Disconnecting twice is not an error.
	writeJSON(w, http.StatusOK, Result{OK: ok, Status: h.bonding.Status()})
}

func (h *Handler) handleMethod(w http.ResponseWriter, r *http.Request) {
	var req MethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := link.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.opContext(r)
	defer cancel()
	ok := h.bonding.SwitchMethod(ctx, m)
	h.logger.Info("method switch requested", "method", m, "ok", ok)
	h.writeResult(w, ok, "no bonding method could be initialized")
}

func (h *Handler) handleStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := link.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.opContext(r)
	defer cancel()
	ok := h.bonding.SetStrategy(ctx, s)
	h.writeResult(w, ok, "controller unavailable")
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opContext(r)
	defer cancel()
	recs := recommend.Generate(h.bonding.Scan(ctx))
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, []metrics.Point{})
		return
	}
	n := defaultMetricsLimit
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	points := h.history.Recent(r.URL.Query().Get("group"), n)
	if points == nil {
		points = []metrics.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) writeResult(w http.ResponseWriter, ok bool, failure string) {
	if !ok {
		writeError(w, http.StatusConflict, failure)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, Status: h.bonding.Status()})
}

// resolve picks the scanned links named by ids, or all of them when ids is
// empty. Unknown ids are passed through so the provider reports them.
func resolve(scanned []link.Link, ids []string) []link.Link {
	if len(ids) == 0 {
		return scanned
	}
	byID := make(map[string]link.Link, len(scanned))
	for _, l := range scanned {
		byID[l.ID] = l
	}
	links := make([]link.Link, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			links = append(links, l)
			continue
		}
		links = append(links, link.Link{ID: id, Interface: id})
	}
	return links
}

func nonNil(links []link.Link) []link.Link {
	if links == nil {
		return []link.Link{}
	}
	return links
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
