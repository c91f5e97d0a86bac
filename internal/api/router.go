// Package api serves a read-only REST view over the engine's stores:
// signals, positions, bars, indicators, journal history, and the
// portfolio summary. Mutations go through the pipeline, never this API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"trading-corev1/internal/journal"
	"trading-corev1/internal/model"
	"trading-corev1/internal/portfolio"
)

const defaultLimit = 50

// Handler serves the /api/v1 routes.
type Handler struct {
	store       model.TickStore
	journal     *journal.Journal
	pf          *portfolio.Tracker
	instruments map[string]bool
	log         *slog.Logger
}

// NewRouter builds the API routes. pf may be nil; the portfolio endpoint
// then returns 404.
func NewRouter(store model.TickStore, jnl *journal.Journal, pf *portfolio.Tracker, instruments []string, log *slog.Logger) *http.ServeMux {
	h := &Handler{
		store:       store,
		journal:     jnl,
		pf:          pf,
		instruments: make(map[string]bool, len(instruments)),
		log:         log.With("component", "api"),
	}
	for _, inst := range instruments {
		h.instruments[inst] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/signals", h.signals)
	mux.HandleFunc("GET /api/v1/signals/{id}", h.signal)
	mux.HandleFunc("GET /api/v1/positions", h.positions)
	mux.HandleFunc("GET /api/v1/ticks/{instrument}", h.latestTick)
	mux.HandleFunc("GET /api/v1/bars/{instrument}/{tf}", h.bars)
	mux.HandleFunc("GET /api/v1/indicators/{instrument}/{tf}", h.indicators)
	mux.HandleFunc("GET /api/v1/decisions", h.decisions)
	mux.HandleFunc("GET /api/v1/fills", h.fills)
	mux.HandleFunc("GET /api/v1/portfolio", h.portfolio)
	return mux
}

// signals lists signals by lifecycle state. ?status=PENDING,TRIGGERED
// filters; the default is every live state.
func (h *Handler) signals(w http.ResponseWriter, r *http.Request) {
	statuses := []model.SignalStatus{model.StatusPending, model.StatusTriggered, model.StatusExecuted}
	if q := r.URL.Query().Get("status"); q != "" {
		statuses = statuses[:0]
		for _, s := range strings.Split(q, ",") {
			statuses = append(statuses, model.SignalStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	sigs, err := h.store.SignalsByStatus(r.Context(), statuses...)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, sigs)
}

func (h *Handler) signal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.store.GetSignal(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, sig)
}

func (h *Handler) positions(w http.ResponseWriter, r *http.Request) {
	all := make([]model.Position, 0)
	for inst := range h.instruments {
		open, err := h.store.OpenPositions(r.Context(), inst)
		if err != nil {
			h.fail(w, err)
			return
		}
		all = append(all, open...)
	}
	h.ok(w, all)
}

func (h *Handler) latestTick(w http.ResponseWriter, r *http.Request) {
	inst := r.PathValue("instrument")
	if !h.instruments[inst] {
		h.notFound(w, "unknown instrument")
		return
	}
	tick, err := h.store.LatestTick(r.Context(), inst)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, tick)
}

// bars returns up to ?n= recent closed bars, oldest first.
func (h *Handler) bars(w http.ResponseWriter, r *http.Request) {
	inst, tf, ok := h.instrumentTF(w, r)
	if !ok {
		return
	}
	bars, err := h.store.RecentBars(r.Context(), inst, tf, limit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, bars)
}

func (h *Handler) indicators(w http.ResponseWriter, r *http.Request) {
	inst, tf, ok := h.instrumentTF(w, r)
	if !ok {
		return
	}
	set, err := h.store.LatestIndicators(r.Context(), inst, tf)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, set)
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.journal.RecentDecisions(r.Context(), limit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, recs)
}

func (h *Handler) fills(w http.ResponseWriter, r *http.Request) {
	recs, err := h.journal.RecentFills(r.Context(), limit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, recs)
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	if h.pf == nil {
		h.notFound(w, "portfolio tracking disabled")
		return
	}
	s, err := h.pf.Snapshot(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, s)
}

func (h *Handler) instrumentTF(w http.ResponseWriter, r *http.Request) (string, model.Timeframe, bool) {
	inst := r.PathValue("instrument")
	if !h.instruments[inst] {
		h.notFound(w, "unknown instrument")
		return "", 0, false
	}
	tf, err := model.ParseTimeframe(r.PathValue("tf"))
	if err != nil {
		h.badRequest(w, err.Error())
		return "", 0, false
	}
	return inst, tf, true
}

func limit(r *http.Request) int {
	if q := r.URL.Query().Get("n"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return defaultLimit
}

func (h *Handler) ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("response encode failed", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		h.notFound(w, "not found")
		return
	}
	h.log.Warn("request failed", "err", err)
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) notFound(w http.ResponseWriter, msg string)   { h.writeError(w, http.StatusNotFound, msg) }
func (h *Handler) badRequest(w http.ResponseWriter, msg string) { h.writeError(w, http.StatusBadRequest, msg) }

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
