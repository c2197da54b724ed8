// Package api exposes the latest standings, stored trades and pipeline runs
// over HTTP, and lets operators trigger a run.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradesim/trade-simulator/internal/engine"
	"github.com/tradesim/trade-simulator/internal/model"
	"github.com/tradesim/trade-simulator/internal/standings"
	"github.com/tradesim/trade-simulator/internal/store"
)

// Service handles the read API. The runner serializes triggered runs with
// scheduled ones.
type Service struct {
	store  store.Store
	runner *engine.Runner
	hub    *Hub // optional
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, runner *engine.Runner, hub *Hub) *Service {
	s := &Service{store: st, runner: runner, hub: hub}
	if hub != nil {
		runner.OnReport(func(rep engine.Report) {
			hub.Broadcast(ReportMessage(rep))
		})
	}
	return s
}

// Routes mounts the handlers on r.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	r.Get("/standings", s.GetStandings)
	r.Get("/snapshots/{author}", s.GetSnapshots)
	r.Get("/trades", s.ListTrades)
	r.Get("/runs", s.ListRuns)
	r.Post("/runs", s.TriggerRun)
}

// StandingsResponse is the body of GET /standings.
type StandingsResponse struct {
	RunID        string           `json:"run_id"`
	At           time.Time        `json:"at"`
	Standings    []model.Standing `json:"standings"`
	EmptySymbols []string         `json:"empty_symbols,omitempty"`
}

// RunResponse is the body of POST /runs.
type RunResponse struct {
	Runs      []model.Run      `json:"runs"`
	Standings []model.Standing `json:"standings,omitempty"`
}

// GetStandings handles GET /api/v1/standings
func (s *Service) GetStandings(w http.ResponseWriter, r *http.Request) {
	rep := s.runner.Latest()
	if rep == nil {
		writeError(w, "no report has run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, StandingsResponse{
		RunID:        rep.Run.ID,
		At:           rep.At,
		Standings:    rep.Valuation.Standings,
		EmptySymbols: rep.Valuation.EmptySymbols,
	})
}

// GetSnapshots handles GET /api/v1/snapshots/{author}?since=RFC3339
func (s *Service) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "author")

	rep := s.runner.Latest()
	if rep == nil {
		writeError(w, "no report has run yet", http.StatusNotFound)
		return
	}

	snaps := rep.Valuation.Snapshots
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "since must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		snaps = standings.Since(snaps, since)
	}

	var out []model.BalanceSnapshot
	for _, sn := range snaps {
		if strings.EqualFold(sn.AuthorName, author) {
			out = append(out, sn)
		}
	}
	if len(out) == 0 {
		writeError(w, "no snapshots for "+author, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTrades handles GET /api/v1/trades?author=&symbol=
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		slog.Error("list trades failed", "err", err)
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}

	author := r.URL.Query().Get("author")
	symbol := r.URL.Query().Get("symbol")
	out := make([]model.TradeEvent, 0, len(trades))
	for _, t := range trades {
		if author != "" && !strings.EqualFold(t.AuthorName, author) {
			continue
		}
		if symbol != "" && !model.SameSymbol(t.Symbol, symbol) {
			continue
		}
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, out)
}

// ListRuns handles GET /api/v1/runs?limit=
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", "err", err)
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// TriggerRun handles POST /api/v1/runs?kind=ingest|report|all
func (s *Service) TriggerRun(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "all"
	}

	ctx := r.Context()
	var resp RunResponse
	switch kind {
	case engine.KindIngest:
		run, err := s.runner.Ingest(ctx)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.Runs = []model.Run{*run}
	case engine.KindReport:
		rep, err := s.runner.Report(ctx)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.Runs = []model.Run{rep.Run}
		resp.Standings = rep.Valuation.Standings
	case "all":
		run, err := s.runner.Ingest(ctx)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		rep, err := s.runner.Report(ctx)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.Runs = []model.Run{*run, rep.Run}
		resp.Standings = rep.Valuation.Standings
	default:
		writeError(w, "kind must be ingest, report or all", http.StatusBadRequest)
		return
	}

	slog.Info("run triggered", "kind", kind, "runs", len(resp.Runs))
	writeJSON(w, http.StatusCreated, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
