// Package web serves a small read-only status view of the item store.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/knolbot/internal/domain"
)

// Items lists every stored item.
type Items interface {
	All(ctx context.Context) ([]domain.Item, error)
}

// DueItems lists the items currently due for review.
type DueItems interface {
	Due(ctx context.Context) ([]domain.Item, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	items  Items
	due    DueItems
	router *http.ServeMux
	logger *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(items Items, due DueItems, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		items:  items,
		due:    due,
		router: http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())
	s.router.HandleFunc("GET /stats", s.handleGetStats())
	s.router.HandleFunc("GET /due", s.handleGetDue())
}

// Stats is the raw counter summary.
type Stats struct {
	Items    int            `json:"items"`
	ByPeriod map[string]int `json:"by_period"`
	Correct  int            `json:"correct"`
	Wrong    int            `json:"wrong"`
}

// Summarize aggregates raw counters over items.
func Summarize(items []domain.Item) Stats {
	st := Stats{Items: len(items), ByPeriod: make(map[string]int)}
	for _, p := range domain.Periods() {
		st.ByPeriod[p.String()] = 0
	}
	for _, it := range items {
		st.ByPeriod[it.Period.String()]++
		st.Correct += it.CorrectCount
		st.Wrong += it.WrongCount
	}
	return st
}

type dueItem struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Prompt        string    `json:"prompt"`
	Period        string    `json:"period"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleGetStats renders the counters per period.
func (s *Server) handleGetStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.items.All(r.Context())
		if err != nil {
			s.logger.Error("list items for stats", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, Summarize(items))
	}
}

// handleGetDue renders the items due now. Answers are never exposed.
func (s *Server) handleGetDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.due.Due(r.Context())
		if err != nil {
			s.logger.Error("list due items", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		out := make([]dueItem, 0, len(items))
		for _, it := range items {
			out = append(out, dueItem{
				ID:            it.ID,
				Kind:          it.Kind.String(),
				Prompt:        it.Prompt,
				Period:        it.Period.String(),
				LastAttemptAt: it.LastAttemptAt,
			})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}
