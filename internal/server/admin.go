package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/journal"
	"github.com/NikZak/pact-proxy/internal/pact"
	"github.com/NikZak/pact-proxy/internal/store"
)

// HealthResponse is the body of /__admin/health.
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Documents int    `json:"documents"`
}

// PactListResponse is the body of /__admin/pacts.
type PactListResponse struct {
	Dir   string           `json:"dir"`
	Pacts []store.KeyStats `json:"pacts"`
}

// ExchangeListResponse is the body of /__admin/exchanges.
type ExchangeListResponse struct {
	Exchanges []journal.Entry `json:"exchanges"`
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/pacts", s.handleListPacts)
	r.Get("/pacts/{consumer}/{provider}", s.handleGetPact)
	r.Get("/exchanges", s.handleListExchanges)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "ok",
		State:     s.State().String(),
		Documents: s.store.Len(),
	})
}

func (s *Server) handleListPacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, PactListResponse{Dir: s.store.Dir(), Pacts: s.store.Stats()})
}

func (s *Server) handleGetPact(w http.ResponseWriter, r *http.Request) {
	key := domain.InteractionKey{
		Consumer: chi.URLParam(r, "consumer"),
		Provider: chi.URLParam(r, "provider"),
	}
	doc, ok := s.store.Document(key)
	if !ok {
		http.Error(w, "no pact for "+key.String(), http.StatusNotFound)
		return
	}

	data, err := pact.Marshal(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list exchanges failed", slog.String("error", err.Error()))
		http.Error(w, "failed to list exchanges", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, ExchangeListResponse{Exchanges: entries})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
