package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/history"
	"github.com/samuelhorjet/solana-forge/internal/locks"
)

const defaultPageSize = 50

// LockLister enumerates an identity's lock accounts.
type LockLister interface {
	List(ctx context.Context, identity string) ([]model.LockRecord, error)
}

// Server exposes the read API over the reconciled history.
type Server struct {
	service *history.Service
	locks   LockLister
	logger  *slog.Logger
}

var _ LockLister = (*locks.Lister)(nil)

func New(service *history.Service, lockLister LockLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		locks:   lockLister,
		logger:  logger.With("component", "server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/history/{identity}", s.handleHistory)
	mux.HandleFunc("POST /v1/history/{identity}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /v1/locks/{identity}", s.handleLocks)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type historyResponse struct {
	Identity string                 `json:"identity"`
	Total    int                    `json:"total"`
	Records  []model.ActivityRecord `json:"records"`
	Progress string                 `json:"progress,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	records, err := s.service.Records(identity)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if kind := r.URL.Query().Get("type"); kind != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if string(rec.Kind) == kind {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	total := len(records)
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageSize)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	progress, _ := s.service.Progress(identity)
	writeJSON(w, http.StatusOK, historyResponse{
		Identity: identity,
		Total:    total,
		Records:  records[offset:end],
		Progress: progress,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	records, err := s.service.Refresh(r.Context(), identity)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Identity: identity,
		Total:    len(records),
		Records:  records,
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	records, err := s.locks.List(r.Context(), identity)
	if err != nil {
		s.logger.Error("lock listing failed", "identity", identity, "error", err)
		writeError(w, http.StatusBadGateway, "lock listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"locks":    records,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"identities": len(s.service.Identities()),
	})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrUnknownIdentity):
		writeError(w, http.StatusNotFound, "identity not watched")
	case errors.Is(err, history.ErrReconcileInFlight):
		writeError(w, http.StatusConflict, "reconcile already in flight")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusBadGateway, "reconcile failed")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
