package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	ccache "github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/cache"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/dto"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/repo"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/settle"
)

// Server expõe a API do motor de consenso: process_epoch e leituras.
type Server struct {
	log     *zap.Logger
	settler *settle.Settler
	repo    *repo.Postgres
	cache   *ccache.ConsensusCache
}

func NewServer(log *zap.Logger, s *settle.Settler, r *repo.Postgres, c *ccache.ConsensusCache) *Server {
	return &Server{log: log, settler: s, repo: r, cache: c}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/epochs/process", s.processEpoch)
	r.Get("/v1/beliefs/{id}/consensus", s.getConsensus)
	r.Get("/v1/beliefs/{id}/history", s.getHistory)
	r.Get("/v1/beliefs/{id}/events", s.getEvents)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor mapeia a taxonomia de erros do motor para HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientParticipants),
		errors.Is(err, engine.ErrAggregationFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrLockContention):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// processEpoch é o entry point primário: process_epoch(belief_id, epoch).
func (s *Server) processEpoch(w http.ResponseWriter, r *http.Request) {
	var req dto.ProcessEpochRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	res, err := s.settler.Settle(r.Context(), req.BeliefID, req.Epoch)
	if err != nil {
		s.log.Warn("process epoch failed",
			zap.String("beliefId", req.BeliefID),
			zap.Int64("epoch", req.Epoch),
			zap.Error(err),
		)
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, dto.ProcessEpochResponse{
		BeliefID:               res.BeliefID,
		Epoch:                  res.Epoch,
		ParticipantCount:       res.ParticipantCount,
		Aggregate:              res.Aggregate,
		Certainty:              res.Certainty,
		DisagreementEntropy:    res.DisagreementEntropy,
		RedistributionOccurred: res.RedistributionOccurred,
		SlashingPool:           res.SlashingPool,
		IndividualRewards:      res.IndividualRewards,
		IndividualSlashes:      res.IndividualSlashes,
		Skipped:                res.Skipped,
	})
}

// getConsensus lê o consenso corrente: cache Redis com fallthrough pro banco.
func (s *Server) getConsensus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.cache != nil {
		if u, ok, _ := s.cache.GetCurrent(r.Context(), id); ok {
			writeJSON(w, http.StatusOK, dto.ConsensusResponse{
				BeliefID:            u.BeliefID,
				Epoch:               u.Epoch,
				Aggregate:           u.Aggregate,
				Certainty:           u.Certainty,
				DisagreementEntropy: u.DisagreementEntropy,
				UpdatedAt:           u.UpdatedAt,
			})
			return
		}
	}

	b, err := s.repo.GetBelief(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dto.ConsensusResponse{
		BeliefID:  b.ID,
		Epoch:     b.LastProcessedEpoch,
		Aggregate: b.PreviousAggregate,
		Certainty: b.Certainty,
		UpdatedAt: b.UpdatedAt,
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hs, err := s.repo.HistoryByBelief(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]dto.HistoryEntry, 0, len(hs))
	for _, h := range hs {
		out = append(out, dto.HistoryEntry{
			Epoch:               h.Epoch,
			Aggregate:           h.Aggregate,
			Certainty:           h.Certainty,
			DisagreementEntropy: h.DisagreementEntropy,
			RecordedAt:          h.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// getEvents expõe a trilha de auditoria de um belief-época.
func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	epoch, err := strconv.ParseInt(r.URL.Query().Get("epoch"), 10, 64)
	if err != nil || epoch <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "epoch required"})
		return
	}

	evs, err := s.repo.EventsByBeliefEpoch(r.Context(), id, epoch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
