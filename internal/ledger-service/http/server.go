package http

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/beliefmkt/belief-consensus-poc/internal/ledger-service/dto"
	"github.com/beliefmkt/belief-consensus-poc/internal/ledger-service/repo"
)

// Repo define as operações de ledger usadas pelo handler HTTP
type Repo interface {
	RecordTrade(ctx context.Context, agentID, beliefID string, notional float64, externalRef string) error
	ClosePosition(ctx context.Context, agentID, beliefID string) error
	GetWeight(ctx context.Context, agentID, beliefID string, fraction float64) (float64, error)
	ApplyStakeDelta(ctx context.Context, agentID string, delta float64, externalRef string) (float64, error)
	GetStake(ctx context.Context, agentID string) (float64, error)
}

// Server expõe o ledger externo de posições/stake via HTTP.
type Server struct {
	log      *zap.Logger
	repo     Repo
	fraction float64 // fração do notional que vira peso
}

func NewServer(log *zap.Logger, repo Repo, fraction float64) *Server {
	return &Server{log: log, repo: repo, fraction: fraction}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/positions/trade", s.trade)  // POST
	mux.HandleFunc("/positions/close", s.close)  // POST
	mux.HandleFunc("/weights", s.getWeight)      // GET ?agentId=&beliefId=
	mux.HandleFunc("/stake/delta", s.stakeDelta) // POST
	mux.HandleFunc("/stake", s.getStake)         // GET ?agentId=
	return mux
}

// httpStatus mapeia erros do repo para status HTTP. Contenção de lock vira
// 423 — sinal retryable pro chamador, nunca espera indefinida.
func httpStatus(err error) int {
	switch err {
	case repo.ErrNotFound:
		return http.StatusNotFound
	case repo.ErrInsufficientStake:
		return http.StatusConflict
	case repo.ErrLockContention:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// trade registra a última trade do agente num belief (muda o peso futuro)
func (s *Server) trade(w http.ResponseWriter, r *http.Request) {
	var req dto.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.BeliefID == "" || req.Notional <= 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.repo.RecordTrade(r.Context(), req.AgentID, req.BeliefID, req.Notional, req.ExternalRef); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"RECORDED"}`))
}

// close encerra a posição: peso passa a ser 0
func (s *Server) close(w http.ResponseWriter, r *http.Request) {
	var req dto.ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.BeliefID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.repo.ClosePosition(r.Context(), req.AgentID, req.BeliefID); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"CLOSED"}`))
}

func (s *Server) getWeight(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	beliefID := r.URL.Query().Get("beliefId")
	if agentID == "" || beliefID == "" {
		http.Error(w, "agentId and beliefId required", http.StatusBadRequest)
		return
	}
	weight, err := s.repo.GetWeight(r.Context(), agentID, beliefID, s.fraction)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, dto.WeightResponse{AgentID: agentID, BeliefID: beliefID, Weight: weight})
}

// stakeDelta aplica um delta de stake atômico (caminho externo de trade)
func (s *Server) stakeDelta(w http.ResponseWriter, r *http.Request) {
	var req dto.StakeDeltaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Delta == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	bal, err := s.repo.ApplyStakeDelta(r.Context(), req.AgentID, req.Delta, req.ExternalRef)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, dto.StakeResponse{AgentID: req.AgentID, TotalStake: bal})
}

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		http.Error(w, "agentId required", http.StatusBadRequest)
		return
	}
	stake, err := s.repo.GetStake(r.Context(), agentID)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, dto.StakeResponse{AgentID: agentID, TotalStake: stake})
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
