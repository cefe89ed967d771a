package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BeliefStore lê o estado corrente de um belief.
type BeliefStore interface {
	GetBelief(ctx context.Context, beliefID string) (*Belief, error)
}

// SubmissionStore lê o submission store externo (append-only).
type SubmissionStore interface {
	// LatestByAgent devolve o report mais recente de cada agente (qualquer
	// época) — é isso que alimenta a agregação.
	LatestByAgent(ctx context.Context, beliefID string) (map[string]Report, error)
	// ActiveAgents devolve os agentes com submissão na época corrente —
	// o conjunto ativo de scoring.
	ActiveAgents(ctx context.Context, beliefID string, epoch int64) ([]string, error)
}

// Committer persiste a transição de época como uma unidade atômica: belief,
// histórico, eventos de redistribuição e deltas de stake — tudo ou nada.
// Aplica o piso de stake por agente e devolve os deltas efetivos.
type Committer interface {
	CommitEpochTransition(ctx context.Context, t *EpochTransition) (applied map[string]float64, err error)
}

const defaultCallTimeout = 3 * time.Second

// Orchestrator é a máquina de estados de processamento de época:
// Pending → WeightsResolved → Aggregated → Scored → Redistributed → Committed,
// com Skipped (no-op idempotente) e Failed (nenhuma mutação) terminais.
// Sem retries implícitos: o guard de idempotência é o único mecanismo de
// resiliência; o chamador re-invoca após Failed.
type Orchestrator struct {
	Log         *zap.Logger
	Beliefs     BeliefStore
	Submissions SubmissionStore
	Resolver    *WeightResolver
	Committer   Committer

	// CallTimeout limita cada chamada a dependência externa.
	CallTimeout    time.Duration
	ZeroSumEpsilon float64

	// Callbacks de métricas (counter++), opcionais.
	OnCommitted          func()
	OnSkipped            func()
	OnFailed             func(stage string)
	OnZeroSumViolation   func()
	OnLowQualityFallback func()
}

func (o *Orchestrator) timeout() time.Duration {
	if o.CallTimeout > 0 {
		return o.CallTimeout
	}
	return defaultCallTimeout
}

func (o *Orchestrator) epsilon() float64 {
	if o.ZeroSumEpsilon > 0 {
		return o.ZeroSumEpsilon
	}
	return DefaultZeroSumEpsilon
}

func (o *Orchestrator) fail(stage string, err error) (*Result, error) {
	if o.OnFailed != nil {
		o.OnFailed(stage)
	}
	return nil, err
}

// ProcessEpoch liquida uma época de um belief, fim a fim, em processo.
// Seguro para chamadas repetidas (trigger externo at-least-once): época já
// processada vira Skipped com os valores em cache, sem recomputação e sem
// novas escritas.
func (o *Orchestrator) ProcessEpoch(ctx context.Context, beliefID string, epoch int64) (*Result, error) {
	if beliefID == "" {
		return o.fail("validate", fmt.Errorf("%w: belief id required", ErrValidation))
	}
	if epoch <= 0 {
		return o.fail("validate", fmt.Errorf("%w: epoch must be positive, got %d", ErrValidation, epoch))
	}

	bctx, cancel := context.WithTimeout(ctx, o.timeout())
	belief, err := o.Beliefs.GetBelief(bctx, beliefID)
	cancel()
	if err != nil {
		return o.fail("load_belief", err)
	}

	// Guard de idempotência: last_processed_epoch é estritamente
	// não-decrescente e cada época transiciona no máximo uma vez.
	if belief.LastProcessedEpoch >= epoch {
		if o.OnSkipped != nil {
			o.OnSkipped()
		}
		return &Result{
			BeliefID:          beliefID,
			Epoch:             epoch,
			State:             StateSkipped,
			Aggregate:         belief.PreviousAggregate,
			Certainty:         belief.Certainty,
			IndividualRewards: map[string]float64{},
			IndividualSlashes: map[string]float64{},
			Skipped:           true,
		}, nil
	}

	if belief.ExpirationEpoch > 0 && epoch > belief.ExpirationEpoch {
		return o.fail("validate", fmt.Errorf("%w: belief %s expired at epoch %d", ErrValidation, beliefID, belief.ExpirationEpoch))
	}

	sctx, cancel := context.WithTimeout(ctx, o.timeout())
	reports, err := o.Submissions.LatestByAgent(sctx, beliefID)
	cancel()
	if err != nil {
		return o.fail("load_submissions", fmt.Errorf("latest submissions: %w", err))
	}
	if len(reports) < 2 {
		return o.fail("participants", fmt.Errorf("%w: %d distinct agents reported", ErrInsufficientParticipants, len(reports)))
	}

	actx, cancel := context.WithTimeout(ctx, o.timeout())
	activeIDs, err := o.Submissions.ActiveAgents(actx, beliefID, epoch)
	cancel()
	if err != nil {
		return o.fail("load_active_set", fmt.Errorf("active agents: %w", err))
	}
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		if _, ok := reports[id]; ok {
			active[id] = true
		}
	}

	// WeightsResolved
	wctx, cancel := context.WithTimeout(ctx, o.timeout())
	weights, err := o.Resolver.Resolve(wctx, beliefID, sortedAgents(reports))
	cancel()
	if err != nil {
		return o.fail("resolve_weights", err)
	}

	// Aggregated
	outcome, err := Aggregate(reports, weights)
	if err != nil {
		return o.fail("aggregate", err)
	}
	if outcome.Strategy == StrategyNaive && outcome.Quality < QualityThreshold {
		o.Log.Warn("low decomposition quality, naive fallback used",
			zap.String("beliefId", beliefID),
			zap.Float64("quality", outcome.Quality),
		)
		if o.OnLowQualityFallback != nil {
			o.OnLowQualityFallback()
		}
	}

	// Scored + Redistributed: só com ≥2 agentes ativos na época corrente;
	// sem base de comparação o consenso ainda avança, stake não se move.
	deltas := map[string]float64{}
	redistribute := len(active) >= 2
	if redistribute {
		scores, serr := ScoreActiveAgents(reports, active, outcome)
		if serr != nil {
			return o.fail("score", fmt.Errorf("%w: %v", ErrAggregationFailure, serr))
		}
		deltas = StakeDeltas(scores, weights)
	}

	// Committed: uma unidade lógica durável.
	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	applied, err := o.Committer.CommitEpochTransition(cctx, &EpochTransition{
		BeliefID:            beliefID,
		Epoch:               epoch,
		Aggregate:           outcome.Aggregate,
		Certainty:           outcome.Certainty,
		DisagreementEntropy: outcome.DisagreementEntropy,
		StakeDeltas:         deltas,
	})
	cancel()
	if err != nil {
		if errors.Is(err, ErrLockContention) {
			return o.fail("commit", err)
		}
		return o.fail("commit", fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	summary := Summarize(applied, o.epsilon())
	if summary.Violated {
		o.Log.Warn("zero-sum violation",
			zap.String("beliefId", beliefID),
			zap.Int64("epoch", epoch),
			zap.Float64("residual", summary.Residual),
		)
		if o.OnZeroSumViolation != nil {
			o.OnZeroSumViolation()
		}
	}
	if o.OnCommitted != nil {
		o.OnCommitted()
	}

	return &Result{
		BeliefID:               beliefID,
		Epoch:                  epoch,
		State:                  StateCommitted,
		ParticipantCount:       len(reports),
		Aggregate:              outcome.Aggregate,
		Certainty:              outcome.Certainty,
		DisagreementEntropy:    outcome.DisagreementEntropy,
		RedistributionOccurred: redistribute && len(summary.Rewards)+len(summary.Slashes) > 0,
		SlashingPool:           summary.SlashingPool,
		IndividualRewards:      summary.Rewards,
		IndividualSlashes:      summary.Slashes,
	}, nil
}
