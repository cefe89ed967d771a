package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const beliefID = "belief-1"

// setupOrchestrator monta o cenário concreto: A, B, C com crenças
// 0.75/0.30/0.80, meta-predições 0.6/0.4/0.7 e pesos $2.00/$3.00/$1.50
// (2% dos notionals $100/$150/$75).
func setupOrchestrator() (*Orchestrator, *mockStore) {
	store := newMockStore()
	store.beliefs[beliefID] = &Belief{
		ID:                 beliefID,
		PreviousAggregate:  0.5,
		Certainty:          0.5,
		LastProcessedEpoch: 4,
	}
	store.reports[beliefID] = map[string]Report{
		"a": {Belief: 0.75, MetaPrediction: 0.6},
		"b": {Belief: 0.30, MetaPrediction: 0.4},
		"c": {Belief: 0.80, MetaPrediction: 0.7},
	}
	store.activeBy[5] = []string{"a", "b", "c"}
	store.notionals = map[string]float64{"a": 100, "b": 150, "c": 75}
	store.stakes = map[string]float64{"a": 100, "b": 100, "c": 100}

	o := &Orchestrator{
		Log:         zap.NewNop(),
		Beliefs:     store,
		Submissions: store,
		Resolver:    NewWeightResolver(store, 0.02),
		Committer:   store,
	}
	return o, store
}

func TestProcessEpochConcreteScenario(t *testing.T) {
	o, store := setupOrchestrator()
	weights := map[string]float64{"a": 2.00, "b": 3.00, "c": 1.50}

	res, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, 3, res.ParticipantCount)
	assert.False(t, res.Skipped)

	// consenso dentro de [min(reports), max(reports)]
	assert.GreaterOrEqual(t, res.Aggregate, 0.30)
	assert.LessOrEqual(t, res.Aggregate, 0.80)

	// |ΔS_i| ≤ w_i por agente e Σ ΔS_i dentro da tolerância
	sum := 0.0
	require.Len(t, store.events, 3)
	for _, e := range store.events {
		assert.LessOrEqual(t, math.Abs(e.Delta), weights[e.AgentID]+1e-12, "agent %s", e.AgentID)
		sum += e.Delta
	}
	assert.InDelta(t, 0.0, sum, DefaultZeroSumEpsilon)

	// belief avançou e o histórico foi gravado na mesma transição
	assert.Equal(t, int64(5), store.beliefs[beliefID].LastProcessedEpoch)
	require.Len(t, store.history, 1)
	assert.Equal(t, res.Aggregate, store.history[0].Aggregate)
}

func TestProcessEpochIdempotent(t *testing.T) {
	o, store := setupOrchestrator()

	first, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)
	eventsAfterFirst := len(store.events)

	// trigger externo re-entregue: mesmo resultado, nenhuma escrita nova
	second, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, StateSkipped, second.State)
	assert.Equal(t, first.Aggregate, second.Aggregate)
	assert.Equal(t, first.Certainty, second.Certainty)
	assert.Equal(t, eventsAfterFirst, len(store.events))
	assert.Equal(t, 1, store.commits)
}

func TestProcessEpochSkippedCarriesCachedValues(t *testing.T) {
	o, store := setupOrchestrator()
	store.beliefs[beliefID].PreviousAggregate = 0.73
	store.beliefs[beliefID].Certainty = 0.61
	store.beliefs[beliefID].LastProcessedEpoch = 9

	res, err := o.ProcessEpoch(context.Background(), beliefID, 7)
	require.NoError(t, err)

	// skip nunca devolve placeholder zerado
	assert.True(t, res.Skipped)
	assert.Equal(t, 0.73, res.Aggregate)
	assert.Equal(t, 0.61, res.Certainty)
	assert.NotNil(t, res.IndividualRewards)
	assert.NotNil(t, res.IndividualSlashes)
}

func TestProcessEpochValidatesInput(t *testing.T) {
	o, _ := setupOrchestrator()

	_, err := o.ProcessEpoch(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = o.ProcessEpoch(context.Background(), beliefID, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessEpochBeliefNotFound(t *testing.T) {
	o, _ := setupOrchestrator()

	_, err := o.ProcessEpoch(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessEpochExpiredBelief(t *testing.T) {
	o, store := setupOrchestrator()
	store.beliefs[beliefID].ExpirationEpoch = 4

	_, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessEpochInsufficientParticipants(t *testing.T) {
	o, store := setupOrchestrator()
	store.reports[beliefID] = map[string]Report{
		"a": {Belief: 0.75, MetaPrediction: 0.6},
	}

	_, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	assert.ErrorIs(t, err, ErrInsufficientParticipants)

	// falha fatal não avança a época
	assert.Equal(t, int64(4), store.beliefs[beliefID].LastProcessedEpoch)
}

func TestProcessEpochPersistenceFailureRollsBack(t *testing.T) {
	o, store := setupOrchestrator()
	store.failCommit = true

	_, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.ErrorIs(t, err, ErrPersistence)

	// nenhum subconjunto parcial fica durável
	assert.Equal(t, int64(4), store.beliefs[beliefID].LastProcessedEpoch)
	assert.Equal(t, 0.5, store.beliefs[beliefID].PreviousAggregate)
	assert.Empty(t, store.events)
	assert.Empty(t, store.history)
	assert.Equal(t, 100.0, store.stakes["a"])
}

func TestProcessEpochLockContentionIsRetryable(t *testing.T) {
	o, store := setupOrchestrator()
	store.lockContended = true

	// contenção não vira ErrPersistence: o chamador distingue e re-tenta
	_, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.ErrorIs(t, err, ErrLockContention)
	assert.NotErrorIs(t, err, ErrPersistence)
	assert.Equal(t, int64(4), store.beliefs[beliefID].LastProcessedEpoch)

	store.lockContended = false
	res, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
}

func TestProcessEpochStakeNeverGoesNegative(t *testing.T) {
	o, store := setupOrchestrator()
	// conformista pesado com stake quase zerado: o débito pedido passa do
	// saldo e o piso trunca — gerando a violação de zero-sum tolerada
	store.reports[beliefID] = map[string]Report{
		"a": {Belief: 0.5, MetaPrediction: 0.5},
		"b": {Belief: 0.90, MetaPrediction: 0.2},
		"c": {Belief: 0.85, MetaPrediction: 0.3},
	}
	store.notionals = map[string]float64{"a": 500, "b": 100, "c": 100}
	store.stakes = map[string]float64{"a": 0.05, "b": 100, "c": 100}

	violations := 0
	o.OnZeroSumViolation = func() { violations++ }

	res, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)

	for id, s := range store.stakes {
		assert.GreaterOrEqual(t, s, 0.0, "agent %s", id)
	}
	assert.Equal(t, 0.0, store.stakes["a"])
	assert.InDelta(t, 0.05, res.IndividualSlashes["a"], 1e-9)

	// diagnóstico emitido, commit não bloqueado
	assert.Equal(t, 1, violations)
	assert.Equal(t, StateCommitted, res.State)
}

func TestProcessEpochZeroWeightAgentMovesNoStake(t *testing.T) {
	o, store := setupOrchestrator()
	// d reporta e está ativo, mas sem posição aberta: pontuado, stake parado
	store.reports[beliefID]["d"] = Report{Belief: 0.6, MetaPrediction: 0.5}
	store.activeBy[5] = append(store.activeBy[5], "d")
	store.stakes["d"] = 50

	_, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)

	assert.Equal(t, 50.0, store.stakes["d"])
}

func TestProcessEpochSingleActiveAgentSkipsRedistribution(t *testing.T) {
	o, store := setupOrchestrator()
	// só um agente submeteu nesta época: sem base de comparação pro BTS,
	// mas o consenso ainda avança
	store.activeBy[5] = []string{"a"}

	res, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, res.State)
	assert.False(t, res.RedistributionOccurred)
	assert.Empty(t, store.events)
	assert.Equal(t, int64(5), store.beliefs[beliefID].LastProcessedEpoch)
	require.Len(t, store.history, 1)
}

func TestProcessEpochRewardsAndSlashesReconstructable(t *testing.T) {
	o, store := setupOrchestrator()

	res, err := o.ProcessEpoch(context.Background(), beliefID, 5)
	require.NoError(t, err)
	require.True(t, res.RedistributionOccurred)

	// a trilha de auditoria reconstrói vencedores e perdedores do resultado
	for _, e := range store.events {
		switch {
		case e.Delta > 0:
			assert.InDelta(t, e.Delta, res.IndividualRewards[e.AgentID], 1e-12)
		case e.Delta < 0:
			assert.InDelta(t, -e.Delta, res.IndividualSlashes[e.AgentID], 1e-12)
		}
	}
	pool := 0.0
	for _, s := range res.IndividualSlashes {
		pool += s
	}
	assert.InDelta(t, pool, res.SlashingPool, 1e-12)
}
