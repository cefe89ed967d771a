package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStakeDeltasSumToZero(t *testing.T) {
	scores := map[string]float64{"a": 1.7, "b": -0.4, "c": 0.1, "d": -2.3}
	weights := map[string]float64{"a": 2.0, "b": 3.0, "c": 1.5, "d": 0.75}

	deltas := StakeDeltas(scores, weights)

	sum := 0.0
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
}

func TestStakeDeltasBoundedByWeight(t *testing.T) {
	// scores extremos não podem mover mais que w_i por agente
	scores := map[string]float64{"a": 50.0, "b": -50.0, "c": 0.0}
	weights := map[string]float64{"a": 2.0, "b": 3.0, "c": 1.5}

	deltas := StakeDeltas(scores, weights)

	for id, d := range deltas {
		assert.LessOrEqual(t, math.Abs(d), weights[id]+1e-12, "agent %s", id)
	}
}

func TestStakeDeltasZeroWeightNeverMovesStake(t *testing.T) {
	scores := map[string]float64{"a": 2.0, "b": -2.0, "diag": 5.0}
	weights := map[string]float64{"a": 1.0, "b": 1.0, "diag": 0.0}

	deltas := StakeDeltas(scores, weights)

	assert.Equal(t, 0.0, deltas["diag"])
}

func TestStakeDeltasSymmetricPairExactlyZero(t *testing.T) {
	// inputs espelhados com pesos iguais produzem scores iguais (ver teste
	// do scorer); centralização leva os dois deltas a exatamente zero
	s := ScoreBTS(Report{Belief: 0.75, MetaPrediction: 0.6}, 0.25, 0.4)
	scores := map[string]float64{"a": s, "b": s}
	weights := map[string]float64{"a": 2.0, "b": 2.0}

	deltas := StakeDeltas(scores, weights)

	assert.Equal(t, 0.0, deltas["a"])
	assert.Equal(t, 0.0, deltas["b"])
}

func TestStakeDeltasAllWeightsZero(t *testing.T) {
	scores := map[string]float64{"a": 1.0, "b": -1.0}
	weights := map[string]float64{"a": 0.0, "b": 0.0}

	deltas := StakeDeltas(scores, weights)

	for _, d := range deltas {
		assert.Equal(t, 0.0, d)
	}
}

func TestSummarizeSplitsWinnersAndLosers(t *testing.T) {
	applied := map[string]float64{"a": 1.2, "b": -0.9, "c": -0.3, "d": 0.0}

	sum := Summarize(applied, DefaultZeroSumEpsilon)

	assert.InDelta(t, 1.2, sum.SlashingPool, 1e-12)
	assert.Equal(t, map[string]float64{"a": 1.2}, sum.Rewards)
	assert.Equal(t, map[string]float64{"b": 0.9, "c": 0.3}, sum.Slashes)
	assert.False(t, sum.Violated)
}

func TestSummarizeFlagsZeroSumViolation(t *testing.T) {
	// piso de stake truncou um débito: sobra residual acima da tolerância
	applied := map[string]float64{"a": 1.0, "b": -0.5}

	sum := Summarize(applied, DefaultZeroSumEpsilon)

	assert.True(t, sum.Violated)
	assert.InDelta(t, 0.5, sum.Residual, 1e-12)
}
