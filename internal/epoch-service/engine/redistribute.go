package engine

import "math"

// DefaultZeroSumEpsilon é a tolerância padrão da soma dos deltas de um
// belief-época (unidades de moeda).
const DefaultZeroSumEpsilon = 0.01

// StakeDeltas converte scores BTS ilimitados em deltas de stake limitados:
//
//  1. tanh comprime o score para (−1,1);
//  2. centraliza pela média ponderada por peso — a soma ponderada dos scores
//     centralizados é exatamente zero, o que torna a redistribuição
//     zero-sum por construção;
//  3. se algum score centralizado passa de magnitude 1, TODOS são
//     reescalados pelo máximo — o reescalonamento preserva o zero-sum e
//     garante |ΔS_i| ≤ w_i por agente (ΔS_i = score × w_i).
//
// Agentes com peso zero recebem delta zero (pontuados só para diagnóstico).
// O piso de stake (nunca negativo) é aplicado depois, por agente e de forma
// independente, pelo committer — e é ele que ocasionalmente quebra o
// zero-sum exato, dentro da tolerância diagnosticada.
func StakeDeltas(scores, weights map[string]float64) map[string]float64 {
	squashed := make(map[string]float64, len(scores))
	weightSum := 0.0
	weightedSum := 0.0
	for id, s := range scores {
		n := math.Tanh(s)
		squashed[id] = n
		w := weights[id]
		if w > 0 {
			weightSum += w
			weightedSum += w * n
		}
	}

	deltas := make(map[string]float64, len(scores))
	if weightSum <= 0 {
		for id := range scores {
			deltas[id] = 0
		}
		return deltas
	}

	mean := weightedSum / weightSum
	centered := make(map[string]float64, len(squashed))
	maxAbs := 0.0
	for id, n := range squashed {
		if weights[id] <= 0 {
			continue
		}
		c := n - mean
		centered[id] = c
		if a := math.Abs(c); a > maxAbs {
			maxAbs = a
		}
	}

	scale := 1.0
	if maxAbs > 1 {
		scale = 1 / maxAbs
	}
	for id := range scores {
		if weights[id] <= 0 {
			deltas[id] = 0
			continue
		}
		deltas[id] = centered[id] * scale * weights[id]
	}
	return deltas
}

// RedistributionSummary reconstrói vencedores/perdedores a partir dos deltas
// efetivamente aplicados (pós-piso) e verifica o zero-sum aproximado.
type RedistributionSummary struct {
	SlashingPool float64
	Rewards      map[string]float64
	Slashes      map[string]float64
	Residual     float64
	Violated     bool
}

// Summarize agrega os deltas aplicados. |Σ ΔS_i| > eps gera a violação de
// zero-sum — diagnóstico esperado ocasionalmente, nunca bloqueia o commit.
func Summarize(applied map[string]float64, eps float64) RedistributionSummary {
	sum := RedistributionSummary{
		Rewards: make(map[string]float64),
		Slashes: make(map[string]float64),
	}
	for id, d := range applied {
		switch {
		case d > 0:
			sum.Rewards[id] = d
		case d < 0:
			sum.Slashes[id] = -d
			sum.SlashingPool += -d
		}
		sum.Residual += d
	}
	sum.Violated = math.Abs(sum.Residual) > eps
	return sum
}
