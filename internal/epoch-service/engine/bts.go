package engine

import (
	"fmt"
	"math"
)

// ScoreBTS calcula o score de informação de um agente no estilo
// Bayesian Truth Serum contínuo, contra referências leave-one-out (o agente
// nunca é pontuado contra um consenso que ele mesmo ajudou a produzir).
//
// score = informação + predição:
//   - informação: recompensa crença que desvia do consenso na direção que a
//     meta-predição da multidão sub-antecipou ("surpreendentemente popular");
//   - predição: −KL entre o consenso e a meta-predição do agente, penaliza
//     meta-predições ruins.
//
// Ilimitado e sem clamp; a normalização é responsabilidade da redistribuição.
func ScoreBTS(r Report, looAggregate, looMetaAggregate float64) float64 {
	b := clampProb(r.Belief)
	m := clampProb(r.MetaPrediction)
	x := clampProb(looAggregate)
	y := clampProb(looMetaAggregate)

	information := b*math.Log(x/y) + (1-b)*math.Log((1-x)/(1-y))
	prediction := x*math.Log(m/x) + (1-x)*math.Log((1-m)/(1-x))
	return information + prediction
}

// ScoreActiveAgents pontua os agentes do conjunto ativo da época corrente.
// Agentes com peso zero também são pontuados (diagnóstico); quem não move
// stake é decidido depois, pela redistribuição. O orquestrador só chama com
// ≥2 agentes ativos — abaixo disso não há base de comparação.
func ScoreActiveAgents(reports map[string]Report, active map[string]bool, out *AggregationOutcome) (map[string]float64, error) {
	scores := make(map[string]float64)
	for id, r := range reports {
		if !active[id] {
			continue
		}
		loo, ok := out.LeaveOneOut[id]
		if !ok {
			return nil, fmt.Errorf("missing leave-one-out aggregate for agent %s", id)
		}
		scores[id] = ScoreBTS(r, loo, out.LeaveOneOutMeta[id])
	}
	return scores, nil
}
