package engine

import (
	"fmt"
	"math"
	"sort"
)

// Estratégias de agregação. A decomposição é tentada primeiro; abaixo do
// limiar de qualidade cai para a média ponderada ingênua.
type Strategy string

const (
	StrategyDecomposition Strategy = "DECOMPOSITION"
	StrategyNaive         Strategy = "NAIVE"
)

// QualityThreshold é o limiar mínimo de decomposition_quality para aceitar
// o resultado da estratégia de decomposição.
const QualityThreshold = 0.3

// probEps evita logit/log de 0 e 1 exatos.
const probEps = 1e-6

// AggregationOutcome é o resultado tipado da agregação. O orquestrador
// despacha pela Strategy, nunca por inspeção de formato.
type AggregationOutcome struct {
	Strategy            Strategy
	Aggregate           float64
	Certainty           float64
	DisagreementEntropy float64
	// Quality é a decomposition_quality calculada, mesmo quando a saída veio
	// do fallback ingênuo (fica registrada para diagnóstico).
	Quality float64
	// Agregados leave-one-out: consenso recalculado excluindo o próprio
	// report de cada agente, para pontuar sem autorreferência.
	LeaveOneOut     map[string]float64
	LeaveOneOutMeta map[string]float64
}

func clampProb(p float64) float64 {
	if p < probEps {
		return probEps
	}
	if p > 1-probEps {
		return 1 - probEps
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// sortedAgents devolve os ids em ordem estável (iteração de map não é).
func sortedAgents(reports map[string]Report) []string {
	ids := make([]string, 0, len(reports))
	for id := range reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizedWeights devolve w_i/Σw_j restrito aos agentes de reports,
// excluindo opcionalmente um agente (leave-one-out). Falha quando a soma
// restante é zero — pesos aqui são unidades de moeda e uma soma nula não
// define média ponderada.
func normalizedWeights(reports map[string]Report, weights map[string]float64, exclude string) (map[string]float64, error) {
	sum := 0.0
	for id := range reports {
		if id == exclude {
			continue
		}
		sum += weights[id]
	}
	if sum <= 0 {
		return nil, fmt.Errorf("total weight is zero")
	}
	nw := make(map[string]float64, len(reports))
	for id := range reports {
		if id == exclude {
			continue
		}
		nw[id] = weights[id] / sum
	}
	return nw, nil
}

// looWeights é normalizedWeights com fallback para pesos iguais quando o
// agente excluído detinha todo o peso. Só usado nos leave-one-out: o agente
// restante ainda precisa de uma referência para ser pontuado.
func looWeights(reports map[string]Report, weights map[string]float64, exclude string) map[string]float64 {
	if nw, err := normalizedWeights(reports, weights, exclude); err == nil {
		return nw
	}
	n := len(reports) - 1
	nw := make(map[string]float64, n)
	for id := range reports {
		if id == exclude {
			continue
		}
		nw[id] = 1 / float64(n)
	}
	return nw
}

// jsDivergence é a divergência de Jensen–Shannon (base 2) entre duas
// distribuições de Bernoulli. Limitada a [0,1].
func jsDivergence(p, q float64) float64 {
	p = clampProb(p)
	q = clampProb(q)
	m := (p + q) / 2
	kl := func(a, b float64) float64 {
		return a*math.Log2(a/b) + (1-a)*math.Log2((1-a)/(1-b))
	}
	return kl(p, m)/2 + kl(q, m)/2
}

// weightedDisagreement é a JS divergence ponderada entre cada report e o
// agregado — a medida de desacordo do sistema.
func weightedDisagreement(reports map[string]Report, nw map[string]float64, aggregate float64) float64 {
	d := 0.0
	for id, r := range reports {
		d += nw[id] * jsDivergence(r.Belief, aggregate)
	}
	return d
}

// Aggregate combina os reports mais recentes em um consenso. Decomposição
// primeiro; qualidade < QualityThreshold (ou falha numérica) cai para a média
// ingênua. Erro fatal quando há menos de 2 agentes distintos ou quando as
// duas estratégias falham.
func Aggregate(reports map[string]Report, weights map[string]float64) (*AggregationOutcome, error) {
	if len(reports) < 2 {
		return nil, fmt.Errorf("%w: %d distinct agents reported", ErrInsufficientParticipants, len(reports))
	}

	out, decompErr := decompose(reports, weights)
	if decompErr == nil && out.Quality >= QualityThreshold {
		return out, nil
	}

	naive, naiveErr := naiveAverage(reports, weights)
	if naiveErr != nil {
		return nil, fmt.Errorf("%w: decomposition: %v; naive: %v", ErrAggregationFailure, decompErr, naiveErr)
	}
	if out != nil {
		naive.Quality = out.Quality // qualidade reprovada fica visível no resultado
	}
	return naive, nil
}

// decompose modela cada report como prior comum + sinal privado.
// Prior = média ponderada das meta-predições; sinais são offsets em log-odds
// de cada crença contra o prior; o agregado mistura os sinais de volta sobre
// o prior. Estimador de prior em forma fechada, sem ajuste iterativo.
func decompose(reports map[string]Report, weights map[string]float64) (*AggregationOutcome, error) {
	nw, err := normalizedWeights(reports, weights, "")
	if err != nil {
		return nil, err
	}

	agg, quality, err := decomposeSubset(reports, nw)
	if err != nil {
		return nil, err
	}

	loo := make(map[string]float64, len(reports))
	looMeta := make(map[string]float64, len(reports))
	for _, id := range sortedAgents(reports) {
		sub := looWeights(reports, weights, id)
		subAgg, _, serr := decomposeSubset(reports, sub)
		if serr != nil {
			return nil, serr
		}
		loo[id] = subAgg
		looMeta[id] = commonPrior(reports, sub)
	}

	dis := weightedDisagreement(reports, nw, agg)
	return &AggregationOutcome{
		Strategy:            StrategyDecomposition,
		Aggregate:           agg,
		Certainty:           clamp01(1 - dis),
		DisagreementEntropy: dis,
		Quality:             quality,
		LeaveOneOut:         loo,
		LeaveOneOutMeta:     looMeta,
	}, nil
}

// commonPrior estima o prior compartilhado como média ponderada das
// meta-predições (o que os agentes acham que a multidão acha).
func commonPrior(reports map[string]Report, nw map[string]float64) float64 {
	p := 0.0
	for id := range nw {
		p += nw[id] * reports[id].MetaPrediction
	}
	return clampProb(p)
}

// decomposeSubset agrega o subconjunto definido pelos pesos normalizados nw.
// Devolve o agregado e a decomposition_quality: 1 − exp(−massa de sinal),
// zero quando os reports não carregam informação além do prior.
func decomposeSubset(reports map[string]Report, nw map[string]float64) (agg, quality float64, err error) {
	prior := commonPrior(reports, nw)
	base := logit(prior)

	mix := 0.0
	signalMass := 0.0
	for id := range nw {
		sig := logit(clampProb(reports[id].Belief)) - base
		mix += nw[id] * sig
		signalMass += nw[id] * math.Abs(sig)
	}

	agg = sigmoid(base + mix)
	quality = 1 - math.Exp(-signalMass)
	if math.IsNaN(agg) || math.IsInf(agg, 0) || math.IsNaN(quality) {
		return 0, 0, fmt.Errorf("decomposition produced non-finite values")
	}
	return clamp01(agg), clamp01(quality), nil
}

// naiveAverage é o fallback: média das crenças normalizada por peso.
func naiveAverage(reports map[string]Report, weights map[string]float64) (*AggregationOutcome, error) {
	nw, err := normalizedWeights(reports, weights, "")
	if err != nil {
		return nil, err
	}

	agg := 0.0
	for id, r := range reports {
		agg += nw[id] * r.Belief
	}
	agg = clamp01(agg)

	loo := make(map[string]float64, len(reports))
	looMeta := make(map[string]float64, len(reports))
	for _, id := range sortedAgents(reports) {
		sub := looWeights(reports, weights, id)
		a, m := 0.0, 0.0
		for sid, w := range sub {
			a += w * reports[sid].Belief
			m += w * reports[sid].MetaPrediction
		}
		loo[id] = clamp01(a)
		looMeta[id] = clamp01(m)
	}

	dis := weightedDisagreement(reports, nw, agg)
	return &AggregationOutcome{
		Strategy:            StrategyNaive,
		Aggregate:           agg,
		Certainty:           clamp01(1 - dis),
		DisagreementEntropy: dis,
		LeaveOneOut:         loo,
		LeaveOneOutMeta:     looMeta,
	}, nil
}
