package engine

import (
	"context"
	"fmt"
)

// DefaultWeightFraction é a fração do notional da última trade que vira peso
// de influência/risco (2%).
const DefaultWeightFraction = 0.02

// PositionStore lê o lado de posições do ledger externo.
type PositionStore interface {
	BeliefExists(ctx context.Context, beliefID string) (bool, error)
	// LastTradeNotionals devolve, por agente, o notional da última trade em
	// posição aberta neste belief. Posição fechada = ausente.
	LastTradeNotionals(ctx context.Context, beliefID string) (map[string]float64, error)
}

// WeightResolver deriva o peso w_i de cada agente: fração configurada do
// notional da última trade contra o mercado do belief. Unidades absolutas de
// moeda — nunca normalizado aqui.
type WeightResolver struct {
	positions PositionStore
	fraction  float64
}

func NewWeightResolver(positions PositionStore, fraction float64) *WeightResolver {
	if fraction <= 0 {
		fraction = DefaultWeightFraction
	}
	return &WeightResolver{positions: positions, fraction: fraction}
}

// Resolve calcula w_i para cada agente informado. Agente sem posição aberta
// tem peso 0, não erro; NotFound só quando o próprio belief não existe.
func (r *WeightResolver) Resolve(ctx context.Context, beliefID string, agentIDs []string) (map[string]float64, error) {
	ok, err := r.positions.BeliefExists(ctx, beliefID)
	if err != nil {
		return nil, fmt.Errorf("belief lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, beliefID)
	}

	notionals, err := r.positions.LastTradeNotionals(ctx, beliefID)
	if err != nil {
		return nil, fmt.Errorf("position lookup: %w", err)
	}

	weights := make(map[string]float64, len(agentIDs))
	for _, id := range agentIDs {
		weights[id] = r.fraction * notionals[id]
	}
	return weights, nil
}
