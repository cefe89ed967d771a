package settle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/cache"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/pubsub"
	"github.com/beliefmkt/belief-consensus-poc/pkg/contracts/events"
)

// Publisher publica o evento de liquidação no Kafka.
type Publisher interface {
	PublishEpochSettled(ctx context.Context, e events.EpochSettled) error
}

// Settler embrulha o orquestrador com os efeitos pós-commit: cache de
// consenso, broadcast Redis e evento epoch_settled. Nenhum deles é parte da
// transação durável — falha aqui vira warning, nunca desfaz a liquidação.
type Settler struct {
	Log          *zap.Logger
	Orchestrator *engine.Orchestrator
	Cache        *cache.ConsensusCache    // opcional
	Broadcaster  *pubsub.RedisBroadcaster // opcional
	Publisher    Publisher                // opcional
}

// Settle processa a época e propaga o resultado para os canais de leitura.
func (s *Settler) Settle(ctx context.Context, beliefID string, epoch int64) (*engine.Result, error) {
	res, err := s.Orchestrator.ProcessEpoch(ctx, beliefID, epoch)
	if err != nil {
		return nil, err
	}

	update := events.ConsensusUpdate{
		BeliefID:            res.BeliefID,
		Epoch:               res.Epoch,
		Aggregate:           res.Aggregate,
		Certainty:           res.Certainty,
		DisagreementEntropy: res.DisagreementEntropy,
		UpdatedAt:           time.Now(),
	}

	if s.Cache != nil {
		// refresh também em skip: mantém o cache quente com o último valor
		if err := s.Cache.SetCurrent(ctx, update); err != nil {
			s.Log.Warn("consensus cache set failed", zap.Error(err))
		}
	}

	if res.Skipped {
		return res, nil
	}

	if s.Broadcaster != nil {
		payload, _ := json.Marshal(update)
		if err := s.Broadcaster.Publish(ctx, pubsub.ChannelConsensusBroadcast, payload); err != nil {
			s.Log.Warn("consensus broadcast failed", zap.Error(err))
		}
	}

	if s.Publisher != nil {
		settled := events.EpochSettled{
			BeliefID:               res.BeliefID,
			Epoch:                  res.Epoch,
			Aggregate:              res.Aggregate,
			Certainty:              res.Certainty,
			ParticipantCount:       res.ParticipantCount,
			RedistributionOccurred: res.RedistributionOccurred,
		}
		if err := s.Publisher.PublishEpochSettled(ctx, settled); err != nil {
			s.Log.Warn("epoch_settled publish failed", zap.Error(err))
		}
	}

	return res, nil
}
