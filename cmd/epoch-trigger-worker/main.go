package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	ecache "github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/cache"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/producer"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/pubsub"
	erepo "github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/repo"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/settle"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/cache"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/config"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/db"
	skafka "github.com/beliefmkt/belief-consensus-poc/internal/shared/kafka"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/logger"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/metrics"
	ev "github.com/beliefmkt/belief-consensus-poc/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("epoch-trigger-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}

	// Kafka consumer: gatilhos de liquidação (entrega at-least-once; o guard
	// de idempotência do orquestrador absorve duplicatas)
	reader := skafka.NewReader(cfg.KafkaBrokers, cfg.TopicEpochTriggers, "epoch-trigger")
	defer reader.Close()

	// Kafka producers: epoch_settled e DLQ de triggers
	settledWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEpochSettled)
	defer settledWriter.Close()

	var dlqWriter *kafkago.Writer
	if cfg.TopicEpochTriggersDLQ != "" {
		dlqWriter = skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEpochTriggersDLQ)
		defer dlqWriter.Close()
	}

	// Métricas
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_messages_consumed_total", Help: "gatilhos consumidos"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_epochs_settled_total", Help: "épocas liquidadas"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_epochs_skipped_total", Help: "gatilhos duplicados (skip idempotente)"})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_dead_lettered_total", Help: "gatilhos enviados pra DLQ"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trigger_failures_total", Help: "falhas por estágio"}, []string{"stage"})
	zeroSum := prometheus.NewCounter(prometheus.CounterOpts{Name: "zero_sum_violations_total", Help: "violações de zero-sum toleradas"})
	fallback := prometheus.NewCounter(prometheus.CounterOpts{Name: "naive_fallback_total", Help: "quedas pra agregação ingênua"})
	prometheus.MustRegister(consumed, settled, skipped, deadLettered, failures, zeroSum, fallback)

	repository := erepo.NewPostgres(pg)
	orch := &engine.Orchestrator{
		Log:                  log,
		Beliefs:              repository,
		Submissions:          repository,
		Resolver:             engine.NewWeightResolver(repository, cfg.WeightFraction),
		Committer:            repository,
		CallTimeout:          cfg.CallTimeout,
		ZeroSumEpsilon:       cfg.ZeroSumEpsilon,
		OnSkipped:            skipped.Inc,
		OnFailed:             func(stage string) { failures.WithLabelValues(stage).Inc() },
		OnZeroSumViolation:   zeroSum.Inc,
		OnLowQualityFallback: fallback.Inc,
	}

	settler := &settle.Settler{
		Log:          log,
		Orchestrator: orch,
		Cache:        ecache.NewConsensusCache(rdb, 10*time.Minute),
		Broadcaster:  pubsub.NewRedisBroadcaster(rdb),
		Publisher:    producer.NewKafkaPublisher(settledWriter, cfg.TopicEpochSettled),
	}

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	log.Info("epoch-trigger-worker started",
		zap.String("consume", cfg.TopicEpochTriggers),
		zap.String("publish", cfg.TopicEpochSettled),
	)

	ctx := context.Background()

	// Loop principal: consome gatilhos, liquida a época, publica resultado
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		consumed.Inc()

		var trigger ev.EpochTrigger
		if jerr := json.Unmarshal(msg.Value, &trigger); jerr != nil {
			log.Error("unmarshal epoch_trigger", zap.Error(jerr))
			continue
		}

		if err := processOne(ctx, log, settler, &trigger); err != nil {
			if dlqWriter != nil {
				_ = skafka.WriteJSON(ctx, dlqWriter, trigger.BeliefID, msg.Value)
				deadLettered.Inc()
			}
			log.Error("settle epoch",
				zap.String("beliefId", trigger.BeliefID),
				zap.Int64("epoch", trigger.Epoch),
				zap.Error(err),
			)
			// Backoff simples para evitar flood em caso de erro
			time.Sleep(500 * time.Millisecond)
			continue
		}
		settled.Inc()
	}
}

// processOne liquida uma época a partir do gatilho. O orquestrador não tem
// retry interno; quem re-tenta é o worker, um número limitado de vezes, e só
// para erros retryable (contenção de lock, falha transitória de persistência).
// Erro fatal vai direto pra DLQ.
func processOne(
	ctx context.Context,
	log *zap.Logger,
	settler *settle.Settler,
	trigger *ev.EpochTrigger,
) error {
	const retries = 3

	var lastErr error
	for i := 0; i < retries; i++ {
		res, err := settler.Settle(ctx, trigger.BeliefID, trigger.Epoch)
		if err == nil {
			if res.Skipped {
				log.Debug("duplicate trigger skipped",
					zap.String("beliefId", trigger.BeliefID),
					zap.Int64("epoch", trigger.Epoch),
				)
			}
			return nil
		}
		lastErr = err
		if !errors.Is(err, engine.ErrLockContention) && !errors.Is(err, engine.ErrPersistence) {
			return err // fatal: não adianta re-tentar
		}
		time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
	}
	return lastErr
}
