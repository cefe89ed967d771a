package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	ecache "github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/cache"
	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
	ehttp "github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/http"
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
)

func main() {
	cfg := config.Load()

	log, err := logger.New("epoch-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "epoch-service"), zap.String("env", cfg.Env))

	// Postgres: beliefs, submissions, positions, agents, histórico e auditoria
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis: cache de consenso corrente + broadcast pub/sub
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}

	// Kafka writer: eventos epoch_settled
	settledWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEpochSettled)
	defer settledWriter.Close()

	// Métricas do motor
	committed := prometheus.NewCounter(prometheus.CounterOpts{Name: "epoch_commits_total", Help: "épocas liquidadas com commit"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "epoch_skips_total", Help: "triggers repetidos (no-op idempotente)"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "epoch_failures_total", Help: "falhas por estágio"}, []string{"stage"})
	zeroSum := prometheus.NewCounter(prometheus.CounterOpts{Name: "zero_sum_violations_total", Help: "violações de zero-sum toleradas"})
	fallback := prometheus.NewCounter(prometheus.CounterOpts{Name: "naive_fallback_total", Help: "quedas pra agregação ingênua"})
	prometheus.MustRegister(committed, skipped, failures, zeroSum, fallback)

	repository := erepo.NewPostgres(pg)
	orch := &engine.Orchestrator{
		Log:                  log,
		Beliefs:              repository,
		Submissions:          repository,
		Resolver:             engine.NewWeightResolver(repository, cfg.WeightFraction),
		Committer:            repository,
		CallTimeout:          cfg.CallTimeout,
		ZeroSumEpsilon:       cfg.ZeroSumEpsilon,
		OnCommitted:          committed.Inc,
		OnSkipped:            skipped.Inc,
		OnFailed:             func(stage string) { failures.WithLabelValues(stage).Inc() },
		OnZeroSumViolation:   zeroSum.Inc,
		OnLowQualityFallback: fallback.Inc,
	}

	consensusCache := ecache.NewConsensusCache(rdb, 10*time.Minute)
	settler := &settle.Settler{
		Log:          log,
		Orchestrator: orch,
		Cache:        consensusCache,
		Broadcaster:  pubsub.NewRedisBroadcaster(rdb),
		Publisher:    producer.NewKafkaPublisher(settledWriter, cfg.TopicEpochSettled),
	}

	// Servidor de métricas e health check
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", ":"+cfg.MetricsPort))

	// Servidor HTTP público
	api := ehttp.NewServer(log, settler, repository, consensusCache)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	log.Info("epoch-service listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
