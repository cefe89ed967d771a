package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	lhttp "github.com/beliefmkt/belief-consensus-poc/internal/ledger-service/http"
	lrepo "github.com/beliefmkt/belief-consensus-poc/internal/ledger-service/repo"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/config"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/db"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/logger"
	"github.com/beliefmkt/belief-consensus-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("ledger-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "ledger-service"), zap.String("env", cfg.Env))

	// Postgres: posições, stake e ledgers append-only
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	repo := lrepo.NewPostgres(pg)
	api := lhttp.NewServer(log, repo, cfg.WeightFraction)

	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.Router(),
	}

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})
	log.Info("metrics/health listening", zap.String("addr", ":"+cfg.MetricsPort))

	log.Info("ledger-service listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
