// Command relayer runs the cross-chain HTLC swap coordinator: it watches
// both configured chains, responds to swap locks with counter-locks, relays
// revealed secrets as claims, and refunds expired legs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hashlock-labs/htlc-relay/chainmanager"
	"github.com/hashlock-labs/htlc-relay/common/types"
	"github.com/hashlock-labs/htlc-relay/config"
	"github.com/hashlock-labs/htlc-relay/coordinator"
	"github.com/hashlock-labs/htlc-relay/dedup"
	"github.com/hashlock-labs/htlc-relay/rate"
	"github.com/hashlock-labs/htlc-relay/swapstore"
)

func main() {
	configPath := flag.String("config", "relayer.yaml", "path to the relay configuration file")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(logger, cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := swapstore.NewRegistry(logger)
	if cfg.Store.DatabaseURL != "" {
		store, err := swapstore.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to swap store")
		}
		defer store.Close()

		if err := registry.WithDurableStore(ctx, store); err != nil {
			logger.WithError(err).Fatal("Failed to hydrate swap registry")
		}
	}

	chainRegistry := chainmanager.NewChainRegistry(chainmanager.NewChainFactory(), logger)
	for _, role := range []types.ChainRole{types.ChainSource, types.ChainTarget} {
		if err := chainRegistry.Add(ctx, cfg.ChainConfigFor(role)); err != nil {
			logger.WithField("role", role).WithError(err).Fatal("Failed to connect to chain")
		}
	}

	num, den := cfg.Rate()
	coord, err := coordinator.New(coordinator.Params{
		Logger:             logger,
		Registry:           registry,
		Dedup:              dedup.New(),
		Chains:             chainRegistry.All(),
		SourceToTargetRate: rate.Fixed(num, den),
		TargetToSourceRate: rate.Fixed(den, num),
		SourceAsset:        cfg.Source.Asset,
		TargetAsset:        cfg.Target.Asset,
		SafetyBuffer:       cfg.Swap.SafetyBuffer,
		MinTimelock:        cfg.Swap.MinTimelock,
		MaxTimelock:        cfg.Swap.MaxTimelock,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build coordinator")
	}

	logStartupBalances(ctx, logger, chainRegistry)

	if err := coord.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start coordinator")
	}

	monitor := coordinator.NewTimeoutMonitor(coord, cfg.Swap.SweepInterval, cfg.Swap.SweepGrace)
	monitor.Start(ctx)

	statsDone := make(chan struct{})
	go logStats(ctx, logger, coord, cfg.Stats.Interval, statsDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown requested")

	monitor.Stop()
	coord.Stop()
	cancel()
	<-statsDone

	logger.Info("Relayer stopped")
}

func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

// logStartupBalances reports each broadcasting account's balance so an
// underfunded relayer is visible before the first swap arrives.
func logStartupBalances(ctx context.Context, logger *logrus.Logger, chains *chainmanager.Registry) {
	for role, chain := range chains.All() {
		balanceCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		balance, err := chain.GetBalance(balanceCtx)
		cancel()

		if err != nil {
			logger.WithField("role", role).WithError(err).Warn("Failed to query account balance")
			continue
		}

		entry := logger.WithFields(logrus.Fields{
			"role":    role,
			"balance": balance.String(),
		})
		if balance.Sign() == 0 {
			entry.Warn("Broadcasting account has zero balance")
		} else {
			entry.Info("Broadcasting account balance")
		}
	}
}

func logStats(ctx context.Context, logger *logrus.Logger, coord *coordinator.Coordinator, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := coord.Stats()
			logger.WithFields(logrus.Fields{
				"processedEvents": stats.ProcessedEvents,
				"droppedEvents":   stats.DroppedEvents,
				"trackedSwaps":    stats.TrackedSwaps,
				"dedupKeys":       stats.DedupKeys,
				"sourceBlock":     stats.SourceWatermark,
				"targetBlock":     stats.TargetWatermark,
			}).Info("Relayer stats")
		}
	}
}
