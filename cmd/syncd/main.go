// Package main provides the entry point for the trade-sync daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/config"
	"github.com/drewstake/topsignal/internal/query"
	"github.com/drewstake/topsignal/internal/store"
	"github.com/drewstake/topsignal/internal/upstream"
)

const syncInterval = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		return 1
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.WithError(err).Error("failed to open store")
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("error closing store")
		}
	}()

	client := upstream.New(cfg.Broker.BaseURL, cfg.Broker.Username, cfg.Broker.APIKey, upstream.WithLogger(logger))
	svc := query.New(st, client, query.Options{
		LookbackDays:   cfg.Sync.LookbackDays,
		ChunkDays:      cfg.Sync.ChunkDays,
		DaySyncLimit:   cfg.Sync.DaySyncLimit,
		RefreshMinutes: cfg.Sync.YesterdayRefreshMinutes,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping sync daemon")
		cancel()
	}()

	runLoop(ctx, logger, client, svc)
	logger.Info("sync daemon stopped")
	return 0
}

func runLoop(ctx context.Context, logger *logrus.Logger, client *upstream.Client, svc *query.Service) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	syncAllAccounts(ctx, logger, client, svc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncAllAccounts(ctx, logger, client, svc)
		}
	}
}

func syncAllAccounts(ctx context.Context, logger *logrus.Logger, client *upstream.Client, svc *query.Service) {
	runID := uuid.New().String()

	accounts, err := client.ListAccounts(ctx)
	if err != nil {
		logger.WithField("runId", runID).WithError(err).Warn("failed to list accounts")
		return
	}

	for _, acct := range accounts {
		entry := logger.WithFields(logrus.Fields{"runId": runID, "accountId": acct.ID})
		if err := svc.EnsureTradeCacheForRequest(ctx, acct.ID, nil, nil, false); err != nil {
			entry.WithError(err).Warn("incremental sync failed")
			continue
		}
		entry.Info("incremental sync complete")
	}
}
