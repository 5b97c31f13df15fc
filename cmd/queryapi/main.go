// Package main provides the entry point for the read-only trade query API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/config"
	"github.com/drewstake/topsignal/internal/httpapi"
	"github.com/drewstake/topsignal/internal/query"
	"github.com/drewstake/topsignal/internal/store"
	"github.com/drewstake/topsignal/internal/upstream"
)

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

	server := httpapi.New(httpapi.Config{ListenAddr: cfg.Server.ListenAddr, AuthToken: cfg.Server.AuthToken}, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping query API")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.ListenAddr).Info("query API listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("query API server error")
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down query API")
	}
	return 0
}
