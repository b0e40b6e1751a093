package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alansi775/yshop-sync/internal/server"
	"github.com/Alansi775/yshop-sync/internal/store"
	"github.com/Alansi775/yshop-sync/internal/sync"
	"github.com/Alansi775/yshop-sync/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("addr", cfg.Server.Addr),
		zap.String("driver", cfg.Database.Driver),
		zap.Duration("pollInterval", cfg.Sync.PollInterval),
		zap.Duration("backpressureMin", cfg.Sync.BackpressureMin),
	)

	// Open the store and verify it answers before serving anything.
	st, err := store.Open(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := st.Ping(pingCtx); err != nil {
		return fmt.Errorf("database unreachable at boot: %w", err)
	}
	logger.Info("database connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sync core and transport. The hub registers as the broadcast
	// callback once, at startup.
	fetchers := store.NewFetchers(st, logger)
	manager := sync.NewManager(&cfg.Sync, fetchers, logger)
	hub := ws.NewHub(manager, fetchers.ValidChannel, logger)
	manager.RegisterBroadcast(hub.Broadcast)
	go hub.Run(ctx)

	router := server.NewRouter(hub, manager, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop every watcher before dropping connections, then the hub,
	// then drain HTTP.
	manager.Cleanup()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
