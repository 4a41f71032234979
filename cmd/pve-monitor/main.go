// Package main provides the entry point for the cluster monitor daemon.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/narvanalabs/pve-monitor/internal/actions"
	"github.com/narvanalabs/pve-monitor/internal/api"
	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/secrets"
	"github.com/narvanalabs/pve-monitor/internal/shutdown"
	"github.com/narvanalabs/pve-monitor/internal/store"
	"github.com/narvanalabs/pve-monitor/internal/store/memdb"
	pgstore "github.com/narvanalabs/pve-monitor/internal/store/postgres"
	"github.com/narvanalabs/pve-monitor/pkg/config"
	"github.com/narvanalabs/pve-monitor/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, err := logger.FromConfig(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Default().Error("invalid log level", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(log.Logger)

	// Device and entity registry
	st, err := openStore(cfg, log.Logger)
	if err != nil {
		log.Error("failed to open registry store", "error", err)
		os.Exit(1)
	}

	cipher, err := secrets.NewCipher(&secrets.Config{AgePrivateKey: cfg.Connections.AgeIdentity}, log.Logger)
	if err != nil {
		log.Error("failed to initialize token cipher", "error", err)
		os.Exit(1)
	}

	file, err := config.LoadConnections(cfg.Connections.File)
	if err != nil {
		log.Error("failed to load connections", "file", cfg.Connections.File, "error", err)
		os.Exit(1)
	}

	hub := events.NewHub(log.Logger)

	var dispatcher *actions.Dispatcher
	registry := connection.NewRegistry(connection.RegistryConfig{
		Deps: connection.Deps{
			Store:   st,
			Events:  hub,
			Timeout: cfg.Connections.HTTPTimeout,
			Logger:  log.Logger,
		},
		StartupMaxElapsed: cfg.Connections.StartupMaxElapsed,
		OnFirst:           func() { dispatcher.Register() },
		OnLast:            func() { dispatcher.Deregister() },
	})
	dispatcher = actions.NewDispatcher(registry, st.Devices(), log.Logger)

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	server := api.NewServer(api.Config{Host: cfg.APIHost, Port: cfg.APIPort}, api.Deps{
		Store:       st,
		Connections: registry,
		Dispatcher:  dispatcher,
		Events:      hub,
		Auth:        authService,
	}, log.WithComponent("api").Logger)

	// Stopped in reverse: API server, connections, store.
	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coord.Register(shutdown.NewCloserComponent("store", st))
	coord.Register(shutdown.NewStopperComponent("connections", registry))
	coord.Register(shutdown.NewServerComponent("api", server))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded, err := registry.LoadAll(ctx, file, cipher)
	if err != nil {
		log.Warn("some connections failed to load", "loaded", loaded, "configured", len(file.Connections), "error", err)
	}
	log.Info("connections loaded", "loaded", loaded, "configured", len(file.Connections))
	for _, c := range registry.List() {
		log.WithConnection(c.ID()).Info("connection ready", "name", c.Name(), "host", c.Host())
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	coord.WaitForSignal(ctx)
	coord.Wait()
	log.Info("monitor stopped")
	os.Exit(coord.ExitCode())
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logger.Info("using in-memory device registry")
		return memdb.New()
	}
	return pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), logger)
}
