package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis-community/internal/analytics"
	"aegis-community/internal/antinuke"
	"aegis-community/internal/bot"
	"aegis-community/internal/config"
	"aegis-community/internal/history"
	"aegis-community/internal/metrics"
	"aegis-community/internal/modules/audit"
	"aegis-community/internal/server"
	"aegis-community/internal/storage"
	"aegis-community/internal/supervisor"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	archivers := antinuke.Archivers{store}
	var historyReader bot.HistoryReader
	if cfg.DatabaseURL != "" {
		archive, err := history.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("history init failed", zap.Error(err))
		}
		defer archive.Close()
		if err := archive.Migrate(); err != nil {
			logger.Fatal("history migrations failed", zap.Error(err))
		}
		archivers = append(archivers, archive)
		historyReader = archive
		logger.Info("punishment history enabled")
	}

	defaults, err := cfg.AntiNuke.Policy()
	if err != nil {
		logger.Fatal("invalid antinuke defaults", zap.Error(err))
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}

	manager := antinuke.NewManager(store, antinuke.ManagerOptions{
		Defaults:         defaults,
		SnapshotCapacity: cfg.Snapshots.Retention,
		Capabilities:     bot.Capabilities(session, cfg.Notifications.EmbedColors),
		Observer:         metrics.Observer{},
		Archiver:         archivers,
		Logger:           logger,
	})
	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)

	botSvc := bot.New(cfg, logger, session, bot.Services{
		Manager:    manager,
		Audit:      auditLogger,
		Analytics:  analyticsService,
		Violations: store,
		History:    historyReader,
	})

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddCoreService(botSvc)
	tree.AddCoreService(supervisor.NewSnapshotService(botSvc.Snapshotter(), manager, store, cfg.Snapshots.Interval(), cfg.RetentionDays, logger))

	if cfg.Health.Enabled {
		httpServer := &http.Server{
			Addr: cfg.Health.Addr,
			Handler: server.NewRouter(server.Options{
				Reporter: analyticsService,
				Logger:   logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))
		logger.Info("http endpoint enabled", zap.String("addr", cfg.Health.Addr))
	}

	logger.Info("aegis starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
