package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropwin/backend/internal/config"
	"dropwin/backend/internal/health"
	"dropwin/backend/internal/logger"
	"dropwin/backend/internal/monitoring"
	"dropwin/backend/internal/provider"
	"dropwin/backend/internal/service"
	"dropwin/backend/internal/storage"
	"dropwin/backend/internal/storage/filesystem"
	"dropwin/backend/internal/storage/memory"
	"dropwin/backend/internal/storage/postgres"
	"dropwin/backend/internal/storage/redis"
	sqlstore "dropwin/backend/internal/storage/sql"
	"dropwin/backend/internal/storage/sqlite"
	httptransport "dropwin/backend/internal/transport/http"
)

// main 启动 HTTP API 与邮箱同步引擎。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting dropwin server",
		zap.String("version", httptransport.Version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()

	blobs, err := newBlobStore(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	log.Info("storage initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("key", cfg.Storage.Key),
	)

	generator := service.NewAddressGenerator(cfg.Provider.Domains,
		service.WithGeneratorLogger(log.Named("generator")),
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	store := service.NewMailboxStore(startupCtx, blobs, cfg.Storage.Key, generator,
		service.WithMaxGenerateAttempts(cfg.Sync.MaxGenerateAttempts),
		service.WithStoreMetrics(metrics),
		service.WithStoreLogger(log.Named("store")),
	)
	cancelStartup()
	log.Info("mailboxes loaded", zap.Int("count", store.Len()))

	client := provider.New(cfg.Provider,
		provider.WithMetrics(metrics),
		provider.WithLogger(log.Named("provider")),
	)

	engine := service.NewSyncEngine(store, client,
		service.WithPollInterval(cfg.Sync.PollInterval),
		service.WithEngineMetrics(metrics),
		service.WithEngineLogger(log.Named("sync")),
	)

	if cfg.Sync.AutoSelect {
		snap, err := engine.Restore(context.Background())
		switch {
		case err != nil:
			log.Warn("failed to restore last mailbox", zap.Error(err))
		case snap.Phase == service.PhaseIdle:
			log.Info("no mailbox to restore")
		default:
			log.Info("restored last mailbox",
				zap.String("address", snap.Address),
				zap.Int("messages", len(snap.Messages)),
			)
		}
	}

	alertManager := monitoring.NewAlertManager(log.Named("alert"))
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log.Named("alert")))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.StorageRule(blobs.Health))
	alertManager.AddRule(monitoring.PollingDegradedRule(func() string {
		return engine.Snapshot().LastError
	}))

	healthChecker := health.NewHealthChecker(blobs, client, log.Named("health"))

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Store:     store,
		Generator: generator,
		Engine:    engine,
		Provider:  client,
		Health:    healthChecker,
		Metrics:   metrics,
		Logger:    log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting alert monitoring", zap.Duration("interval", time.Minute))
		alertManager.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		engine.Close()
		client.Close()
		if err := blobs.Close(); err != nil {
			log.Error("storage close error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
}

// newBlobStore 按配置创建邮箱集合的持久化后端
func newBlobStore(cfg *config.Config, log *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		log.Warn("using memory storage, mailboxes will not survive a restart")
		return memory.NewBlobStore(), nil
	case config.StorageFile:
		return filesystem.NewBlobStore(cfg.Storage.Path)
	case config.StorageRedis:
		return redis.New(cfg.Redis, log.Named("redis"))
	case config.StorageSQL:
		return sqlstore.NewStore(cfg.Database)
	case config.StoragePostgres:
		return postgres.New(cfg.Database, log.Named("postgres"))
	case config.StorageSQLite:
		return sqlite.NewStore(filepath.Join(cfg.Storage.Path, "dropwin.db"))
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}
