// Package app assembles the credit gateway: configuration, storage, the
// session registry, the usage coordinator and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/flowchat/creditgate/internal/backend"
	"github.com/flowchat/creditgate/internal/config"
	"github.com/flowchat/creditgate/internal/db"
	"github.com/flowchat/creditgate/internal/http/api/admin"
	"github.com/flowchat/creditgate/internal/http/api/front"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/logging"
	"github.com/flowchat/creditgate/internal/pricing"
	"github.com/flowchat/creditgate/internal/session"
	"github.com/flowchat/creditgate/internal/settings"
	"github.com/flowchat/creditgate/internal/usage"
)

// Migrate opens the database and runs schema migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migration complete")
	return nil
}

// RunServer boots the gateway and blocks until ctx is cancelled.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("failed to load settings snapshot, using defaults")
	}

	store, errStore := buildSessionStore(ctx, &cfg)
	if errStore != nil {
		return errStore
	}
	registry := session.NewRegistry(store, conn, cfg.SessionTimeout)

	calc := pricing.NewCalculator()
	creditLedger := ledger.New(conn, calc)
	modelBackend := backend.NewHTTPBackend(cfg.Upstream)
	coordinator := usage.NewCoordinator(conn, creditLedger, calc, registry, modelBackend, cfg.LedgerTimeout)

	sweeper := session.NewSweeper(registry)
	sweeper.Start(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	front.RegisterFrontRoutes(engine, conn, cfg.JWT, creditLedger, calc, coordinator)
	admin.RegisterAdminRoutes(engine, conn, &cfg, creditLedger)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("credit gateway listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	log.Info("credit gateway stopped")
	return nil
}

// buildSessionStore picks Redis when configured so multiple gateway
// instances share one session keyspace, falling back to in-process memory.
func buildSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.Redis.Addr == "" {
		log.Info("session store: in-memory (single instance)")
		return session.NewMemoryStore(), nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		return nil, fmt.Errorf("redis ping: %w", errPing)
	}
	log.WithField("addr", cfg.Redis.Addr).Info("session store: redis")
	return session.NewRedisStore(client), nil
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request")
			return
		}
		entry.Info("request")
	}
}
