package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"oauthstarter/internal/auth"
	"oauthstarter/internal/config"
	"oauthstarter/internal/database"
	"oauthstarter/internal/logger"
	"oauthstarter/internal/metrics"
	"oauthstarter/internal/server"
	"oauthstarter/internal/session"
	"oauthstarter/internal/storage"
	"oauthstarter/internal/telemetry"
	"oauthstarter/internal/user"
	"oauthstarter/internal/web"
)

const startupTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

// loadConfig reads and validates the configuration and builds the logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}

func serve(ctx context.Context, migrate bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting application",
		"version", version,
		"env", cfg.App.Env,
		"url", cfg.App.URL,
	)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, cfg.App.Env, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Failed to flush traces", "error", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := database.New(startCtx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("Connected to database")

	if migrate {
		if err := db.Migrate(startCtx); err != nil {
			return err
		}
		log.Info("Database schema applied")
	}

	redisStore := session.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisStore.Close()
	if err := redisStore.Ping(startCtx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Connected to Redis")

	m := metrics.New()
	users := user.NewStore(db)
	provisioner := user.NewProvisioner(users, log)

	opts := auth.NewOptions(cfg, provisioner, m, log)
	if len(opts.Providers) == 0 {
		log.Warn("No OAuth providers configured, sign-in will be unavailable")
	}
	adapter, err := auth.New(opts, users, session.NewManager(redisStore), log)
	if err != nil {
		return fmt.Errorf("failed to create auth adapter: %w", err)
	}

	checks := map[string]web.HealthCheck{
		"database": db.Health,
		"redis":    web.ErrorCheck(redisStore.Ping),
	}

	var avatars web.AvatarStorage
	store, err := storage.New(startCtx, cfg.S3, log)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		log.Info("Object storage not configured, avatar uploads disabled")
	case err != nil:
		log.Warn("Failed to initialize storage service", "error", err)
	default:
		if err := store.EnsureBucketExists(startCtx); err != nil {
			log.Warn("Failed to ensure storage bucket", "bucket", cfg.S3.Bucket, "error", err)
		}
		avatars = store
		checks["storage"] = web.ErrorCheck(store.Health)
	}

	handler := web.NewHandler(web.HandlerConfig{
		Projects:    users,
		Avatars:     avatars,
		Checks:      checks,
		SignInPage:  adapter.SignInPage(),
		SignOutPage: adapter.BasePath() + "/signout",
		Logger:      log,
	})

	router := web.SetupRouter(web.RouterConfig{
		Auth:        adapter,
		Users:       users,
		Handler:     handler,
		Metrics:     m,
		Logger:      log,
		CORSOrigins: cfg.Server.CORSOrigins,
		ServiceName: cfg.Tracing.ServiceName,
	})

	return server.Run(ctx, server.New(cfg.Server, router), log)
}
