package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/alexstrack/claude-todo/services/tasks/internal/cache"
	"github.com/alexstrack/claude-todo/services/tasks/internal/config"
	handlers "github.com/alexstrack/claude-todo/services/tasks/internal/http"
	customMiddleware "github.com/alexstrack/claude-todo/services/tasks/internal/middleware"
	"github.com/alexstrack/claude-todo/services/tasks/internal/repository"
	"github.com/alexstrack/claude-todo/services/tasks/internal/service"
	"github.com/alexstrack/claude-todo/services/tasks/internal/storage"
	"github.com/alexstrack/claude-todo/services/tasks/internal/web"
	"github.com/alexstrack/claude-todo/shared/logger"
	"github.com/alexstrack/claude-todo/shared/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (overrides CONFIG_FILE)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [serve|migrate|init-db]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("tasks", "info").WithError(err).Fatal("failed to load config")
	}
	logrusLogger := logger.Init("tasks", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "serve"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logrusLogger)
	case "migrate":
		err = migrate(ctx, cfg, storage.MigrateUp, logrusLogger)
	case "init-db":
		err = initDB(ctx, cfg, logrusLogger)
		if err == nil {
			fmt.Println("Initialized the database.")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logrusLogger.WithError(err).WithField("command", command).Fatal("command failed")
	}
}

func migrate(ctx context.Context, cfg *config.Config, dir storage.Direction, log *logrus.Logger) error {
	_, err := storage.Migrate(ctx, cfg.DB.StorageOptions(), dir, log)
	return err
}

// initDB пересоздаёт схему; id начинаются заново, поэтому кэш задач очищается целиком
func initDB(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if err := migrate(ctx, cfg, storage.MigrateReset, log); err != nil {
		return err
	}

	client := connectRedis(ctx, cfg.Redis, log)
	if client == nil {
		return nil
	}
	defer client.Close()

	removed, err := cache.NewRedisCache(client, cfg.Redis.TTL, log).Flush(ctx)
	if err != nil {
		return err
	}
	log.WithField("keys", removed).Info("task cache flushed")
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// схема должна быть на месте до первого запроса
	if err := migrate(ctx, cfg, storage.MigrateUp, log); err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.DB.StorageOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	taskCache, closeCache := newCache(ctx, cfg.Redis, log)
	defer closeCache()

	taskService := service.NewTaskService(repository.NewFactory(db), taskCache, log)

	mux := http.NewServeMux()
	handlers.NewTaskHandler(taskService, log).Register(mux, cfg.APIPrefix)
	web.NewHandler(taskService, cfg.PageSize, log).Register(mux)
	mux.Handle("GET /healthz", handlers.HealthHandler(db, log))
	mux.Handle("GET /metrics", customMiddleware.MetricsHandler())

	// Цепочка middleware: первым выполняется request-id, последним recover
	var handler http.Handler = mux
	handler = customMiddleware.RecoverMiddleware(log, cfg.APIPrefix)(handler)
	handler = customMiddleware.MetricsMiddleware(handler)
	handler = customMiddleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)(handler)
	handler = customMiddleware.SecurityHeadersMiddleware(handler)
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.TasksPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.TasksPort,
			"driver": db.Dialect(),
			"prefix": cfg.APIPrefix,
		}).Info("tasks service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down tasks service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("tasks service stopped")
	return nil
}

// newCache включает Redis-кэш, если Redis настроен и отвечает
func newCache(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (cache.TaskCache, func()) {
	client := connectRedis(ctx, cfg, log)
	if client == nil {
		return cache.Noop{}, func() {}
	}
	log.WithField("addr", cfg.Addr).Info("redis cache enabled")
	return cache.NewRedisCache(client, cfg.TTL, log), func() { _ = client.Close() }
}

// connectRedis возвращает nil, если адрес не задан или Redis недоступен
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Info("redis address not set, cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).WithField("addr", cfg.Addr).Warn("redis unavailable, cache disabled")
		_ = client.Close()
		return nil
	}
	return client
}
