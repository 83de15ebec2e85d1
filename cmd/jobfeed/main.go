package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/datacure/livejobs/internal/broker"
	"github.com/datacure/livejobs/internal/config"
	"github.com/datacure/livejobs/internal/database"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/server"
	"github.com/datacure/livejobs/internal/simulator"
	"github.com/datacure/livejobs/internal/store"
	"github.com/datacure/livejobs/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobfeed: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting jobfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"store", cfg.Server.Store,
		"broker", cfg.Server.Broker,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jobfeed stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("jobfeed stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	br, closeBroker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBroker()

	sim := simulator.New(simulator.Config{
		RecordInterval: cfg.Server.RecordInterval,
		StageInterval:  cfg.Server.StageInterval,
	}, st, br, logger)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := sim.Stop(stopCtx); err != nil {
			logger.Warn("simulator did not stop cleanly", "error", err)
		}
	}()

	for i := range cfg.Server.SeedJobs {
		job, err := sim.Submit(ctx, model.CreateJobRequest{Filename: fmt.Sprintf("providers_%02d.csv", i+1)})
		if err != nil {
			return fmt.Errorf("seed job %d: %w", i+1, err)
		}
		logger.Debug("seeded job", "job_id", job.ID)
	}

	srv := server.New(server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsPath:    cfg.Metrics.Path,
		PingInterval:   cfg.Channel.PingInterval,
		WriteTimeout:   cfg.Channel.WriteTimeout,
	}, st, sim, br, logger)

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, listener)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.JobStore, error) {
	if cfg.Server.Store != "postgres" {
		return store.NewMemory(), nil
	}

	pg := cfg.Database.Postgres
	logger.Info("connecting to database",
		"host", pg.Host,
		"port", pg.Port,
		"database", pg.Name,
	)
	pool, err := database.Connect(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected")
	return database.NewJobStore(pool, logger), nil
}

// openBroker returns the configured broker and a func releasing it and its
// client.
func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Broker, func(), error) {
	if cfg.Server.Broker != "redis" {
		b := broker.NewMemory(cfg.Server.BufferSize, logger)
		return b, func() { b.Close() }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)
	b := broker.NewRedis(client, cfg.Redis.ChannelPrefix, cfg.Server.BufferSize, logger)
	return b, func() {
		b.Close()
		client.Close()
	}, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
