package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datacure/livejobs/internal/api"
	"github.com/datacure/livejobs/internal/binding"
	"github.com/datacure/livejobs/internal/cache"
	"github.com/datacure/livejobs/internal/config"
	"github.com/datacure/livejobs/internal/connection"
	"github.com/datacure/livejobs/internal/dashboard"
	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/metrics"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/refresher"
	"github.com/datacure/livejobs/internal/version"
)

var (
	// errConnectionLost ends the watch when the channel gives up.
	errConnectionLost = errors.New("live updates unavailable")
	// errDone stops the group once the job is terminal.
	errDone = errors.New("done")
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	jobID := flag.String("job", "", "job to watch")
	flag.Parse()

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "jobwatch: -job is required")
		os.Exit(2)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobwatch: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting jobwatch",
		"version", version.Version,
		"commit", version.Commit,
		"job_id", *jobID,
		"api_url", cfg.API.BaseURL,
		"ws_url", cfg.Channel.WSURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *jobID, logger); err != nil {
		logger.Error("jobwatch stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("jobwatch stopped")
}

func run(ctx context.Context, cfg *config.Config, jobID string, logger *slog.Logger) error {
	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithBasePath(cfg.API.BasePath),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	}
	for key, value := range cfg.API.Headers {
		opts = append(opts, api.WithHeader(key, value))
	}
	client := api.NewClient(cfg.API.BaseURL, opts...)

	qc := cache.New(logger)
	queries := dashboard.New(client, qc, nil, logger)

	job, err := queries.Job(ctx, jobID)
	if err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("job %s not found", jobID)
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	printJob(job.Data)
	if job.Data.Status.Terminal() {
		return nil
	}

	ref := refresher.New(refresher.Config{
		Interval:    cfg.Cache.RefreshInterval,
		Concurrency: cfg.Cache.RefreshConcurrency,
		Timeout:     cfg.Cache.RefreshTimeout,
	}, qc, logger)
	ref.Track(cache.JobDetail(jobID), func(ctx context.Context) error {
		_, err := queries.Job(ctx, jobID)
		return err
	})
	ref.Track(cache.JobRecords(jobID), func(ctx context.Context) error {
		queries.JobRecords(ctx, jobID, 1, api.DefaultPageSize, model.RecordFilters{})
		return nil
	})
	ref.Track(cache.JobMetrics(jobID), func(ctx context.Context) error {
		queries.JobMetrics(ctx, jobID)
		return nil
	})
	ref.Track(cache.DashboardMetrics(), func(ctx context.Context) error {
		queries.DashboardMetrics(ctx)
		return nil
	})

	// Watch callbacks run on the goroutine that changed the cache, so they
	// only hand off.
	finished := make(chan model.Job, 1)
	unwatch := qc.Watch(cache.JobDetail(jobID), func(ev cache.Event) {
		if ev.Kind != cache.EventUpdated || !ev.Key.Equal(cache.JobDetail(jobID)) {
			return
		}
		j, ok := ev.Value.(model.Job)
		if !ok {
			return
		}
		printJob(j)
		if j.Status.Terminal() {
			select {
			case finished <- j:
			default:
			}
		}
	})
	defer unwatch()

	lost := make(chan envelope.ConnectionLost, 1)
	chCfg := connection.Config{
		BaseURL:              cfg.Channel.WSURL,
		ReconnectBaseWait:    cfg.Channel.ReconnectBaseWait,
		ReconnectMaxWait:     cfg.Channel.ReconnectMaxWait,
		MaxReconnectAttempts: cfg.Channel.Attempts(),
		HandshakeTimeout:     cfg.Channel.HandshakeTimeout,
		PingInterval:         cfg.Channel.PingInterval,
		PongTimeout:          cfg.Channel.PongTimeout,
		WriteTimeout:         cfg.Channel.WriteTimeout,
	}
	b := binding.New(qc, binding.ManagerFactory(chCfg, nil, logger),
		binding.WithLogger(logger),
		binding.WithLogSink(func(id string, l envelope.AgentLog) {
			fmt.Printf("[%s] %s: %s\n", id, levelOrInfo(l.Level), l.Message)
		}),
		binding.WithStatusSink(func(id string, cl envelope.ConnectionLost) {
			select {
			case lost <- cl:
			default:
			}
		}),
	)
	defer b.Close()

	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := ref.Start(gctx); err != nil {
			return fmt.Errorf("start refresher: %w", err)
		}
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return ref.Stop(stopCtx)
	})

	g.Go(func() error {
		if err := b.Bind(gctx, jobID); err != nil {
			return fmt.Errorf("bind job %s: %w", jobID, err)
		}
		select {
		case <-gctx.Done():
			return nil
		case j := <-finished:
			logger.Info("job finished", "job_id", j.ID, "status", j.Status)
			return errDone
		case cl := <-lost:
			return fmt.Errorf("%w after %d attempts: %s", errConnectionLost, cl.Attempts, cl.Error)
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return err
	}
	return nil
}

func printJob(j model.Job) {
	line := fmt.Sprintf("%s %-10s %3d%% (%d/%d records)", j.ID, j.Status, j.Progress, j.CompletedRecords, j.TotalRecords)
	if j.EtaRemaining != "" {
		line += " eta " + j.EtaRemaining
	}
	fmt.Println(line)
}

func levelOrInfo(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
