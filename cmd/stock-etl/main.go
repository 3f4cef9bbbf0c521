package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/config"
	"github.com/ahmethakanbesel/stock-etl/internal/etl"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/logging"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/postgres"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/store"
	"github.com/ahmethakanbesel/stock-etl/internal/provider"
	"github.com/ahmethakanbesel/stock-etl/internal/provider/alpaca"
	"github.com/ahmethakanbesel/stock-etl/internal/provider/finnhub"
	"github.com/ahmethakanbesel/stock-etl/internal/provider/polygon"
	"github.com/ahmethakanbesel/stock-etl/internal/queue"
	"github.com/ahmethakanbesel/stock-etl/internal/ratelimit"
)

func main() {
	os.Exit(run())
}

func run() int {
	var o config.Overrides
	flag.StringVar(&o.Job, "job", "", "job profile to run (overrides JOB)")
	flag.StringVar(&o.RunDate, "date", "", "run date as YYYY-MM-DD (overrides RUN_DATE)")
	flag.IntVar(&o.BatchSize, "batch-size", 0, "entities per batch (overrides BATCH_SIZE)")
	flag.DurationVar(&o.MaxRuntime, "max-runtime", 0, "wall-clock budget for this run (overrides MAX_RUNTIME)")
	flag.Parse()

	// SIGINT/SIGTERM stop the run between entities; claimed work goes back
	// to pending.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, o)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	active, skipped := cfg.ActiveProviders()
	for _, p := range skipped {
		slog.Warn("secondary provider disabled: no credentials", "provider", p)
	}

	registry, err := newRegistry(cfg, active)
	if err != nil {
		slog.Error("invalid provider configuration", "error", err)
		return 1
	}
	providers, err := registry.Select(active)
	if err != nil {
		slog.Error("invalid provider configuration", "error", err)
		return 1
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, postgres.Options{
		MaxConns:       cfg.DBMaxConns,
		SimpleProtocol: cfg.DBSimpleProtocol,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return 1
	}
	defer st.Close()

	job := cfg.Job
	stocks := st.Stocks(job.TargetTable)
	candidates := func(ctx context.Context) ([]string, error) {
		return stocks.ListSymbols(ctx, job.Market)
	}
	svc := queue.NewService(st.Queue(job.QueueTable), candidates, job.BatchSize)

	throttle := ratelimit.New(ratelimit.DelayFor(active, job.Delays))
	worker := etl.NewWorker(svc, stocks, providers)
	runner := etl.NewRunner(svc, worker, throttle, etl.RunnerConfig{
		Job:          job.Name,
		BatchSize:    job.BatchSize,
		MaxRuntime:   job.MaxRuntime,
		LeaseTimeout: job.LeaseTimeout,
	})

	slog.Info("starting run",
		"job", job.Name,
		"market", job.Market,
		"backend", st.Backend(),
		"providers", registry.Names(),
		"queueTable", job.QueueTable,
	)
	if _, err := runner.Run(ctx, cfg.RunDate); err != nil {
		slog.Error("run failed", "error", err, "code", apperror.CodeOf(err))
		return 1
	}
	return 0
}

// newRegistry builds the providers the job may use. Providers without
// credentials are never constructed.
func newRegistry(cfg *config.Config, active []string) (*provider.Registry, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	registry := provider.NewRegistry()

	for _, name := range active {
		switch name {
		case config.ProviderFinnhub:
			opts := []finnhub.Option{finnhub.WithClient(client)}
			if cfg.Job.Financials {
				metrics, err := finnhub.ParseMetrics(cfg.Job.FinnhubMetrics)
				if err != nil {
					return nil, err
				}
				opts = append(opts, finnhub.WithFinancials(metrics))
			}
			registry.Register(finnhub.New(cfg.FinnhubAPIKey, opts...))
		case config.ProviderPolygon:
			opts := []polygon.Option{polygon.WithClient(client)}
			if cfg.PolygonBaseURL != "" {
				opts = append(opts, polygon.WithBaseURL(cfg.PolygonBaseURL))
			}
			registry.Register(polygon.New(cfg.PolygonAPIKey, opts...))
		case config.ProviderAlpaca:
			opts := []alpaca.Option{
				alpaca.WithClient(client),
				alpaca.WithClock(time.Now),
				alpaca.WithFeed(cfg.AlpacaFeed),
			}
			if cfg.AlpacaDataURL != "" {
				opts = append(opts, alpaca.WithDataURL(cfg.AlpacaDataURL))
			}
			registry.Register(alpaca.New(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, opts...))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return registry, nil
}
