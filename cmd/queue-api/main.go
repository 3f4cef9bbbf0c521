package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/config"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/logging"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/postgres"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/store"
	"github.com/ahmethakanbesel/stock-etl/internal/queue"
	"github.com/ahmethakanbesel/stock-etl/internal/server"
)

func main() {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	env, err := config.LoadEnv(rootCtx)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, env.LogLevel, env.LogFormat))

	if env.DatabaseURL == "" {
		slog.Error("invalid configuration", "error", "DATABASE_URL is required")
		os.Exit(1)
	}
	jf, err := config.LoadJobs(env.JobsFile)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	jobs, err := config.ResolveJobs(jf)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(rootCtx, env.DatabaseURL, postgres.Options{
		MaxConns:       env.DBMaxConns,
		SimpleProtocol: env.DBSimpleProtocol,
		ConnectTimeout: env.DBConnectTimeout,
	})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Queues are read-only from here except for resets, so no candidate
	// loader is needed.
	queues := make([]server.JobQueue, 0, len(jobs))
	for _, j := range jobs {
		svc := queue.NewService(st.Queue(j.QueueTable), nil, j.BatchSize)
		if err := svc.EnsureTable(rootCtx); err != nil {
			slog.Error("failed to prepare queue table", "job", j.Name, "error", err)
			os.Exit(1)
		}
		queues = append(queues, server.JobQueue{
			Name:       j.Name,
			Market:     j.Market,
			QueueTable: j.QueueTable,
			Providers:  j.Providers,
			Service:    svc,
		})
	}
	sort.Slice(queues, func(a, b int) bool { return queues[a].Name < queues[b].Name })

	srv := server.New(rootCtx, env.Port, queues)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", env.Port, "backend", st.Backend(), "jobs", len(queues))
	<-done

	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
