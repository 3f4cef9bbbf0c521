package stock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/postgres"
	"github.com/ahmethakanbesel/stock-etl/internal/platform/sqlite"
	domain "github.com/ahmethakanbesel/stock-etl/internal/stock"
)

const postgresStocks = `CREATE TABLE test_stocks (
	symbol TEXT PRIMARY KEY, market TEXT NOT NULL DEFAULT 'US', name TEXT,
	price DOUBLE PRECISION, open DOUBLE PRECISION, high DOUBLE PRECISION, low DOUBLE PRECISION,
	previous_close DOUBLE PRECISION, change DOUBLE PRECISION, change_percent DOUBLE PRECISION,
	volume DOUBLE PRECISION, vwap DOUBLE PRECISION, trade_count DOUBLE PRECISION,
	market_cap DOUBLE PRECISION, pe_ratio DOUBLE PRECISION, roe DOUBLE PRECISION,
	dividend_yield DOUBLE PRECISION, week_52_high DOUBLE PRECISION, week_52_low DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(), updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func setupSQLite(t *testing.T) domain.Repository {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(db.DB, "stocks")
}

func setupPostgres(t *testing.T) domain.Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.Open(ctx, dsn, postgres.Options{ConnectTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, stmt := range []string{`DROP TABLE IF EXISTS test_stocks`, postgresStocks} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("prepare table: %v", err)
		}
	}
	return NewPostgres(pool, "test_stocks")
}

func TestSQLite(t *testing.T)   { runRepositoryTests(t, setupSQLite) }
func TestPostgres(t *testing.T) { runRepositoryTests(t, setupPostgres) }

func seed(t *testing.T, repo domain.Repository, symbols map[string]string) {
	t.Helper()
	for sym, market := range symbols {
		if err := repo.Register(context.Background(), sym, market, sym+" Inc"); err != nil {
			t.Fatalf("register %s: %v", sym, err)
		}
	}
}

func ptr(v float64) *float64 { return &v }

func runRepositoryTests(t *testing.T, setup func(*testing.T) domain.Repository) {
	t.Run("ListSymbols filters by market", func(t *testing.T) {
		repo := setup(t)
		seed(t, repo, map[string]string{"MSFT": "US", "AAPL": "US", "2330": "TW"})

		got, err := repo.ListSymbols(context.Background(), "US")
		if err != nil {
			t.Fatalf("list symbols: %v", err)
		}
		if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
			t.Errorf("unexpected symbols %v", got)
		}

		all, _ := repo.ListSymbols(context.Background(), "")
		if len(all) != 3 {
			t.Errorf("expected 3 symbols, got %v", all)
		}
	})

	t.Run("Register is idempotent", func(t *testing.T) {
		repo := setup(t)
		seed(t, repo, map[string]string{"AAPL": "US"})
		seed(t, repo, map[string]string{"AAPL": "US"})

		all, _ := repo.ListSymbols(context.Background(), "")
		if len(all) != 1 {
			t.Errorf("expected 1 symbol, got %v", all)
		}
	})

	t.Run("UpdateFields coalesces", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()
		seed(t, repo, map[string]string{"AAPL": "US"})

		first := domain.Fields{}
		first.Set(domain.Price, 10)
		first.Set(domain.Volume, 5)
		if err := repo.UpdateFields(ctx, "AAPL", first); err != nil {
			t.Fatalf("first update: %v", err)
		}

		// Volume omitted, high explicitly null.
		second := domain.Fields{domain.High: nil}
		second.Set(domain.Price, 11)
		if err := repo.UpdateFields(ctx, "AAPL", second); err != nil {
			t.Fatalf("second update: %v", err)
		}

		got, err := repo.Get(ctx, "AAPL")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v, _ := got.Fields.Get(domain.Price); v != 11 {
			t.Errorf("expected price 11, got %v", v)
		}
		if v, ok := got.Fields.Get(domain.Volume); !ok || v != 5 {
			t.Errorf("expected volume to keep 5, got %v %v", v, ok)
		}
		if _, ok := got.Fields.Get(domain.High); ok {
			t.Error("expected high to stay null")
		}
		if got.Name != "AAPL Inc" || got.UpdatedAt.IsZero() {
			t.Errorf("unexpected stock %+v", got)
		}

		third := domain.Fields{domain.Volume: nil, domain.Price: ptr(12)}
		_ = repo.UpdateFields(ctx, "AAPL", third)
		got, _ = repo.Get(ctx, "AAPL")
		if v, _ := got.Fields.Get(domain.Volume); v != 5 {
			t.Errorf("null must not clear volume, got %v", v)
		}
	})

	t.Run("UpdateFields unknown symbol", func(t *testing.T) {
		repo := setup(t)
		err := repo.UpdateFields(context.Background(), "NOPE", domain.Fields{domain.Price: ptr(1)})
		if !apperror.Is(err, apperror.NotFound) {
			t.Fatalf("expected NOT_FOUND, got %v", err)
		}
	})

	t.Run("UpdateFields rejects unknown columns", func(t *testing.T) {
		repo := setup(t)
		seed(t, repo, map[string]string{"AAPL": "US"})
		err := repo.UpdateFields(context.Background(), "AAPL", domain.Fields{"symbol": ptr(1)})
		if !apperror.Is(err, apperror.Validation) {
			t.Fatalf("expected VALIDATION, got %v", err)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		repo := setup(t)
		if _, err := repo.Get(context.Background(), "NOPE"); !apperror.Is(err, apperror.NotFound) {
			t.Fatalf("expected NOT_FOUND, got %v", err)
		}
	})
}

func TestBuildUpdate(t *testing.T) {
	fields := domain.Fields{domain.Volume: nil}
	fields.Set(domain.Price, 3)

	query, args, err := buildUpdate("stocks", fields, "AAPL", "now()", func(int) string { return "?" })
	if err != nil {
		t.Fatal(err)
	}
	want := "UPDATE stocks SET price = COALESCE(?, price), volume = COALESCE(?, volume), updated_at = now() WHERE symbol = ?"
	if query != want {
		t.Errorf("unexpected query:\n got %s\nwant %s", query, want)
	}
	if len(args) != 3 || args[0] != 3.0 || args[1] != nil || args[2] != "AAPL" {
		t.Errorf("unexpected args %v", args)
	}
}
