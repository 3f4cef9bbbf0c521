package postgres

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestIsDSN(t *testing.T) {
	if !IsDSN("postgres://localhost/stocks") || !IsDSN("postgresql://localhost/stocks") {
		t.Error("expected postgres urls to match")
	}
	if IsDSN("sqlite://stocks.db") {
		t.Error("expected sqlite url not to match")
	}
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz", Options{})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpen_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := Open(context.Background(), dsn, Options{ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pool.Close()
}
