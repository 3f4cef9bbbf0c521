package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/platform/sqlite"
	"github.com/ahmethakanbesel/stock-etl/internal/queue"
	queuerepo "github.com/ahmethakanbesel/stock-etl/internal/repository/queue"
)

var runDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func setupServer(t *testing.T) (*httptest.Server, *queue.Service) {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	svc := queue.NewService(queuerepo.NewSQLite(db.DB, "us_quote_queue"),
		func(context.Context) ([]string, error) { return []string{"AAA", "BBB", "CCC"}, nil }, 2)
	if err := svc.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.InitializeDaily(ctx, runDate); err != nil {
		t.Fatal(err)
	}
	_ = svc.MarkProcessing(ctx, runDate, []string{"AAA", "BBB"})
	_ = svc.MarkCompleted(ctx, runDate, "AAA")
	_ = svc.MarkFailed(ctx, runDate, "BBB", "invalid/missing upstream data")

	ts := httptest.NewServer(NewHandler([]JobQueue{
		{Name: "us-quotes", Market: "US", QueueTable: "us_quote_queue", Providers: []string{"finnhub"}, Service: svc},
	}))
	t.Cleanup(ts.Close)
	return ts, svc
}

func getJSON[T any](t *testing.T, url string, wantStatus int) APIResponse[T] {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	var out APIResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts, _ := setupServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestListJobs(t *testing.T) {
	ts, _ := setupServer(t)
	out := getJSON[[]JobQueue](t, ts.URL+"/api/v1/jobs", http.StatusOK)
	if len(out.Data) != 1 || out.Data[0].Name != "us-quotes" || out.Data[0].QueueTable != "us_quote_queue" {
		t.Errorf("unexpected jobs %+v", out.Data)
	}
}

func TestGetStats(t *testing.T) {
	ts, _ := setupServer(t)
	out := getJSON[statsResponse](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/stats", http.StatusOK)

	st := out.Data
	if st.Total != 3 || st.Completed != 1 || st.Failed != 1 || st.Pending != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.SuccessRate != 50 {
		t.Errorf("expected 50%% success rate, got %v", st.SuccessRate)
	}
}

func TestGetStats_Errors(t *testing.T) {
	ts, _ := setupServer(t)
	getJSON[string](t, ts.URL+"/api/v1/jobs/tw-quotes/queue/2024-03-15/stats", http.StatusNotFound)
	getJSON[string](t, ts.URL+"/api/v1/jobs/us-quotes/queue/15-03-2024/stats", http.StatusBadRequest)
}

func TestListEntries(t *testing.T) {
	ts, _ := setupServer(t)

	out := getJSON[[]queue.Entry](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/entries?status=failed", http.StatusOK)
	if len(out.Data) != 1 || out.Data[0].EntityKey != "BBB" || out.Data[0].ErrorMessage == "" {
		t.Errorf("unexpected failed entries %+v", out.Data)
	}

	all := getJSON[[]queue.Entry](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/entries?limit=2", http.StatusOK)
	if len(all.Data) != 2 {
		t.Errorf("expected 2 entries, got %d", len(all.Data))
	}

	empty := getJSON[[]queue.Entry](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-16/entries", http.StatusOK)
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("expected empty list, got %+v", empty.Data)
	}

	getJSON[string](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/entries?status=done", http.StatusBadRequest)
	getJSON[string](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/entries?limit=x", http.StatusBadRequest)
	getJSON[string](t, ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/entries?limit=5000", http.StatusBadRequest)
}

func TestReset(t *testing.T) {
	ts, svc := setupServer(t)

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+"/api/v1/jobs/us-quotes/queue/2024-03-15/reset", //nolint:gosec // test server URL
			"application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	if resp := post(`{"status":"completed"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for completed reset, got %d", resp.StatusCode)
	}
	if resp := post(`not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", resp.StatusCode)
	}

	resp := post(`{"status":"failed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out APIResponse[resetResponse]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Data.Reset != 1 {
		t.Errorf("expected 1 reset, got %d", out.Data.Reset)
	}

	st, _ := svc.Stats(context.Background(), runDate)
	if st.Failed != 0 || st.Pending != 2 {
		t.Errorf("unexpected stats after reset %+v", st)
	}
}
