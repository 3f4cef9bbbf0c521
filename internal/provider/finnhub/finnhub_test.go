package finnhub

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

func newTestServer(t *testing.T, metricCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Finnhub-Token") != "test-key" {
			t.Errorf("missing token header")
		}
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"c":185.5,"o":184,"h":186.25,"l":183.5,"pc":184.75,"d":0.75,"dp":0.406,"t":1710460800}`))
		case "LIMIT":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"API limit reached"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
		}
	})

	mux.HandleFunc("/stock/metric", func(w http.ResponseWriter, r *http.Request) {
		if metricCalls != nil {
			*metricCalls++
		}
		if r.URL.Query().Get("metric") != "all" {
			t.Errorf("expected metric=all, got %s", r.URL.Query().Get("metric"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","metricType":"all","metric":{
			"marketCapitalization":2900000,"peBasicExclExtraTTM":29.1,"roeTTM":147.2,
			"dividendYieldIndicatedAnnual":0.52,"52WeekHigh":199.62,"52WeekLow":164.08,
			"beta":1.29}}`))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func approx(got float64, want float64) bool {
	return math.Abs(got-want) < 1e-3
}

func TestFetch_Quote(t *testing.T) {
	calls := 0
	ts := newTestServer(t, &calls)
	p := New("test-key", WithClient(ts.Client()), WithBaseURL(ts.URL))

	fs, err := p.Fetch(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := map[stock.Field]float64{
		stock.Price: 185.5, stock.Open: 184, stock.High: 186.25, stock.Low: 183.5,
		stock.PreviousClose: 184.75, stock.Change: 0.75, stock.ChangePercent: 0.406,
	}
	for f, w := range want {
		if v, ok := fs.Get(f); !ok || !approx(v, w) {
			t.Errorf("%s: expected %v, got %v (%v)", f, w, v, ok)
		}
	}
	if calls != 0 {
		t.Errorf("financials fetched without being enabled")
	}
	if _, ok := fs[stock.MarketCap]; ok {
		t.Error("unexpected market cap without financials")
	}
}

func TestFetch_Financials(t *testing.T) {
	ts := newTestServer(t, nil)
	p := New("test-key", WithClient(ts.Client()), WithBaseURL(ts.URL), WithFinancials(nil))

	fs, err := p.Fetch(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v, _ := fs.Get(stock.PERatio); !approx(v, 29.1) {
		t.Errorf("expected pe 29.1, got %v", v)
	}
	if v, _ := fs.Get(stock.Week52Low); !approx(v, 164.08) {
		t.Errorf("expected 52w low, got %v", v)
	}
	if len(fs) != 7+len(DefaultMetrics) {
		t.Errorf("unexpected field count %d", len(fs))
	}
}

func TestFetch_CustomMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	p := New("test-key", WithClient(ts.Client()), WithBaseURL(ts.URL),
		WithFinancials(map[string]stock.Field{"beta": stock.ROE}))

	fs, err := p.Fetch(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v, _ := fs.Get(stock.ROE); !approx(v, 1.29) {
		t.Errorf("expected mapped beta, got %v", v)
	}
	if _, ok := fs[stock.MarketCap]; ok {
		t.Error("default mapping should be replaced")
	}
}

func TestFetch_UnknownSymbolReturnsZeros(t *testing.T) {
	ts := newTestServer(t, nil)
	p := New("test-key", WithClient(ts.Client()), WithBaseURL(ts.URL))

	fs, err := p.Fetch(context.Background(), "ZZZZ")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v, _ := fs.Get(stock.Price); v != 0 {
		t.Errorf("expected zero price, got %v", v)
	}
	if _, ok := fs.Get(stock.Change); ok {
		t.Error("null change must be omitted")
	}
}

func TestFetch_RateLimited(t *testing.T) {
	ts := newTestServer(t, nil)
	p := New("test-key", WithClient(ts.Client()), WithBaseURL(ts.URL))

	_, err := p.Fetch(context.Background(), "LIMIT")
	if !apperror.Is(err, apperror.Provider) {
		t.Fatalf("expected PROVIDER error, got %v", err)
	}
}

func TestName(t *testing.T) {
	if got := New("k").Name(); got != "finnhub" {
		t.Errorf("Name() = %q", got)
	}
}

func TestParseMetrics(t *testing.T) {
	m, err := ParseMetrics(map[string]string{"beta": "pe_ratio"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["beta"] != stock.PERatio {
		t.Errorf("expected pe_ratio, got %q", m["beta"])
	}

	if m, err := ParseMetrics(nil); err != nil || m != nil {
		t.Errorf("expected nil mapping, got %v, %v", m, err)
	}

	_, err = ParseMetrics(map[string]string{"beta": "beta; DROP TABLE stocks"})
	if !apperror.Is(err, apperror.Config) {
		t.Errorf("expected config error, got %v", err)
	}
}
