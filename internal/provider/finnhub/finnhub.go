// Package finnhub implements a provider backed by the Finnhub quote and basic
// financials endpoints.
package finnhub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

const name = "finnhub"

// DefaultMetrics maps Finnhub metric keys to target columns.
var DefaultMetrics = map[string]stock.Field{
	"marketCapitalization":         stock.MarketCap,
	"peBasicExclExtraTTM":          stock.PERatio,
	"roeTTM":                       stock.ROE,
	"dividendYieldIndicatedAnnual": stock.DividendYield,
	"52WeekHigh":                   stock.Week52High,
	"52WeekLow":                    stock.Week52Low,
}

// ParseMetrics converts a metric-key to column-name mapping, as found in job
// profiles, into fields. An empty mapping returns nil.
func ParseMetrics(m map[string]string) (map[string]stock.Field, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]stock.Field, len(m))
	for key, col := range m {
		f := stock.Field(col)
		if !f.Valid() {
			return nil, apperror.New(apperror.Config,
				fmt.Sprintf("finnhub metric %s maps to unknown column %q", key, col))
		}
		out[key] = f
	}
	return out, nil
}

type Provider struct {
	api        *finnhub.DefaultApiService
	financials bool
	metrics    map[string]stock.Field
}

type options struct {
	client     *http.Client
	baseURL    string
	financials bool
	metrics    map[string]stock.Field
}

type Option func(*options)

// WithClient sets the HTTP client. Callers should set a timeout on it.
func WithClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBaseURL overrides the API server, e.g. "https://finnhub.io/api/v1".
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithFinancials also fetches basic financials and maps them with metrics.
// A nil metrics map uses DefaultMetrics.
func WithFinancials(metrics map[string]stock.Field) Option {
	return func(o *options) {
		o.financials = true
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func New(apiKey string, opts ...Option) *Provider {
	o := &options{
		client:  &http.Client{Timeout: 15 * time.Second},
		metrics: DefaultMetrics,
	}
	for _, fn := range opts {
		fn(o)
	}

	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	cfg.HTTPClient = o.client
	if o.baseURL != "" {
		cfg.Servers = finnhub.ServerConfigurations{{URL: o.baseURL}}
	}

	return &Provider{
		api:        finnhub.NewAPIClient(cfg).DefaultApi,
		financials: o.financials,
		metrics:    o.metrics,
	}
}

func (p *Provider) Name() string { return name }

func (p *Provider) Fetch(ctx context.Context, symbol string) (stock.Fields, error) {
	q, _, err := p.api.Quote(ctx).Symbol(symbol).Execute()
	if err != nil {
		return nil, apperror.Wrap(apperror.Provider, fmt.Sprintf("finnhub quote %s", symbol), err)
	}

	fs := stock.Fields{}
	for field, get := range map[stock.Field]func() (*float32, bool){
		stock.Price:         q.GetCOk,
		stock.Open:          q.GetOOk,
		stock.High:          q.GetHOk,
		stock.Low:           q.GetLOk,
		stock.PreviousClose: q.GetPcOk,
		stock.Change:        q.GetDOk,
		stock.ChangePercent: q.GetDpOk,
	} {
		if v, ok := get(); ok && v != nil {
			fs.Set(field, float64(*v))
		}
	}

	if p.financials {
		if err := p.addFinancials(ctx, symbol, fs); err != nil {
			slog.Warn("finnhub financials unavailable", "symbol", symbol, "error", err)
		}
	}
	return fs, nil
}

func (p *Provider) addFinancials(ctx context.Context, symbol string, fs stock.Fields) error {
	bf, _, err := p.api.CompanyBasicFinancials(ctx).Symbol(symbol).Metric("all").Execute()
	if err != nil {
		return apperror.Wrap(apperror.Provider, fmt.Sprintf("finnhub financials %s", symbol), err)
	}

	metric := bf.GetMetric()
	for key, field := range p.metrics {
		if v, ok := toFloat64(metric[key]); ok {
			fs.Set(field, v)
		}
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
