// Package polygon implements a provider for the Polygon.io previous-day
// aggregate endpoint.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

const defaultBaseURL = "https://api.polygon.io"

// Provider fetches the previous trading day's bar from Polygon.
type Provider struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Option configures a Provider.
type Option func(*Provider)

func WithClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

func (p *Provider) Name() string { return "polygon" }

// prevResponse is the /v2/aggs/ticker/{T}/prev payload.
type prevResponse struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Open       *float64 `json:"o"`
		High       *float64 `json:"h"`
		Low        *float64 `json:"l"`
		Close      *float64 `json:"c"`
		Volume     *float64 `json:"v"`
		VWAP       *float64 `json:"vw"`
		TradeCount *float64 `json:"n"`
		Timestamp  int64    `json:"t"`
	} `json:"results"`
	Error string `json:"error"`
}

func (p *Provider) Fetch(ctx context.Context, symbol string) (stock.Fields, error) {
	if symbol == "" {
		return nil, apperror.New(apperror.Validation, "symbol cannot be empty")
	}

	reqURL := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true&apiKey=%s",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.Provider, "build polygon request", err)
	}

	res, err := p.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, apperror.Wrap(apperror.Provider, fmt.Sprintf("polygon %s", symbol), err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, apperror.New(apperror.Provider,
			fmt.Sprintf("polygon returned HTTP %d for %s", res.StatusCode, symbol))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.Provider, "read polygon response", err)
	}

	var resp prevResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperror.Wrap(apperror.Provider, "parse polygon response", err)
	}
	if resp.Status == "ERROR" {
		return nil, apperror.New(apperror.Provider, fmt.Sprintf("polygon error for %s: %s", symbol, resp.Error))
	}

	fs := stock.Fields{}
	if len(resp.Results) == 0 {
		slog.Debug("polygon returned no results", "symbol", symbol)
		return fs, nil
	}

	bar := resp.Results[0]
	fs[stock.Price] = bar.Close
	fs[stock.Open] = bar.Open
	fs[stock.High] = bar.High
	fs[stock.Low] = bar.Low
	fs[stock.Volume] = bar.Volume
	fs[stock.VWAP] = bar.VWAP
	fs[stock.TradeCount] = bar.TradeCount
	return fs, nil
}
