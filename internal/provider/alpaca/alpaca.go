// Package alpaca implements a provider backed by Alpaca market-data daily bars.
package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	"github.com/ahmethakanbesel/stock-etl/internal/stock"
)

// lookback covers long weekends and exchange holidays.
const lookback = 10 * 24 * time.Hour

type Provider struct {
	client *marketdata.Client
	feed   string
	now    func() time.Time
}

type options struct {
	dataURL string
	client  *http.Client
	feed    string
	now     func() time.Time
}

type Option func(*options)

// WithDataURL overrides the market-data base URL.
func WithDataURL(u string) Option {
	return func(o *options) { o.dataURL = u }
}

func WithClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithFeed selects the bar feed, "iex" (free) or "sip".
func WithFeed(feed string) Option {
	return func(o *options) { o.feed = feed }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(apiKey, apiSecret string, opts ...Option) *Provider {
	o := &options{
		client: &http.Client{Timeout: 15 * time.Second},
		feed:   "iex",
		now:    time.Now,
	}
	for _, fn := range opts {
		fn(o)
	}

	copts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: o.client,
	}
	if o.dataURL != "" {
		copts.BaseURL = o.dataURL
	}

	return &Provider{
		client: marketdata.NewClient(copts),
		feed:   o.feed,
		now:    o.now,
	}
}

func (p *Provider) Name() string { return "alpaca" }

// Fetch returns the latest daily bar. When the previous bar is also known the
// change against it is derived.
func (p *Provider) Fetch(ctx context.Context, symbol string) (stock.Fields, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     p.now().Add(-lookback),
		Feed:      marketdata.Feed(p.feed),
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.Provider, fmt.Sprintf("alpaca bars %s", symbol), err)
	}

	fs := stock.Fields{}
	if len(bars) == 0 {
		return fs, nil
	}

	last := bars[len(bars)-1]
	fs.Set(stock.Price, last.Close)
	fs.Set(stock.Open, last.Open)
	fs.Set(stock.High, last.High)
	fs.Set(stock.Low, last.Low)
	fs.Set(stock.Volume, float64(last.Volume))
	fs.Set(stock.VWAP, last.VWAP)
	fs.Set(stock.TradeCount, float64(last.TradeCount))

	if len(bars) > 1 {
		prev := bars[len(bars)-2].Close
		fs.Set(stock.PreviousClose, prev)
		if prev != 0 {
			fs.Set(stock.Change, last.Close-prev)
			fs.Set(stock.ChangePercent, (last.Close-prev)/prev*100)
		}
	}
	return fs, nil
}
