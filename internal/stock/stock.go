package stock

import (
	"context"
	"sort"
	"time"
)

// Field names a numeric column of the stocks table.
type Field string

const (
	Price         Field = "price"
	Open          Field = "open"
	High          Field = "high"
	Low           Field = "low"
	PreviousClose Field = "previous_close"
	Change        Field = "change"
	ChangePercent Field = "change_percent"
	Volume        Field = "volume"
	VWAP          Field = "vwap"
	TradeCount    Field = "trade_count"
	MarketCap     Field = "market_cap"
	PERatio       Field = "pe_ratio"
	ROE           Field = "roe"
	DividendYield Field = "dividend_yield"
	Week52High    Field = "week_52_high"
	Week52Low     Field = "week_52_low"
)

// Columns lists every updatable field in table order.
var Columns = []Field{
	Price, Open, High, Low, PreviousClose, Change, ChangePercent,
	Volume, VWAP, TradeCount,
	MarketCap, PERatio, ROE, DividendYield, Week52High, Week52Low,
}

var known = func() map[Field]bool {
	m := make(map[Field]bool, len(Columns))
	for _, f := range Columns {
		m[f] = true
	}
	return m
}()

func (f Field) Valid() bool { return known[f] }

// Fields is a partial update. A nil value means "no data" and never
// overwrites what is stored.
type Fields map[Field]*float64

// Set stores v under f.
func (fs Fields) Set(f Field, v float64) {
	fs[f] = &v
}

// Get returns the value of f and whether it is present and non-nil.
func (fs Fields) Get(f Field) (float64, bool) {
	v, ok := fs[f]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Present returns the fields carrying a value, sorted by name.
func (fs Fields) Present() []Field {
	out := make([]Field, 0, len(fs))
	for f, v := range fs {
		if v != nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stock is a row of the target table.
type Stock struct {
	Symbol    string    `json:"symbol"`
	Market    string    `json:"market"`
	Name      string    `json:"name,omitempty"`
	Fields    Fields    `json:"fields"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Repository interface {
	// ListSymbols returns every symbol in the target table, optionally
	// restricted to market, sorted ascending.
	ListSymbols(ctx context.Context, market string) ([]string, error)
	// UpdateFields applies a coalescing partial update to one row and
	// touches updated_at.
	UpdateFields(ctx context.Context, symbol string, fields Fields) error
	Get(ctx context.Context, symbol string) (*Stock, error)
	// Register inserts a symbol if it is not yet present.
	Register(ctx context.Context, symbol, market, name string) error
}
