package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	domain "github.com/ahmethakanbesel/stock-etl/internal/stock"
)

// Postgres updates a stocks table owned by another system. It never creates
// or alters that table.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	return &Postgres{pool: pool, table: table}
}

func (r *Postgres) ListSymbols(ctx context.Context, market string) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if market != "" {
		rows, err = r.pool.Query(ctx, "SELECT symbol FROM "+r.table+" WHERE market = $1 ORDER BY symbol ASC", market)
	} else {
		rows, err = r.pool.Query(ctx, "SELECT symbol FROM "+r.table+" ORDER BY symbol ASC")
	}
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}

	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan symbols: %w", err)
	}
	return symbols, nil
}

func (r *Postgres) UpdateFields(ctx context.Context, symbol string, fields domain.Fields) error {
	query, args, err := buildUpdate(r.table, fields, symbol, "now()",
		func(i int) string { return "$" + strconv.Itoa(i) })
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.NotFound, fmt.Sprintf("symbol %s not found in %s", symbol, r.table))
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, symbol string) (*domain.Stock, error) {
	query := "SELECT symbol, market, COALESCE(name, ''), " + columnList() + ", updated_at FROM " + r.table + " WHERE symbol = $1"

	s := &domain.Stock{Fields: make(domain.Fields, len(domain.Columns))}
	values := make([]*float64, len(domain.Columns))

	dest := []any{&s.Symbol, &s.Market, &s.Name}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &s.UpdatedAt)

	err := r.pool.QueryRow(ctx, query, symbol).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("symbol %s not found", symbol))
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", symbol, err)
	}

	for i, f := range domain.Columns {
		s.Fields[f] = values[i]
	}
	return s, nil
}

func (r *Postgres) Register(ctx context.Context, symbol, market, name string) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO "+r.table+" (symbol, market, name) VALUES ($1, $2, $3) ON CONFLICT (symbol) DO NOTHING",
		symbol, market, name)
	if err != nil {
		return fmt.Errorf("register %s: %w", symbol, err)
	}
	return nil
}
