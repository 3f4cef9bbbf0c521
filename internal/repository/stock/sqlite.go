package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	domain "github.com/ahmethakanbesel/stock-etl/internal/stock"
)

type SQLite struct {
	db    *sql.DB
	table string
}

func NewSQLite(db *sql.DB, table string) *SQLite {
	return &SQLite{db: db, table: table}
}

func (r *SQLite) ListSymbols(ctx context.Context, market string) ([]string, error) {
	query := "SELECT symbol FROM " + r.table
	var args []any
	if market != "" {
		query += " WHERE market = ?"
		args = append(args, market)
	}
	query += " ORDER BY symbol ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (r *SQLite) UpdateFields(ctx context.Context, symbol string, fields domain.Fields) error {
	query, args, err := buildUpdate(r.table, fields, symbol,
		`strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		func(int) string { return "?" })
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.NotFound, fmt.Sprintf("symbol %s not found in %s", symbol, r.table))
	}
	return nil
}

func (r *SQLite) Get(ctx context.Context, symbol string) (*domain.Stock, error) {
	query := "SELECT symbol, market, name, " + columnList() + ", updated_at FROM " + r.table + " WHERE symbol = ?"

	s := &domain.Stock{Fields: make(domain.Fields, len(domain.Columns))}
	values := make([]*float64, len(domain.Columns))
	var name sql.NullString
	var updated string

	dest := []any{&s.Symbol, &s.Market, &name}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &updated)

	err := r.db.QueryRowContext(ctx, query, symbol).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("symbol %s not found", symbol))
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", symbol, err)
	}

	s.Name = name.String
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	for i, f := range domain.Columns {
		s.Fields[f] = values[i]
	}
	return s, nil
}

func (r *SQLite) Register(ctx context.Context, symbol, market, name string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+r.table+" (symbol, market, name) VALUES (?, ?, ?)",
		symbol, market, name)
	if err != nil {
		return fmt.Errorf("register %s: %w", symbol, err)
	}
	return nil
}
