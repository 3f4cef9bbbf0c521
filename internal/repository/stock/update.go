package stock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
	domain "github.com/ahmethakanbesel/stock-etl/internal/stock"
)

// buildUpdate renders the coalescing UPDATE for fields. placeholder maps a
// 1-based argument position to the dialect's bind syntax. The symbol is bound
// last.
func buildUpdate(table string, fields domain.Fields, symbol, now string, placeholder func(int) string) (string, []any, error) {
	keys := make([]domain.Field, 0, len(fields))
	for f := range fields {
		if !f.Valid() {
			return "", nil, apperror.New(apperror.Validation, fmt.Sprintf("unknown field %q", f))
		}
		keys = append(keys, f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	for i, f := range keys {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", f, placeholder(i+1), f))
		if v := fields[f]; v != nil {
			args = append(args, *v)
		} else {
			args = append(args, nil)
		}
	}
	sets = append(sets, "updated_at = "+now)
	args = append(args, symbol)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE symbol = %s", //nolint:gosec // identifiers are validated
		table, strings.Join(sets, ", "), placeholder(len(args)))
	return query, args, nil
}

func columnList() string {
	cols := make([]string, len(domain.Columns))
	for i, f := range domain.Columns {
		cols[i] = string(f)
	}
	return strings.Join(cols, ", ")
}
