package record

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// FormatScanned converts a value scanned from a driver to the string form of
// a field of the given kind. NULL becomes the empty string.
func FormatScanned(v any, kind types.Kind) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return trimTemporal(tv, kind)
	case []byte:
		return trimTemporal(string(tv), kind)
	case int64:
		return strconv.FormatInt(tv, 10)
	case int32:
		return strconv.FormatInt(int64(tv), 10)
	case int:
		return strconv.Itoa(tv)
	case float64:
		if kind == types.KindInteger || kind == types.KindRelation || kind == types.KindDEnum {
			return strconv.FormatInt(int64(tv), 10)
		}
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 32)
	case bool:
		if tv {
			return "1"
		}
		return "0"
	case time.Time:
		if kind == types.KindDate {
			return tv.Format(types.DateLayout)
		}
		return tv.UTC().Format(types.TimestampLayout)
	default:
		return fmt.Sprint(tv)
	}
}

// trimTemporal normalises textual dates some drivers return in RFC 3339 form.
func trimTemporal(s string, kind types.Kind) string {
	switch kind {
	case types.KindDate:
		if len(s) > len(types.DateLayout) {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.Format(types.DateLayout)
			}
			return s[:len(types.DateLayout)]
		}
	case types.KindTimestamp:
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC().Format(types.TimestampLayout)
		}
	}
	return s
}

// ScanRows reads every remaining row into memory and closes rows. Providers
// share one physical connection, so result sets are drained before the next
// statement is issued.
func ScanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ScanResult reads a custom query result, keeping the column order.
func ScanResult(rows *sql.Rows) ([]ResultRow, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []ResultRow
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(ResultRow, len(cols))
		for i, c := range cols {
			row[i] = NamedValue{Name: c, Value: FormatScanned(vals[i], types.KindText), Null: vals[i] == nil}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
