package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alphadevx/alpha-sub000/internal/sqlscript"
	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Compile-time contract assertion.
var _ record.Provider = (*Provider)(nil)

// Provider translates the operations of one record into SQL for a dialect.
type Provider struct {
	store *record.Store
	rec   *record.Record
	d     Dialect
}

// New binds a provider for d to r.
func New(s *record.Store, r *record.Record, d Dialect) *Provider {
	return &Provider{store: s, rec: r, d: d}
}

// Record returns the record the provider is bound to.
func (p *Provider) Record() *record.Record { return p.rec }

// Store returns the store the record belongs to.
func (p *Provider) Store() *record.Store { return p.store }

// Exec runs stmt on the active transaction or the store's connection.
func (p *Provider) Exec(ctx context.Context, op, stmt string, args ...any) (sql.Result, error) {
	q, err := p.store.Conn().Querier(ctx)
	if err != nil {
		return nil, err
	}
	return p.ExecOn(ctx, q, op, stmt, args...)
}

// ExecOn runs stmt on q.
func (p *Provider) ExecOn(ctx context.Context, q record.Querier, op, stmt string, args ...any) (sql.Result, error) {
	p.debug(op, stmt)
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		p.fail(op, stmt, err)
		return nil, err
	}
	return res, nil
}

// Rows runs a query on the active transaction or the store's connection and
// reads the whole result.
func (p *Provider) Rows(ctx context.Context, op, stmt string, args ...any) ([]record.Row, error) {
	q, err := p.store.Conn().Querier(ctx)
	if err != nil {
		return nil, err
	}
	return p.RowsOn(ctx, q, op, stmt, args...)
}

// RowsOn runs a query on q and reads the whole result.
func (p *Provider) RowsOn(ctx context.Context, q record.Querier, op, stmt string, args ...any) ([]record.Row, error) {
	p.debug(op, stmt)
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		p.fail(op, stmt, err)
		return nil, err
	}
	return record.ScanRows(rows)
}

// Strings runs a single column query and returns its values as strings.
func (p *Provider) Strings(ctx context.Context, op, stmt string, args ...any) ([]string, error) {
	rows, err := p.Rows(ctx, op, stmt, args...)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			out = append(out, record.FormatScanned(v, types.KindText))
		}
	}
	return out, nil
}

// Scalar runs a query returning a single integer; no row or NULL yields zero.
func (p *Provider) Scalar(ctx context.Context, op, stmt string, args ...any) (int64, error) {
	rows, err := p.Rows(ctx, op, stmt, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		s := record.FormatScanned(v, types.KindInteger)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, nil
}

func (p *Provider) debug(op, stmt string) {
	p.store.Logger().Debug().
		Str("provider", p.d.Name()).
		Str("type", p.rec.TypeName()).
		Str("op", op).
		Str("sql", stmt).
		Msg("statement")
}

func (p *Provider) fail(op, stmt string, err error) {
	p.store.Logger().Error().
		Err(err).
		Str("provider", p.d.Name()).
		Str("type", p.rec.TypeName()).
		Str("op", op).
		Str("sql", stmt).
		Msg("statement failed")
}

func (p *Provider) table() (string, error) { return p.rec.Table() }

func (p *Provider) historyTable() (string, error) { return p.rec.HistoryTable() }

func (p *Provider) overloaded() bool {
	ok, _ := p.rec.Overloaded()
	return ok
}

func (p *Provider) kindOf(col string) types.Kind {
	switch col {
	case record.ColID, record.ColVersion, record.ColCreatedBy, record.ColUpdatedBy:
		return types.KindInteger
	case record.ColCreatedTS, record.ColUpdatedTS:
		return types.KindTimestamp
	case record.ColKind:
		return types.KindSmallText
	}
	if v, ok := p.rec.Value(col); ok {
		return v.Kind()
	}
	return types.KindSmallText
}

// bind converts a value for column col. Strings are converted according to
// the column's kind; the empty string binds as NULL for non-text kinds.
func (p *Provider) bind(col string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return p.BindValue(p.kindOf(col), s)
}

// BindValue converts the string form of a field value of kind for binding.
func (p *Provider) BindValue(kind types.Kind, s string) (any, error) {
	switch kind {
	case types.KindInteger, types.KindRelation, types.KindDEnum:
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", record.ErrInvalidValue, s)
		}
		return n, nil
	case types.KindDouble:
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", record.ErrInvalidValue, s)
		}
		return f, nil
	case types.KindDate, types.KindTimestamp:
		if s == "" {
			return nil, nil
		}
		return p.d.BindTemporal(kind, s)
	}
	return s, nil
}

func (p *Provider) selectList(fields []string) ([]string, error) {
	var cols []string
	if len(fields) > 0 {
		cols = []string{record.ColID, record.ColVersion}
		for _, f := range fields {
			if !slices.Contains(cols, f) {
				cols = append(cols, f)
			}
		}
	} else {
		cols = []string{record.ColID, record.ColVersion, record.ColCreatedTS, record.ColCreatedBy, record.ColUpdatedTS, record.ColUpdatedBy}
		own, err := p.rec.Columns()
		if err != nil {
			return nil, err
		}
		for _, c := range own {
			cols = append(cols, c.Name)
		}
	}
	if p.overloaded() && !slices.Contains(cols, record.ColKind) {
		cols = append(cols, record.ColKind)
	}
	return cols, nil
}

// sharedSelectList selects every column of a shared table, so rows of any
// sharing type can be populated.
func (p *Provider) sharedSelectList() ([]string, error) {
	cols := []string{record.ColID, record.ColVersion, record.ColCreatedTS, record.ColCreatedBy, record.ColUpdatedTS, record.ColUpdatedBy}
	all, err := p.rec.TableColumns()
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		cols = append(cols, c.Name)
	}
	return cols, nil
}

func (p *Provider) where(b *binder, attrs []string, values []any, ignoreKind bool) (string, error) {
	conds := make([]string, 0, len(attrs)+1)
	for i, attr := range attrs {
		v, err := p.bind(attr, values[i])
		if err != nil {
			return "", err
		}
		if v == nil {
			conds = append(conds, p.Quote(attr)+" IS NULL")
			continue
		}
		conds = append(conds, p.Quote(attr)+" = "+b.add(v))
	}
	if !ignoreKind && p.overloaded() {
		conds = append(conds, p.Quote(record.ColKind)+" = "+b.add(p.rec.TypeName()))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (p *Provider) paginate(q record.Query) string {
	col := q.OrderBy
	if col == "" {
		col = record.ColID
	}
	dir := "ASC"
	if q.Desc() {
		dir = "DESC"
	}
	s := " ORDER BY " + p.Quote(col) + " " + dir
	switch {
	case q.Limit > 0:
		s += " LIMIT " + strconv.Itoa(q.Limit)
	case q.Start > 0:
		s += " LIMIT " + p.d.NoLimit()
	}
	if q.Start > 0 {
		s += " OFFSET " + strconv.Itoa(q.Start)
	}
	return s
}

func (p *Provider) selectRows(ctx context.Context, op string, attrs []string, values []any, q record.Query) ([]record.Row, error) {
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	cols, err := p.selectList(nil)
	if err != nil {
		return nil, err
	}
	if q.IgnoreKind && p.overloaded() {
		if cols, err = p.sharedSelectList(); err != nil {
			return nil, err
		}
	}
	b := &binder{d: p.d}
	where, err := p.where(b, attrs, values, q.IgnoreKind)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT " + p.quoteAll(cols) + " FROM " + p.Quote(table) + where + p.paginate(q)
	rows, err := p.Rows(ctx, op, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, p.rec.TypeName(), err)
	}
	return rows, nil
}

// Load reads the live row with identity id, or the given version of it from
// the history table when version is positive.
func (p *Provider) Load(ctx context.Context, id int64, version int) (record.Row, error) {
	table, err := p.table()
	if version > 0 {
		table, err = p.historyTable()
	}
	if err != nil {
		return nil, err
	}
	cols, err := p.selectList(nil)
	if err != nil {
		return nil, err
	}
	b := &binder{d: p.d}
	stmt := "SELECT " + p.quoteAll(cols) + " FROM " + p.Quote(table) + " WHERE " + p.Quote(record.ColID) + " = " + b.add(id)
	if version > 0 {
		stmt += " AND " + p.Quote(record.ColVersion) + " = " + b.add(version)
	}
	if p.overloaded() {
		stmt += " AND " + p.Quote(record.ColKind) + " = " + b.add(p.rec.TypeName())
	}
	rows, err := p.Rows(ctx, "load", stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", p.rec.TypeName(), record.FormatID(id), err)
	}
	if len(rows) == 0 {
		if version > 0 {
			return nil, fmt.Errorf("%w: %s %s version %d", record.ErrNotFound, p.rec.TypeName(), record.FormatID(id), version)
		}
		return nil, fmt.Errorf("%w: %s %s", record.ErrNotFound, p.rec.TypeName(), record.FormatID(id))
	}
	return rows[0], nil
}

// LoadByAttribute reads the single row whose attr equals value. fields, when
// given, limits the columns read.
func (p *Provider) LoadByAttribute(ctx context.Context, attr string, value any, ignoreKind bool, fields []string) (record.Row, error) {
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	cols, err := p.selectList(fields)
	if err != nil {
		return nil, err
	}
	b := &binder{d: p.d}
	where, err := p.where(b, []string{attr}, []any{value}, ignoreKind)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT " + p.quoteAll(cols) + " FROM " + p.Quote(table) + where + p.paginate(record.Query{Limit: 1})
	rows, err := p.Rows(ctx, "load_by_attribute", stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("load %s by %s: %w", p.rec.TypeName(), attr, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s with %s = %v", record.ErrNotFound, p.rec.TypeName(), attr, value)
	}
	return rows[0], nil
}

// LoadAll reads a page of rows of the record's type.
func (p *Provider) LoadAll(ctx context.Context, q record.Query) ([]record.Row, error) {
	return p.selectRows(ctx, "load_all", nil, nil, q)
}

// LoadAllByAttribute reads the rows whose attr equals value.
func (p *Provider) LoadAllByAttribute(ctx context.Context, attr string, value any, q record.Query) ([]record.Row, error) {
	return p.selectRows(ctx, "load_all_by_attribute", []string{attr}, []any{value}, q)
}

// LoadAllByAttributes reads the rows matching every attribute/value pair.
func (p *Provider) LoadAllByAttributes(ctx context.Context, attrs []string, values []any, q record.Query) ([]record.Row, error) {
	if len(attrs) != len(values) {
		return nil, fmt.Errorf("load %s: %d attributes but %d values", p.rec.TypeName(), len(attrs), len(values))
	}
	return p.selectRows(ctx, "load_all_by_attributes", attrs, values, q)
}

// LoadAllByDayUpdated reads the rows last updated on day, given as
// YYYY-MM-DD.
func (p *Provider) LoadAllByDayUpdated(ctx context.Context, day string, q record.Query) ([]record.Row, error) {
	d, err := time.Parse(types.DateLayout, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a day", record.ErrInvalidValue, day)
	}
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	cols, err := p.selectList(nil)
	if err != nil {
		return nil, err
	}
	b := &binder{d: p.d}
	where, err := p.where(b, nil, nil, q.IgnoreKind)
	if err != nil {
		return nil, err
	}
	filter := p.d.DayFilter(p.Quote(record.ColUpdatedTS), d, b.add)
	if where == "" {
		where = " WHERE " + filter
	} else {
		where += " AND " + filter
	}
	stmt := "SELECT " + p.quoteAll(cols) + " FROM " + p.Quote(table) + where + p.paginate(q)
	rows, err := p.Rows(ctx, "load_all_by_day_updated", stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("load %s updated on %s: %w", p.rec.TypeName(), day, err)
	}
	return rows, nil
}

// LoadAllFieldValuesByAttribute returns returnAttr of every row whose attr
// equals value.
func (p *Provider) LoadAllFieldValuesByAttribute(ctx context.Context, attr string, value any, returnAttr string, q record.Query) ([]string, error) {
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	b := &binder{d: p.d}
	where, err := p.where(b, []string{attr}, []any{value}, q.IgnoreKind)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT " + p.Quote(returnAttr) + " FROM " + p.Quote(table) + where + p.paginate(q)
	rows, err := p.Rows(ctx, "load_field_values", stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s values: %w", p.rec.TypeName(), returnAttr, err)
	}
	kind := p.kindOf(returnAttr)
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, record.FormatScanned(row[returnAttr], kind))
	}
	return out, nil
}

// Save inserts a transient record or updates a persisted one under the
// version guard.
func (p *Provider) Save(ctx context.Context) (record.Saved, error) {
	if p.rec.IsTransient() {
		return p.insert(ctx)
	}
	return p.update(ctx)
}

func (p *Provider) insert(ctx context.Context) (record.Saved, error) {
	table, err := p.table()
	if err != nil {
		return record.Saved{}, err
	}
	own, err := p.rec.Columns()
	if err != nil {
		return record.Saved{}, err
	}
	names := []string{record.ColVersion, record.ColCreatedTS, record.ColCreatedBy, record.ColUpdatedTS, record.ColUpdatedBy}
	for _, c := range own {
		names = append(names, c.Name)
	}
	if p.overloaded() {
		names = append(names, record.ColKind)
	}
	b := &binder{d: p.d}
	placeholders := make([]string, len(names))
	for i, name := range names {
		v := p.rec.StoredValue(name)
		if name == record.ColVersion {
			v = "1"
		}
		bound, err := p.bind(name, v)
		if err != nil {
			return record.Saved{}, err
		}
		placeholders[i] = b.add(bound)
	}
	stmt := "INSERT INTO " + p.Quote(table) + " (" + p.quoteAll(names) + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	q, err := p.store.Conn().Querier(ctx)
	if err != nil {
		return record.Saved{}, err
	}
	p.debug("insert", stmt)
	id, err := p.d.Insert(ctx, q, stmt, b.args)
	if err != nil {
		p.fail("insert", stmt, err)
		return record.Saved{}, p.mapError(ctx, "insert", err)
	}
	return record.Saved{ID: id, Version: 1}, nil
}

// checkVersion reads the stored version and fails with ErrLocking when it
// differs from the version the record was loaded at.
func (p *Provider) checkVersion(ctx context.Context) (int, error) {
	stored, err := p.GetVersion(ctx)
	if err != nil {
		return 0, err
	}
	if stored != p.rec.Version() {
		return 0, fmt.Errorf("%w: %s is at version %d but version %d is stored", record.ErrLocking, p.rec, p.rec.Version(), stored)
	}
	return stored, nil
}

func (p *Provider) update(ctx context.Context) (record.Saved, error) {
	own, err := p.rec.Columns()
	if err != nil {
		return record.Saved{}, err
	}
	names := []string{record.ColUpdatedTS, record.ColUpdatedBy}
	for _, c := range own {
		names = append(names, c.Name)
	}
	version, err := p.guardedUpdate(ctx, "update", names)
	if err != nil {
		return record.Saved{}, err
	}
	return record.Saved{ID: p.rec.ID(), Version: version}, nil
}

// guardedUpdate writes names under the optimistic lock and returns the new
// version.
func (p *Provider) guardedUpdate(ctx context.Context, op string, names []string) (int, error) {
	table, err := p.table()
	if err != nil {
		return 0, err
	}
	stored, err := p.checkVersion(ctx)
	if err != nil {
		return 0, err
	}
	b := &binder{d: p.d}
	sets := []string{p.Quote(record.ColVersion) + " = " + b.add(stored+1)}
	for _, name := range names {
		bound, err := p.bind(name, p.rec.StoredValue(name))
		if err != nil {
			return 0, err
		}
		sets = append(sets, p.Quote(name)+" = "+b.add(bound))
	}
	stmt := "UPDATE " + p.Quote(table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + p.Quote(record.ColID) + " = " + b.add(p.rec.ID()) +
		" AND " + p.Quote(record.ColVersion) + " = " + b.add(stored)
	res, err := p.Exec(ctx, op, stmt, b.args...)
	if err != nil {
		return 0, p.mapError(ctx, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", op, p.rec, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s changed while being saved", record.ErrLocking, p.rec)
	}
	return stored + 1, nil
}

// SaveAttribute writes attr and the update stamps under the version guard
// and returns the new version.
func (p *Provider) SaveAttribute(ctx context.Context, attr string) (int, error) {
	return p.guardedUpdate(ctx, "save_attribute", []string{attr, record.ColUpdatedTS, record.ColUpdatedBy})
}

// SaveHistory copies the current state of the record into its history table.
func (p *Provider) SaveHistory(ctx context.Context) error {
	table, err := p.historyTable()
	if err != nil {
		return err
	}
	own, err := p.rec.Columns()
	if err != nil {
		return err
	}
	names := []string{record.ColID, record.ColVersion, record.ColCreatedTS, record.ColCreatedBy, record.ColUpdatedTS, record.ColUpdatedBy}
	for _, c := range own {
		names = append(names, c.Name)
	}
	if p.overloaded() {
		names = append(names, record.ColKind)
	}
	b := &binder{d: p.d}
	placeholders := make([]string, len(names))
	for i, name := range names {
		bound, err := p.bind(name, p.rec.StoredValue(name))
		if err != nil {
			return err
		}
		placeholders[i] = b.add(bound)
	}
	stmt := "INSERT INTO " + p.Quote(table) + " (" + p.quoteAll(names) + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	if _, err := p.Exec(ctx, "save_history", stmt, b.args...); err != nil {
		return fmt.Errorf("save history of %s: %w", p.rec, err)
	}
	return nil
}

// Delete removes the record's row.
func (p *Provider) Delete(ctx context.Context) error {
	table, err := p.table()
	if err != nil {
		return err
	}
	b := &binder{d: p.d}
	stmt := "DELETE FROM " + p.Quote(table) + " WHERE " + p.Quote(record.ColID) + " = " + b.add(p.rec.ID())
	res, err := p.Exec(ctx, "delete", stmt, b.args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p.rec, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", record.ErrNotFound, p.rec)
	}
	return nil
}

// DeleteAllByAttribute removes the rows whose attr equals value and returns
// how many were removed.
func (p *Provider) DeleteAllByAttribute(ctx context.Context, attr string, value any) (int64, error) {
	table, err := p.table()
	if err != nil {
		return 0, err
	}
	b := &binder{d: p.d}
	where, err := p.where(b, []string{attr}, []any{value}, false)
	if err != nil {
		return 0, err
	}
	res, err := p.Exec(ctx, "delete_all_by_attribute", "DELETE FROM "+p.Quote(table)+where, b.args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s by %s: %w", p.rec.TypeName(), attr, err)
	}
	return res.RowsAffected()
}

// GetVersion reads the stored version number of the record.
func (p *Provider) GetVersion(ctx context.Context) (int, error) {
	table, err := p.table()
	if err != nil {
		return 0, err
	}
	b := &binder{d: p.d}
	stmt := "SELECT " + p.Quote(record.ColVersion) + " FROM " + p.Quote(table) + " WHERE " + p.Quote(record.ColID) + " = " + b.add(p.rec.ID())
	rows, err := p.Rows(ctx, "get_version", stmt, b.args...)
	if err != nil {
		return 0, fmt.Errorf("read version of %s: %w", p.rec, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: %s", record.ErrNotFound, p.rec)
	}
	return strconv.Atoi(record.FormatScanned(rows[0][record.ColVersion], types.KindInteger))
}

// Count returns the number of rows matching every attribute/value pair.
func (p *Provider) Count(ctx context.Context, attrs []string, values []any, ignoreKind bool) (int, error) {
	table, err := p.table()
	if err != nil {
		return 0, err
	}
	b := &binder{d: p.d}
	where, err := p.where(b, attrs, values, ignoreKind)
	if err != nil {
		return 0, err
	}
	n, err := p.Scalar(ctx, "count", "SELECT COUNT(*) FROM "+p.Quote(table)+where, b.args...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.rec.TypeName(), err)
	}
	return int(n), nil
}

// HistoryCount returns the number of history rows kept for the record.
func (p *Provider) HistoryCount(ctx context.Context) (int, error) {
	table, err := p.historyTable()
	if err != nil {
		return 0, err
	}
	b := &binder{d: p.d}
	stmt := "SELECT COUNT(*) FROM " + p.Quote(table) + " WHERE " + p.Quote(record.ColID) + " = " + b.add(p.rec.ID())
	n, err := p.Scalar(ctx, "history_count", stmt, b.args...)
	if err != nil {
		return 0, fmt.Errorf("count history of %s: %w", p.rec, err)
	}
	return int(n), nil
}

// MaxID returns the highest identity in the table, or zero when it is empty.
func (p *Provider) MaxID(ctx context.Context) (int64, error) {
	table, err := p.table()
	if err != nil {
		return 0, err
	}
	n, err := p.Scalar(ctx, "max_id", "SELECT MAX("+p.Quote(record.ColID)+") FROM "+p.Quote(table))
	if err != nil {
		return 0, fmt.Errorf("max id of %s: %w", p.rec.TypeName(), err)
	}
	return n, nil
}

// CheckRecordExists reports whether a row with identity id exists.
func (p *Provider) CheckRecordExists(ctx context.Context, id int64) (bool, error) {
	table, err := p.table()
	if err != nil {
		return false, err
	}
	b := &binder{d: p.d}
	stmt := "SELECT COUNT(*) FROM " + p.Quote(table) + " WHERE " + p.Quote(record.ColID) + " = " + b.add(id)
	n, err := p.Scalar(ctx, "check_record_exists", stmt, b.args...)
	if err != nil {
		return false, fmt.Errorf("check %s %s: %w", p.rec.TypeName(), record.FormatID(id), err)
	}
	return n > 0, nil
}

// CreateTableSQL renders the CREATE TABLE statement of table. History tables
// carry a plain identity and a composite primary key with the version.
func (p *Provider) CreateTableSQL(table string, cols []record.Column, history bool, fks []ForeignKey) string {
	defs := make([]string, 0, len(cols)+len(fks)+8)
	if history {
		defs = append(defs, p.Quote(record.ColID)+" "+p.d.ColumnType(record.Column{Name: record.ColID, Kind: types.KindRelation})+" NOT NULL")
	} else {
		defs = append(defs, p.Quote(record.ColID)+" "+p.d.IdentityColumn())
	}
	for _, c := range record.AuditColumns() {
		def := p.Quote(c.Name) + " " + p.d.ColumnType(c)
		if c.Name == record.ColVersion {
			def += " NOT NULL DEFAULT 0"
		}
		defs = append(defs, def)
	}
	for _, c := range cols {
		defs = append(defs, p.Quote(c.Name)+" "+p.d.ColumnType(c))
	}
	for _, fk := range fks {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE SET NULL",
			p.Quote(fk.Column), p.Quote(fk.Table), p.Quote(fk.RefColumn)))
	}
	if history {
		defs = append(defs, "PRIMARY KEY ("+p.Quote(record.ColID)+", "+p.Quote(record.ColVersion)+")")
	}
	return "CREATE TABLE " + p.Quote(table) + " (\n  " + strings.Join(defs, ",\n  ") + "\n)"
}

func (p *Provider) createStatement(ctx context.Context) (string, error) {
	table, err := p.table()
	if err != nil {
		return "", err
	}
	cols, err := p.rec.TableColumns()
	if err != nil {
		return "", err
	}
	fks, err := p.d.InlineForeignKeys(ctx, p, cols)
	if err != nil {
		return "", err
	}
	return p.CreateTableSQL(table, cols, false, fks), nil
}

// MakeTable creates the record's table.
func (p *Provider) MakeTable(ctx context.Context) error {
	stmt, err := p.createStatement(ctx)
	if err != nil {
		return err
	}
	if _, err := p.Exec(ctx, "make_table", stmt); err != nil {
		return fmt.Errorf("create table of %s: %w", p.rec.TypeName(), err)
	}
	return nil
}

// MakeHistoryTable creates the history table paired with the record's table.
func (p *Provider) MakeHistoryTable(ctx context.Context) error {
	table, err := p.historyTable()
	if err != nil {
		return err
	}
	cols, err := p.rec.TableColumns()
	if err != nil {
		return err
	}
	if _, err := p.Exec(ctx, "make_history_table", p.CreateTableSQL(table, cols, true, nil)); err != nil {
		return fmt.Errorf("create history table of %s: %w", p.rec.TypeName(), err)
	}
	return nil
}

// RebuildTable drops and recreates the table in one transaction.
func (p *Provider) RebuildTable(ctx context.Context) error {
	table, err := p.table()
	if err != nil {
		return err
	}
	create, err := p.createStatement(ctx)
	if err != nil {
		return err
	}
	script := p.d.DropTable(table) + ";\n" + create + ";\n"
	err = p.store.Conn().WithTx(ctx, func(q record.Querier) error {
		for _, stmt := range sqlscript.SplitStatements(script) {
			if _, err := p.ExecOn(ctx, q, "rebuild_table", stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild table %s: %w", table, err)
	}
	return nil
}

// DropTable drops table. Dropping the record's own table also drops its
// history table.
func (p *Provider) DropTable(ctx context.Context, table string) error {
	if _, err := p.Exec(ctx, "drop_table", p.d.DropTable(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	own, err := p.table()
	if err != nil || own != table || !p.rec.Descriptor().MaintainHistory {
		return nil
	}
	hist, _ := p.historyTable()
	if _, err := p.Exec(ctx, "drop_table", p.d.DropTable(hist)); err != nil {
		return fmt.Errorf("drop table %s: %w", hist, err)
	}
	return nil
}

// AddProperty adds the column for attr to the table, and to the history
// table when one exists.
func (p *Provider) AddProperty(ctx context.Context, attr string) error {
	table, err := p.table()
	if err != nil {
		return err
	}
	cols, err := p.rec.TableColumns()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(cols, func(c record.Column) bool { return c.Name == attr })
	if idx < 0 {
		return fmt.Errorf("%w: table %s declares no column %q", record.ErrUnknownField, table, attr)
	}
	def := p.Quote(attr) + " " + p.d.ColumnType(cols[idx])
	if _, err := p.Exec(ctx, "add_property", "ALTER TABLE "+p.Quote(table)+" ADD COLUMN "+def); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, attr, err)
	}
	if !p.rec.Descriptor().MaintainHistory {
		return nil
	}
	hist, _ := p.historyTable()
	exists, err := p.d.TableExists(ctx, p, hist)
	if err != nil || !exists {
		return err
	}
	have, err := p.d.ColumnNames(ctx, p, hist)
	if err != nil {
		return err
	}
	if slices.Contains(have, attr) {
		return nil
	}
	if _, err := p.Exec(ctx, "add_property", "ALTER TABLE "+p.Quote(hist)+" ADD COLUMN "+def); err != nil {
		return fmt.Errorf("add column %s.%s: %w", hist, attr, err)
	}
	return nil
}

// CheckTableExists reports whether the table, or its history table, exists.
func (p *Provider) CheckTableExists(ctx context.Context, history bool) (bool, error) {
	table, err := p.table()
	if history {
		table, err = p.historyTable()
	}
	if err != nil {
		return false, err
	}
	return p.d.TableExists(ctx, p, table)
}

// CheckTableNeedsUpdate reports whether any declared column is missing.
func (p *Provider) CheckTableNeedsUpdate(ctx context.Context) (bool, error) {
	missing, err := p.FindMissingFields(ctx)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}

// FindMissingFields lists the declared columns the physical table lacks.
func (p *Provider) FindMissingFields(ctx context.Context) ([]string, error) {
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	cols, err := p.rec.TableColumns()
	if err != nil {
		return nil, err
	}
	have, err := p.d.ColumnNames(ctx, p, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	missing := []string{}
	for _, c := range cols {
		if !slices.ContainsFunc(have, func(h string) bool { return strings.EqualFold(h, c.Name) }) {
			missing = append(missing, c.Name)
		}
	}
	return missing, nil
}

// GetIndexes lists the unique and foreign key indexes of the table.
func (p *Provider) GetIndexes(ctx context.Context) ([]string, error) {
	table, err := p.table()
	if err != nil {
		return nil, err
	}
	return p.d.Indexes(ctx, p, table)
}

// CreateForeignIndex adds the foreign key from attr to relatedTable.
func (p *Provider) CreateForeignIndex(ctx context.Context, attr, relatedTable, relatedAttr, indexName string) error {
	table, err := p.table()
	if err != nil {
		return err
	}
	if err := p.d.AddForeignKey(ctx, p, table, attr, relatedTable, relatedAttr, indexName); err != nil {
		if errors.Is(err, record.ErrFailedIndexCreate) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", record.ErrFailedIndexCreate, indexName, err)
	}
	return nil
}

// CreateUniqueIndex adds a unique index over fields.
func (p *Provider) CreateUniqueIndex(ctx context.Context, indexName string, fields ...string) error {
	table, err := p.table()
	if err != nil {
		return err
	}
	stmt := "CREATE UNIQUE INDEX " + p.Quote(indexName) + " ON " + p.Quote(table) + " (" + p.quoteAll(fields) + ")"
	if _, err := p.Exec(ctx, "create_unique_index", stmt); err != nil {
		return fmt.Errorf("%w: %s: %w", record.ErrFailedIndexCreate, indexName, err)
	}
	return nil
}

// IsTableOverloaded reports whether the table carries the type
// discriminator column.
func (p *Provider) IsTableOverloaded(ctx context.Context) (bool, error) {
	table, err := p.table()
	if err != nil {
		return false, err
	}
	have, err := p.d.ColumnNames(ctx, p, table)
	if err != nil {
		return false, err
	}
	return slices.Contains(have, record.ColKind), nil
}

// Query runs stmt with writes refused by the database and returns its rows
// in column order.
func (p *Provider) Query(ctx context.Context, stmt string) ([]record.ResultRow, error) {
	var out []record.ResultRow
	err := p.d.ReadOnly(ctx, p, func(q record.Querier) error {
		p.debug("query", stmt)
		rows, err := q.QueryContext(ctx, stmt)
		if err != nil {
			p.fail("query", stmt, err)
			return err
		}
		out, err = record.ScanResult(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", record.ErrCustomQuery, err)
	}
	return out, nil
}

// mapError turns unique constraint violations into validation errors naming
// the conflicting fields.
func (p *Provider) mapError(ctx context.Context, op string, err error) error {
	constraint, ok := p.d.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, p.rec.TypeName(), err)
	}
	table, terr := p.table()
	if terr != nil {
		return terr
	}
	if constraint != "" {
		for _, d := range p.store.Registry().Sharers(table) {
			for _, group := range d.Unique {
				if record.UniqueIndexName(table, group...) == constraint {
					return record.UniqueViolation(p.rec.TypeName(), group...)
				}
			}
		}
		return record.UniqueViolation(p.rec.TypeName(), constraint)
	}
	if group := p.conflictingGroup(ctx); group != nil {
		return record.UniqueViolation(p.rec.TypeName(), group...)
	}
	return record.UniqueViolation(p.rec.TypeName(), record.ColID)
}

// conflictingGroup finds the declared unique group another row already holds
// the record's values for.
func (p *Provider) conflictingGroup(ctx context.Context) []string {
	table, err := p.table()
	if err != nil {
		return nil
	}
	for _, group := range p.rec.Descriptor().Unique {
		values := make([]any, len(group))
		for i, f := range group {
			values[i] = p.rec.StoredValue(f)
		}
		b := &binder{d: p.d}
		where, err := p.where(b, group, values, true)
		if err != nil {
			continue
		}
		if !p.rec.IsTransient() {
			where += " AND " + p.Quote(record.ColID) + " <> " + b.add(p.rec.ID())
		}
		n, err := p.Scalar(ctx, "find_unique_conflict", "SELECT COUNT(*) FROM "+p.Quote(table)+where, b.args...)
		if err == nil && n > 0 {
			return group
		}
	}
	return nil
}
