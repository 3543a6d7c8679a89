package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alphadevx/alpha-sub000/internal/sqlscript"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Load reads the record with identity id. A version greater than zero reads
// that version from the history table without touching the live row.
func (r *Record) Load(ctx context.Context, id int64, version int) (err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load", start, err) }()

	if version == 0 {
		if values, ok := r.store.cache.Get(CacheKey(r.desc.Name, id)); ok {
			r.restore(values)
			return nil
		}
	} else if !r.desc.MaintainHistory {
		return fmt.Errorf("%w: %s does not maintain history", ErrNotFound, r.desc.Name)
	}
	row, err := r.provider().Load(ctx, id, version)
	if err != nil {
		return r.loadFailed(ctx, err, version > 0)
	}
	r.populate(row)
	if version == 0 {
		r.store.cache.Set(CacheKey(r.desc.Name, r.id), r.snapshot())
	}
	return nil
}

// Reload re-reads the live row, bypassing the cache. It clears the stale flag
// left by a failed save.
func (r *Record) Reload(ctx context.Context) error {
	if r.id == 0 {
		return fmt.Errorf("%w: %s is transient", ErrNotFound, r.desc.Name)
	}
	id := r.id
	r.store.cache.Delete(CacheKey(r.desc.Name, id))
	return r.Load(ctx, id, 0)
}

// LoadByAttribute loads the single record whose attr equals value. When
// fields are given only those columns are read.
func (r *Record) LoadByAttribute(ctx context.Context, attr, value string, ignoreKind bool, fields ...string) (err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_by_attribute", start, err) }()

	if err := r.checkColumns(append([]string{attr}, fields...)...); err != nil {
		return err
	}
	row, err := r.provider().LoadByAttribute(ctx, attr, value, ignoreKind, fields)
	if err != nil {
		return r.loadFailed(ctx, err, false)
	}
	r.populate(row)
	return nil
}

// LoadAll loads a page of records of this type.
func (r *Record) LoadAll(ctx context.Context, q Query) (out []*Record, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_all", start, err) }()

	if err := r.checkColumns(q.OrderBy); err != nil {
		return nil, err
	}
	rows, err := r.provider().LoadAll(ctx, q)
	if err != nil {
		return nil, r.loadFailed(ctx, err, false)
	}
	return r.build(rows, q.IgnoreKind), nil
}

// LoadAllByAttribute loads the records whose attr equals value.
func (r *Record) LoadAllByAttribute(ctx context.Context, attr, value string, q Query) (out []*Record, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_all_by_attribute", start, err) }()

	if err := r.checkColumns(attr, q.OrderBy); err != nil {
		return nil, err
	}
	rows, err := r.provider().LoadAllByAttribute(ctx, attr, value, q)
	if err != nil {
		return nil, r.loadFailed(ctx, err, false)
	}
	return r.build(rows, q.IgnoreKind), nil
}

// LoadAllByAttributes loads the records matching every attr/value pair.
func (r *Record) LoadAllByAttributes(ctx context.Context, attrs, values []string, q Query) (out []*Record, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_all_by_attributes", start, err) }()

	if len(attrs) != len(values) {
		return nil, fmt.Errorf("load %s: %d attributes but %d values", r.desc.Name, len(attrs), len(values))
	}
	if err := r.checkColumns(append([]string{q.OrderBy}, attrs...)...); err != nil {
		return nil, err
	}
	rows, err := r.provider().LoadAllByAttributes(ctx, attrs, anyValues(values), q)
	if err != nil {
		return nil, r.loadFailed(ctx, err, false)
	}
	return r.build(rows, q.IgnoreKind), nil
}

// LoadAllByDayUpdated loads the records last updated on day (YYYY-MM-DD).
func (r *Record) LoadAllByDayUpdated(ctx context.Context, day string, q Query) (out []*Record, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_all_by_day_updated", start, err) }()

	if err := types.NewDate().SetValue(day); err != nil || day == "" {
		return nil, fmt.Errorf("load %s updated on %q: %w", r.desc.Name, day, ErrInvalidValue)
	}
	if err := r.checkColumns(q.OrderBy); err != nil {
		return nil, err
	}
	rows, err := r.provider().LoadAllByDayUpdated(ctx, day, q)
	if err != nil {
		return nil, r.loadFailed(ctx, err, false)
	}
	return r.build(rows, q.IgnoreKind), nil
}

// LoadAllFieldValuesByAttribute returns the returnAttr column of every record
// whose attr equals value.
func (r *Record) LoadAllFieldValuesByAttribute(ctx context.Context, attr, value, returnAttr string, q Query) (out []string, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "load_field_values", start, err) }()

	if err := r.checkColumns(attr, returnAttr, q.OrderBy); err != nil {
		return nil, err
	}
	out, err = r.provider().LoadAllFieldValuesByAttribute(ctx, attr, value, returnAttr, q)
	if err != nil {
		return nil, r.loadFailed(ctx, err, false)
	}
	return out, nil
}

func (r *Record) build(rows []Row, ignoreKind bool) []*Record {
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		d := r.desc
		if ignoreKind {
			if k, ok := row[ColKind]; ok {
				if other, ok := r.store.registry.Lookup(FormatScanned(k, types.KindSmallText)); ok {
					d = other
				}
			}
		}
		rec := newRecord(r.store, d)
		rec.populate(row)
		out = append(out, rec)
	}
	return out
}

func (r *Record) loadFailed(ctx context.Context, err error, history bool) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if herr := r.heal(ctx, history); herr != nil {
		return herr
	}
	return fmt.Errorf("load %s: %w", r.desc.Name, err)
}

// heal repairs the schema drift that made an operation fail. It returns nil
// when nothing was repaired, otherwise an error wrapping ErrNotFound that
// describes the repair, or the error that prevented it.
func (r *Record) heal(ctx context.Context, history bool) error {
	table, err := r.Table()
	if err != nil {
		return err
	}
	p := r.provider()
	exists, err := p.CheckTableExists(ctx, false)
	if err != nil {
		return nil
	}
	if !exists {
		if err := r.MakeTable(ctx); err != nil {
			return fmt.Errorf("create missing table %s: %w", table, err)
		}
		r.store.log.Warn().Str("table", table).Msg("table did not exist and was created")
		return fmt.Errorf("%w: table %s did not exist and was created", ErrNotFound, table)
	}
	if history && r.desc.MaintainHistory {
		exists, err := p.CheckTableExists(ctx, true)
		if err == nil && !exists {
			if err := p.MakeHistoryTable(ctx); err != nil {
				return fmt.Errorf("create missing history table of %s: %w", table, err)
			}
			r.store.log.Warn().Str("table", table).Msg("history table did not exist and was created")
			return fmt.Errorf("%w: history table of %s did not exist and was created", ErrNotFound, table)
		}
	}
	needs, err := p.CheckTableNeedsUpdate(ctx)
	if err != nil || !needs {
		return nil
	}
	missing, err := p.FindMissingFields(ctx)
	if err != nil {
		return nil
	}
	for _, name := range missing {
		if err := p.AddProperty(ctx, name); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	r.store.log.Warn().Str("table", table).Strs("columns", missing).Msg("table was out of sync and has been updated")
	return fmt.Errorf("%w: table %s was out of sync and has been updated", ErrNotFound, table)
}

// Save validates the record and writes it: an insert for a transient record,
// otherwise an update guarded by the version number read at load time.
// Relations and history are written after the row.
func (r *Record) Save(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "save", start, err) }()

	if r.stale {
		return fmt.Errorf("%w: %s", ErrStale, r)
	}
	if err := r.loadDEnumOptions(ctx); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}

	persisted := r.id != 0
	createdTS, createdBy, updatedTS, updatedBy := r.createdTS, r.createdBy, r.updatedTS, r.updatedBy
	now := time.Now().UTC().Format(types.TimestampLayout)
	actor := r.store.actor()
	if !persisted {
		r.createdTS, r.createdBy = now, actor
	}
	r.updatedTS, r.updatedBy = now, actor

	saved, err := r.provider().Save(ctx)
	if err != nil {
		r.createdTS, r.createdBy, r.updatedTS, r.updatedBy = createdTS, createdBy, updatedTS, updatedBy
		return r.saveFailed(ctx, err, persisted)
	}
	r.id, r.version = saved.ID, saved.Version
	r.stampOneToMany()

	if err := r.saveLookups(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedSave, r, err)
	}
	if r.desc.MaintainHistory {
		if err := r.saveHistory(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFailedSave, r, err)
		}
	}
	r.store.cache.Set(CacheKey(r.desc.Name, r.id), r.snapshot())
	return nil
}

func (r *Record) saveFailed(ctx context.Context, err error, persisted bool) error {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return err
	case errors.Is(err, ErrLocking):
		r.stale = true
		return err
	}
	if herr := r.heal(ctx, false); herr != nil {
		return herr
	}
	if persisted {
		r.stale = true
	}
	return fmt.Errorf("%w: %s: %w", ErrFailedSave, r, err)
}

func (r *Record) saveHistory(ctx context.Context) error {
	p := r.provider()
	err := p.SaveHistory(ctx)
	if err == nil {
		return nil
	}
	exists, cerr := p.CheckTableExists(ctx, true)
	if cerr != nil || exists {
		return fmt.Errorf("save history: %w", err)
	}
	if err := p.MakeHistoryTable(ctx); err != nil {
		return err
	}
	return p.SaveHistory(ctx)
}

// SaveAttribute assigns and writes a single field of a persisted record under
// the same version check as Save.
func (r *Record) SaveAttribute(ctx context.Context, name, value string) (err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "save_attribute", start, err) }()

	if r.stale {
		return fmt.Errorf("%w: %s", ErrStale, r)
	}
	if r.id == 0 {
		return fmt.Errorf("%w: %s is transient", ErrFailedSave, r.desc.Name)
	}
	if isReserved(name) || !r.knownColumn(name) {
		return fmt.Errorf("%w: %s has no stored column %q", ErrUnknownField, r.desc.Name, name)
	}
	if err := r.loadDEnumOptions(ctx); err != nil {
		return err
	}
	field := r.fields[name]
	old := field.Value()
	if err := r.Set(name, value); err != nil {
		return &ValidationError{Type: r.desc.Name, Fields: map[string]error{name: err}}
	}

	updatedTS, updatedBy := r.updatedTS, r.updatedBy
	r.updatedTS = time.Now().UTC().Format(types.TimestampLayout)
	r.updatedBy = r.store.actor()

	version, err := r.provider().SaveAttribute(ctx, name)
	if err != nil {
		_ = field.SetValue(old)
		r.updatedTS, r.updatedBy = updatedTS, updatedBy
		return r.saveFailed(ctx, err, true)
	}
	r.version = version
	if r.desc.MaintainHistory {
		if err := r.saveHistory(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFailedSave, r, err)
		}
	}
	r.store.cache.Set(CacheKey(r.desc.Name, r.id), r.snapshot())
	return nil
}

// Delete removes the record. MANY-TO-MANY lookup rows go first; ONE-TO-MANY
// dependents are deleted when the relation cascades and released otherwise.
// On success the in-memory record is cleared.
func (r *Record) Delete(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "delete", start, err) }()

	if r.id == 0 {
		return fmt.Errorf("%w: %s is transient", ErrFailedDelete, r.desc.Name)
	}
	for _, f := range r.desc.Fields {
		rel, ok := r.fields[f.Name].(*types.Relation)
		if !ok {
			continue
		}
		switch rel.RelationKind() {
		case types.ManyToMany:
			if err := r.deleteLookups(ctx, rel); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrFailedDelete, r, err)
			}
		case types.OneToMany:
			if err := r.releaseDependents(ctx, rel); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrFailedDelete, r, err)
			}
		}
	}
	if err := r.provider().Delete(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedDelete, r, err)
	}
	r.store.cache.Delete(CacheKey(r.desc.Name, r.id))
	r.reset()
	r.attachDEnumOptions()
	return nil
}

// DeleteAllByAttribute deletes every record of this type whose attr equals
// value and returns how many rows were removed.
func (r *Record) DeleteAllByAttribute(ctx context.Context, attr, value string) (n int64, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "delete_all_by_attribute", start, err) }()

	if err := r.checkColumns(attr); err != nil {
		return 0, err
	}
	p := r.provider()
	ids, err := p.LoadAllFieldValuesByAttribute(ctx, attr, value, ColID, Query{})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFailedDelete, r.desc.Name, err)
	}
	n, err = p.DeleteAllByAttribute(ctx, attr, value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFailedDelete, r.desc.Name, err)
	}
	for _, s := range ids {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			r.store.cache.Delete(CacheKey(r.desc.Name, id))
		}
	}
	return n, nil
}

// GetVersion returns the stored version of the record.
func (r *Record) GetVersion(ctx context.Context) (int, error) {
	return r.provider().GetVersion(ctx)
}

// CheckRecordExists reports whether a row with identity id exists.
func (r *Record) CheckRecordExists(ctx context.Context, id int64) (bool, error) {
	return r.provider().CheckRecordExists(ctx, id)
}

// Count returns the number of records of this type matching every
// attr/value pair.
func (r *Record) Count(ctx context.Context, attrs, values []string) (int, error) {
	if len(attrs) != len(values) {
		return 0, fmt.Errorf("count %s: %d attributes but %d values", r.desc.Name, len(attrs), len(values))
	}
	if err := r.checkColumns(attrs...); err != nil {
		return 0, err
	}
	return r.provider().Count(ctx, attrs, anyValues(values), false)
}

// CountAll counts the rows of the record's table. Unless ignoreKind is set,
// only rows of this type are counted on a shared table.
func (r *Record) CountAll(ctx context.Context, ignoreKind bool) (int, error) {
	return r.provider().Count(ctx, nil, nil, ignoreKind)
}

// HistoryCount returns the number of history rows of this type.
func (r *Record) HistoryCount(ctx context.Context) (int, error) {
	if !r.desc.MaintainHistory {
		return 0, fmt.Errorf("%w: %s does not maintain history", ErrNotFound, r.desc.Name)
	}
	return r.provider().HistoryCount(ctx)
}

// MaxID returns the highest identity stored in the record's table.
func (r *Record) MaxID(ctx context.Context) (int64, error) {
	return r.provider().MaxID(ctx)
}

// Query runs a read-only statement and returns its rows in column order.
func (r *Record) Query(ctx context.Context, sql string) (out []ResultRow, err error) {
	start := time.Now()
	defer func() { r.store.observe(ctx, "query", start, err) }()

	if !sqlscript.IsReadOnly(sql) {
		return nil, fmt.Errorf("%w: only read statements are accepted", ErrCustomQuery)
	}
	out, err = r.provider().Query(ctx, sql)
	if err != nil && !errors.Is(err, ErrCustomQuery) {
		err = fmt.Errorf("%w: %w", ErrCustomQuery, err)
	}
	return out, err
}

func anyValues(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
