// Package record maps typed in-memory records to rows of a relational
// backend. Record types are declared statically with a Descriptor and
// registered with the Store; every operation is delegated to the provider of
// the backend the Store was opened with.
package record

import (
	"fmt"
	"strconv"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Record is one instance of a registered record type. A Record is owned by a
// single goroutine; it is not safe for concurrent use.
type Record struct {
	store  *Store
	desc   *Descriptor
	fields map[string]types.Type

	id        int64
	version   int
	createdTS string
	createdBy int64
	updatedTS string
	updatedBy int64
	stale     bool
}

func newRecord(s *Store, d *Descriptor) *Record {
	r := &Record{store: s, desc: d}
	r.reset()
	r.attachDEnumOptions()
	return r
}

func (r *Record) reset() {
	r.fields = make(map[string]types.Type, len(r.desc.Fields))
	for _, f := range r.desc.Fields {
		r.fields[f.Name] = f.New()
	}
	r.id, r.version = 0, 0
	r.createdTS, r.updatedTS = "", ""
	r.createdBy, r.updatedBy = 0, 0
	r.stale = false
}

// Store returns the store the record belongs to.
func (r *Record) Store() *Store { return r.store }

// Descriptor returns the record's type declaration.
func (r *Record) Descriptor() *Descriptor { return r.desc }

// TypeName returns the registered name of the record's type.
func (r *Record) TypeName() string { return r.desc.Name }

// ID returns the identity; zero while the record is transient.
func (r *Record) ID() int64 { return r.id }

// IDString returns the canonical zero-padded identity.
func (r *Record) IDString() string { return FormatID(r.id) }

// Version returns the version number read or written last; zero while the
// record is transient.
func (r *Record) Version() int { return r.version }

// CreatedTS returns the creation timestamp as YYYY-MM-DD HH:MM:SS.
func (r *Record) CreatedTS() string { return r.createdTS }

// CreatedBy returns the actor that created the record.
func (r *Record) CreatedBy() int64 { return r.createdBy }

// UpdatedTS returns the timestamp of the last save.
func (r *Record) UpdatedTS() string { return r.updatedTS }

// UpdatedBy returns the actor of the last save.
func (r *Record) UpdatedBy() int64 { return r.updatedBy }

// IsTransient reports whether the record has never been saved.
func (r *Record) IsTransient() bool { return r.id == 0 }

// IsStale reports whether a save lost the version check. A stale record
// refuses to save until it is reloaded.
func (r *Record) IsStale() bool { return r.stale }

func (r *Record) String() string { return r.desc.Name + "-" + r.IDString() }
func (r *Record) provider() Provider { return r.store.Provider(r) }

// Value returns the typed value of the named field.
func (r *Record) Value(name string) (types.Type, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Field returns the named field as T. It fails when the field is unknown or
// declared with another type.
func Field[T types.Type](r *Record, name string) (T, error) {
	var zero T
	v, ok := r.fields[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.desc.Name, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s is a %s field", r.desc.Name, name, v.Kind())
	}
	return t, nil
}

// Get returns the value of a field or reserved column. A field declared with
// a Get accessor is read through it.
func (r *Record) Get(name string) (string, error) {
	if v, ok := r.reserved(name); ok {
		return v, nil
	}
	spec, ok := r.desc.Field(name)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, r.desc.Name, name)
	}
	if spec.Get != nil {
		return spec.Get(r), nil
	}
	return r.fields[name].Value(), nil
}

// Set validates and assigns a field. Reserved columns are managed by the
// engine and cannot be set.
func (r *Record) Set(name, value string) error {
	if isReserved(name) {
		return fmt.Errorf("%s.%s is managed by the engine", r.desc.Name, name)
	}
	spec, ok := r.desc.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, r.desc.Name, name)
	}
	var err error
	if spec.Set != nil {
		err = spec.Set(r, value)
	} else {
		err = r.fields[name].SetValue(value)
	}
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", r.desc.Name, name, err)
	}
	return nil
}

func (r *Record) reserved(name string) (string, bool) {
	switch name {
	case ColID:
		return r.IDString(), true
	case ColVersion:
		return strconv.Itoa(r.version), true
	case ColCreatedTS:
		return r.createdTS, true
	case ColCreatedBy:
		return strconv.FormatInt(r.createdBy, 10), true
	case ColUpdatedTS:
		return r.updatedTS, true
	case ColUpdatedBy:
		return strconv.FormatInt(r.updatedBy, 10), true
	case ColKind:
		return r.desc.Name, true
	}
	return "", false
}

// StoredValue returns the value written to column col, bypassing accessor
// overrides. Providers bind it after converting for the column's kind.
func (r *Record) StoredValue(col string) string {
	if v, ok := r.reserved(col); ok {
		if col == ColID && r.id == 0 {
			return ""
		}
		return v
	}
	if v, ok := r.fields[col]; ok {
		return v.Value()
	}
	return ""
}

// Table resolves the physical table the record is stored in.
func (r *Record) Table() (string, error) { return r.store.registry.Table(r.desc) }

// HistoryTable is the audit table paired with the record's table.
func (r *Record) HistoryTable() (string, error) {
	t, err := r.Table()
	if err != nil {
		return "", err
	}
	return t + "_history", nil
}

// Columns returns the stored field columns of the record's own type.
func (r *Record) Columns() ([]Column, error) { return r.store.registry.Columns(r.desc) }

// TableColumns returns the field columns of the whole physical table, which
// for shared tables is the union over every sharer plus the discriminator.
func (r *Record) TableColumns() ([]Column, error) {
	t, err := r.Table()
	if err != nil {
		return nil, err
	}
	return r.store.registry.TableColumns(t)
}

// Overloaded reports whether the record's table is shared with another type,
// as declared in the registry.
func (r *Record) Overloaded() (bool, error) { return r.store.registry.Overloaded(r.desc) }

// knownColumn reports whether name can be used as a filter or order column.
func (r *Record) knownColumn(name string) bool {
	if isReserved(name) {
		return true
	}
	spec, ok := r.desc.Field(name)
	if !ok || spec.Transient {
		return false
	}
	if rel, ok := r.fields[name].(*types.Relation); ok {
		return rel.Stored()
	}
	return true
}

func (r *Record) checkColumns(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if !r.knownColumn(name) {
			return fmt.Errorf("%w: %s has no stored column %q", ErrUnknownField, r.desc.Name, name)
		}
	}
	return nil
}

// populate assigns the record from a scanned row. Values that no longer
// satisfy their field's rule are logged and left at their default.
func (r *Record) populate(row Row) {
	kinds := make(map[string]types.Kind, len(r.fields))
	for name, v := range r.fields {
		kinds[name] = v.Kind()
	}
	values := make(map[string]string, len(row))
	for col, v := range row {
		kind, ok := kinds[col]
		if !ok {
			kind = reservedKind(col)
		}
		values[col] = FormatScanned(v, kind)
	}
	r.restore(values)
}

func reservedKind(col string) types.Kind {
	switch col {
	case ColCreatedTS, ColUpdatedTS:
		return types.KindTimestamp
	case ColKind:
		return types.KindSmallText
	}
	return types.KindInteger
}

// restore assigns the record from string values keyed by column.
func (r *Record) restore(values map[string]string) {
	r.reset()
	for col, v := range values {
		switch col {
		case ColID:
			r.id, _ = strconv.ParseInt(v, 10, 64)
		case ColVersion:
			r.version, _ = strconv.Atoi(v)
		case ColCreatedTS:
			r.createdTS = v
		case ColCreatedBy:
			r.createdBy, _ = strconv.ParseInt(v, 10, 64)
		case ColUpdatedTS:
			r.updatedTS = v
		case ColUpdatedBy:
			r.updatedBy, _ = strconv.ParseInt(v, 10, 64)
		case ColKind:
		default:
			f, ok := r.fields[col]
			if !ok {
				continue
			}
			if err := f.SetValue(v); err != nil {
				r.store.log.Warn().Err(err).Str("type", r.desc.Name).Int64("id", r.id).Str("field", col).
					Msg("stored value rejected")
			}
		}
	}
	r.stampOneToMany()
	r.attachDEnumOptions()
}

// snapshot captures the stored state for the cache.
func (r *Record) snapshot() map[string]string {
	out := map[string]string{
		ColID:        strconv.FormatInt(r.id, 10),
		ColVersion:   strconv.Itoa(r.version),
		ColCreatedTS: r.createdTS,
		ColCreatedBy: strconv.FormatInt(r.createdBy, 10),
		ColUpdatedTS: r.updatedTS,
		ColUpdatedBy: strconv.FormatInt(r.updatedBy, 10),
	}
	for _, f := range r.desc.Fields {
		if f.Transient {
			continue
		}
		out[f.Name] = r.fields[f.Name].Value()
	}
	return out
}

// stampOneToMany writes the record's identity onto its ONE-TO-MANY relations.
func (r *Record) stampOneToMany() {
	if r.id == 0 {
		return
	}
	for _, v := range r.fields {
		if rel, ok := v.(*types.Relation); ok && rel.RelationKind() == types.OneToMany {
			_ = rel.SetValue(strconv.FormatInt(r.id, 10))
		}
	}
}

// Validate checks every persistent field and aggregates the failures.
func (r *Record) Validate() error {
	var verr *ValidationError
	for _, f := range r.desc.Fields {
		if f.Transient {
			continue
		}
		if err := r.fields[f.Name].Validate(); err != nil {
			if verr == nil {
				verr = &ValidationError{Type: r.desc.Name, Fields: map[string]error{}}
			}
			verr.Fields[f.Name] = err
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}
