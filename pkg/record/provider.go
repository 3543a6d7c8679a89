package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Row is one table row keyed by column name, as scanned from the driver.
type Row map[string]any

// Saved reports the identity and version a provider wrote.
type Saved struct {
	ID      int64
	Version int
}

// Query carries pagination and ordering for multi-row loads.
type Query struct {
	Start int
	// Limit of zero means no limit.
	Limit   int
	OrderBy string
	// Order is "ASC" or "DESC"; anything else is treated as ASC.
	Order string
	// IgnoreKind disables the discriminator filter on shared tables.
	IgnoreKind bool
}

// Desc reports whether the query orders descending.
func (q Query) Desc() bool { return q.Order == "DESC" || q.Order == "desc" }

// NamedValue is one column of a custom query result. Null marks a NULL
// column, whose Value is empty.
type NamedValue struct {
	Name  string
	Value string
	Null  bool
}

// ResultRow is an ordered custom query result row.
type ResultRow []NamedValue

// Get returns the value of the named column.
func (r ResultRow) Get(name string) (string, bool) {
	for _, nv := range r {
		if nv.Name == name {
			return nv.Value, true
		}
	}
	return "", false
}

// Provider translates operations on the record it is bound to into SQL for
// one backend. Instances are created per operation by the Store and must not
// be retained. Attribute and column names reaching a provider have already
// been checked against the record's descriptor.
type Provider interface {
	Load(ctx context.Context, id int64, version int) (Row, error)
	LoadByAttribute(ctx context.Context, attr string, value any, ignoreKind bool, fields []string) (Row, error)
	LoadAll(ctx context.Context, q Query) ([]Row, error)
	LoadAllByAttribute(ctx context.Context, attr string, value any, q Query) ([]Row, error)
	LoadAllByAttributes(ctx context.Context, attrs []string, values []any, q Query) ([]Row, error)
	// LoadAllByDayUpdated loads rows whose updated_ts falls on day (YYYY-MM-DD).
	LoadAllByDayUpdated(ctx context.Context, day string, q Query) ([]Row, error)
	LoadAllFieldValuesByAttribute(ctx context.Context, attr string, value any, returnAttr string, q Query) ([]string, error)

	// Save inserts a transient record or performs a version checked update.
	Save(ctx context.Context) (Saved, error)
	// SaveAttribute writes a single field under the same version check.
	SaveAttribute(ctx context.Context, attr string) (int, error)
	SaveHistory(ctx context.Context) error
	Delete(ctx context.Context) error
	DeleteAllByAttribute(ctx context.Context, attr string, value any) (int64, error)
	GetVersion(ctx context.Context) (int, error)
	Count(ctx context.Context, attrs []string, values []any, ignoreKind bool) (int, error)
	HistoryCount(ctx context.Context) (int, error)
	MaxID(ctx context.Context) (int64, error)
	CheckRecordExists(ctx context.Context, id int64) (bool, error)

	MakeTable(ctx context.Context) error
	MakeHistoryTable(ctx context.Context) error
	RebuildTable(ctx context.Context) error
	DropTable(ctx context.Context, table string) error
	AddProperty(ctx context.Context, attr string) error
	CheckTableExists(ctx context.Context, history bool) (bool, error)
	CheckTableNeedsUpdate(ctx context.Context) (bool, error)
	FindMissingFields(ctx context.Context) ([]string, error)
	GetIndexes(ctx context.Context) ([]string, error)
	CreateForeignIndex(ctx context.Context, attr, relatedTable, relatedAttr, indexName string) error
	CreateUniqueIndex(ctx context.Context, indexName string, fields ...string) error
	// IsTableOverloaded reports whether the physical table carries a kind column.
	IsTableOverloaded(ctx context.Context) (bool, error)

	Query(ctx context.Context, sql string) ([]ResultRow, error)
}

// ProviderFactory binds a backend provider to a record.
type ProviderFactory func(s *Store, r *Record) Provider

var (
	providersMu sync.RWMutex
	providers   = map[string]ProviderFactory{}
)

// RegisterProvider makes a backend available under name. Backends register
// themselves from init.
func RegisterProvider(name string, f ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if f == nil {
		panic("record: RegisterProvider factory is nil")
	}
	if _, dup := providers[name]; dup {
		panic("record: RegisterProvider called twice for " + name)
	}
	providers[name] = f
}

// Providers lists the registered backend names.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func providerFactory(name string) (ProviderFactory, error) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	f, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f, nil
}
