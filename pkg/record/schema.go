package record

import (
	"context"
	"fmt"
	"slices"
)

// MakeTable creates the record's table, its history table when history is
// maintained, and the indexes declared for them.
func (r *Record) MakeTable(ctx context.Context) error {
	p := r.provider()
	if err := p.MakeTable(ctx); err != nil {
		return err
	}
	if r.desc.MaintainHistory {
		if err := p.MakeHistoryTable(ctx); err != nil {
			return err
		}
	}
	return r.CheckIndexes(ctx)
}

// MakeHistoryTable creates the history table paired with the record's table.
func (r *Record) MakeHistoryTable(ctx context.Context) error {
	return r.provider().MakeHistoryTable(ctx)
}

// RebuildTable drops and recreates the record's table. All rows are lost.
func (r *Record) RebuildTable(ctx context.Context) error {
	if err := r.provider().RebuildTable(ctx); err != nil {
		return err
	}
	return r.CheckIndexes(ctx)
}

// DropTable drops table, or the record's own table when table is empty.
func (r *Record) DropTable(ctx context.Context, table string) error {
	if table == "" {
		t, err := r.Table()
		if err != nil {
			return err
		}
		table = t
	}
	if err := r.provider().DropTable(ctx, table); err != nil {
		return err
	}
	r.store.forgetLookups()
	return nil
}

// AddProperty adds the column of a declared field to the existing table.
func (r *Record) AddProperty(ctx context.Context, name string) error {
	if isReserved(name) || !r.knownColumn(name) {
		return fmt.Errorf("%w: %s has no stored column %q", ErrUnknownField, r.desc.Name, name)
	}
	return r.provider().AddProperty(ctx, name)
}

// CheckTableExists reports whether the record's table, or its history table,
// exists.
func (r *Record) CheckTableExists(ctx context.Context, history bool) (bool, error) {
	return r.provider().CheckTableExists(ctx, history)
}

// CheckTableNeedsUpdate reports whether declared columns are missing from the
// table.
func (r *Record) CheckTableNeedsUpdate(ctx context.Context) (bool, error) {
	return r.provider().CheckTableNeedsUpdate(ctx)
}

// FindMissingFields lists the declared columns absent from the table.
func (r *Record) FindMissingFields(ctx context.Context) ([]string, error) {
	return r.provider().FindMissingFields(ctx)
}

// GetIndexes lists the foreign key and unique index names on the table.
func (r *Record) GetIndexes(ctx context.Context) ([]string, error) {
	return r.provider().GetIndexes(ctx)
}

// CreateForeignIndex adds a foreign key from attr to relatedTable.relatedAttr.
// An empty indexName uses the conventional name.
func (r *Record) CreateForeignIndex(ctx context.Context, attr, relatedTable, relatedAttr, indexName string) error {
	table, err := r.Table()
	if err != nil {
		return err
	}
	if indexName == "" {
		indexName = ForeignIndexName(table, attr)
	}
	return r.provider().CreateForeignIndex(ctx, attr, relatedTable, relatedAttr, indexName)
}

// CreateUniqueIndex adds a unique index over fields.
func (r *Record) CreateUniqueIndex(ctx context.Context, fields ...string) error {
	if err := r.checkColumns(fields...); err != nil {
		return err
	}
	table, err := r.Table()
	if err != nil {
		return err
	}
	return r.provider().CreateUniqueIndex(ctx, UniqueIndexName(table, fields...), fields...)
}

// CheckIndexes creates the missing foreign keys and unique indexes of the
// record's table. Foreign keys whose target table does not exist yet are
// skipped until the next check.
func (r *Record) CheckIndexes(ctx context.Context) error {
	table, err := r.Table()
	if err != nil {
		return err
	}
	existing, err := r.GetIndexes(ctx)
	if err != nil {
		return err
	}
	cols, err := r.TableColumns()
	if err != nil {
		return err
	}
	for _, col := range cols {
		if col.References == "" {
			continue
		}
		name := ForeignIndexName(table, col.Name)
		if slices.Contains(existing, name) {
			continue
		}
		ok, err := r.tableExists(ctx, col.References)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.provider().CreateForeignIndex(ctx, col.Name, col.References, ColID, name); err != nil {
			return err
		}
		existing = append(existing, name)
	}
	for _, d := range r.store.registry.Sharers(table) {
		for _, group := range d.Unique {
			name := UniqueIndexName(table, group...)
			if slices.Contains(existing, name) {
				continue
			}
			if err := r.provider().CreateUniqueIndex(ctx, name, group...); err != nil {
				return err
			}
			existing = append(existing, name)
		}
	}
	return nil
}

// tableExists checks a table through the first registered type stored in it.
func (r *Record) tableExists(ctx context.Context, table string) (bool, error) {
	if t, _ := r.Table(); t == table {
		return r.CheckTableExists(ctx, false)
	}
	sharers := r.store.registry.Sharers(table)
	if len(sharers) == 0 {
		return false, nil
	}
	return newRecord(r.store, sharers[0]).CheckTableExists(ctx, false)
}

// IsTableOverloaded reports whether the record's table is shared by several
// types. The registry is consulted first, then the physical table is checked
// for a discriminator column.
func (r *Record) IsTableOverloaded(ctx context.Context) (bool, error) {
	declared, err := r.Overloaded()
	if err != nil {
		return false, err
	}
	if declared {
		return true, nil
	}
	return r.provider().IsTableOverloaded(ctx)
}
