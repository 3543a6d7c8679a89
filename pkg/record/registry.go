package record

import (
	"fmt"
	"sync"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Registry holds the descriptors of every known record type. It resolves
// shared tables and relation targets, so types may reference each other by name.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Descriptor
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Descriptor)}
}

// Register adds descriptors. MANY-TO-MANY relations register their lookup
// type the first time the participant pair is declared.
func (r *Registry) Register(descs ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descs {
		if err := r.registerLocked(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerLocked(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	if _, dup := r.types[d.Name]; dup {
		return fmt.Errorf("record type %s already registered", d.Name)
	}
	r.types[d.Name] = d
	r.order = append(r.order, d.Name)
	for _, f := range d.Fields {
		rel, ok := f.New().(*types.Relation)
		if !ok || rel.RelationKind() != types.ManyToMany {
			continue
		}
		name := rel.LookupName()
		if _, exists := r.types[name]; exists {
			continue
		}
		left, right := rel.Participants()
		if err := r.registerLocked(lookupDescriptor(left, right)); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	return d, ok
}

// All returns the registered descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Table resolves the physical table of d, following SharesTableWith. A share
// target that is not registered yields ErrBadTableName.
func (r *Registry) Table(d *Descriptor) (string, error) {
	seen := map[string]bool{}
	cur := d
	for cur.SharesTableWith != "" {
		if seen[cur.Name] {
			return "", fmt.Errorf("%w: %s shares its table in a cycle", ErrBadTableName, d.Name)
		}
		seen[cur.Name] = true
		next, ok := r.Lookup(cur.SharesTableWith)
		if !ok {
			return "", fmt.Errorf("%w: %s shares the table of unknown type %s", ErrBadTableName, cur.Name, cur.SharesTableWith)
		}
		cur = next
	}
	if cur.Table != "" {
		return cur.Table, nil
	}
	return cur.Name, nil
}

// Sharers returns every registered type stored in table.
func (r *Registry) Sharers(table string) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.All() {
		if t, err := r.Table(d); err == nil && t == table {
			out = append(out, d)
		}
	}
	return out
}

// Overloaded reports whether d's table is shared with another type.
func (r *Registry) Overloaded(d *Descriptor) (bool, error) {
	table, err := r.Table(d)
	if err != nil {
		return false, err
	}
	return len(r.Sharers(table)) > 1, nil
}

// Columns returns the stored field columns declared by d, in declaration order.
// Reserved columns are not included.
func (r *Registry) Columns(d *Descriptor) ([]Column, error) {
	var cols []Column
	for _, f := range d.Fields {
		if f.Transient {
			continue
		}
		v := f.New()
		col := Column{Name: f.Name, Kind: v.Kind(), Size: v.Size()}
		switch tv := v.(type) {
		case *types.Relation:
			if !tv.Stored() {
				continue
			}
			target, ok := r.Lookup(tv.Related(d.Name))
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s relates to unknown type %s", ErrBadTableName, d.Name, f.Name, tv.Related(d.Name))
			}
			table, err := r.Table(target)
			if err != nil {
				return nil, err
			}
			col.References = table
		case *types.DEnum:
			col.References = DEnumItemType
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// TableColumns returns the field columns of table: the union over all types
// sharing it, followed by the kind discriminator when shared.
func (r *Registry) TableColumns(table string) ([]Column, error) {
	sharers := r.Sharers(table)
	if len(sharers) == 0 {
		return nil, fmt.Errorf("%w: no registered type is stored in %s", ErrBadTableName, table)
	}
	seen := map[string]bool{}
	var out []Column
	for _, d := range sharers {
		cols, err := r.Columns(d)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			out = append(out, c)
		}
	}
	if len(sharers) > 1 {
		out = append(out, KindColumn())
	}
	return out, nil
}
