package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Built-in types persisting the options of dynamic enums.
const (
	DEnumType     = "DEnum"
	DEnumItemType = "DEnumItem"
)

func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			Name: DEnumType,
			Fields: []FieldSpec{
				{Name: "name", New: func() types.Type { return types.NewRequiredSmallText() }},
			},
			Unique: [][]string{{"name"}},
		},
		{
			Name: DEnumItemType,
			Fields: []FieldSpec{
				{Name: "value", New: func() types.Type { return types.NewRequiredSmallText() }},
				{Name: "denum_id", New: func() types.Type { return types.NewManyToOne(DEnumType, "name") }},
			},
			Unique: [][]string{{"denum_id", "value"}},
		},
	}
}

// ensureDEnumTables creates the option list tables on first use.
func (s *Store) ensureDEnumTables(ctx context.Context) error {
	if s.lookupReady(DEnumItemType) {
		return nil
	}
	for _, name := range []string{DEnumType, DEnumItemType} {
		rec, err := s.New(name)
		if err != nil {
			return err
		}
		exists, err := rec.CheckTableExists(ctx, false)
		if err != nil {
			return err
		}
		if !exists {
			if err := rec.MakeTable(ctx); err != nil {
				return err
			}
		}
	}
	s.markLookupReady(DEnumItemType)
	return nil
}

// denum returns the persisted option list called name, creating it on first use.
func (s *Store) denum(ctx context.Context, name string) (*Record, error) {
	if err := s.ensureDEnumTables(ctx); err != nil {
		return nil, err
	}
	rec, err := s.New(DEnumType)
	if err != nil {
		return nil, err
	}
	err = rec.LoadByAttribute(ctx, "name", name, false)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rec, _ = s.New(DEnumType)
	if err := rec.Set("name", name); err != nil {
		return nil, err
	}
	if err := rec.Save(ctx); err != nil {
		return nil, fmt.Errorf("create option list %s: %w", name, err)
	}
	return rec, nil
}

// denumOptions is the last option list read for a dynamic enum.
type denumOptions struct {
	ids    []int64
	labels []string
}

func (s *Store) rememberDEnum(name string, ids []int64, labels []string) {
	s.denumsMu.Lock()
	defer s.denumsMu.Unlock()
	if s.denums == nil {
		s.denums = map[string]denumOptions{}
	}
	s.denums[name] = denumOptions{ids: ids, labels: labels}
}

// attachKnownDEnum gives d the options last read for its list, if any.
func (s *Store) attachKnownDEnum(d *types.DEnum) {
	s.denumsMu.Lock()
	opts, ok := s.denums[d.Name()]
	s.denumsMu.Unlock()
	if ok {
		d.SetOptions(opts.ids, opts.labels)
	}
}

// LoadDEnumOptions attaches the persisted options of d, in insertion order.
// Records created by the store afterwards start with the same options, so
// Set rejects unknown option ids without another round trip.
func (s *Store) LoadDEnumOptions(ctx context.Context, d *types.DEnum) error {
	list, err := s.denum(ctx, d.Name())
	if err != nil {
		return err
	}
	item, err := s.New(DEnumItemType)
	if err != nil {
		return err
	}
	items, err := item.LoadAllByAttribute(ctx, "denum_id", strconv.FormatInt(list.ID(), 10), Query{OrderBy: ColID})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load options of %s: %w", d.Name(), err)
	}
	ids := make([]int64, 0, len(items))
	labels := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID())
		label, _ := it.Get("value")
		labels = append(labels, label)
	}
	s.rememberDEnum(d.Name(), ids, labels)
	d.SetOptions(ids, labels)
	return nil
}

// AddDEnumOption appends label to the option list called name and returns
// the identity of the new option.
func (s *Store) AddDEnumOption(ctx context.Context, name, label string) (int64, error) {
	list, err := s.denum(ctx, name)
	if err != nil {
		return 0, err
	}
	item, err := s.New(DEnumItemType)
	if err != nil {
		return 0, err
	}
	if err := item.Set("value", label); err != nil {
		return 0, err
	}
	if err := item.Set("denum_id", strconv.FormatInt(list.ID(), 10)); err != nil {
		return 0, err
	}
	if err := item.Save(ctx); err != nil {
		return 0, fmt.Errorf("add option %q to %s: %w", label, name, err)
	}
	return item.ID(), s.LoadDEnumOptions(ctx, types.NewDEnum(name))
}

func (r *Record) attachDEnumOptions() {
	for _, f := range r.desc.Fields {
		if d, ok := r.fields[f.Name].(*types.DEnum); ok {
			r.store.attachKnownDEnum(d)
		}
	}
}

// LoadDEnumOptions reads the options of the record's dynamic enums from the
// database. Until they are known, Set checks only the shape of an option id.
func (r *Record) LoadDEnumOptions(ctx context.Context) error {
	for _, f := range r.desc.Fields {
		d, ok := r.fields[f.Name].(*types.DEnum)
		if !ok {
			continue
		}
		if err := r.store.LoadDEnumOptions(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// loadDEnumOptions reads options for the dynamic enums that have none yet or
// whose selection the known options do not contain.
func (r *Record) loadDEnumOptions(ctx context.Context) error {
	for _, f := range r.desc.Fields {
		d, ok := r.fields[f.Name].(*types.DEnum)
		if !ok || (d.Loaded() && d.Validate() == nil) {
			continue
		}
		if err := r.store.LoadDEnumOptions(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
