package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

func (r *Record) relation(name string) (*types.Relation, error) {
	rel, err := Field[*types.Relation](r, name)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// Related loads the single record a MANY-TO-ONE or ONE-TO-ONE field points at.
func (r *Record) Related(ctx context.Context, field string) (*Record, error) {
	rel, err := r.relation(field)
	if err != nil {
		return nil, err
	}
	if !rel.Stored() {
		return nil, fmt.Errorf("%s.%s is a %s relation", r.desc.Name, field, rel.RelationKind())
	}
	if rel.ID() == 0 {
		return nil, fmt.Errorf("%w: %s.%s is not set", ErrNotFound, r.desc.Name, field)
	}
	target, err := r.store.New(rel.Related(r.desc.Name))
	if err != nil {
		return nil, err
	}
	if err := target.Load(ctx, rel.ID(), 0); err != nil {
		return nil, err
	}
	return target, nil
}

// DisplayValue returns the display field of the record a MANY-TO-ONE or
// ONE-TO-ONE field points at, or the empty string when it is unset.
func (r *Record) DisplayValue(ctx context.Context, field string) (string, error) {
	rel, err := r.relation(field)
	if err != nil {
		return "", err
	}
	if rel.ID() == 0 {
		return "", nil
	}
	target, err := r.Related(ctx, field)
	if err != nil {
		return "", err
	}
	return target.Get(rel.DisplayField())
}

// RelatedRecords loads the records on the other side of a ONE-TO-MANY or
// MANY-TO-MANY field, ordered by the relation's display field.
func (r *Record) RelatedRecords(ctx context.Context, field string) ([]*Record, error) {
	rel, err := r.relation(field)
	if err != nil {
		return nil, err
	}
	if r.id == 0 {
		return nil, nil
	}
	switch rel.RelationKind() {
	case types.OneToMany:
		return r.dependents(ctx, rel)
	case types.ManyToMany:
		return r.associated(ctx, rel)
	}
	return nil, fmt.Errorf("%s.%s is a %s relation", r.desc.Name, field, rel.RelationKind())
}

func (r *Record) dependents(ctx context.Context, rel *types.Relation) ([]*Record, error) {
	target, err := r.store.New(rel.Related(r.desc.Name))
	if err != nil {
		return nil, err
	}
	attrs := []string{rel.RelatedField()}
	values := []string{strconv.FormatInt(r.id, 10)}
	if field, value, ok := rel.ScopeFilter(); ok {
		attrs = append(attrs, field)
		values = append(values, value)
	}
	q := Query{}
	if display := rel.DisplayField(); display != "" && target.knownColumn(display) {
		q.OrderBy = display
	}
	recs, err := target.LoadAllByAttributes(ctx, attrs, values, q)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return recs, err
}

// lookupSides returns the lookup columns holding this record's identity and
// the opposite identity.
func (r *Record) lookupSides(rel *types.Relation) (own, other string) {
	left, _ := rel.Participants()
	if r.desc.Name == left {
		return LookupLeft, LookupRight
	}
	return LookupRight, LookupLeft
}

func (r *Record) associated(ctx context.Context, rel *types.Relation) ([]*Record, error) {
	lookup, err := r.store.New(rel.LookupName())
	if err != nil {
		return nil, err
	}
	exists, err := lookup.CheckTableExists(ctx, false)
	if err != nil || !exists {
		return nil, err
	}
	own, other := r.lookupSides(rel)
	ids, err := lookup.LoadAllFieldValuesByAttribute(ctx, own, strconv.FormatInt(r.id, 10), other, Query{})
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, s := range ids {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		target, err := r.store.New(rel.Related(r.desc.Name))
		if err != nil {
			return nil, err
		}
		if err := target.Load(ctx, id, 0); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, target)
	}
	if display := rel.DisplayField(); display != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].Get(display)
			b, _ := out[j].Get(display)
			return a < b
		})
	}
	return out, nil
}

// ensureLookup creates the lookup table of rel the first time it is needed.
// Both participant tables must already exist.
func (r *Record) ensureLookup(ctx context.Context, rel *types.Relation) (*Record, error) {
	name := rel.LookupName()
	lookup, err := r.store.New(name)
	if err != nil {
		return nil, err
	}
	if r.store.lookupReady(name) {
		return lookup, nil
	}
	left, right := rel.Participants()
	for _, side := range []string{left, right} {
		rec, err := r.store.New(side)
		if err != nil {
			return nil, err
		}
		exists, err := rec.CheckTableExists(ctx, false)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("lookup %s: table of %s does not exist", name, side)
		}
	}
	exists, err := lookup.CheckTableExists(ctx, false)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := lookup.MakeTable(ctx); err != nil {
			return nil, err
		}
	}
	r.store.markLookupReady(name)
	return lookup, nil
}

// saveLookups replaces this side's lookup rows of every MANY-TO-MANY field
// that was assigned an identity set since the last save.
func (r *Record) saveLookups(ctx context.Context) error {
	for _, f := range r.desc.Fields {
		rel, ok := r.fields[f.Name].(*types.Relation)
		if !ok || rel.RelationKind() != types.ManyToMany {
			continue
		}
		ids, pending := rel.RelatedIDs()
		if !pending {
			continue
		}
		lookup, err := r.ensureLookup(ctx, rel)
		if err != nil {
			return err
		}
		own, other := r.lookupSides(rel)
		self := strconv.FormatInt(r.id, 10)
		if _, err := lookup.DeleteAllByAttribute(ctx, own, self); err != nil {
			return err
		}
		for _, id := range ids {
			row, err := r.store.New(lookup.desc.Name)
			if err != nil {
				return err
			}
			if err := row.Set(own, self); err != nil {
				return err
			}
			if err := row.Set(other, strconv.FormatInt(id, 10)); err != nil {
				return err
			}
			if err := row.Save(ctx); err != nil {
				return err
			}
		}
		rel.ClearPending()
	}
	return nil
}

func (r *Record) deleteLookups(ctx context.Context, rel *types.Relation) error {
	lookup, err := r.store.New(rel.LookupName())
	if err != nil {
		return err
	}
	exists, err := lookup.CheckTableExists(ctx, false)
	if err != nil || !exists {
		return err
	}
	own, _ := r.lookupSides(rel)
	_, err = lookup.DeleteAllByAttribute(ctx, own, strconv.FormatInt(r.id, 10))
	return err
}

// releaseDependents deletes the records of a cascading ONE-TO-MANY relation,
// or clears their foreign key otherwise.
func (r *Record) releaseDependents(ctx context.Context, rel *types.Relation) error {
	deps, err := r.dependents(ctx, rel)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if rel.IsCascade() {
			if err := dep.Delete(ctx); err != nil {
				return err
			}
			continue
		}
		if err := dep.Set(rel.RelatedField(), ""); err != nil {
			return err
		}
		if err := dep.Save(ctx); err != nil {
			return err
		}
	}
	return nil
}
