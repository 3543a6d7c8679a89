package types

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// RelationKind is the cardinality of an association between two record types.
type RelationKind string

const (
	ManyToOne  RelationKind = "MANY-TO-ONE"
	OneToMany  RelationKind = "ONE-TO-MANY"
	OneToOne   RelationKind = "ONE-TO-ONE"
	ManyToMany RelationKind = "MANY-TO-MANY"
)

var relationRule = regexp.MustCompile(`^[0-9]*$`)

// Relation describes an association to another record type and holds the
// identities it currently points at.
//
// MANY-TO-ONE and ONE-TO-ONE hold the related identity and are stored as a
// column. ONE-TO-MANY holds the owner's identity; the foreign key lives on the
// related type. MANY-TO-MANY is resolved through a lookup type named after the
// left and right participants.
type Relation struct {
	scalar
	kind         RelationKind
	related      string
	relatedField string
	display      string
	left, right  string
	cascade      bool
	scopeField   string
	scopeValue   string
	ids          []int64
	idsSet       bool
}

// NewManyToOne points at a single record of type related.
func NewManyToOne(related, display string) *Relation {
	return newRelation(ManyToOne, related, "id", display)
}

// NewOneToOne is a MANY-TO-ONE whose target is referenced at most once.
func NewOneToOne(related, display string) *Relation {
	return newRelation(OneToOne, related, "id", display)
}

// NewOneToMany associates the owner with every record of type related whose
// foreignKey field holds the owner's identity.
func NewOneToMany(related, foreignKey, display string) *Relation {
	return newRelation(OneToMany, related, foreignKey, display)
}

// NewManyToMany associates the types left and right through a lookup type.
// The same left/right order must be used on both participants.
func NewManyToMany(left, right, display string) *Relation {
	r := newRelation(ManyToMany, "", "id", display)
	r.left, r.right = left, right
	return r
}

func newRelation(kind RelationKind, related, relatedField, display string) *Relation {
	return &Relation{
		scalar:       scalar{size: IntegerSize, rule: relationRule, helper: "not a valid record identity"},
		kind:         kind,
		related:      related,
		relatedField: relatedField,
		display:      display,
	}
}

// Cascade marks a ONE-TO-MANY as owning its related records: deleting the
// owner deletes them instead of clearing their foreign key.
func (r *Relation) Cascade() *Relation {
	r.cascade = true
	return r
}

// Scope narrows a ONE-TO-MANY to related records whose field equals value.
func (r *Relation) Scope(field, value string) *Relation {
	r.scopeField, r.scopeValue = field, value
	return r
}

func (r *Relation) Kind() Kind                 { return KindRelation }
func (r *Relation) RelationKind() RelationKind { return r.kind }
func (r *Relation) RelatedField() string       { return r.relatedField }
func (r *Relation) DisplayField() string       { return r.display }
func (r *Relation) IsCascade() bool            { return r.cascade }

// ScopeFilter returns the optional ONE-TO-MANY scope.
func (r *Relation) ScopeFilter() (field, value string, ok bool) {
	return r.scopeField, r.scopeValue, r.scopeField != ""
}

// Participants returns the lookup's left and right type names.
func (r *Relation) Participants() (left, right string) { return r.left, r.right }

// LookupName is the lookup type name for a MANY-TO-MANY relation.
func (r *Relation) LookupName() string {
	if r.kind != ManyToMany {
		return ""
	}
	return LookupName(r.left, r.right)
}

// LookupName derives the join type name from the two participants.
func LookupName(left, right string) string { return left + "2" + right }

// Related returns the type on the other end as seen from owner.
func (r *Relation) Related(owner string) string {
	if r.kind != ManyToMany {
		return r.related
	}
	if owner == r.left {
		return r.right
	}
	return r.left
}

// Stored reports whether the relation occupies a column on the owner's table.
func (r *Relation) Stored() bool { return r.kind == ManyToOne || r.kind == OneToOne }

func (r *Relation) SetValue(v string) error {
	if err := r.check(v); err != nil {
		return err
	}
	if v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid(r.helper, v)
		}
		v = strconv.FormatInt(n, 10)
	}
	r.value = v
	return nil
}

// ID returns the single related identity, or zero when unset.
func (r *Relation) ID() int64 {
	n, _ := strconv.ParseInt(r.value, 10, 64)
	return n
}

// SetRelatedIDs replaces the desired identity set of a MANY-TO-MANY relation.
// The next save of the owner writes exactly this set.
func (r *Relation) SetRelatedIDs(ids ...int64) error {
	if r.kind != ManyToMany {
		return fmt.Errorf("%w: related identity sets apply to %s relations only", ErrInvalidValue, ManyToMany)
	}
	for _, id := range ids {
		if id <= 0 {
			return invalid(r.helper, strconv.FormatInt(id, 10))
		}
	}
	set := slices.Clone(ids)
	slices.Sort(set)
	r.ids = slices.Compact(set)
	r.idsSet = true
	return nil
}

// RelatedIDs returns the pending identity set and whether one was assigned.
func (r *Relation) RelatedIDs() ([]int64, bool) { return slices.Clone(r.ids), r.idsSet }

// ClearPending forgets the pending identity set after it has been written.
func (r *Relation) ClearPending() {
	r.ids = nil
	r.idsSet = false
}
