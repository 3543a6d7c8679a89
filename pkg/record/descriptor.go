package record

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Reserved column names present on every record table.
const (
	ColID        = "id"
	ColVersion   = "version_num"
	ColCreatedTS = "created_ts"
	ColCreatedBy = "created_by"
	ColUpdatedTS = "updated_ts"
	ColUpdatedBy = "updated_by"
	// ColKind is the discriminator written on tables shared by several types.
	ColKind = "kind"
)

// IDWidth is the width of the canonical zero-padded identity string.
const IDWidth = 11

var identRule = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// FieldSpec declares one field of a record type. New builds a fresh value;
// Get and Set optionally override the default accessors, forming the
// per-type accessor table consulted by Record.Get and Record.Set.
type FieldSpec struct {
	Name      string
	New       func() types.Type
	Transient bool
	Get       func(r *Record) string
	Set       func(r *Record, value string) error
}

// Descriptor statically declares a record type: its fields, storage and
// constraints. Descriptors are registered with a Registry before use.
type Descriptor struct {
	// Name is the short type name; it doubles as the table name unless Table is set.
	Name  string
	Table string
	// SharesTableWith names another registered type whose table this type
	// stores its rows in, distinguished by the kind column.
	SharesTableWith string
	Fields          []FieldSpec
	// Unique lists single or composite field groups that must be unique.
	Unique          [][]string
	MaintainHistory bool
}

// Field returns the spec of the named field.
func (d *Descriptor) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (d *Descriptor) validate() error {
	if !identRule.MatchString(d.Name) {
		return fmt.Errorf("%w: type name %q", ErrBadTableName, d.Name)
	}
	if d.Table != "" && !identRule.MatchString(d.Table) {
		return fmt.Errorf("%w: table %q", ErrBadTableName, d.Table)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if !identRule.MatchString(f.Name) {
			return fmt.Errorf("%s: invalid field name %q", d.Name, f.Name)
		}
		if isReserved(f.Name) {
			return fmt.Errorf("%s: field name %q is reserved", d.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", d.Name, f.Name)
		}
		if f.New == nil {
			return fmt.Errorf("%s: field %q has no constructor", d.Name, f.Name)
		}
		seen[f.Name] = true
	}
	for _, group := range d.Unique {
		if len(group) == 0 {
			return fmt.Errorf("%s: empty unique constraint", d.Name)
		}
		for _, name := range group {
			if !seen[name] {
				return fmt.Errorf("%s: unique constraint names unknown field %q", d.Name, name)
			}
		}
	}
	return nil
}

func isReserved(name string) bool {
	switch name {
	case ColID, ColVersion, ColCreatedTS, ColCreatedBy, ColUpdatedTS, ColUpdatedBy, ColKind:
		return true
	}
	return false
}

// Column describes one physical column of a record table.
type Column struct {
	Name string
	Kind types.Kind
	Size int
	// References is the table a relation or dynamic enum column points at.
	References string
}

// auditColumns are written on every table after the identity column.
var auditColumns = []Column{
	{Name: ColVersion, Kind: types.KindInteger, Size: types.IntegerSize},
	{Name: ColCreatedTS, Kind: types.KindTimestamp},
	{Name: ColCreatedBy, Kind: types.KindInteger, Size: types.IntegerSize},
	{Name: ColUpdatedTS, Kind: types.KindTimestamp},
	{Name: ColUpdatedBy, Kind: types.KindInteger, Size: types.IntegerSize},
}

// AuditColumns returns the bookkeeping columns shared by every table.
func AuditColumns() []Column { return append([]Column(nil), auditColumns...) }

// KindColumn is the discriminator column of shared tables.
func KindColumn() Column {
	return Column{Name: ColKind, Kind: types.KindSmallText, Size: 100}
}

// ForeignIndexName names the foreign key constraint on table.attr.
func ForeignIndexName(table, attr string) string {
	return table + "_" + attr + "_fk_idx"
}

// UniqueIndexName names the unique index over fields of table.
func UniqueIndexName(table string, fields ...string) string {
	return table + "_" + strings.Join(fields, "_") + "_unq_idx"
}

// FormatID renders an identity in its canonical zero-padded form.
func FormatID(id int64) string {
	return fmt.Sprintf("%0*d", IDWidth, id)
}
