package types

import (
	"regexp"
	"slices"
	"strconv"
)

// Enum is a field restricted to a fixed, in-code list of options.
type Enum struct {
	scalar
	options []string
}

// NewEnum returns an enum defaulting to its first option.
func NewEnum(options ...string) *Enum {
	e := &Enum{scalar: scalar{size: SmallTextSize, helper: "not a valid enum option"}, options: slices.Clone(options)}
	if len(options) > 0 {
		e.value = options[0]
	}
	return e
}

func (e *Enum) Kind() Kind { return KindEnum }

// Options returns a copy of the option list.
func (e *Enum) Options() []string { return slices.Clone(e.options) }

func (e *Enum) SetValue(v string) error {
	if err := e.check(v); err != nil {
		return err
	}
	e.value = v
	return nil
}

func (e *Enum) Validate() error { return e.check(e.value) }

func (e *Enum) check(v string) error {
	if !slices.Contains(e.options, v) {
		return invalid(e.helper, v)
	}
	return nil
}

var denumRule = regexp.MustCompile(`^[0-9]*$`)

// DEnum is an enumeration whose options are persisted as records rather than
// declared in code. The value is the identity of the selected option. Options
// are attached by the record layer once loaded; until then only the shape of
// the identity is validated.
type DEnum struct {
	scalar
	name   string
	ids    []int64
	labels map[int64]string
	loaded bool
}

// NewDEnum returns an unset dynamic enum backed by the option list called name.
func NewDEnum(name string) *DEnum {
	return &DEnum{scalar: scalar{size: IntegerSize, rule: denumRule, helper: "not a valid option"}, name: name}
}

func (d *DEnum) Kind() Kind { return KindDEnum }

// Name identifies the persisted option list.
func (d *DEnum) Name() string { return d.name }

// Loaded reports whether options have been attached.
func (d *DEnum) Loaded() bool { return d.loaded }

// SetOptions attaches the persisted options in display order.
func (d *DEnum) SetOptions(ids []int64, labels []string) {
	d.ids = slices.Clone(ids)
	d.labels = make(map[int64]string, len(ids))
	for i, id := range ids {
		if i < len(labels) {
			d.labels[id] = labels[i]
		}
	}
	d.loaded = true
}

// Options returns the option identities in display order.
func (d *DEnum) Options() []int64 { return slices.Clone(d.ids) }

// Label returns the display value of the current selection.
func (d *DEnum) Label() string {
	id, err := strconv.ParseInt(d.value, 10, 64)
	if err != nil {
		return ""
	}
	return d.labels[id]
}

func (d *DEnum) SetValue(v string) error {
	if err := d.check(v); err != nil {
		return err
	}
	d.value = v
	return nil
}

func (d *DEnum) Validate() error { return d.check(d.value) }

func (d *DEnum) check(v string) error {
	if err := d.scalar.check(v); err != nil {
		return err
	}
	if v == "" || !d.loaded {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return invalid(d.helper, v)
	}
	if _, ok := d.labels[id]; !ok {
		return invalid(d.helper, v)
	}
	return nil
}
