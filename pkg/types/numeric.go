package types

import (
	"regexp"
	"strconv"
)

var (
	integerRule = regexp.MustCompile(`^-?[0-9]*$`)
	doubleRule  = regexp.MustCompile(`^(-?[0-9]*\.?[0-9]+)?$`)
	booleanRule = regexp.MustCompile(`^[01]$`)
)

// Integer is a whole number field. The empty value stores as NULL.
type Integer struct{ scalar }

// NewInteger returns an unset integer.
func NewInteger() *Integer {
	return &Integer{scalar{size: IntegerSize, rule: integerRule, helper: "not a valid integer value"}}
}

func (i *Integer) Kind() Kind { return KindInteger }

// SetValue normalises v to its canonical decimal form.
func (i *Integer) SetValue(v string) error {
	if err := i.check(v); err != nil {
		return err
	}
	if v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid(i.helper, v)
		}
		v = strconv.FormatInt(n, 10)
	}
	i.value = v
	return nil
}

// Int returns the value, or zero when unset.
func (i *Integer) Int() int64 {
	n, _ := strconv.ParseInt(i.value, 10, 64)
	return n
}

// SetInt assigns n.
func (i *Integer) SetInt(n int64) error { return i.SetValue(strconv.FormatInt(n, 10)) }

// Double is a floating point field. The empty value stores as NULL.
type Double struct{ scalar }

// NewDouble returns an unset double.
func NewDouble() *Double {
	return &Double{scalar{size: DoubleSize, rule: doubleRule, helper: "not a valid double value"}}
}

func (d *Double) Kind() Kind { return KindDouble }

// SetValue normalises v to the shortest decimal form that round trips.
func (d *Double) SetValue(v string) error {
	if err := d.check(v); err != nil {
		return err
	}
	if v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid(d.helper, v)
		}
		v = strconv.FormatFloat(f, 'f', -1, 64)
	}
	d.value = v
	return nil
}

// Float returns the value, or zero when unset.
func (d *Double) Float() float64 {
	f, _ := strconv.ParseFloat(d.value, 64)
	return f
}

// SetFloat assigns f.
func (d *Double) SetFloat(f float64) error {
	return d.SetValue(strconv.FormatFloat(f, 'f', -1, 64))
}

// Boolean is stored as a single character flag, "1" or "0".
type Boolean struct{ scalar }

// NewBoolean returns a false boolean.
func NewBoolean() *Boolean {
	return &Boolean{scalar{value: "0", size: 1, rule: booleanRule, helper: "not a valid boolean value"}}
}

func (b *Boolean) Kind() Kind { return KindBoolean }

// SetValue accepts "1" and "0"; the words true and false are normalised.
func (b *Boolean) SetValue(v string) error {
	switch v {
	case "true":
		v = "1"
	case "false", "":
		v = "0"
	}
	if err := b.check(v); err != nil {
		return err
	}
	b.value = v
	return nil
}

func (b *Boolean) Bool() bool { return b.value == "1" }

func (b *Boolean) SetBool(v bool) {
	if v {
		b.value = "1"
		return
	}
	b.value = "0"
}
