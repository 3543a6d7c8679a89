package types

import "time"

// Storage layouts for date based fields.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// Date is a calendar day without a time component.
type Date struct{ scalar }

// NewDate returns an unset date.
func NewDate() *Date {
	return &Date{scalar{size: len(DateLayout), helper: "not a valid date value, expected YYYY-MM-DD"}}
}

func (d *Date) Kind() Kind { return KindDate }

func (d *Date) SetValue(v string) error {
	if err := d.check(v); err != nil {
		return err
	}
	d.value = v
	return nil
}

func (d *Date) check(v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, v); err != nil {
		return invalid(d.helper, v)
	}
	return nil
}

func (d *Date) Validate() error { return d.check(d.value) }

// Time returns the parsed day in UTC and whether a value is set.
func (d *Date) Time() (time.Time, bool) {
	if d.value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, d.value)
	return t, err == nil
}

// SetTime assigns the calendar day of t.
func (d *Date) SetTime(t time.Time) { d.value = t.Format(DateLayout) }

// Timestamp is a date and time with second precision, stored in UTC.
type Timestamp struct{ scalar }

// NewTimestamp returns an unset timestamp.
func NewTimestamp() *Timestamp {
	return &Timestamp{scalar{size: len(TimestampLayout), helper: "not a valid timestamp value, expected YYYY-MM-DD HH:MM:SS"}}
}

func (ts *Timestamp) Kind() Kind { return KindTimestamp }

func (ts *Timestamp) SetValue(v string) error {
	if v != "" {
		if _, err := time.Parse(TimestampLayout, v); err != nil {
			return invalid(ts.helper, v)
		}
	}
	ts.value = v
	return nil
}

func (ts *Timestamp) Validate() error {
	if ts.value == "" {
		return nil
	}
	if _, err := time.Parse(TimestampLayout, ts.value); err != nil {
		return invalid(ts.helper, ts.value)
	}
	return nil
}

// Time returns the parsed instant and whether a value is set.
func (ts *Timestamp) Time() (time.Time, bool) {
	if ts.value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(TimestampLayout, ts.value)
	return t, err == nil
}

// SetTime assigns t truncated to the second, converted to UTC.
func (ts *Timestamp) SetTime(t time.Time) { ts.value = t.UTC().Format(TimestampLayout) }
