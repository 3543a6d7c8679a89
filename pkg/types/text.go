package types

import "regexp"

// RequiredRule rejects the empty string.
const RequiredRule = `^.+$`

// RequiredHelper is the helper text paired with RequiredRule.
const RequiredHelper = "a value is required"

// SmallText is a short, size-limited string.
type SmallText struct{ scalar }

// NewSmallText returns an empty small text accepting any value up to SmallTextSize.
func NewSmallText() *SmallText { return &SmallText{scalar{size: SmallTextSize}} }

// NewRequiredSmallText returns a small text that rejects the empty string.
func NewRequiredSmallText() *SmallText {
	t := NewSmallText()
	t.rule = regexp.MustCompile(RequiredRule)
	t.helper = RequiredHelper
	return t
}

func (t *SmallText) Kind() Kind { return KindSmallText }

func (t *SmallText) SetValue(v string) error {
	if err := t.check(v); err != nil {
		return err
	}
	t.value = v
	return nil
}

// Text is a medium sized string.
type Text struct{ scalar }

// NewText returns an empty text.
func NewText() *Text { return &Text{scalar{size: TextSize}} }

func (t *Text) Kind() Kind { return KindText }

func (t *Text) SetValue(v string) error {
	if err := t.check(v); err != nil {
		return err
	}
	t.value = v
	return nil
}

// LargeText holds document sized content.
type LargeText struct{ scalar }

// NewLargeText returns an empty large text.
func NewLargeText() *LargeText { return &LargeText{scalar{size: LargeTextSize}} }

func (t *LargeText) Kind() Kind { return KindLargeText }

func (t *LargeText) SetValue(v string) error {
	if err := t.check(v); err != nil {
		return err
	}
	t.value = v
	return nil
}
