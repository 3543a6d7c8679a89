package record

import (
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Lookup field names.
const (
	LookupLeft  = "left_id"
	LookupRight = "right_id"
)

func lookupDescriptor(left, right string) *Descriptor {
	return &Descriptor{
		Name: types.LookupName(left, right),
		Fields: []FieldSpec{
			{Name: LookupLeft, New: requiredIdentity},
			{Name: LookupRight, New: requiredIdentity},
		},
		Unique: [][]string{{LookupLeft, LookupRight}},
	}
}

func requiredIdentity() types.Type {
	i := types.NewInteger()
	_ = i.SetRule(`^[1-9][0-9]*$`, "a record identity is required")
	return i
}
