package enums

import "fmt"

// ProrationMethod labels how a partial-period rent amount was derived. Both
// methods currently share the same daily-rate formula; the label is kept so
// historical calculations stay attributable.
type ProrationMethod string

const (
	ProrationMethodDaily         ProrationMethod = "daily"
	ProrationMethodCalendarMonth ProrationMethod = "calendar_month"
)

var validProrationMethods = []ProrationMethod{
	ProrationMethodDaily,
	ProrationMethodCalendarMonth,
}

// String implements fmt.Stringer.
func (p ProrationMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProrationMethod.
func (p ProrationMethod) IsValid() bool {
	for _, candidate := range validProrationMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProrationMethod converts raw input into a ProrationMethod.
func ParseProrationMethod(value string) (ProrationMethod, error) {
	for _, candidate := range validProrationMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid proration method %q", value)
}

// ProrationType records whether the partial period came from a move-in or a
// move-out.
type ProrationType string

const (
	ProrationTypeMoveIn  ProrationType = "move_in"
	ProrationTypeMoveOut ProrationType = "move_out"
)

// String implements fmt.Stringer.
func (p ProrationType) String() string {
	return string(p)
}
