package enums

import "fmt"

// FeeType discriminates the late-fee structure variants.
type FeeType string

const (
	FeeTypeFixed      FeeType = "fixed"
	FeeTypePercentage FeeType = "percentage"
	FeeTypeDaily      FeeType = "daily"
	FeeTypeTiered     FeeType = "tiered"
)

var validFeeTypes = []FeeType{
	FeeTypeFixed,
	FeeTypePercentage,
	FeeTypeDaily,
	FeeTypeTiered,
}

// String implements fmt.Stringer.
func (f FeeType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FeeType.
func (f FeeType) IsValid() bool {
	for _, candidate := range validFeeTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFeeType converts raw input into a FeeType.
func ParseFeeType(value string) (FeeType, error) {
	for _, candidate := range validFeeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee type %q", value)
}
