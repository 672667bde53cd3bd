package latefees

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

// Config is a property's late-fee policy as stored in the late_fee_policy
// jsonb column.
type Config struct {
	Enabled         bool         `json:"enabled"`
	GracePeriodDays int          `json:"grace_period_days"`
	MaximumFeeCents *int64       `json:"maximum_fee_cents,omitempty"`
	FeeStructure    FeeStructure `json:"fee_structure"`
}

// FeeStructure is the tagged fee variant. Type selects which of the remaining
// fields is meaningful.
type FeeStructure struct {
	Type             enums.FeeType   `json:"type"`
	FixedAmountCents int64           `json:"fixed_amount_cents,omitempty"`
	Percentage       decimal.Decimal `json:"percentage,omitempty"`
	DailyAmountCents int64           `json:"daily_amount_cents,omitempty"`
	Tiers            []Tier          `json:"tiers,omitempty"`
}

// Tier maps a days-late threshold to a flat fee. The tier with the greatest
// threshold at or below the actual days late wins.
type Tier struct {
	DaysLate    int   `json:"days_late"`
	AmountCents int64 `json:"amount_cents"`
}

// ParseConfig decodes and validates a stored policy document.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "late fee policy is empty")
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding late fee policy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the variant-specific fields. A disabled policy is always
// valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.GracePeriodDays < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "grace period days cannot be negative")
	}
	if c.MaximumFeeCents != nil && *c.MaximumFeeCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "maximum fee cannot be negative")
	}

	switch c.FeeStructure.Type {
	case enums.FeeTypeFixed:
		if c.FeeStructure.FixedAmountCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "fixed amount cannot be negative")
		}
	case enums.FeeTypePercentage:
		if c.FeeStructure.Percentage.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "percentage cannot be negative")
		}
	case enums.FeeTypeDaily:
		if c.FeeStructure.DailyAmountCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "daily amount cannot be negative")
		}
	case enums.FeeTypeTiered:
		if len(c.FeeStructure.Tiers) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "tiered structure requires at least one tier")
		}
		for _, tier := range c.FeeStructure.Tiers {
			if tier.DaysLate < 0 || tier.AmountCents < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "tier thresholds and amounts cannot be negative")
			}
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown fee structure type")
	}
	return nil
}

// amountFor resolves the fee for the given inputs before the maximum clamp.
func (f FeeStructure) amountFor(invoiceAmount money.Cents, daysLate int) money.Cents {
	switch f.Type {
	case enums.FeeTypeFixed:
		return money.Cents(f.FixedAmountCents)
	case enums.FeeTypePercentage:
		return money.Percentage(invoiceAmount, f.Percentage)
	case enums.FeeTypeDaily:
		return money.Cents(f.DailyAmountCents * int64(daysLate))
	case enums.FeeTypeTiered:
		tiers := make([]Tier, len(f.Tiers))
		copy(tiers, f.Tiers)
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].DaysLate > tiers[j].DaysLate })
		for _, tier := range tiers {
			if tier.DaysLate <= daysLate {
				return money.Cents(tier.AmountCents)
			}
		}
		return 0
	default:
		return 0
	}
}
