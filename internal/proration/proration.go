package proration

import (
	"time"

	"github.com/rentledger/rentledger-backend/pkg/dates"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

// Input describes a partial-period rent calculation. MoveOutDate nil means a
// move-in proration covering the remainder of MoveInDate's month.
type Input struct {
	MonthlyRent money.Cents
	MoveInDate  time.Time
	MoveOutDate *time.Time
	Method      enums.ProrationMethod
}

// Calculation is the derived proration result. It is not persisted.
type Calculation struct {
	OriginalAmount money.Cents
	ProratedAmount money.Cents
	PeriodStart    time.Time
	PeriodEnd      time.Time
	DaysInPeriod   int
	DaysOccupied   int
	Method         enums.ProrationMethod
	Type           enums.ProrationType
}

// Calculate computes prorated rent for a partial month. The daily and
// calendar_month methods intentionally share one formula; callers rely on the
// method field being a label only.
func Calculate(input Input) (*Calculation, error) {
	if input.MonthlyRent <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monthly rent must be positive")
	}
	if input.MoveInDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "move-in date is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid proration method")
	}

	moveIn := dates.MidnightUTC(input.MoveInDate)
	periodStart := dates.StartOfMonth(moveIn)
	periodEnd := dates.EndOfMonth(moveIn)
	prorationType := enums.ProrationTypeMoveIn

	if input.MoveOutDate != nil {
		moveOut := dates.MidnightUTC(*input.MoveOutDate)
		if moveOut.Before(moveIn) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "move-out date precedes move-in date")
		}
		periodEnd = moveOut
		prorationType = enums.ProrationTypeMoveOut
	}

	daysInPeriod := dates.DaysInMonth(moveIn)
	daysOccupied := dates.InclusiveDays(moveIn, periodEnd)

	prorated, err := money.Prorate(input.MonthlyRent, daysOccupied, daysInPeriod)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "prorating rent")
	}

	return &Calculation{
		OriginalAmount: input.MonthlyRent,
		ProratedAmount: prorated,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		DaysInPeriod:   daysInPeriod,
		DaysOccupied:   daysOccupied,
		Method:         input.Method,
		Type:           prorationType,
	}, nil
}
