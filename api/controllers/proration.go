package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/api/validators"
	"github.com/rentledger/rentledger-backend/internal/proration"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

type prorationRequest struct {
	MonthlyRentCents int64      `json:"monthly_rent_cents" validate:"required,gt=0"`
	MoveInDate       time.Time  `json:"move_in_date" validate:"required"`
	MoveOutDate      *time.Time `json:"move_out_date,omitempty"`
	Method           string     `json:"method" validate:"required"`
}

// CalculateProration computes partial-period rent. Pure math, nothing is
// persisted.
func CalculateProration(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body prorationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParseProrationMethod(strings.TrimSpace(body.Method))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid proration method"))
			return
		}

		calc, err := proration.Calculate(proration.Input{
			MonthlyRent: money.Cents(body.MonthlyRentCents),
			MoveInDate:  body.MoveInDate,
			MoveOutDate: body.MoveOutDate,
			Method:      method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, calc)
	}
}
