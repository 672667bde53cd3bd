package router

import (
	"context"

	"github.com/rentledger/rentledger-backend/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.PaymentEventRow
}

func (f *fakeWriter) InsertPaymentEvent(_ context.Context, row types.PaymentEventRow) error {
	f.inserted = append(f.inserted, row)
	return nil
}
