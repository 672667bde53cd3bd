package payments

import "github.com/rentledger/rentledger-backend/pkg/enums"

// transitionTable enumerates every legal payment status move. Refunded is
// reached only from paid and exists as an administrative side channel driven
// by reversal. Cancelled is terminal.
var transitionTable = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusCancelled,
		enums.PaymentStatusOverdue,
	},
	enums.PaymentStatusProcessing: {
		enums.PaymentStatusPaid,
		enums.PaymentStatusFailed,
	},
	enums.PaymentStatusPaid: {
		enums.PaymentStatusRefunded,
	},
	enums.PaymentStatusFailed: {
		enums.PaymentStatusPending,
		enums.PaymentStatusProcessing,
	},
	enums.PaymentStatusOverdue: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusPaid,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusCancelled: {},
	enums.PaymentStatusRefunded:  {},
}

// CanTransition reports whether the (from, to) pair is in the table.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
