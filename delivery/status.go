package delivery

import "github.com/warp/fulfillment-ledger/ledger"

// Allowed status transitions. DELIVERED and CANCELLED are terminal.
var transitions = map[ledger.DeliveryStatus][]ledger.DeliveryStatus{
	ledger.StatusPending:   {ledger.StatusInTransit, ledger.StatusDelivered, ledger.StatusCancelled},
	ledger.StatusInTransit: {ledger.StatusDelivered, ledger.StatusCancelled},
}

// ValidateTransition checks a status change against the state machine.
func ValidateTransition(from, to ledger.DeliveryStatus) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return &ledger.TransitionError{From: from, To: to}
}
