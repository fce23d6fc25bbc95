package escrow

import "errors"

var (
	// Validation failures.
	ErrInvalidToken  = errors.New("escrow: invalid token address")
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	ErrInvalidBuyer  = errors.New("escrow: invalid buyer address")

	// Authorization failures.
	ErrNotBuyer  = errors.New("escrow: only buyer can deposit token")
	ErrNotSeller = errors.New("escrow: only seller can withdraw token")

	// State machine failures.
	ErrNotFound    = errors.New("escrow: no open position")
	ErrAlreadyOpen = errors.New("escrow: position already open")
	ErrTimelock    = errors.New("escrow: cannot withdraw before 3 days")

	// Push callback failures.
	ErrUnexpectedAsset = errors.New("escrow: callback from unexpected asset")
	ErrAmountMismatch  = errors.New("escrow: callback amount does not match declared deposit")

	// External collaborator failures.
	ErrExternalTransfer = errors.New("escrow: asset transfer failed")

	errNilState   = errors.New("escrow engine: state not configured")
	errNilAdapter = errors.New("escrow engine: transfer adapter not configured")
)

var taxonomy = []error{
	ErrInvalidToken, ErrInvalidAmount, ErrInvalidBuyer,
	ErrNotBuyer, ErrNotSeller,
	ErrNotFound, ErrAlreadyOpen, ErrTimelock,
	ErrUnexpectedAsset, ErrAmountMismatch,
	ErrExternalTransfer,
}

// isEscrowError reports whether err belongs to the package taxonomy, so push
// failures surfaced through an asset ledger are not double-wrapped.
func isEscrowError(err error) bool {
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
