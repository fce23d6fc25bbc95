package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeDeposited = "escrow.deposited"
	EventTypeWithdrawn = "escrow.withdrawn"
)

// NewDepositedEvent returns the canonical event payload emitted when a buyer
// funds a position.
func NewDepositedEvent(depositor [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"depositor": hex.EncodeToString(depositor[:]),
			"amount":    formatAmount(amount),
		},
	}
}

// NewPairDepositedEvent is the fixed-pair variant of the deposit event; it
// additionally names the asset, matching observers that track a single
// buyer/seller relationship across assets.
func NewPairDepositedEvent(depositor, asset [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"depositor": hex.EncodeToString(depositor[:]),
			"token":     hex.EncodeToString(asset[:]),
			"amount":    formatAmount(amount),
		},
	}
}

// NewWithdrawnEvent returns the canonical event payload emitted when the
// counterparty claims a released position.
func NewWithdrawnEvent(withdrawer [20]byte, amount *big.Int, releaseTime int64) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"withdrawer":  hex.EncodeToString(withdrawer[:]),
			"amount":      formatAmount(amount),
			"releaseTime": strconv.FormatInt(releaseTime, 10),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
