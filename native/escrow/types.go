package escrow

import "math/big"

// Role tags the two parties of a custody relationship. Buyers fund positions,
// sellers withdraw them once the timelock elapses. The numeric values match
// the wire encoding used by the HTTP surface.
type Role uint8

const (
	RoleBuyer Role = iota
	RoleSeller
)

// Valid reports whether the role value is within the supported range.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	default:
		return "unknown"
	}
}

// Position is an open escrow record: the asset held, its amount, and the
// instant it becomes claimable. A position either exists (open) or is absent;
// there is no intermediate state.
type Position struct {
	Depositor   [20]byte
	Token       [20]byte
	Amount      *big.Int
	ReleaseTime int64
	CreatedAt   int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
