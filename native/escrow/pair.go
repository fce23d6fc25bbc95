package escrow

import (
	"fmt"
	"math/big"

	"escrowd/core/types"
)

// PushAsset is the transfer-and-notify surface of a callback-capable asset
// ledger. The ledger initiates the transfer and calls back into the
// custodian; a rejected callback fails the whole inbound transfer.
type PushAsset interface {
	TransferFromAndCall(spender, from, to [20]byte, amount *big.Int, data []byte) error
}

// PairEngine is the fixed-pair instantiation of the escrow state machine: the
// buyer, seller and callback asset are bound at construction and the single
// position is keyed by the buyer. The transition logic is shared with the
// per-identity Engine; only key cardinality and caller binding differ.
type PairEngine struct {
	*Engine

	buyer  [20]byte
	seller [20]byte
	asset  [20]byte
	push   PushAsset

	// pending holds the amount declared by an in-flight Deposit so the
	// paired callback can be matched against it.
	pending *big.Int
}

// NewPairEngine binds the two parties and the callback asset.
func NewPairEngine(buyer, seller, asset [20]byte) *PairEngine {
	return &PairEngine{
		Engine: NewEngine(),
		buyer:  buyer,
		seller: seller,
		asset:  asset,
	}
}

// SetPushAsset wires the callback-capable ledger used for the bound asset.
// Without it, deposits of the bound asset fall back to the pull protocol.
func (p *PairEngine) SetPushAsset(asset PushAsset) { p.push = asset }

func (p *PairEngine) Buyer() [20]byte { return p.buyer }

func (p *PairEngine) Seller() [20]byte { return p.seller }

func (p *PairEngine) Asset() [20]byte { return p.asset }

// Deposit locks amount of asset from the caller, who must be the bound
// buyer. Deposits of the bound callback asset declare the amount and let the
// asset drive the transfer-and-notify protocol; any other asset is pulled.
func (p *PairEngine) Deposit(caller, asset [20]byte, amount *big.Int) (*Position, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if asset == ([20]byte{}) {
		return nil, ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if caller != p.buyer {
		return nil, ErrNotBuyer
	}
	if _, open := p.state.PositionGet(p.buyer); open {
		return nil, ErrAlreadyOpen
	}
	if asset == p.asset && p.push != nil {
		return p.pushDeposit(caller, amount)
	}
	return p.open(p.buyer, caller, asset, amount, false, func(pos *Position) *types.Event {
		return NewPairDepositedEvent(pos.Depositor, pos.Token, pos.Amount)
	})
}

// pushDeposit declares the expected amount and asks the asset to move the
// value; the position is opened inside the OnTokenReceived callback.
func (p *PairEngine) pushDeposit(caller [20]byte, amount *big.Int) (*Position, error) {
	p.pending = new(big.Int).Set(amount)
	defer func() { p.pending = nil }()

	if err := p.push.TransferFromAndCall(p.custodian, caller, p.custodian, amount, nil); err != nil {
		if isEscrowError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: inbound: %v", ErrExternalTransfer, err)
	}
	pos, ok := p.state.PositionGet(p.buyer)
	if !ok {
		// The ledger reported success without delivering the callback.
		return nil, fmt.Errorf("%w: asset did not notify receipt", ErrExternalTransfer)
	}
	return pos.Clone(), nil
}

// OnTokenReceived is the push-variant entry point invoked by the asset ledger
// once value has been moved into custody. Every check failure is returned to
// the ledger so the inbound transfer itself fails atomically: the custodian
// never accepts value it cannot attribute to a valid deposit.
func (p *PairEngine) OnTokenReceived(asset, operator, from [20]byte, amount *big.Int, data []byte) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if asset != p.asset {
		return ErrUnexpectedAsset
	}
	if from != p.buyer {
		return ErrNotBuyer
	}
	if operator != p.buyer && operator != p.custodian {
		return ErrNotBuyer
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.pending != nil && p.pending.Cmp(amount) != 0 {
		return ErrAmountMismatch
	}
	if _, open := p.state.PositionGet(p.buyer); open {
		return ErrAlreadyOpen
	}
	_, err := p.open(p.buyer, from, asset, amount, true, func(pos *Position) *types.Event {
		return NewPairDepositedEvent(pos.Depositor, pos.Token, pos.Amount)
	})
	return err
}

// Withdraw releases the open position to the caller, who must be the bound
// seller.
func (p *PairEngine) Withdraw(caller [20]byte) (*Position, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if caller != p.seller {
		return nil, ErrNotSeller
	}
	return p.close(p.buyer, caller)
}

// Position returns the singleton open position, if any.
func (p *PairEngine) Position() (*Position, bool) {
	return p.Engine.Position(p.buyer)
}
