package escrow

import (
	"fmt"
	"math/big"
)

// Asset is the narrow surface the escrow requires from an asset ledger. The
// implementation behind it is untrusted: calls may fail, misreport, or
// re-enter the engine.
type Asset interface {
	BalanceOf(holder [20]byte) *big.Int
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// AssetResolver maps an asset reference to its ledger.
type AssetResolver interface {
	Resolve(addr [20]byte) (Asset, bool)
}

// ResolverFunc adapts a function to the AssetResolver interface.
type ResolverFunc func(addr [20]byte) (Asset, bool)

func (f ResolverFunc) Resolve(addr [20]byte) (Asset, bool) { return f(addr) }

// TransferAdapter encapsulates how value physically enters and leaves
// custody. The engine drives it after all checks and state mutations, so an
// adversarial asset observes only settled state.
type TransferAdapter interface {
	// Collect moves amount of asset from the depositor into custody.
	Collect(asset, from [20]byte, amount *big.Int) error
	// Release moves amount of asset from custody to the recipient.
	Release(asset, to [20]byte, amount *big.Int) error
}

// PullAdapter collects by actively debiting a pre-authorized account via the
// asset's transfer-on-behalf primitive. The depositor must have approved the
// custodian beforehand.
type PullAdapter struct {
	resolver  AssetResolver
	custodian [20]byte
}

func NewPullAdapter(resolver AssetResolver, custodian [20]byte) *PullAdapter {
	return &PullAdapter{resolver: resolver, custodian: custodian}
}

// Custodian returns the vault address the adapter moves value through.
func (a *PullAdapter) Custodian() [20]byte { return a.custodian }

func (a *PullAdapter) Collect(asset, from [20]byte, amount *big.Int) error {
	tok, ok := a.resolver.Resolve(asset)
	if !ok {
		return fmt.Errorf("%w: unknown asset %x", ErrExternalTransfer, asset)
	}
	if err := tok.TransferFrom(a.custodian, from, a.custodian, amount); err != nil {
		return fmt.Errorf("%w: inbound: %v", ErrExternalTransfer, err)
	}
	return nil
}

func (a *PullAdapter) Release(asset, to [20]byte, amount *big.Int) error {
	tok, ok := a.resolver.Resolve(asset)
	if !ok {
		return fmt.Errorf("%w: unknown asset %x", ErrExternalTransfer, asset)
	}
	if err := tok.Transfer(a.custodian, to, amount); err != nil {
		return fmt.Errorf("%w: outbound: %v", ErrExternalTransfer, err)
	}
	return nil
}
