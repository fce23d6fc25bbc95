package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"escrowd/storage"
)

// Receiver is the callback entry point a custodian exposes when it accepts
// push-style transfers. Returning an error rejects the inbound transfer: the
// ledger rolls the movement back so the whole operation fails atomically.
type Receiver interface {
	OnTokenReceived(asset, operator, from [20]byte, amount *big.Int, data []byte) error
}

var errNoReceiver = errors.New("token: recipient does not accept notified transfers")

// CallbackLedger extends Ledger with transfer-and-notify semantics: the asset
// moves value and then calls into the recipient, mirroring an ERC1363-style
// token contract.
type CallbackLedger struct {
	*Ledger

	mu        sync.RWMutex
	receivers map[[20]byte]Receiver
}

// NewCallbackLedger constructs a callback-capable ledger.
func NewCallbackLedger(addr [20]byte, symbol string, db storage.Database) *CallbackLedger {
	return &CallbackLedger{
		Ledger:    NewLedger(addr, symbol, db),
		receivers: make(map[[20]byte]Receiver),
	}
}

// RegisterReceiver binds a callback implementation to a recipient address.
// Transfers notified to an unregistered recipient fail outright.
func (l *CallbackLedger) RegisterReceiver(addr [20]byte, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[addr] = r
}

func (l *CallbackLedger) receiver(addr [20]byte) (Receiver, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.receivers[addr]
	return r, ok
}

// TransferAndCall moves units and notifies the recipient. The sender is its
// own operator.
func (l *CallbackLedger) TransferAndCall(from, to [20]byte, amount *big.Int, data []byte) error {
	recv, ok := l.receiver(to)
	if !ok {
		return errNoReceiver
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	if err := recv.OnTokenReceived(l.Address(), from, from, amount, data); err != nil {
		if undoErr := l.unsafeMove(to, from, amount); undoErr != nil {
			return fmt.Errorf("token: rollback after rejected transfer: %v (%w)", undoErr, err)
		}
		return err
	}
	return nil
}

// TransferFromAndCall moves pre-approved units on the owner's behalf and
// notifies the recipient. A rejected callback restores both the balances and
// the consumed allowance.
func (l *CallbackLedger) TransferFromAndCall(spender, from, to [20]byte, amount *big.Int, data []byte) error {
	recv, ok := l.receiver(to)
	if !ok {
		return errNoReceiver
	}
	if err := l.TransferFrom(spender, from, to, amount); err != nil {
		return err
	}
	if err := recv.OnTokenReceived(l.Address(), spender, from, amount, data); err != nil {
		if undoErr := l.unsafeMove(to, from, amount); undoErr != nil {
			return fmt.Errorf("token: rollback after rejected transfer: %v (%w)", undoErr, err)
		}
		if spender != from && spender != l.godMode {
			_ = l.restoreAllowance(from, spender, amount)
		}
		return err
	}
	return nil
}
