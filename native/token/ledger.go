package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/storage"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrSanctioned            = errors.New("token: party sanctioned")

	errNilStore = errors.New("token: storage not configured")
)

// Token is the surface a ledger exposes to its holders. The escrow treats a
// Token as untrusted: calls may fail for reasons the custodian cannot see
// (sanctions, misconfigured allowances) and implementations may call back
// into the caller.
type Token interface {
	Address() [20]byte
	Symbol() string
	BalanceOf(holder [20]byte) *big.Int
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Approve(owner, spender [20]byte, amount *big.Int) error
	Allowance(owner, spender [20]byte) *big.Int
}

// Ledger is a fungible asset ledger with ERC20-style transfer semantics.
// Balances and allowances persist through the storage backend so the daemon
// survives restarts without losing custody state.
type Ledger struct {
	addr      [20]byte
	symbol    string
	db        storage.Database
	sanctions SanctionsChecker
	godMode   [20]byte
}

// NewLedger constructs a ledger identified by its own 20-byte address.
func NewLedger(addr [20]byte, symbol string, db storage.Database) *Ledger {
	return &Ledger{
		addr:      addr,
		symbol:    symbol,
		db:        db,
		sanctions: DefaultSanctionsChecker,
	}
}

// SetSanctionsChecker installs the predicate consulted before every balance
// movement. Passing nil restores the allow-all default.
func (l *Ledger) SetSanctionsChecker(checker SanctionsChecker) {
	if checker == nil {
		l.sanctions = DefaultSanctionsChecker
		return
	}
	l.sanctions = checker
}

// SetGodModeOperator designates an identity whose TransferFrom calls bypass
// allowance checks. The zero address disables the capability.
func (l *Ledger) SetGodModeOperator(addr [20]byte) { l.godMode = addr }

func (l *Ledger) Address() [20]byte { return l.addr }

func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns the holder's current balance. Unknown holders report zero.
func (l *Ledger) BalanceOf(holder [20]byte) *big.Int {
	acct, err := l.loadAccount(holder)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acct.Balance)
}

// Mint credits freshly issued units to the recipient.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l.db == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acct, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	acct.Balance = new(big.Int).Add(acct.Balance, amount)
	return l.storeAccount(to, acct)
}

// Transfer moves units between two holders. The from identity acts as its own
// authority, matching a direct transfer on the asset contract.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l.db == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.sanctions(from) || !l.sanctions(to) {
		return ErrSanctioned
	}
	return l.move(from, to, amount)
}

// TransferFrom moves units from an account that previously approved the
// spender. The configured god-mode operator bypasses the allowance check.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if l.db == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.sanctions(from) || !l.sanctions(to) {
		return ErrSanctioned
	}
	if spender != from && spender != l.godMode {
		if err := l.consumeAllowance(from, spender, amount); err != nil {
			return err
		}
	}
	if err := l.move(from, to, amount); err != nil {
		if spender != from && spender != l.godMode {
			// Undo the allowance consumption so a failed transfer has no effect.
			_ = l.restoreAllowance(from, spender, amount)
		}
		return err
	}
	return nil
}

// Approve sets the allowance the spender may move on the owner's behalf.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if l.db == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	acct, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	acct.setAllowance(spender, amount)
	return l.storeAccount(owner, acct)
}

// Allowance reports how much the spender may currently move for the owner.
func (l *Ledger) Allowance(owner, spender [20]byte) *big.Int {
	acct, err := l.loadAccount(owner)
	if err != nil {
		return big.NewInt(0)
	}
	return acct.allowance(spender)
}

func (l *Ledger) move(from, to [20]byte, amount *big.Int) error {
	fromAcct, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcct.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcct, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcct.Balance = new(big.Int).Sub(fromAcct.Balance, amount)
	toAcct.Balance = new(big.Int).Add(toAcct.Balance, amount)
	if err := l.storeAccount(from, fromAcct); err != nil {
		return err
	}
	return l.storeAccount(to, toAcct)
}

// unsafeMove reverses an already-applied movement during rollback. It skips
// sanctions and balance checks: the units being returned were just debited.
func (l *Ledger) unsafeMove(from, to [20]byte, amount *big.Int) error {
	fromAcct, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	toAcct, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcct.Balance = new(big.Int).Sub(fromAcct.Balance, amount)
	toAcct.Balance = new(big.Int).Add(toAcct.Balance, amount)
	if err := l.storeAccount(from, fromAcct); err != nil {
		return err
	}
	return l.storeAccount(to, toAcct)
}

func (l *Ledger) consumeAllowance(owner, spender [20]byte, amount *big.Int) error {
	acct, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	current := acct.allowance(spender)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	acct.setAllowance(spender, new(big.Int).Sub(current, amount))
	return l.storeAccount(owner, acct)
}

func (l *Ledger) restoreAllowance(owner, spender [20]byte, amount *big.Int) error {
	acct, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	acct.setAllowance(spender, new(big.Int).Add(acct.allowance(spender), amount))
	return l.storeAccount(owner, acct)
}

type allowanceEntry struct {
	Spender [20]byte
	Amount  *big.Int
}

type ledgerAccount struct {
	Balance    *big.Int
	Allowances []allowanceEntry
}

func (a *ledgerAccount) allowance(spender [20]byte) *big.Int {
	for _, entry := range a.Allowances {
		if entry.Spender == spender {
			return new(big.Int).Set(entry.Amount)
		}
	}
	return big.NewInt(0)
}

func (a *ledgerAccount) setAllowance(spender [20]byte, amount *big.Int) {
	for i, entry := range a.Allowances {
		if entry.Spender == spender {
			if amount.Sign() == 0 {
				a.Allowances = append(a.Allowances[:i], a.Allowances[i+1:]...)
				return
			}
			a.Allowances[i].Amount = new(big.Int).Set(amount)
			return
		}
	}
	if amount.Sign() == 0 {
		return
	}
	a.Allowances = append(a.Allowances, allowanceEntry{Spender: spender, Amount: new(big.Int).Set(amount)})
	sort.Slice(a.Allowances, func(i, j int) bool {
		return bytes.Compare(a.Allowances[i].Spender[:], a.Allowances[j].Spender[:]) < 0
	})
}

func (l *Ledger) accountKey(holder [20]byte) []byte {
	return []byte(fmt.Sprintf("token/%x/acct/%x", l.addr, holder))
}

func (l *Ledger) loadAccount(holder [20]byte) (*ledgerAccount, error) {
	key := l.accountKey(holder)
	ok, err := l.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ledgerAccount{Balance: big.NewInt(0)}, nil
	}
	raw, err := l.db.Get(key)
	if err != nil {
		return nil, err
	}
	acct := &ledgerAccount{}
	if err := rlp.DecodeBytes(raw, acct); err != nil {
		return nil, err
	}
	if acct.Balance == nil {
		acct.Balance = big.NewInt(0)
	}
	return acct, nil
}

func (l *Ledger) storeAccount(holder [20]byte, acct *ledgerAccount) error {
	encoded, err := rlp.EncodeToBytes(acct)
	if err != nil {
		return err
	}
	return l.db.Put(l.accountKey(holder), encoded)
}
