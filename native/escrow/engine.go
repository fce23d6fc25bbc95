package escrow

import (
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

type engineState interface {
	PositionPut(*Position) error
	PositionGet(addr [20]byte) (*Position, bool)
	PositionClear(addr [20]byte) error
	RolePut(addr [20]byte, role Role) error
	RoleGet(addr [20]byte) (Role, bool)
	RoleClear(addr [20]byte) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine drives the deposit/withdraw state machine over the position store.
// Positions are keyed per depositor; any identity may fund one open position
// at a time and any correctly-timed seller may claim it. The transfer adapter
// is the only point where control leaves the engine, and every internal
// mutation completes before it is invoked.
type Engine struct {
	state        engineState
	adapter      TransferAdapter
	emitter      events.Emitter
	custodian    [20]byte
	releaseDelay time.Duration
	nowFn        func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// three-day release delay. Callers wire state and adapter before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		releaseDelay: DefaultReleaseDelay,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdapter configures how value physically moves in and out of custody.
func (e *Engine) SetAdapter(adapter TransferAdapter) { e.adapter = adapter }

// SetCustodian configures the vault address value is held under.
func (e *Engine) SetCustodian(addr [20]byte) { e.custodian = addr }

// SetReleaseDelay overrides the cooling-off period. Non-positive values are
// ignored.
func (e *Engine) SetReleaseDelay(delay time.Duration) {
	if delay > 0 {
		e.releaseDelay = delay
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Custodian returns the configured vault address.
func (e *Engine) Custodian() [20]byte { return e.custodian }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.adapter == nil {
		return errNilAdapter
	}
	return nil
}

// Deposit locks amount of asset from the caller for the cooling-off period.
// The caller must present the buyer role and hold no open position; the
// inbound transfer runs only after every local check has passed.
func (e *Engine) Deposit(caller, asset [20]byte, amount *big.Int, role Role) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if asset == ([20]byte{}) {
		return nil, ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if role != RoleBuyer {
		return nil, ErrNotBuyer
	}
	if _, open := e.state.PositionGet(caller); open {
		return nil, ErrAlreadyOpen
	}
	return e.open(caller, caller, asset, amount, false, func(p *Position) *types.Event {
		return NewDepositedEvent(p.Depositor, p.Amount)
	})
}

// Withdraw claims the position held for the depositor key and releases it to
// the caller. Ordering is fixed: existence, then timelock, then the outbound
// transfer — and the position is cleared before the transfer is issued so a
// reentrant call can never double-spend it.
func (e *Engine) Withdraw(caller, depositor [20]byte, role Role) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if depositor == ([20]byte{}) {
		return nil, ErrInvalidBuyer
	}
	if role != RoleSeller {
		return nil, ErrNotSeller
	}
	return e.close(depositor, caller)
}

// Position returns the open position for the key, if any.
func (e *Engine) Position(addr [20]byte) (*Position, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	pos, ok := e.state.PositionGet(addr)
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// RoleOf returns the last role recorded against an identity.
func (e *Engine) RoleOf(addr [20]byte) (Role, bool) {
	if e == nil || e.state == nil {
		return 0, false
	}
	return e.state.RoleGet(addr)
}

// open records a funded position. When collected is false the adapter pulls
// the value in first; push deposits arrive with the value already custodied.
func (e *Engine) open(key, from, asset [20]byte, amount *big.Int, collected bool, eventFn func(*Position) *types.Event) (*Position, error) {
	if !collected {
		if err := e.adapter.Collect(asset, from, amount); err != nil {
			return nil, err
		}
	}
	now := e.now()
	pos := &Position{
		Depositor:   key,
		Token:       asset,
		Amount:      new(big.Int).Set(amount),
		CreatedAt:   now,
		ReleaseTime: ReleaseTime(now, e.releaseDelay),
	}
	if err := e.state.PositionPut(pos); err != nil {
		e.returnCollected(asset, from, amount, collected)
		return nil, err
	}
	if err := e.state.RolePut(from, RoleBuyer); err != nil {
		_ = e.state.PositionClear(key)
		e.returnCollected(asset, from, amount, collected)
		return nil, err
	}
	e.emit(eventFn(pos))
	return pos.Clone(), nil
}

// returnCollected refunds an inbound transfer whose position could not be
// recorded, so value never stays custodied without an owner.
func (e *Engine) returnCollected(asset, from [20]byte, amount *big.Int, collected bool) {
	if collected {
		return
	}
	_ = e.adapter.Release(asset, from, amount)
}

func (e *Engine) close(key, to [20]byte) (*Position, error) {
	pos, ok := e.state.PositionGet(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !IsReleased(e.now(), pos.ReleaseTime) {
		return nil, ErrTimelock
	}
	prevRole, hadRole := e.state.RoleGet(to)
	if err := e.state.PositionClear(key); err != nil {
		return nil, err
	}
	if err := e.state.RolePut(to, RoleSeller); err != nil {
		_ = e.state.PositionPut(pos)
		return nil, err
	}
	if err := e.adapter.Release(pos.Token, to, pos.Amount); err != nil {
		// A failed outbound transfer must not leave funds custodied with no
		// recorded owner: restore the position and the prior audit entry.
		if hadRole {
			_ = e.state.RolePut(to, prevRole)
		} else {
			_ = e.state.RoleClear(to)
		}
		if putErr := e.state.PositionPut(pos); putErr != nil {
			return nil, fmt.Errorf("escrow: restore position after failed release: %v (%w)", putErr, err)
		}
		return nil, err
	}
	e.emit(NewWithdrawnEvent(to, pos.Amount, pos.ReleaseTime))
	return pos.Clone(), nil
}
