package escrow_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	escrowpkg "escrowd/native/escrow"
	"escrowd/storage"
)

func newTestStore(t *testing.T) (*escrowpkg.Store, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return escrowpkg.NewStore(db), db
}

func addressOf(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestStorePositionRoundTrip(t *testing.T) {
	store, db := newTestStore(t)
	depositor := addressOf(0x01)
	asset := addressOf(0xA0)

	pos := &escrowpkg.Position{
		Depositor:   depositor,
		Token:       asset,
		Amount:      big.NewInt(1_000_000),
		ReleaseTime: 1_700_259_200,
		CreatedAt:   1_700_000_000,
	}
	if err := store.PositionPut(pos); err != nil {
		t.Fatalf("PositionPut: %v", err)
	}

	stored, ok := store.PositionGet(depositor)
	if !ok {
		t.Fatalf("PositionGet: expected position to exist")
	}
	if stored.Token != asset || stored.Depositor != depositor {
		t.Fatalf("addresses mutated during round trip")
	}
	if stored.Amount == nil || stored.Amount.Cmp(pos.Amount) != 0 {
		t.Fatalf("unexpected amount: %v", stored.Amount)
	}
	if stored.Amount == pos.Amount {
		t.Fatalf("PositionGet should not share the amount pointer")
	}
	if stored.ReleaseTime != pos.ReleaseTime || stored.CreatedAt != pos.CreatedAt {
		t.Fatalf("timestamps mutated during round trip: %d %d", stored.ReleaseTime, stored.CreatedAt)
	}

	// State must survive a store restart over the same backend.
	reopened := escrowpkg.NewStore(db)
	if _, ok := reopened.PositionGet(depositor); !ok {
		t.Fatalf("position lost across store instances")
	}
}

func TestStorePositionPutRefusesOverwrite(t *testing.T) {
	store, _ := newTestStore(t)
	depositor := addressOf(0x01)

	first := &escrowpkg.Position{Depositor: depositor, Token: addressOf(0xA0), Amount: big.NewInt(1)}
	if err := store.PositionPut(first); err != nil {
		t.Fatalf("PositionPut: %v", err)
	}
	second := &escrowpkg.Position{Depositor: depositor, Token: addressOf(0xA1), Amount: big.NewInt(2)}
	if err := store.PositionPut(second); !errors.Is(err, escrowpkg.ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}

	stored, _ := store.PositionGet(depositor)
	if stored.Token != first.Token {
		t.Fatalf("occupied position must not be overwritten")
	}
}

func TestStorePositionClear(t *testing.T) {
	store, _ := newTestStore(t)
	depositor := addressOf(0x01)

	if err := store.PositionClear(depositor); !errors.Is(err, escrowpkg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent key, got %v", err)
	}

	pos := &escrowpkg.Position{Depositor: depositor, Token: addressOf(0xA0), Amount: big.NewInt(5)}
	if err := store.PositionPut(pos); err != nil {
		t.Fatalf("PositionPut: %v", err)
	}
	if err := store.PositionClear(depositor); err != nil {
		t.Fatalf("PositionClear: %v", err)
	}
	if _, ok := store.PositionGet(depositor); ok {
		t.Fatalf("position should be absent after clear")
	}
	// The key is reusable after a clear.
	if err := store.PositionPut(pos); err != nil {
		t.Fatalf("PositionPut after clear: %v", err)
	}
}

func TestStoreRoleAudit(t *testing.T) {
	store, _ := newTestStore(t)
	party := addressOf(0x02)

	if _, ok := store.RoleGet(party); ok {
		t.Fatalf("expected no role recorded yet")
	}
	if err := store.RolePut(party, escrowpkg.Role(9)); err == nil {
		t.Fatalf("expected invalid role rejection")
	}
	if err := store.RolePut(party, escrowpkg.RoleBuyer); err != nil {
		t.Fatalf("RolePut: %v", err)
	}
	role, ok := store.RoleGet(party)
	if !ok || role != escrowpkg.RoleBuyer {
		t.Fatalf("unexpected role: %v %v", role, ok)
	}
	if err := store.RolePut(party, escrowpkg.RoleSeller); err != nil {
		t.Fatalf("RolePut overwrite: %v", err)
	}
	role, _ = store.RoleGet(party)
	if role != escrowpkg.RoleSeller {
		t.Fatalf("role should track the last recorded value, got %v", role)
	}
	if err := store.RoleClear(party); err != nil {
		t.Fatalf("RoleClear: %v", err)
	}
	if _, ok := store.RoleGet(party); ok {
		t.Fatalf("role should be absent after clear")
	}
}
