package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/storage"
)

// Store persists positions and the role audit trail through the storage
// backend. Positions are keyed by depositor address; the role table is a
// write-only audit of the last role an identity acted under, kept strictly
// separate from authorization.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type storedPosition struct {
	Depositor   [20]byte
	Token       [20]byte
	Amount      *big.Int
	ReleaseTime uint64
	CreatedAt   uint64
}

// PositionPut records a new open position. It refuses to overwrite: a second
// deposit on an occupied key must never strand the first position's funds.
func (s *Store) PositionPut(pos *Position) error {
	if pos == nil {
		return fmt.Errorf("escrow: nil position")
	}
	key := positionKey(pos.Depositor)
	ok, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyOpen
	}
	record := storedPosition{
		Depositor: pos.Depositor,
		Token:     pos.Token,
		Amount:    pos.Amount,
	}
	if pos.ReleaseTime > 0 {
		record.ReleaseTime = uint64(pos.ReleaseTime)
	}
	if pos.CreatedAt > 0 {
		record.CreatedAt = uint64(pos.CreatedAt)
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// PositionGet returns the open position for the key, if any.
func (s *Store) PositionGet(addr [20]byte) (*Position, bool) {
	key := positionKey(addr)
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return nil, false
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false
	}
	record := storedPosition{}
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, false
	}
	pos := &Position{
		Depositor: record.Depositor,
		Token:     record.Token,
		Amount:    record.Amount,
	}
	if pos.Amount == nil {
		pos.Amount = big.NewInt(0)
	}
	pos.ReleaseTime = int64(record.ReleaseTime)
	pos.CreatedAt = int64(record.CreatedAt)
	return pos, true
}

// PositionClear removes the position, failing when the key holds nothing.
func (s *Store) PositionClear(addr [20]byte) error {
	key := positionKey(addr)
	ok, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.db.Delete(key)
}

// RolePut records the last role an identity acted under.
func (s *Store) RolePut(addr [20]byte, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("escrow: invalid role %d", role)
	}
	return s.db.Put(roleKey(addr), []byte{byte(role)})
}

// RoleGet returns the last recorded role for the identity, if any.
func (s *Store) RoleGet(addr [20]byte) (Role, bool) {
	key := roleKey(addr)
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return 0, false
	}
	raw, err := s.db.Get(key)
	if err != nil || len(raw) != 1 {
		return 0, false
	}
	role := Role(raw[0])
	if !role.Valid() {
		return 0, false
	}
	return role, true
}

// RoleClear removes the audit entry. Used only to roll back a failed
// operation so no partial mutation stays visible.
func (s *Store) RoleClear(addr [20]byte) error {
	return s.db.Delete(roleKey(addr))
}

func positionKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("escrow/position/%x", addr))
}

func roleKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("escrow/role/%x", addr))
}
