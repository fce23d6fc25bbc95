package token

import (
	"errors"
	"strings"
	"sync"
)

var ErrDuplicateToken = errors.New("token: address or symbol already registered")

// Registry resolves asset references to their ledger implementations. The
// escrow adapters look assets up by address; the HTTP surface looks them up
// by symbol.
type Registry struct {
	mu       sync.RWMutex
	byAddr   map[[20]byte]Token
	bySymbol map[string]Token
}

func NewRegistry() *Registry {
	return &Registry{
		byAddr:   make(map[[20]byte]Token),
		bySymbol: make(map[string]Token),
	}
}

// Register adds a ledger to the registry.
func (r *Registry) Register(t Token) error {
	if t == nil {
		return errors.New("token: nil token")
	}
	symbol := strings.ToUpper(strings.TrimSpace(t.Symbol()))
	if symbol == "" {
		return errors.New("token: empty symbol")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddr[t.Address()]; exists {
		return ErrDuplicateToken
	}
	if _, exists := r.bySymbol[symbol]; exists {
		return ErrDuplicateToken
	}
	r.byAddr[t.Address()] = t
	r.bySymbol[symbol] = t
	return nil
}

// Resolve returns the ledger registered under the asset address.
func (r *Registry) Resolve(addr [20]byte) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddr[addr]
	return t, ok
}

// BySymbol returns the ledger registered under the canonical symbol.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return t, ok
}

// Symbols lists the registered symbols in no particular order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		out = append(out, symbol)
	}
	return out
}
