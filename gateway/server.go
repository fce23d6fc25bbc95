package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/native/token"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end for escrow interactions. Engine transitions
// are serialized under a single mutex so concurrent requests observe the
// all-or-nothing semantics of each operation.
type Server struct {
	engine    *escrow.Engine
	pair      *escrow.PairEngine
	registry  *token.Registry
	custodian [20]byte

	mu sync.Mutex
}

func NewServer(engine *escrow.Engine, pair *escrow.PairEngine, registry *token.Registry, custodian [20]byte) *Server {
	if engine == nil {
		panic("escrow engine required")
	}
	if registry == nil {
		panic("token registry required")
	}
	return &Server{
		engine:    engine,
		pair:      pair,
		registry:  registry,
		custodian: custodian,
	}
}

// Router assembles the route table. The observability middleware is optional.
func (s *Server) Router(obs *Observability) http.Handler {
	r := chi.NewRouter()
	if obs != nil {
		r.Use(obs.Middleware("escrowd"))
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/escrow/deposit", s.handleDeposit)
	r.Post("/escrow/withdraw", s.handleWithdraw)
	r.Get("/escrow/position/{address}", s.handlePosition)
	r.Get("/escrow/role/{address}", s.handleRole)

	r.Post("/token/approve", s.handleApprove)
	r.Get("/token/{symbol}/balance/{address}", s.handleBalance)

	if s.pair != nil {
		r.Post("/pair/deposit", s.handlePairDeposit)
		r.Post("/pair/withdraw", s.handlePairWithdraw)
		r.Get("/pair/position", s.handlePairPosition)
	}
	return r
}

type depositRequest struct {
	Depositor string `json:"depositor"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Role      string `json:"role"`
}

type withdrawRequest struct {
	Caller    string `json:"caller"`
	Depositor string `json:"depositor"`
	Role      string `json:"role"`
}

type pairDepositRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type pairWithdrawRequest struct {
	Caller string `json:"caller"`
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

type positionResponse struct {
	Depositor   string `json:"depositor"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	ReleaseTime int64  `json:"releaseTime"`
	CreatedAt   int64  `json:"createdAt"`
}

func newPositionResponse(pos *escrow.Position) positionResponse {
	return positionResponse{
		Depositor:   encodeAddress(pos.Depositor),
		Token:       encodeAddress(pos.Token),
		Amount:      pos.Amount.String(),
		ReleaseTime: pos.ReleaseTime,
		CreatedAt:   pos.CreatedAt,
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	depositor, err := decodeAddress(req.Depositor, "depositor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := decodeAddress(req.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	pos, err := s.engine.Deposit(depositor, asset, amount, role)
	s.mu.Unlock()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionResponse(pos))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := decodeAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	depositor, err := decodeAddress(req.Depositor, "depositor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	pos, err := s.engine.Withdraw(caller, depositor, role)
	s.mu.Unlock()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, err := decodeAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, ok := s.engine.Position(addr)
	if !ok {
		writeError(w, http.StatusNotFound, escrow.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	addr, err := decodeAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, ok := s.engine.RoleOf(addr)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no role recorded"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": encodeAddress(addr),
		"role":    role.String(),
	})
}

func (s *Server) handlePairDeposit(w http.ResponseWriter, r *http.Request) {
	var req pairDepositRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := decodeAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := decodeAddress(req.Token, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	pos, err := s.pair.Deposit(caller, asset, amount)
	s.mu.Unlock()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionResponse(pos))
}

func (s *Server) handlePairWithdraw(w http.ResponseWriter, r *http.Request) {
	var req pairWithdrawRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := decodeAddress(req.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	pos, err := s.pair.Withdraw(caller)
	s.mu.Unlock()
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
}

func (s *Server) handlePairPosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.pair.Position()
	if !ok {
		writeError(w, http.StatusNotFound, escrow.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(pos))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ledger, ok := s.registry.BySymbol(req.Symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown token %q", req.Symbol))
		return
	}
	owner, err := decodeAddress(req.Owner, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spender := s.custodian
	if strings.TrimSpace(req.Spender) != "" {
		spender, err = decodeAddress(req.Spender, "spender")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := ledger.Approve(owner, spender, amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     encodeAddress(owner),
		"spender":   encodeAddress(spender),
		"allowance": ledger.Allowance(owner, spender).String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ledger, ok := s.registry.BySymbol(chi.URLParam(r, "symbol"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown token %q", chi.URLParam(r, "symbol")))
		return
	}
	addr, err := decodeAddress(chi.URLParam(r, "address"), "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":  ledger.Symbol(),
		"address": encodeAddress(addr),
		"balance": ledger.BalanceOf(addr).String(),
	})
}

func (s *Server) decode(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if len(data) > maxRequestBody {
		return fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func decodeAddress(raw, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Array(), nil
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseRole(raw string) (escrow.Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return escrow.RoleBuyer, nil
	case "seller":
		return escrow.RoleSeller, nil
	default:
		return 0, fmt.Errorf("invalid role %q", raw)
	}
}

// writeEscrowError maps the engine taxonomy onto HTTP statuses.
func writeEscrowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrInvalidToken),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidBuyer):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, escrow.ErrNotBuyer),
		errors.Is(err, escrow.ErrNotSeller):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, escrow.ErrAlreadyOpen),
		errors.Is(err, escrow.ErrTimelock),
		errors.Is(err, escrow.ErrAmountMismatch),
		errors.Is(err, escrow.ErrUnexpectedAsset):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, escrow.ErrExternalTransfer):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
