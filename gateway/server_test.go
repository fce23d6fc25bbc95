package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/native/token"
	"escrowd/storage"
)

type serverFixture struct {
	handler http.Handler
	ledger  *token.Ledger
	now     int64

	custodian [20]byte
	buyer     [20]byte
	seller    [20]byte
	asset     [20]byte
}

func fillAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func bech32Of(addr [20]byte) string {
	return crypto.NewAddress(crypto.EscrowPrefix, addr[:]).String()
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	f := &serverFixture{
		now:       1_700_000_000,
		custodian: fillAddress(0xCC),
		buyer:     fillAddress(0x01),
		seller:    fillAddress(0x02),
		asset:     fillAddress(0xA0),
	}
	f.ledger = token.NewLedger(f.asset, "MTK", db)

	reg := token.NewRegistry()
	require.NoError(t, reg.Register(f.ledger))

	resolver := escrow.ResolverFunc(func(addr [20]byte) (escrow.Asset, bool) {
		tok, ok := reg.Resolve(addr)
		if !ok {
			return nil, false
		}
		return tok, true
	})

	engine := escrow.NewEngine()
	engine.SetState(escrow.NewStore(db))
	engine.SetAdapter(escrow.NewPullAdapter(resolver, f.custodian))
	engine.SetCustodian(f.custodian)
	engine.SetNowFunc(func() int64 { return f.now })

	f.handler = NewServer(engine, nil, reg, f.custodian).Router(nil)
	return f
}

func (f *serverFixture) fundBuyer(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(f.buyer, big.NewInt(amount)))
	require.NoError(t, f.ledger.Approve(f.buyer, f.custodian, big.NewInt(amount)))
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestDepositEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.fundBuyer(t, 5)

	rec := f.do(t, http.MethodPost, "/escrow/deposit", depositRequest{
		Depositor: bech32Of(f.buyer),
		Token:     bech32Of(f.asset),
		Amount:    "3",
		Role:      "buyer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	payload := decodeBody(t, rec)
	require.Equal(t, bech32Of(f.buyer), payload["depositor"])
	require.Equal(t, "3", payload["amount"])
	require.EqualValues(t, f.now+259_200, payload["releaseTime"])

	rec = f.do(t, http.MethodGet, "/escrow/position/"+bech32Of(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", decodeBody(t, rec)["amount"])

	rec = f.do(t, http.MethodGet, "/escrow/role/"+bech32Of(f.buyer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "buyer", decodeBody(t, rec)["role"])
}

func TestDepositEndpointErrors(t *testing.T) {
	f := newServerFixture(t)
	f.fundBuyer(t, 5)

	cases := []struct {
		name   string
		body   depositRequest
		status int
	}{
		{
			name: "bad address",
			body: depositRequest{
				Depositor: "not-an-address",
				Token:     bech32Of(f.asset),
				Amount:    "1",
				Role:      "buyer",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad role",
			body: depositRequest{
				Depositor: bech32Of(f.buyer),
				Token:     bech32Of(f.asset),
				Amount:    "1",
				Role:      "custodian",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "zero amount",
			body: depositRequest{
				Depositor: bech32Of(f.buyer),
				Token:     bech32Of(f.asset),
				Amount:    "0",
				Role:      "buyer",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "seller role rejected",
			body: depositRequest{
				Depositor: bech32Of(f.buyer),
				Token:     bech32Of(f.asset),
				Amount:    "1",
				Role:      "seller",
			},
			status: http.StatusForbidden,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/escrow/deposit", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestDepositEndpointRejectsSecondPosition(t *testing.T) {
	f := newServerFixture(t)
	f.fundBuyer(t, 5)

	body := depositRequest{
		Depositor: bech32Of(f.buyer),
		Token:     bech32Of(f.asset),
		Amount:    "1",
		Role:      "buyer",
	}
	rec := f.do(t, http.MethodPost, "/escrow/deposit", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/escrow/deposit", body)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestWithdrawEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.fundBuyer(t, 5)

	rec := f.do(t, http.MethodPost, "/escrow/deposit", depositRequest{
		Depositor: bech32Of(f.buyer),
		Token:     bech32Of(f.asset),
		Amount:    "4",
		Role:      "buyer",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	withdraw := withdrawRequest{
		Caller:    bech32Of(f.seller),
		Depositor: bech32Of(f.buyer),
		Role:      "seller",
	}

	f.now += 259_199
	rec = f.do(t, http.MethodPost, "/escrow/withdraw", withdraw)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	f.now++
	rec = f.do(t, http.MethodPost, "/escrow/withdraw", withdraw)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "4", decodeBody(t, rec)["amount"])

	require.Zero(t, f.ledger.BalanceOf(f.custodian).Sign())
	require.Equal(t, 0, f.ledger.BalanceOf(f.seller).Cmp(big.NewInt(4)))

	rec = f.do(t, http.MethodGet, "/escrow/position/"+bech32Of(f.buyer), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/escrow/withdraw", withdraw)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithdrawEndpointAuthorization(t *testing.T) {
	f := newServerFixture(t)
	f.fundBuyer(t, 5)

	rec := f.do(t, http.MethodPost, "/escrow/deposit", depositRequest{
		Depositor: bech32Of(f.buyer),
		Token:     bech32Of(f.asset),
		Amount:    "1",
		Role:      "buyer",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	f.now += 259_200

	rec = f.do(t, http.MethodPost, "/escrow/withdraw", withdrawRequest{
		Caller:    bech32Of(f.seller),
		Depositor: bech32Of(f.buyer),
		Role:      "buyer",
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestUnknownPositionReturnsNotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/escrow/position/"+bech32Of(f.buyer), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/escrow/role/"+bech32Of(f.buyer), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveAndBalanceEndpoints(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.ledger.Mint(f.buyer, big.NewInt(10)))

	rec := f.do(t, http.MethodPost, "/token/approve", approveRequest{
		Owner:  bech32Of(f.buyer),
		Symbol: "MTK",
		Amount: "7",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "7", decodeBody(t, rec)["allowance"])
	require.Equal(t, 0, f.ledger.Allowance(f.buyer, f.custodian).Cmp(big.NewInt(7)))

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/token/MTK/balance/%s", bech32Of(f.buyer)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", decodeBody(t, rec)["balance"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/token/NOPE/balance/%s", bech32Of(f.buyer)), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/escrow/deposit", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type pairServerFixture struct {
	handler http.Handler
	ledger  *token.CallbackLedger
	now     int64

	custodian [20]byte
	buyer     [20]byte
	seller    [20]byte
	asset     [20]byte
}

func newPairServerFixture(t *testing.T) *pairServerFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	f := &pairServerFixture{
		now:       1_700_000_000,
		custodian: fillAddress(0xCC),
		buyer:     fillAddress(0x01),
		seller:    fillAddress(0x02),
		asset:     fillAddress(0xB0),
	}
	f.ledger = token.NewCallbackLedger(f.asset, "CTK", db)

	reg := token.NewRegistry()
	require.NoError(t, reg.Register(f.ledger))

	resolver := escrow.ResolverFunc(func(addr [20]byte) (escrow.Asset, bool) {
		tok, ok := reg.Resolve(addr)
		if !ok {
			return nil, false
		}
		return tok, true
	})

	pair := escrow.NewPairEngine(f.buyer, f.seller, f.asset)
	pair.SetState(escrow.NewStore(db))
	pair.SetAdapter(escrow.NewPullAdapter(resolver, f.custodian))
	pair.SetCustodian(f.custodian)
	pair.SetNowFunc(func() int64 { return f.now })
	pair.SetPushAsset(f.ledger)
	f.ledger.RegisterReceiver(f.custodian, pair)

	f.handler = NewServer(pair.Engine, pair, reg, f.custodian).Router(nil)
	return f
}

func TestPairEndpoints(t *testing.T) {
	f := newPairServerFixture(t)
	require.NoError(t, f.ledger.Mint(f.buyer, big.NewInt(9)))
	require.NoError(t, f.ledger.Approve(f.buyer, f.custodian, big.NewInt(9)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pair/position", nil)
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body, err := json.Marshal(pairDepositRequest{
		Caller: crypto.NewAddress(crypto.EscrowPrefix, f.buyer[:]).String(),
		Token:  crypto.NewAddress(crypto.EscrowPrefix, f.asset[:]).String(),
		Amount: "9",
	})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/pair/deposit", bytes.NewReader(body))
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/pair/position", nil)
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "9", decodeBody(t, rec)["amount"])

	withdraw, err := json.Marshal(pairWithdrawRequest{
		Caller: crypto.NewAddress(crypto.EscrowPrefix, f.seller[:]).String(),
	})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/pair/withdraw", bytes.NewReader(withdraw))
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	f.now += 259_200
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/pair/withdraw", bytes.NewReader(withdraw))
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 0, f.ledger.BalanceOf(f.seller).Cmp(big.NewInt(9)))
}
