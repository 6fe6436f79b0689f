package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/clock"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/storage/sqlite"
)

const start = 2700 * epoch.Week

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fixture struct {
	srv *Server
	clk *clock.Manual
}

func newFixture(t *testing.T, rateLimit float64) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	store := sqlite.NewStore(db)
	t.Cleanup(func() { store.Close() })

	book := deposit.NewBook(custody, store)
	funds := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))
	for _, who := range []common.Address{alice, bob} {
		require.NoError(t, book.Mint(ctx, who, funds))
		require.NoError(t, book.Approve(ctx, who, funds))
	}

	clk := clock.NewManual(start)
	e, err := escrow.Open(ctx, escrow.Options{
		Clock:    clk,
		Deposit:  book,
		Registry: registry.NewMemory(store),
		Store:    store,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := New(Options{
		Escrow:    e,
		Journal:   store,
		Decimals:  18,
		Symbol:    "TOKEN",
		Version:   "test-version",
		RateLimit: rateLimit,
		RateBurst: 1,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return &fixture{srv: srv, clk: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)

	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (f *fixture) createLock(t *testing.T, caller common.Address, amount string, seconds int64) uint64 {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/api/locks", map[string]any{
		"caller":           caller.Hex(),
		"amount":           amount,
		"duration_seconds": seconds,
	})
	require.Equal(t, http.StatusCreated, code, body)
	return uint64(body["id"].(float64))
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	code, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
}

func TestLockLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createLock(t, alice, "1000", epoch.Week)
	path := "/api/locks/" + strconv.FormatUint(id, 10)

	code, body := f.do(t, http.MethodGet, path+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "4794520547945116800", body["balance"])

	code, body = f.do(t, http.MethodGet, "/api/supply", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "4794520547945116800", body["supply"])

	code, body = f.do(t, http.MethodGet, path+"/uri", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body["uri"].(string), "data:application/json;base64,"))

	code, _ = f.do(t, http.MethodPost, path+"/withdraw", map[string]any{"caller": alice.Hex()})
	assert.Equal(t, http.StatusConflict, code)

	f.clk.Advance(epoch.Week)
	code, body = f.do(t, http.MethodPost, path+"/withdraw", map[string]any{"caller": alice.Hex()})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "1000", body["amount_display"])

	code, _ = f.do(t, http.MethodGet, path+"/uri", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/operations?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	ops := body["operations"].([]any)
	require.Len(t, ops, 2)
	assert.Equal(t, "withdraw", ops[0].(map[string]any)["kind"])
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createLock(t, alice, "10", 4*epoch.Week)
	path := "/api/locks/" + strconv.FormatUint(id, 10)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad caller", http.MethodPost, "/api/locks", map[string]any{"caller": "nope", "amount": "1", "duration_seconds": 100}, http.StatusBadRequest},
		{"bad amount", http.MethodPost, "/api/locks", map[string]any{"caller": alice.Hex(), "amount": "x", "duration_seconds": 100}, http.StatusBadRequest},
		{"too long", http.MethodPost, "/api/locks", map[string]any{"caller": alice.Hex(), "amount": "1", "duration_seconds": 5 * 365 * 86400}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/api/locks", map[string]any{"caller": alice.Hex(), "amount": "0", "duration_seconds": epoch.Week}, http.StatusBadRequest},
		{"not owner", http.MethodPost, path + "/increase", map[string]any{"caller": bob.Hex(), "amount": "1"}, http.StatusForbidden},
		{"unknown lock", http.MethodPost, "/api/locks/99/increase", map[string]any{"caller": alice.Hex(), "amount": "1"}, http.StatusNotFound},
		{"not increased", http.MethodPost, path + "/extend", map[string]any{"caller": alice.Hex(), "duration_seconds": epoch.Week}, http.StatusConflict},
		{"future supply", http.MethodGet, "/api/supply?t=" + strconv.FormatInt(start+10, 10), nil, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/locks/abc", nil, http.StatusBadRequest},
		{"missing lock", http.MethodGet, "/api/locks/42", nil, http.StatusNotFound},
		{"missing epoch", http.MethodGet, "/api/epochs/500", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, code, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWrappingDurationIsTooLong(t *testing.T) {
	f := newFixture(t, 0)
	huge := int64(1)<<55 + epoch.Week

	code, body := f.do(t, http.MethodPost, "/api/locks", map[string]any{"caller": alice.Hex(), "amount": "1", "duration_seconds": huge})
	assert.Equal(t, http.StatusBadRequest, code, body)
	assert.Equal(t, escrow.ErrLockTooLong.Error(), body["error"])

	id := f.createLock(t, alice, "10", 4*epoch.Week)
	assert.Equal(t, uint64(1), id, "rejected request minted nothing")

	path := "/api/locks/" + strconv.FormatUint(id, 10)
	code, body = f.do(t, http.MethodPost, path+"/extend", map[string]any{"caller": alice.Hex(), "duration_seconds": huge})
	assert.Equal(t, http.StatusBadRequest, code, body)
	assert.Equal(t, escrow.ErrLockTooLong.Error(), body["error"])

	code, body = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, start+4*epoch.Week, body["unlock_at"])
}

func TestDepositForAndListing(t *testing.T) {
	f := newFixture(t, 0)
	id := f.createLock(t, alice, "100", 8*epoch.Week)
	path := "/api/locks/" + strconv.FormatUint(id, 10)

	code, body := f.do(t, http.MethodPost, path+"/deposit", map[string]any{"caller": bob.Hex(), "amount": "50"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "150", body["amount_display"])
	assert.Equal(t, alice.Hex(), body["owner"])

	code, body = f.do(t, http.MethodGet, "/api/locks?owner="+alice.Hex(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["positions"].([]any), 1)

	code, body = f.do(t, http.MethodGet, "/api/locks?owner="+bob.Hex(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["positions"].([]any), 0)

	code, body = f.do(t, http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["points"].([]any), 2)
}

func TestCheckpointEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	f.createLock(t, alice, "1", 10*epoch.Week)
	f.clk.Advance(3*epoch.Week + epoch.Week/2)

	code, body := f.do(t, http.MethodPost, "/api/checkpoint", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["points"])

	code, body = f.do(t, http.MethodGet, "/api/epochs/1", nil)
	require.Equal(t, http.StatusOK, code)
	point := body["point"].(map[string]any)
	assert.Equal(t, float64(start), point["ts"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0)
	f.createLock(t, alice, "1", epoch.Week)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vecore_escrow_operations_total")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 1)
	code, _ := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestNewRequiresEscrow(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
