package sqlite

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/clock"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/registry"
)

const start = 2500 * epoch.Week

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	for _, table := range []string{"positions", "position_points", "global_points", "slope_changes", "ledger_ops", "position_tokens", "deposit_balances"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}
}

func openEscrow(t *testing.T, ctx context.Context, store *Store, clk clock.Clock) (*escrow.Escrow, *deposit.Book, *registry.Memory) {
	t.Helper()
	book := deposit.NewBook(custody, store)
	require.NoError(t, book.Load(ctx))
	reg := registry.NewMemory(store)
	require.NoError(t, reg.Load(ctx))

	e, err := escrow.Open(ctx, escrow.Options{
		Clock:    clk,
		Deposit:  book,
		Registry: reg,
		Store:    store,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return e, book, reg
}

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMemory()
	require.NoError(t, err)
	store := NewStore(db)
	defer store.Close()

	clk := clock.NewManual(start)
	e, book, _ := openEscrow(t, ctx, store, clk)
	require.NoError(t, book.Mint(ctx, alice, units(5000)))
	require.NoError(t, book.Approve(ctx, alice, units(5000)))

	first, err := e.CreateLock(ctx, alice, units(1000), 2*7*24*time.Hour)
	require.NoError(t, err)
	clk.Advance(3600)
	second, err := e.CreateLock(ctx, alice, units(300), 30*7*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.IncreaseAmount(ctx, alice, second, units(200)))

	clk.Advance(3 * epoch.Week)
	_, err = e.Withdraw(ctx, alice, first)
	require.NoError(t, err)

	reopened, book2, reg2 := openEscrow(t, ctx, store, clk)
	assert.Equal(t, e.Epoch(), reopened.Epoch())
	assert.Equal(t, e.PositionEpoch(second), reopened.PositionEpoch(second))

	for _, ts := range []int64{start, start + 3600, start + epoch.Week + 11, start + 3*epoch.Week} {
		want, err := e.TotalWeight(ctx, ts)
		require.NoError(t, err)
		got, err := reopened.TotalWeight(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, want.String(), got.String(), "ts=%d", ts)
		assert.Equal(t, e.BalanceOfPosition(second, ts).String(), reopened.BalanceOfPosition(second, ts).String())
	}

	lock, ok := reopened.Locked(second)
	require.True(t, ok)
	assert.Equal(t, units(500).String(), lock.Amount.String())

	bal, err := book2.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, units(4500).String(), bal.String())

	assert.False(t, reg2.Exists(first))
	assert.True(t, reg2.Exists(second))

	ops, err := store.ListOperations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 5)
	assert.Equal(t, ledger.KindWithdraw, ops[0].Kind)
	assert.Equal(t, first, ops[0].PositionID)
	assert.Equal(t, ledger.KindGenesis, ops[4].Kind)

	for _, limit := range []int{0, -1} {
		all, err := store.ListOperations(ctx, limit)
		require.NoError(t, err, "limit=%d", limit)
		assert.Len(t, all, 5, "limit=%d", limit)
	}
	ops, err = store.ListOperations(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestCommitRejectsDuplicateGlobalSequence(t *testing.T) {
	ctx := context.Background()
	db, err := OpenMemory()
	require.NoError(t, err)
	store := NewStore(db)
	defer store.Close()

	book := ledger.NewBook(start, 0)
	require.NoError(t, store.CommitChangeset(ctx, ledger.GenesisChangeset(book)))
	assert.Error(t, store.CommitChangeset(ctx, ledger.GenesisChangeset(book)))

	snap, err := store.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Global, 1)
}

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.LoadLedger(context.Background())
	assert.Error(t, err)
}
