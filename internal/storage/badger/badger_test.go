package badger

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

const start = 2600 * epoch.Week

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestOrderedKeyEncoding(t *testing.T) {
	values := []int64{-5, -1, 0, 1, start}
	for i := 1; i < len(values); i++ {
		assert.Less(t, string(i64(values[i-1])), string(i64(values[i])))
		assert.Equal(t, values[i], decodeI64(i64(values[i])))
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	clk := clock.NewManual(start)
	open := func() (*escrow.Escrow, *deposit.Book, *registry.Memory) {
		book := deposit.NewBook(custody, store)
		require.NoError(t, book.Load(ctx))
		reg := registry.NewMemory(store)
		require.NoError(t, reg.Load(ctx))
		e, err := escrow.Open(ctx, escrow.Options{
			Clock: clk, Deposit: book, Registry: reg, Store: store, Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		return e, book, reg
	}

	e, book, _ := open()
	require.NoError(t, book.Mint(ctx, bob, units(100)))
	require.NoError(t, book.Approve(ctx, bob, units(100)))

	id, err := e.CreateLock(ctx, bob, units(60), 12*7*24*time.Hour)
	require.NoError(t, err)
	clk.Advance(epoch.Week / 2)
	require.NoError(t, e.ExtendLock(ctx, bob, id, 40*7*24*time.Hour))
	clk.Advance(5 * epoch.Week)
	n, err := e.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	reopened, book2, reg2 := open()
	assert.Equal(t, e.Epoch(), reopened.Epoch())
	for _, ts := range []int64{start, start + epoch.Week/2, start + 3*epoch.Week + 9, start + 5*epoch.Week} {
		want, err := e.TotalWeight(ctx, ts)
		require.NoError(t, err)
		got, err := reopened.TotalWeight(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, want.String(), got.String(), "ts=%d", ts)
	}

	bal, err := book2.BalanceOf(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, units(40).String(), bal.String())
	assert.True(t, reg2.Exists(id))

	ops, err := store.ListOperations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, ledger.KindCheckpoint, ops[0].Kind)
	assert.Equal(t, ledger.KindExtend, ops[1].Kind)
	assert.Equal(t, id, ops[1].PositionID)
}

func TestCommitRejectsRewrittenSequence(t *testing.T) {
	ctx := context.Background()
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	book := ledger.NewBook(start, 0)
	require.NoError(t, store.CommitChangeset(ctx, ledger.GenesisChangeset(book)))
	assert.ErrorIs(t, store.CommitChangeset(ctx, ledger.GenesisChangeset(book)), ErrSequenceTaken)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
