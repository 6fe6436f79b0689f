package postgres

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/config"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/storage"
)

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.LoadLedger(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
	assert.ErrorIs(t, s.Migrate(context.Background()), storage.ErrNotConfigured)
	assert.NoError(t, s.Close())

	_, _, err = NewStore(nil, zerolog.Nop()).TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestNewPoolRequiresDSN(t *testing.T) {
	_, err := NewPool(context.Background(), config.DatabaseConfig{})
	assert.Error(t, err)

	_, err = NewPool(context.Background(), config.DatabaseConfig{DSN: "://bad"})
	assert.Error(t, err)
}

// Runs against a disposable database named by VECORE_TEST_POSTGRES_DSN.
func TestCommitAndLoadRoundTrip(t *testing.T) {
	dsn := os.Getenv("VECORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VECORE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2})
	require.NoError(t, err)
	store := NewStore(pool, zerolog.Nop())
	defer store.Close()

	for _, table := range []string{"position_points", "positions", "global_points", "slope_changes", "ledger_ops", "position_tokens", "deposit_balances"} {
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	}
	require.NoError(t, store.Migrate(ctx))

	const start = 2600 * epoch.Week
	book := ledger.NewBook(start, 0)
	require.NoError(t, store.CommitChangeset(ctx, ledger.GenesisChangeset(book)))

	amount := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	cs, err := book.PlanCheckpoint(ledger.KindCreate, 1, ledger.Lock{Amount: amount, End: start + epoch.Week}, start, 1)
	require.NoError(t, err)
	cs.Actor = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, store.CommitChangeset(ctx, cs))
	require.NoError(t, book.Apply(cs))

	snap, err := store.LoadLedger(ctx)
	require.NoError(t, err)
	restored, err := ledger.Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, book.Epoch(), restored.Epoch())
	assert.Equal(t, book.BalanceAt(1, start).String(), restored.BalanceAt(1, start).String())

	ops, err := store.ListOperations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, ledger.KindCreate, ops[0].Kind)
	assert.Equal(t, uint64(1), ops[0].PositionID)
	assert.Equal(t, amount.String(), ops[0].Amount.String())

	ops, err = store.ListOperations(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	unlock, ok, err := store.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}
