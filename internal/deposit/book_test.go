package deposit

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	custody = common.HexToAddress("0x000000000000000000000000000000000000e5c0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type memAccounts struct {
	rows map[common.Address]Account
}

func (m *memAccounts) SaveAccounts(ctx context.Context, accounts []Account) error {
	if m.rows == nil {
		m.rows = make(map[common.Address]Account)
	}
	for _, a := range accounts {
		m.rows[a.Owner] = a
	}
	return nil
}

func (m *memAccounts) LoadAccounts(ctx context.Context) ([]Account, error) {
	out := make([]Account, 0, len(m.rows))
	for _, a := range m.rows {
		out = append(out, a)
	}
	return out, nil
}

func TestBookTransferInRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	b := NewBook(custody, nil)
	require.NoError(t, b.Mint(ctx, alice, big.NewInt(100)))

	assert.ErrorIs(t, b.TransferIn(ctx, alice, big.NewInt(10)), ErrInsufficientAllowance)

	require.NoError(t, b.Approve(ctx, alice, big.NewInt(500)))
	assert.ErrorIs(t, b.TransferIn(ctx, alice, big.NewInt(200)), ErrInsufficientBalance)

	require.NoError(t, b.TransferIn(ctx, alice, big.NewInt(60)))
	bal, _ := b.BalanceOf(ctx, alice)
	assert.Equal(t, int64(40), bal.Int64())
	held, _ := b.BalanceOf(ctx, custody)
	assert.Equal(t, int64(60), held.Int64())
	assert.Equal(t, int64(440), b.Allowance(alice).Int64())
}

func TestBookTransferOut(t *testing.T) {
	ctx := context.Background()
	b := NewBook(custody, nil)
	assert.ErrorIs(t, b.TransferOut(ctx, alice, big.NewInt(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, b.TransferOut(ctx, custody, big.NewInt(1)), ErrCustodyTransfer)
	assert.ErrorIs(t, b.TransferOut(ctx, alice, big.NewInt(0)), ErrInvalidAmount)

	require.NoError(t, b.Mint(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.Approve(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.TransferIn(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.TransferOut(ctx, alice, big.NewInt(10)))

	bal, _ := b.BalanceOf(ctx, alice)
	assert.Equal(t, int64(10), bal.Int64())
}

func TestBookReclaimSkipsAllowance(t *testing.T) {
	ctx := context.Background()
	b := NewBook(custody, nil)
	require.NoError(t, b.Mint(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.Approve(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.TransferIn(ctx, alice, big.NewInt(10)))
	require.NoError(t, b.TransferOut(ctx, alice, big.NewInt(10)))
	assert.Zero(t, b.Allowance(alice).Sign())

	assert.ErrorIs(t, b.TransferIn(ctx, alice, big.NewInt(10)), ErrInsufficientAllowance)
	require.NoError(t, b.Reclaim(ctx, alice, big.NewInt(10)))

	bal, _ := b.BalanceOf(ctx, alice)
	assert.Zero(t, bal.Sign())
	held, _ := b.BalanceOf(ctx, custody)
	assert.Equal(t, int64(10), held.Int64())
	assert.Zero(t, b.Allowance(alice).Sign())

	assert.ErrorIs(t, b.Reclaim(ctx, alice, big.NewInt(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, b.Reclaim(ctx, custody, big.NewInt(1)), ErrCustodyTransfer)
	assert.ErrorIs(t, b.Reclaim(ctx, alice, nil), ErrInvalidAmount)
}

func TestBookPersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := &memAccounts{}
	b := NewBook(custody, store)
	require.NoError(t, b.Mint(ctx, alice, big.NewInt(7)))
	require.NoError(t, b.Approve(ctx, alice, big.NewInt(3)))

	reloaded := NewBook(custody, store)
	require.NoError(t, reloaded.Load(ctx))
	bal, _ := reloaded.BalanceOf(ctx, alice)
	assert.Equal(t, int64(7), bal.Int64())
	assert.Equal(t, int64(3), reloaded.Allowance(alice).Int64())
}
