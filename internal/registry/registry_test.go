package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type memTokens struct {
	saved []Token
	fail  bool
}

func (s *memTokens) SaveToken(ctx context.Context, tok Token) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, tok)
	return nil
}

func (s *memTokens) LoadTokens(ctx context.Context) ([]Token, error) {
	latest := make(map[uint64]Token)
	var order []uint64
	for _, t := range s.saved {
		if _, ok := latest[t.ID]; !ok {
			order = append(order, t.ID)
		}
		latest[t.ID] = t
	}
	out := make([]Token, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}

func TestMintAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)

	first, err := r.Mint(ctx, alice)
	require.NoError(t, err)
	second, err := r.Mint(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	n, err := r.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	_, err = r.Mint(ctx, common.Address{})
	assert.ErrorIs(t, err, ErrZeroOwner)
}

func TestBurnClearsOwnership(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)
	id, err := r.Mint(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, r.Burn(ctx, id))
	owner, err := r.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, owner)
	assert.False(t, r.Exists(id))
	assert.ErrorIs(t, r.Burn(ctx, id), ErrNotMinted)

	next, err := r.Mint(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestRestoreRevivesBurnedToken(t *testing.T) {
	ctx := context.Background()
	store := &memTokens{}
	r := NewMemory(store)
	id, err := r.Mint(ctx, alice)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Restore(ctx, id, alice), ErrNotBurned)
	assert.ErrorIs(t, r.Restore(ctx, 99, alice), ErrNotMinted)

	require.NoError(t, r.Burn(ctx, id))
	assert.ErrorIs(t, r.Restore(ctx, id, common.Address{}), ErrZeroOwner)
	require.NoError(t, r.Restore(ctx, id, alice))

	owner, err := r.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
	n, _ := r.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(1), n)

	reloaded := NewMemory(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Exists(id))
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(nil)
	id, err := r.Mint(ctx, alice)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Transfer(ctx, bob, alice, id), ErrWrongOwner)
	require.NoError(t, r.Transfer(ctx, alice, bob, id))

	owner, _ := r.OwnerOf(ctx, id)
	assert.Equal(t, bob, owner)
	n, _ := r.BalanceOf(ctx, alice)
	assert.Zero(t, n)
}

func TestLoadRestoresState(t *testing.T) {
	ctx := context.Background()
	store := &memTokens{}
	r := NewMemory(store)
	_, err := r.Mint(ctx, alice)
	require.NoError(t, err)
	id, err := r.Mint(ctx, bob)
	require.NoError(t, err)
	require.NoError(t, r.Burn(ctx, id))

	reloaded := NewMemory(store)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Exists(1))
	assert.False(t, reloaded.Exists(2))

	next, err := reloaded.Mint(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)
}

func TestMintFailsWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	r := NewMemory(&memTokens{fail: true})
	_, err := r.Mint(ctx, alice)
	require.Error(t, err)
	assert.False(t, r.Exists(1))
}
