package clock

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeads struct {
	header *types.Header
	err    error
}

func (f fakeHeads) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return f.header, f.err
}

func TestChainNow(t *testing.T) {
	c := NewChain(fakeHeads{header: &types.Header{Number: big.NewInt(19_000_000), Time: 1_700_000_000}})
	m, err := c.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), m.Time)
	assert.Equal(t, uint64(19_000_000), m.Block)

	c = NewChain(fakeHeads{err: errors.New("boom")})
	_, err = c.Now(context.Background())
	assert.Error(t, err)
}

func TestManualAdvance(t *testing.T) {
	m := NewManual(1200)
	m.Advance(120)
	now, err := m.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1320), now.Time)
	assert.Equal(t, uint64(110), now.Block)
}

func TestSystemHeightTracksSlots(t *testing.T) {
	now, err := NewSystem(0).Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(now.Time/12), now.Block)
}

func TestSystemSubSecondSlot(t *testing.T) {
	s := NewSystem(250 * time.Millisecond)
	assert.Equal(t, time.Second, s.Slot)
	now, err := s.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(now.Time), now.Block)

	raw := &System{Slot: time.Millisecond}
	now, err = raw.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(now.Time), now.Block)
}
