// Package clock supplies the (timestamp, height) pair every ledger operation runs at.
package clock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Moment is a unix timestamp in seconds paired with a block height.
type Moment struct {
	Time  int64
	Block uint64
}

// Clock reports the current moment.
type Clock interface {
	Now(ctx context.Context) (Moment, error)
}

// System derives heights from wall-clock time on a fixed slot grid.
type System struct {
	Slot time.Duration
}

// NewSystem returns a wall clock with the given slot width (12s when zero).
// Slots shorter than a second are widened to one second.
func NewSystem(slot time.Duration) *System {
	if slot <= 0 {
		slot = 12 * time.Second
	}
	return &System{Slot: max(slot, time.Second)}
}

// Now implements Clock.
func (s *System) Now(ctx context.Context) (Moment, error) {
	now := time.Now().UTC().Unix()
	slot := max(int64(s.Slot/time.Second), 1)
	return Moment{Time: now, Block: uint64(now / slot)}, nil
}

// HeaderSource is the subset of ethclient used to read the chain head.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Chain reads the timestamp and number of the latest block.
type Chain struct {
	src HeaderSource
}

// NewChain wraps an ethclient (or any HeaderSource).
func NewChain(src HeaderSource) *Chain {
	return &Chain{src: src}
}

// Now implements Clock.
func (c *Chain) Now(ctx context.Context) (Moment, error) {
	if c.src == nil {
		return Moment{}, errors.New("chain clock: no header source")
	}
	header, err := c.src.HeaderByNumber(ctx, nil)
	if err != nil {
		return Moment{}, fmt.Errorf("read chain head: %w", err)
	}
	return Moment{Time: int64(header.Time), Block: header.Number.Uint64()}, nil
}

// Manual is a settable clock for tests and simulations. Unless a height is
// pinned, the block advances one per 12 seconds of simulated time.
type Manual struct {
	mu    sync.Mutex
	now   int64
	block uint64
}

// NewManual starts a manual clock at t.
func NewManual(t int64) *Manual {
	return &Manual{now: t, block: uint64(t / 12)}
}

// Now implements Clock.
func (m *Manual) Now(ctx context.Context) (Moment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Moment{Time: m.now, Block: m.block}, nil
}

// Set moves the clock to t.
func (m *Manual) Set(t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.block += uint64((t - m.now) / 12)
	}
	m.now = t
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d int64) {
	m.mu.Lock()
	now := m.now
	m.mu.Unlock()
	m.Set(now + d)
}

var (
	_ Clock = (*System)(nil)
	_ Clock = (*Chain)(nil)
	_ Clock = (*Manual)(nil)
)
