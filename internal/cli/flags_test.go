package cli

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
)

func TestLockDuration(t *testing.T) {
	d, err := lockDuration(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*7*24*time.Hour, d)

	d, err = lockDuration(0, 36*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	_, err = lockDuration(0, 0)
	assert.Error(t, err)
}

func TestLockDurationRejectsWrappingWeeks(t *testing.T) {
	for _, weeks := range []int{
		int(epoch.MaxLock/epoch.Week) + 2,
		int(math.MaxInt64/int64(time.Second)/epoch.Week) + 1,
		int(math.MaxInt64 / epoch.Week),
		math.MaxInt,
	} {
		_, err := lockDuration(weeks, 0)
		assert.ErrorIs(t, err, escrow.ErrLockTooLong, "weeks=%d", weeks)
	}
}
