package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"zero", 0, 0},
		{"boundary", 3 * Week, 3 * Week},
		{"just after boundary", 3*Week + 1, 3 * Week},
		{"just before boundary", 4*Week - 1, 3 * Week},
		{"negative", -1, -Week},
		{"negative boundary", -Week, -Week},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantize(tt.in))
		})
	}
}

func TestNext(t *testing.T) {
	assert.Equal(t, Week, Next(0))
	assert.Equal(t, 2*Week, Next(Week))
	assert.Equal(t, 2*Week, Next(Week+5))
}

func TestMaxLockIsWholeDays(t *testing.T) {
	assert.Equal(t, int64(126144000), MaxLock)
}
