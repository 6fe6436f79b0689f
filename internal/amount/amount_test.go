package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	v, ok := new(big.Int).SetString("4794520547945116800", 10)
	require.True(t, ok)
	assert.Equal(t, "4.7945205479451168", Format(v, 18))
	assert.Equal(t, "4.7945", FormatFixed(v, 18, 4))
	assert.Equal(t, "0", Format(nil, 18))
	assert.Equal(t, "1000", Format(big.NewInt(1000), 0))
}

func TestParse(t *testing.T) {
	v, err := Parse("12.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "12500000000000000000", v.String())

	v, err = Parse("wei:42", 18)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	_, err = Parse("0.0000001", 6)
	assert.Error(t, err)
	_, err = Parse("abc", 18)
	assert.Error(t, err)
	_, err = Parse("wei:1.5", 18)
	assert.Error(t, err)
}
