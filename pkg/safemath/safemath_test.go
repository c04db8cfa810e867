package safemath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(40, 2)
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestCheckedSub(t *testing.T) {
	diff, err := CheckedSub(42, 2)
	assert.NoError(t, err)
	assert.Equal(t, uint64(40), diff)

	_, err = CheckedSub(1, 2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMin(t *testing.T) {
	assert.Equal(t, uint64(1), Min(1, 2))
	assert.Equal(t, uint64(1), Min(2, 1))
}
