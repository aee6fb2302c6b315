package bufferpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosma-go/cosma/pkg/core/bufferpool"
	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/strategy"
)

func newTestArena(t *testing.T, dt dtype.DType, size int) *bufferpool.Arena {
	t.Helper()
	problem := strategy.Problem{M: size, N: 1, K: 1, P: 1}
	strat := strategy.Strategy{Steps: nil, EffectiveP: 1}
	pool, err := bufferpool.New(dt, strat, problem, 0)
	require.NoError(t, err)
	return pool.A
}

func TestViewRoundTripsWrites(t *testing.T) {
	arena := newTestArena(t, dtype.Float64, 8)
	view, err := bufferpool.View[float64](arena, 2, 4)
	require.NoError(t, err)
	require.Len(t, view, 4)
	view[0] = 1.5
	view[3] = -2.5

	full, err := bufferpool.View[float64](arena, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, 1.5, full[2])
	assert.Equal(t, -2.5, full[5])
}

func TestViewRejectsMismatchedType(t *testing.T) {
	arena := newTestArena(t, dtype.Float32, 4)
	_, err := bufferpool.View[float64](arena, 0, 4)
	assert.Error(t, err)
}

func TestViewRejectsOutOfBounds(t *testing.T) {
	arena := newTestArena(t, dtype.Float64, 4)
	_, err := bufferpool.View[float64](arena, 2, 4)
	assert.Error(t, err)
	_, err = bufferpool.View[float64](arena, -1, 2)
	assert.Error(t, err)
}

func TestZeroClearsBackingStorage(t *testing.T) {
	arena := newTestArena(t, dtype.Complex64, 4)
	view, err := bufferpool.View[complex64](arena, 0, 4)
	require.NoError(t, err)
	for i := range view {
		view[i] = complex(float32(i)+1, 0)
	}
	arena.Zero()
	for _, v := range view {
		assert.Equal(t, complex64(0), v)
	}
}
