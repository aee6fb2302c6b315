package layout_test

import (
	"testing"

	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/cosma-go/cosma/pkg/core/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeLayoutIdleRankOwnsNothing(t *testing.T) {
	rows := interval.Must(0, 9)
	cols := interval.Must(0, 9)
	regions := []interval.Interval2D{
		interval.NewInterval2D(rows, interval.Must(0, 4)),
		interval.NewInterval2D(rows, interval.Must(5, 9)),
		{}, // idle rank's region is never consulted
	}
	idle := []bool{false, false, true}

	native, err := layout.NewNativeLayout(rows, cols, regions, idle)
	require.NoError(t, err)

	assert.Empty(t, native.OwnedRegions(2))
	assert.True(t, native.IsIdle(2))
	_, _, _, ok := native.GlobalToLocal(0, 7) // owned by rank 1
	assert.True(t, ok)
}

func TestNativeLayoutRegionOutOfBoundsRejected(t *testing.T) {
	rows := interval.Must(0, 9)
	cols := interval.Must(0, 9)
	bad := []interval.Interval2D{interval.NewInterval2D(rows, interval.Must(0, 15))}
	_, err := layout.NewNativeLayout(rows, cols, bad, nil)
	require.Error(t, err)
}

func TestNativeLayoutGlobalToLocalMiss(t *testing.T) {
	rows := interval.Must(0, 3)
	cols := interval.Must(0, 3)
	regions := []interval.Interval2D{interval.NewInterval2D(rows, interval.Must(0, 1))}
	native, err := layout.NewNativeLayout(rows, cols, regions, nil)
	require.NoError(t, err)
	_, _, _, ok := native.GlobalToLocal(0, 3) // not owned by anyone
	assert.False(t, ok)
}
