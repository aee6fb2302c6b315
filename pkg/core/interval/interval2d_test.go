package interval_test

import (
	"testing"

	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/stretchr/testify/assert"
)

func TestInterval2DSubmatrixPreservesRows(t *testing.T) {
	region := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 9))
	sub := region.Submatrix(3, 1)
	assert.True(t, sub.Rows.Equal(region.Rows))
	assert.True(t, sub.Cols.Equal(interval.Must(3, 5)))
}

func TestInterval2DSplitSizeMatchesSubmatrixSize(t *testing.T) {
	region := interval.NewInterval2D(interval.Must(0, 4), interval.Must(0, 10))
	for i := 0; i < 4; i++ {
		assert.Equal(t, region.Submatrix(4, i).Size(), region.SplitSize(4, i))
	}
}

func TestInterval2DLocalGlobalRoundTrip(t *testing.T) {
	region := interval.NewInterval2D(interval.Must(5, 8), interval.Must(10, 15))
	for row := region.Rows.First(); row <= region.Rows.Last(); row++ {
		for col := region.Cols.First(); col <= region.Cols.Last(); col++ {
			local := region.LocalIndex(row, col)
			assert.True(t, local >= 0 && local < region.Size())
			gotRow, gotCol := region.GlobalIndex(local)
			assert.Equal(t, row, gotRow)
			assert.Equal(t, col, gotCol)
		}
	}
}

func TestInterval2DLocalIndexColumnMajor(t *testing.T) {
	// A 4-row, 3-col region: column-major means index 0..3 is column 0, 4..7 is column 1, etc.
	region := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 2))
	assert.Equal(t, 0, region.LocalIndex(0, 0))
	assert.Equal(t, 3, region.LocalIndex(3, 0))
	assert.Equal(t, 4, region.LocalIndex(0, 1))
	assert.Equal(t, 11, region.LocalIndex(3, 2))
}

func TestInterval2DContainsOutsideReturnsNegativeOne(t *testing.T) {
	region := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 3))
	assert.Equal(t, -1, region.LocalIndex(4, 0))
	assert.Equal(t, -1, region.LocalIndex(0, 4))
	assert.False(t, region.Contains(4, 0))
}

func TestInterval2DContainsRegion(t *testing.T) {
	outer := interval.NewInterval2D(interval.Must(0, 9), interval.Must(0, 9))
	inner := interval.NewInterval2D(interval.Must(2, 4), interval.Must(3, 5))
	assert.True(t, outer.ContainsRegion(inner))
	assert.False(t, inner.ContainsRegion(outer))
}

func TestInterval2DEqual(t *testing.T) {
	a := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 3))
	b := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 3))
	c := interval.NewInterval2D(interval.Must(0, 3), interval.Must(0, 4))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
