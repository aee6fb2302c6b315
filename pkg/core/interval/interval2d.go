package interval

import "fmt"

// Interval2D is an ordered pair (Rows, Cols) describing a rectangular sub-matrix region.
//
// Splitting an Interval2D only ever divides its column interval -- the row interval is
// preserved -- and local linearization within the region is column-major: this pair of
// choices is a contract the layout mapper and multiply engine both depend on (spec section 3).
type Interval2D struct {
	Rows, Cols Interval
}

// NewInterval2D builds an Interval2D from a pair of Intervals.
func NewInterval2D(rows, cols Interval) Interval2D {
	return Interval2D{Rows: rows, Cols: cols}
}

// String implements fmt.Stringer.
func (r Interval2D) String() string {
	return fmt.Sprintf("rows %v; cols %v", r.Rows, r.Cols)
}

// Size returns the number of elements in the region.
func (r Interval2D) Size() int {
	return r.Rows.Length() * r.Cols.Length()
}

// Contains returns whether the global element (row, col) lies in the region.
func (r Interval2D) Contains(row, col int) bool {
	return r.Rows.Contains(row) && r.Cols.Contains(col)
}

// ContainsRegion returns whether other is entirely contained in r.
func (r Interval2D) ContainsRegion(other Interval2D) bool {
	return r.Rows.ContainsInterval(other.Rows) && r.Cols.ContainsInterval(other.Cols)
}

// Precedes mirrors the C++ original's `before`: r precedes other if r's rows end before
// other's rows begin (and other's columns span r's), or symmetrically for columns.
func (r Interval2D) Precedes(other Interval2D) bool {
	return (r.Rows.Precedes(other.Rows) && other.Cols.ContainsInterval(r.Cols)) ||
		(r.Cols.Precedes(other.Cols) && other.Rows.ContainsInterval(r.Rows))
}

// Equal returns whether r and other describe the same region.
func (r Interval2D) Equal(other Interval2D) bool {
	return r.Rows.Equal(other.Rows) && r.Cols.Equal(other.Cols)
}

// Submatrix returns the index-th of divisor column-wise sub-regions of r (rows unchanged).
func (r Interval2D) Submatrix(divisor, index int) Interval2D {
	return Interval2D{Rows: r.Rows, Cols: r.Cols.Subinterval(divisor, index)}
}

// SplitSize returns the element count of the index-th of divisor column-wise sub-regions,
// without constructing the sub-region.
func (r Interval2D) SplitSize(divisor, index int) int {
	return r.Rows.Length() * r.Cols.Subinterval(divisor, index).Length()
}

// LocalIndex returns the column-major local linear offset of global element (row, col) within
// r, or -1 if (row, col) does not lie in r.
func (r Interval2D) LocalIndex(row, col int) int {
	if !r.Contains(row, col) {
		return -1
	}
	row -= r.Rows.First()
	col -= r.Cols.First()
	return col*r.Rows.Length() + row
}

// GlobalIndex is the inverse of LocalIndex: given a column-major local linear offset within r,
// it returns the corresponding global (row, col) pair.
func (r Interval2D) GlobalIndex(localIndex int) (row, col int) {
	row = r.Rows.First() + localIndex%r.Rows.Length()
	col = r.Cols.First() + localIndex/r.Rows.Length()
	return row, col
}
