// Package kernel isolates the local (single-process) GEMM primitive COSMA's recursive engine
// calls at every leaf of the schedule (spec section 1): C <- alpha*op(A)*op(B) + beta*C on
// column-major views whose column stride may exceed their row count. A real deployment
// plugs in BLAS or a GPU kernel here; this module only defines the boundary and, in
// pkg/core/kernel/naive, a reference pure-Go implementation used for testing.
package kernel

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/dtype"
)

// Op selects whether a GEMM operand is used as-is, transposed, or conjugate-transposed.
type Op int8

const (
	NoTrans Op = iota
	Trans
	ConjTrans
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case Trans:
		return "T"
	case ConjTrans:
		return "C"
	default:
		return "N"
	}
}

// View is a column-major Rows x Cols sub-block of a larger backing array, typed by DType.
// Stride is the BLAS-style leading dimension: the physical element distance between the start
// of one column and the next, which may exceed Rows when the View is a restriction of a
// larger arena (spec section 4.5's Sequential steps narrow a matrix's working interval without
// copying, by producing a View with the same Stride and backing Data but smaller Rows/Cols and
// a shifted Offset). Data holds the concrete Go slice ([]float32, []float64, []complex64 or
// []complex128) matching DType; use As to recover it.
type View struct {
	DType      dtype.DType
	Rows, Cols int
	Stride     int
	Offset     int
	Data       any
}

// NewView builds a View over the whole of an already-sliced typed backing array, with no
// leading-dimension padding (Stride == rows).
func NewView[T dtype.Supported](rows, cols int, data []T) View {
	return View{DType: dtype.Of[T](), Rows: rows, Cols: cols, Stride: rows, Data: data}
}

// Sub returns the rows x cols sub-view of v starting at local (rowStart, colStart), sharing v's
// backing Data and Stride.
func (v View) Sub(rowStart, colStart, rows, cols int) View {
	return View{
		DType:  v.DType,
		Rows:   rows,
		Cols:   cols,
		Stride: v.Stride,
		Offset: v.Offset + colStart*v.Stride + rowStart,
		Data:   v.Data,
	}
}

// Index returns the physical offset into v's Data of logical element (row, col).
func (v View) Index(row, col int) int {
	return v.Offset + col*v.Stride + row
}

// As recovers the concrete typed slice from a View, or returns false if T does not match
// v.DType.
func As[T dtype.Supported](v View) ([]T, bool) {
	d, ok := v.Data.([]T)
	return d, ok
}

// Validate checks that v's Data slice matches its declared DType and is large enough to hold
// every (row, col) the view's dimensions claim to cover.
func (v View) Validate() error {
	if !dtype.Valid(v.DType) {
		return errors.Errorf("kernel: view has invalid dtype %v", v.DType)
	}
	if v.Rows < 0 || v.Cols < 0 {
		return errors.Errorf("kernel: view has negative dimensions (%d, %d)", v.Rows, v.Cols)
	}
	if v.Stride < v.Rows {
		return errors.Errorf("kernel: view stride %d is smaller than its row count %d", v.Stride, v.Rows)
	}
	need := 0
	if v.Cols > 0 {
		need = v.Offset + (v.Cols-1)*v.Stride + v.Rows
	}
	got := dtype.Dispatch(v.DType,
		func() int { s, _ := As[float32](v); return len(s) },
		func() int { s, _ := As[float64](v); return len(s) },
		func() int { s, _ := As[complex64](v); return len(s) },
		func() int { s, _ := As[complex128](v); return len(s) },
	)
	if got < need {
		return errors.Errorf("kernel: view needs %d backing elements, but data has %d", need, got)
	}
	return nil
}

// GEMM is the local matrix-multiplication primitive the multiply engine invokes at every leaf
// of the schedule: c <- alpha*op(a)*op(b) + beta*c. a, b and c must share one dtype. op(a) is
// m x k and op(b) is k x n, where m, k, n are c.Rows, the shared inner dimension, and c.Cols
// respectively; a and b are stored transposed in memory when opA/opB request Trans or
// ConjTrans, per spec section 4.5 ("pass that flag through to the local kernel rather than
// physically rearranging elements").
type GEMM interface {
	Multiply(a, b, c View, alpha, beta complex128, opA, opB Op) error
}
