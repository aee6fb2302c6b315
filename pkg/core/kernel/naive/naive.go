// Package naive implements kernel.GEMM as a plain triple loop over Go slices: a reference
// used by every correctness test in this module, not an optimized kernel (spec section 1
// explicitly places the optimized local-GEMM primitive out of scope).
package naive

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/kernel"
)

// Kernel is a reference kernel.GEMM. Its zero value is ready to use.
type Kernel struct{}

// Multiply implements kernel.GEMM.
func (Kernel) Multiply(a, b, c kernel.View, alpha, beta complex128, opA, opB kernel.Op) error {
	if a.DType != b.DType || b.DType != c.DType {
		return errors.Errorf("naive: mismatched dtypes a=%v b=%v c=%v", a.DType, b.DType, c.DType)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	m, n := c.Rows, c.Cols
	k := opDim(a, opA, 1)
	if opDim(a, opA, 0) != m {
		return errors.Errorf("naive: op(a) has %d rows, want %d to match c", opDim(a, opA, 0), m)
	}
	if opDim(b, opB, 0) != k {
		return errors.Errorf("naive: op(b) has %d rows, want %d to match op(a)'s columns", opDim(b, opB, 0), k)
	}
	if opDim(b, opB, 1) != n {
		return errors.Errorf("naive: op(b) has %d columns, want %d to match c", opDim(b, opB, 1), n)
	}

	return dtype.Dispatch(c.DType,
		func() error { return multiplyFloat32(a, b, c, alpha, beta, opA, opB) },
		func() error { return multiplyFloat64(a, b, c, alpha, beta, opA, opB) },
		func() error { return multiplyComplex64(a, b, c, alpha, beta, opA, opB) },
		func() error { return multiplyComplex128(a, b, c, alpha, beta, opA, opB) },
	)
}

// opDim returns op(v)'s row count (which=0) or column count (which=1).
func opDim(v kernel.View, op kernel.Op, which int) int {
	transposed := op != kernel.NoTrans
	rows, cols := v.Rows, v.Cols
	if transposed {
		rows, cols = cols, rows
	}
	if which == 0 {
		return rows
	}
	return cols
}

// physicalIndex returns the physical storage index of logical op(v)[row, col].
func physicalIndex(v kernel.View, op kernel.Op, row, col int) int {
	if op == kernel.NoTrans {
		return v.Index(row, col)
	}
	// op(v)[row, col] = v[col, row] in physical storage.
	return v.Index(col, row)
}

func requireRealScalar(alpha, beta complex128) (float64, float64, error) {
	if imag(alpha) != 0 || imag(beta) != 0 {
		return 0, 0, errors.Errorf("naive: alpha=%v beta=%v have nonzero imaginary part, but dtype is real", alpha, beta)
	}
	return real(alpha), real(beta), nil
}

func multiplyFloat32(a, b, c kernel.View, alpha, beta complex128, opA, opB kernel.Op) error {
	alphaR, betaR, err := requireRealScalar(alpha, beta)
	if err != nil {
		return err
	}
	af, _ := kernel.As[float32](a)
	bf, _ := kernel.As[float32](b)
	cf, _ := kernel.As[float32](c)
	alphaT, betaT := float32(alphaR), float32(betaR)
	for col := 0; col < c.Cols; col++ {
		for row := 0; row < c.Rows; row++ {
			var sum float32
			for i := 0; i < opDim(a, opA, 1); i++ {
				sum += af[physicalIndex(a, opA, row, i)] * bf[physicalIndex(b, opB, i, col)]
			}
			idx := c.Index(row, col)
			cf[idx] = alphaT*sum + betaT*cf[idx]
		}
	}
	return nil
}

func multiplyFloat64(a, b, c kernel.View, alpha, beta complex128, opA, opB kernel.Op) error {
	alphaR, betaR, err := requireRealScalar(alpha, beta)
	if err != nil {
		return err
	}
	af, _ := kernel.As[float64](a)
	bf, _ := kernel.As[float64](b)
	cf, _ := kernel.As[float64](c)
	for col := 0; col < c.Cols; col++ {
		for row := 0; row < c.Rows; row++ {
			var sum float64
			for i := 0; i < opDim(a, opA, 1); i++ {
				sum += af[physicalIndex(a, opA, row, i)] * bf[physicalIndex(b, opB, i, col)]
			}
			idx := c.Index(row, col)
			cf[idx] = alphaR*sum + betaR*cf[idx]
		}
	}
	return nil
}

func complexElem[T ~complex64 | ~complex128](s []T, idx int, op kernel.Op) T {
	v := s[idx]
	if op == kernel.ConjTrans {
		return T(complex(real(complex128(v)), -imag(complex128(v))))
	}
	return v
}

func multiplyComplex64(a, b, c kernel.View, alpha, beta complex128, opA, opB kernel.Op) error {
	af, _ := kernel.As[complex64](a)
	bf, _ := kernel.As[complex64](b)
	cf, _ := kernel.As[complex64](c)
	alphaT, betaT := complex64(alpha), complex64(beta)
	for col := 0; col < c.Cols; col++ {
		for row := 0; row < c.Rows; row++ {
			var sum complex64
			for i := 0; i < opDim(a, opA, 1); i++ {
				av := complexElem(af, physicalIndex(a, opA, row, i), opA)
				bv := complexElem(bf, physicalIndex(b, opB, i, col), opB)
				sum += av * bv
			}
			idx := c.Index(row, col)
			cf[idx] = alphaT*sum + betaT*cf[idx]
		}
	}
	return nil
}

func multiplyComplex128(a, b, c kernel.View, alpha, beta complex128, opA, opB kernel.Op) error {
	af, _ := kernel.As[complex128](a)
	bf, _ := kernel.As[complex128](b)
	cf, _ := kernel.As[complex128](c)
	for col := 0; col < c.Cols; col++ {
		for row := 0; row < c.Rows; row++ {
			var sum complex128
			for i := 0; i < opDim(a, opA, 1); i++ {
				av := complexElem(af, physicalIndex(a, opA, row, i), opA)
				bv := complexElem(bf, physicalIndex(b, opB, i, col), opB)
				sum += av * bv
			}
			idx := c.Index(row, col)
			cf[idx] = alpha*sum + beta*cf[idx]
		}
	}
	return nil
}
