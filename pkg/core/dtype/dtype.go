// Package dtype defines the closed set of element types a COSMA MatrixDescriptor may carry:
// real or complex, single or double precision (spec section 3).
//
// It is a deliberately narrow fork of the teacher's much larger dtypes.DType enum (which also
// spans booleans, integers of several widths, and half/quarter-precision floats for ML use
// cases COSMA has no need for).
package dtype

import "github.com/pkg/errors"

// DType enumerates the element types a matrix may hold.
type DType int8

const (
	// Invalid is the zero value, used to detect an uninitialized MatrixDescriptor.
	Invalid DType = iota
	// Float32 is single-precision real.
	Float32
	// Float64 is double-precision real.
	Float64
	// Complex64 is single-precision complex (two float32 lanes).
	Complex64
	// Complex128 is double-precision complex (two float64 lanes).
	Complex128
)

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Complex64:
		return "Complex64"
	case Complex128:
		return "Complex128"
	default:
		return "Invalid"
	}
}

// ElementSize returns the size in bytes of one element of the given DType.
func ElementSize(d DType) int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	case Complex64:
		return 8
	case Complex128:
		return 16
	default:
		panic(errors.Errorf("dtype: ElementSize called on invalid DType %v", d))
	}
}

// IsComplex returns whether d is one of the complex types.
func IsComplex(d DType) bool {
	return d == Complex64 || d == Complex128
}

// IsDouble returns whether d is double precision (Float64 or Complex128).
func IsDouble(d DType) bool {
	return d == Float64 || d == Complex128
}

// Valid reports whether d is one of the four supported dtypes.
func Valid(d DType) bool {
	switch d {
	case Float32, Float64, Complex64, Complex128:
		return true
	default:
		return false
	}
}

// Parse converts a case-insensitive name ("float32", "f32", "complex128", "c128", ...) to a
// DType, for use by the strategy/layout DSLs and by MatrixDescriptor construction from
// configuration. Mirrors the teacher's dtypes.MapOfNames lower-casing convenience.
func Parse(name string) (DType, error) {
	d, ok := namesToDType[lower(name)]
	if !ok {
		return Invalid, errors.Errorf("dtype: unknown type name %q", name)
	}
	return d, nil
}

var namesToDType = map[string]DType{
	"float32":    Float32,
	"f32":        Float32,
	"float64":    Float64,
	"f64":        Float64,
	"complex64":  Complex64,
	"c64":        Complex64,
	"complex128": Complex128,
	"c128":       Complex128,
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
