package dtype

// Supported lists the Go numeric types corresponding to COSMA's four DTypes.
// Mirrors the teacher's dtypes.Supported constraint, trimmed to this module's closed set.
type Supported interface {
	float32 | float64 | complex64 | complex128
}

// Of returns the DType corresponding to the Go type parameter T.
func Of[T Supported]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	default:
		return Invalid // unreachable given the Supported constraint.
	}
}

// Dispatch calls the function matching d and returns its result, avoiding a type switch (and
// the corresponding dynamic dispatch) at every element of an inner loop -- the caller pays the
// dispatch cost once per buffer, not once per element (spec section 9, "Polymorphism over
// element type").
func Dispatch[R any](d DType, onFloat32, onFloat64, onComplex64, onComplex128 func() R) R {
	switch d {
	case Float32:
		return onFloat32()
	case Float64:
		return onFloat64()
	case Complex64:
		return onComplex64()
	case Complex128:
		return onComplex128()
	default:
		panic("dtype: Dispatch called on invalid DType")
	}
}
