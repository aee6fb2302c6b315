package dtype

import "math"

// Encode writes s's elements into a freshly allocated little-endian byte buffer, for handing
// a typed buffer-pool view to a comm.Communicator, which only knows about bytes.
func Encode[T Supported](s []T) []byte {
	d := Of[T]()
	buf := make([]byte, len(s)*ElementSize(d))
	switch d {
	case Float32:
		for i, v := range any(s).([]float32) {
			putFloat32(buf[i*4:i*4+4], v)
		}
	case Float64:
		for i, v := range any(s).([]float64) {
			putFloat64(buf[i*8:i*8+8], v)
		}
	case Complex64:
		for i, v := range any(s).([]complex64) {
			off := i * 8
			putFloat32(buf[off:off+4], real(v))
			putFloat32(buf[off+4:off+8], imag(v))
		}
	case Complex128:
		for i, v := range any(s).([]complex128) {
			off := i * 16
			putFloat64(buf[off:off+8], real(v))
			putFloat64(buf[off+8:off+16], imag(v))
		}
	}
	return buf
}

// Decode is the inverse of Encode: it overwrites dst's elements by reading them from buf,
// which must hold len(dst) elements of dst's dtype.
func Decode[T Supported](buf []byte, dst []T) {
	d := Of[T]()
	switch d {
	case Float32:
		out := any(dst).([]float32)
		for i := range out {
			off := i * 4
			bits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
			out[i] = math.Float32frombits(bits)
		}
	case Float64:
		out := any(dst).([]float64)
		for i := range out {
			out[i] = readFloat64(buf[i*8 : i*8+8])
		}
	case Complex64:
		out := any(dst).([]complex64)
		for i := range out {
			off := i * 8
			reBits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
			imBits := uint32(buf[off+4]) | uint32(buf[off+5])<<8 | uint32(buf[off+6])<<16 | uint32(buf[off+7])<<24
			out[i] = complex(math.Float32frombits(reBits), math.Float32frombits(imBits))
		}
	case Complex128:
		out := any(dst).([]complex128)
		for i := range out {
			off := i * 16
			out[i] = complex(readFloat64(buf[off:off+8]), readFloat64(buf[off+8:off+16]))
		}
	}
}

// AddInPlace adds src into dst element-wise, interpreting both as a contiguous run of
// elements of type d, and writes the sums back into dst. Both slices must have equal
// length, a multiple of ElementSize(d). It is the primitive the in-process transport's
// Reduce builds on (spec section 4.5's parallel-K C-accumulation).
func AddInPlace(d DType, dst, src []byte) {
	Dispatch(d,
		func() any { addFloat32(dst, src); return nil },
		func() any { addFloat64(dst, src); return nil },
		func() any { addComplex64(dst, src); return nil },
		func() any { addComplex128(dst, src); return nil },
	)
}

func addFloat32(dst, src []byte) {
	n := len(dst) / 4
	for i := 0; i < n; i++ {
		off := i * 4
		a := math.Float32frombits(uint32(dst[off]) | uint32(dst[off+1])<<8 | uint32(dst[off+2])<<16 | uint32(dst[off+3])<<24)
		b := math.Float32frombits(uint32(src[off]) | uint32(src[off+1])<<8 | uint32(src[off+2])<<16 | uint32(src[off+3])<<24)
		putFloat32(dst[off:off+4], a+b)
	}
}

func addFloat64(dst, src []byte) {
	n := len(dst) / 8
	for i := 0; i < n; i++ {
		off := i * 8
		a := readFloat64(dst[off : off+8])
		b := readFloat64(src[off : off+8])
		putFloat64(dst[off:off+8], a+b)
	}
}

func addComplex64(dst, src []byte) {
	n := len(dst) / 8
	for i := 0; i < n; i++ {
		off := i * 8
		aRe := math.Float32frombits(uint32(dst[off]) | uint32(dst[off+1])<<8 | uint32(dst[off+2])<<16 | uint32(dst[off+3])<<24)
		aIm := math.Float32frombits(uint32(dst[off+4]) | uint32(dst[off+5])<<8 | uint32(dst[off+6])<<16 | uint32(dst[off+7])<<24)
		bRe := math.Float32frombits(uint32(src[off]) | uint32(src[off+1])<<8 | uint32(src[off+2])<<16 | uint32(src[off+3])<<24)
		bIm := math.Float32frombits(uint32(src[off+4]) | uint32(src[off+5])<<8 | uint32(src[off+6])<<16 | uint32(src[off+7])<<24)
		putFloat32(dst[off:off+4], aRe+bRe)
		putFloat32(dst[off+4:off+8], aIm+bIm)
	}
}

func addComplex128(dst, src []byte) {
	n := len(dst) / 16
	for i := 0; i < n; i++ {
		off := i * 16
		a := complex(readFloat64(dst[off:off+8]), readFloat64(dst[off+8:off+16]))
		b := complex(readFloat64(src[off:off+8]), readFloat64(src[off+8:off+16]))
		sum := a + b
		putFloat64(dst[off:off+8], real(sum))
		putFloat64(dst[off+8:off+16], imag(sum))
	}
}

func putFloat32(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func readFloat64(b []byte) float64 {
	bits := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	return math.Float64frombits(bits)
}

func putFloat64(b []byte, v float64) {
	bits := math.Float64bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
	b[4] = byte(bits >> 32)
	b[5] = byte(bits >> 40)
	b[6] = byte(bits >> 48)
	b[7] = byte(bits >> 56)
}
