// Package must provides small helpers that turn a (value, error) pair into a bare value,
// panicking on error. No package in this module calls it at present.
package must

import "k8s.io/klog/v2"

// M logs and panics if err is not nil.
var M = func(err error) {
	if err != nil {
		klog.Errorf("must: unexpected error: %+v", err)
		panic(err)
	}
}

// M1 checks err with M and returns value unchanged.
func M1[T any](value T, err error) T {
	M(err)
	return value
}

// M2 checks err with M and returns both values unchanged.
func M2[T1, T2 any](value1 T1, value2 T2, err error) (T1, T2) {
	M(err)
	return value1, value2
}
