// Package mathx holds the small generic numeric helpers the services share.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to the closed range [lo, hi]. Swapped bounds are tolerated.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// Between reports whether v lies in the closed range [lo, hi]. Swapped bounds
// are tolerated.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo <= v && v <= hi
}
