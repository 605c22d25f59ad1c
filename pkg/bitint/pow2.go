// SPDX-License-Identifier: MIT
//
// Package bitint provides power-of-two helpers used to validate and round
// FFT and buffer sizes. All operations are O(1) and allocation free.
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Subtracting 1 before taking the bit length keeps exact powers of two
// unchanged (8-1 = 0b0111, Len = 3, 1<<3 = 8).
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. A power of two has exactly one
// bit set, so clearing its lowest set bit (n & (n-1)) leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
