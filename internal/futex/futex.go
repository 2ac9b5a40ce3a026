// Package futex provides address-based wait and wake on a 32-bit word.
//
// Wait may return spuriously; callers re-check the word in a loop.
package futex

import "math"

// All wakes every waiter when passed to Wake.
const All = math.MaxInt32
