// Package collections provides small data structures used by the graph code.
package collections

import "math/bits"

// Bitset is a dense boolean set indexed by small non-negative integers.
// Graph traversals use it for visited marks, one bit per node.
type Bitset struct {
	words []uint64
	size  int
}

// NewBitset creates a bitset able to hold size bits without growing.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Set sets bit i, growing the set when needed.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	if i/64 >= len(b.words) {
		b.grow(i + 1)
	}
	b.words[i/64] |= 1 << (i % 64)
	if i >= b.size {
		b.size = i + 1
	}
}

// Clear clears bit i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i/64 >= len(b.words) {
		return
	}
	b.words[i/64] &^= 1 << (i % 64)
}

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i/64 >= len(b.words) {
		return false
	}
	return b.words[i/64]&(1<<(i%64)) != 0
}

// TestAndSet sets bit i and reports whether it was already set.
func (b *Bitset) TestAndSet(i int) bool {
	if b.Test(i) {
		return true
	}
	b.Set(i)
	return false
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Size returns the logical size of the set.
func (b *Bitset) Size() int {
	return b.size
}

// Iterate calls fn for each set bit in ascending order until fn returns false.
func (b *Bitset) Iterate(fn func(i int) bool) {
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			if !fn(wi*64 + tz) {
				return
			}
			w &= w - 1
		}
	}
}

func (b *Bitset) grow(newSize int) {
	n := (newSize + 63) / 64
	if n <= len(b.words) {
		return
	}
	if c := len(b.words) * 2; c > n {
		n = c
	}
	words := make([]uint64, n)
	copy(words, b.words)
	b.words = words
}
