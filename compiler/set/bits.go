package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int32 | ~int64
	}

	// Bits is a set of non-negative ids. The zero value is an empty set.
	// Copies share storage, use Copy to detach.
	Bits[K Key] struct {
		b []uint64
	}
)

func MakeBits[K Key](keys ...K) Bits[K] {
	var s Bits[K]

	s.SetAll(keys...)

	return s
}

func (s Bits[K]) Copy() Bits[K] {
	if s.b == nil {
		return Bits[K]{}
	}

	c := Bits[K]{b: make([]uint64, len(s.b))}
	copy(c.b, s.b)

	return c
}

// Set adds k and reports whether it was absent.
func (s *Bits[K]) Set(k K) bool {
	i, j := ij(k)

	s.grow(i)

	if s.b[i]&(1<<j) != 0 {
		return false
	}

	s.b[i] |= 1 << j

	return true
}

func (s *Bits[K]) SetAll(keys ...K) {
	for _, k := range keys {
		s.Set(k)
	}
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

// Merge adds all of x and reports whether s changed.
func (s *Bits[K]) Merge(x Bits[K]) (changed bool) {
	s.grow(len(x.b) - 1)

	for i, w := range x.b {
		if w&^s.b[i] != 0 {
			changed = true
		}

		s.b[i] |= w
	}

	return changed
}

func (s Bits[K]) Subtract(x Bits[K]) {
	n := min(len(s.b), len(x.b))

	for i, w := range x.b[:n] {
		s.b[i] &^= w
	}
}

func (s Bits[K]) Equal(x Bits[K]) bool {
	n := max(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if s.word(i) != x.word(i) {
			return false
		}
	}

	return true
}

func (s Bits[K]) Size() (r int) {
	for _, w := range s.b {
		r += bits.OnesCount64(w)
	}

	return r
}

// Range calls f in increasing order until it returns false.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, w := range s.b {
		for w != 0 {
			j := bits.TrailingZeros64(w)
			w &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) Slice() []K {
	r := make([]K, 0, s.Size())

	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s *Bits[K]) Reset() {
	clear(s.b)
	s.b = s.b[:0]
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s Bits[K]) word(i int) uint64 {
	if i >= len(s.b) {
		return 0
	}

	return s.b[i]
}

func ij[K Key](k K) (i, j int) {
	if k < 0 {
		panic(k)
	}

	p := int(k)

	return p / 64, p % 64
}

func (s *Bits[K]) grow(i int) {
	if i < len(s.b) {
		return
	}

	if i < cap(s.b) {
		s.b = s.b[:i+1]
		return
	}

	b := make([]uint64, i+1, max(2*cap(s.b), i+1))
	copy(b, s.b)

	s.b = b
}
