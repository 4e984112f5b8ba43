// Package mutator derives new inputs from corpus entries. Mutators are
// stateless with respect to the corpus; every call copies its input and
// returns a fresh slice.
package mutator

import "swarmfuzz/internal/rng"

// MaxInputSize caps growth from insertions and splices.
const MaxInputSize = 1 << 12

// Mutator produces a mutated copy of input. The donor callback provides a
// second corpus input for splicing mutators and may return nil.
type Mutator interface {
	Name() string
	Mutate(input []byte, r *rng.Rand, donor func() []byte) []byte
}

type mutatorFunc struct {
	name string
	fn   func(input []byte, r *rng.Rand, donor func() []byte) []byte
}

func (m mutatorFunc) Name() string { return m.name }
func (m mutatorFunc) Mutate(input []byte, r *rng.Rand, donor func() []byte) []byte {
	return m.fn(input, r, donor)
}

// BitFlip flips one random bit.
func BitFlip() Mutator {
	return mutatorFunc{"bitflip", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		res := clone(input)
		if len(res) == 0 {
			return res
		}
		pos := r.Intn(len(res))
		res[pos] ^= 1 << uint(r.Intn(8))
		return res
	}}
}

// ByteSet overwrites one random byte with a random value.
func ByteSet() Mutator {
	return mutatorFunc{"byteset", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		res := clone(input)
		if len(res) == 0 {
			return res
		}
		res[r.Intn(len(res))] = r.Byte()
		return res
	}}
}

// ByteInsert inserts one random byte at a random position.
func ByteInsert() Mutator {
	return mutatorFunc{"byteinsert", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		if len(input) >= MaxInputSize {
			return clone(input)
		}
		res := make([]byte, 0, len(input)+1)
		pos := 0
		if len(input) > 0 {
			pos = r.Intn(len(input) + 1)
		}
		res = append(res, input[:pos]...)
		res = append(res, r.Byte())
		res = append(res, input[pos:]...)
		return res
	}}
}

// ByteRemove deletes one random byte.
func ByteRemove() Mutator {
	return mutatorFunc{"byteremove", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		if len(input) == 0 {
			return clone(input)
		}
		res := clone(input)
		pos := r.Intn(len(res))
		copy(res[pos:], res[pos+1:])
		return res[:len(res)-1]
	}}
}

// RangeRemove cuts a random range, shrinking oversized inputs.
func RangeRemove() Mutator {
	return mutatorFunc{"rangeremove", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		if len(input) < 2 {
			return clone(input)
		}
		res := clone(input)
		pos0 := r.Intn(len(res) - 1)
		pos1 := pos0 + 1 + r.Intn(len(res)-pos0-1)
		copy(res[pos0:], res[pos1:])
		return res[:len(res)-(pos1-pos0)]
	}}
}

// RangeDuplicate copies a random range to a random position.
func RangeDuplicate() Mutator {
	return mutatorFunc{"rangedup", func(input []byte, r *rng.Rand, _ func() []byte) []byte {
		if len(input) == 0 || len(input) >= MaxInputSize {
			return clone(input)
		}
		src := r.Intn(len(input))
		n := 1 + r.Intn(len(input)-src)
		dst := r.Intn(len(input) + 1)
		res := make([]byte, 0, len(input)+n)
		res = append(res, input[:dst]...)
		res = append(res, input[src:src+n]...)
		res = append(res, input[dst:]...)
		if len(res) > MaxInputSize {
			res = res[:MaxInputSize]
		}
		return res
	}}
}

// Splice interleaves the input with a donor from the corpus.
func Splice() Mutator {
	return mutatorFunc{"splice", func(input []byte, r *rng.Rand, donor func() []byte) []byte {
		var other []byte
		if donor != nil {
			other = donor()
		}
		if len(other) == 0 {
			return clone(input)
		}
		a, b := input, other
		res := make([]byte, 0, min(len(a)+len(b), MaxInputSize))
		for i := r.Intn(3) + 1; i >= 0; i-- {
			if len(a) > 0 {
				pos := r.Intn(len(a)) + 1
				res = append(res, a[:pos]...)
				a = a[pos:]
			}
			if len(b) > 0 {
				pos := r.Intn(len(b)) + 1
				res = append(res, b[:pos]...)
				b = b[pos:]
			}
		}
		res = append(res, a...)
		if len(res) > MaxInputSize {
			res = res[:MaxInputSize]
		}
		return res
	}}
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
