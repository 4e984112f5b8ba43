package mutator

import "swarmfuzz/internal/rng"

// Pool selects mutators by weight and stacks a random number of them per
// call, the usual havoc behavior.
type Pool struct {
	mutators []Mutator
	weights  []float64
	total    float64
	maxStack int
}

type Weighted struct {
	Mutator Mutator
	Weight  float64
}

func NewPool(maxStack int, entries ...Weighted) *Pool {
	if maxStack <= 0 {
		maxStack = 5
	}
	p := &Pool{maxStack: maxStack}
	for _, e := range entries {
		if e.Weight <= 0 {
			continue
		}
		p.mutators = append(p.mutators, e.Mutator)
		p.weights = append(p.weights, e.Weight)
		p.total += e.Weight
	}
	return p
}

// Havoc returns the default pool: uniform small edits with a lighter dose
// of splicing.
func Havoc() *Pool {
	return NewPool(5,
		Weighted{BitFlip(), 1},
		Weighted{ByteSet(), 1},
		Weighted{ByteInsert(), 1},
		Weighted{ByteRemove(), 1},
		Weighted{RangeRemove(), 0.5},
		Weighted{RangeDuplicate(), 0.5},
		Weighted{Splice(), 0.25},
	)
}

func (p *Pool) Name() string { return "pool" }

func (p *Pool) Mutate(input []byte, r *rng.Rand, donor func() []byte) []byte {
	res := clone(input)
	for i := r.Intn(p.maxStack) + 1; i > 0; i-- {
		res = p.pick(r).Mutate(res, r, donor)
	}
	return res
}

func (p *Pool) pick(r *rng.Rand) Mutator {
	target := r.Float64() * p.total
	acc := 0.0
	for i, w := range p.weights {
		acc += w
		if target < acc {
			return p.mutators[i]
		}
	}
	return p.mutators[len(p.mutators)-1]
}
