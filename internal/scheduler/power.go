package scheduler

import (
	"sort"

	"swarmfuzz/internal/corpus"
	"swarmfuzz/internal/rng"
)

const (
	minScore = 1.0
	maxScore = 1000.0
	defScore = 10.0
)

// Power is a weighted random scheduler. Scores come from the configured
// factors and are clamped to [minScore, maxScore]; the lower clamp is the
// fairness floor that keeps every entry selectable. Selection samples the
// accumulated score sums with a binary search, so Next is O(log n).
// Score maintenance is incremental: an add appends one running sum, and
// evaluation outcomes only flag the table stale for a batch rescore on the
// next pick instead of rescanning the corpus every time.
type Power struct {
	store   Store
	rand    *rng.Rand
	factors []Factor

	ids     []corpus.ID
	scores  []float64
	accSums []float64
	total   float64
	stale   bool
}

// Store is the read access Power needs into the corpus it schedules.
type Store interface {
	Get(id corpus.ID) (*corpus.Testcase, error)
}

// Factor maps a testcase to a score multiplier.
type Factor func(tc *corpus.Testcase) float64

func NewPower(store Store, r *rng.Rand, factors ...Factor) *Power {
	if len(factors) == 0 {
		factors = DefaultFactors()
	}
	return &Power{store: store, rand: r, factors: factors}
}

func (p *Power) Next() (corpus.ID, error) {
	if len(p.ids) == 0 {
		return 0, ErrEmpty
	}
	if p.stale {
		p.rescore()
	}
	target := p.rand.Float64() * p.total
	idx := sort.SearchFloat64s(p.accSums, target)
	if idx >= len(p.ids) {
		idx = len(p.ids) - 1
	}
	return p.ids[idx], nil
}

func (p *Power) OnAdd(id corpus.ID, tc *corpus.Testcase) {
	score := p.score(tc)
	tc.Score = score
	p.ids = append(p.ids, id)
	p.scores = append(p.scores, score)
	p.total += score
	p.accSums = append(p.accSums, p.total)
}

func (p *Power) OnEvaluation(id corpus.ID, out Outcome) {
	// A discovery means the energy landscape moved; rescore lazily.
	if out.Interesting {
		p.stale = true
	}
}

func (p *Power) Remove(id corpus.ID) {
	for i, o := range p.ids {
		if o == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			p.scores = append(p.scores[:i], p.scores[i+1:]...)
			p.stale = true
			return
		}
	}
}

// Weight exposes the current score of id; the mutational stage derives its
// energy from it.
func (p *Power) Weight(id corpus.ID) float64 {
	for i, o := range p.ids {
		if o == id {
			return p.scores[i]
		}
	}
	return defScore
}

func (p *Power) score(tc *corpus.Testcase) float64 {
	score := defScore
	for _, f := range p.factors {
		score *= f(tc)
	}
	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

func (p *Power) rescore() {
	p.total = 0
	p.accSums = p.accSums[:0]
	for i, id := range p.ids {
		tc, err := p.store.Get(id)
		if err == nil {
			p.scores[i] = p.score(tc)
			tc.Score = p.scores[i]
		}
		p.total += p.scores[i]
		p.accSums = append(p.accSums, p.total)
	}
	p.stale = false
}
