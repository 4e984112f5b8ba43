// Package rng provides the engine's random stream. The generator is a
// splitmix64 whose full state fits in a single uint64, so a checkpoint can
// capture the exact stream position and a restored process continues the
// stream where the last one stopped. math/rand keeps its position private,
// which rules it out here.
package rng

import "encoding/json"

// Rand is a deterministic 64-bit random stream. Not safe for concurrent
// use; each fuzzer state owns exactly one.
type Rand struct {
	state uint64
}

func New(seed uint64) *Rand {
	return &Rand{state: seed}
}

func (r *Rand) Uint64() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a value in [0, n). n must be positive.
func (r *Rand) Intn(n int) int {
	return int(r.Uint64() % uint64(n))
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

func (r *Rand) Bool() bool {
	return r.Uint64()&1 == 1
}

// Byte returns a uniformly random byte.
func (r *Rand) Byte() byte {
	return byte(r.Uint64())
}

// State returns the current stream position for checkpointing.
func (r *Rand) State() uint64 { return r.state }

// Restore rewinds the stream to a previously checkpointed position.
func (r *Rand) Restore(state uint64) { r.state = state }

func (r *Rand) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.state)
}

func (r *Rand) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.state)
}
