package scheduler

import (
	"time"

	"swarmfuzz/internal/corpus"
)

// DefaultFactors is the reference power schedule: favor small inputs,
// inputs with distinctive coverage, fast inputs, and deep lineage.
func DefaultFactors() []Factor {
	return []Factor{SizeFactor, CoverFactor, SpeedFactor, DepthFactor}
}

// SizeFactor boosts small inputs; mutating them touches a larger fraction
// of the bytes.
func SizeFactor(tc *corpus.Testcase) float64 {
	switch n := len(tc.Input); {
	case n <= 32:
		return 2.0
	case n <= 256:
		return 1.5
	case n <= 1024:
		return 1.0
	case n <= 4096:
		return 0.5
	default:
		return 0.25
	}
}

// CoverFactor boosts inputs that exercise more edges.
func CoverFactor(tc *corpus.Testcase) float64 {
	switch c := tc.CoverSize; {
	case c >= 256:
		return 3.0
	case c >= 64:
		return 2.0
	case c >= 16:
		return 1.5
	case c == 0:
		return 1.0 // not calibrated yet
	default:
		return 0.75
	}
}

// SpeedFactor boosts fast inputs; more executions per second means more
// chances at new coverage.
func SpeedFactor(tc *corpus.Testcase) float64 {
	switch t := tc.ExecTime; {
	case t == 0:
		return 1.0 // not calibrated yet
	case t < time.Millisecond:
		return 2.0
	case t < 10*time.Millisecond:
		return 1.0
	case t < 100*time.Millisecond:
		return 0.5
	default:
		return 0.2
	}
}

// DepthFactor boosts inputs far from the seeds; deep lineages tend to dig
// into states shallow mutation cannot reach.
func DepthFactor(tc *corpus.Testcase) float64 {
	switch d := tc.Depth; {
	case d >= 40:
		return 3.0
	case d >= 20:
		return 2.0
	case d >= 10:
		return 1.5
	default:
		return 1.0
	}
}
