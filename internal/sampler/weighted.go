// Package sampler provides the small, seedable sampling and pacing
// primitives the workload plan builder and dispatcher are built on: a
// weighted discrete sampler (C1), a Poisson inter-arrival sampler (C2), and
// a sleep-overhead calibrator (C3). Each is isolated behind a narrow type
// so tests can substitute deterministic seeds or a fixed overhead.
package sampler

import (
	"fmt"
	"math/rand/v2"
)

// Weighted draws values from a fixed set proportional to integer weights,
// e.g. DSCP classes or sending-rate classes.
type Weighted struct {
	values []uint32
	cum    []uint32 // running sum of weights, same length as values
	total  uint32
}

// NewWeighted builds a Weighted sampler over parallel values/weights
// slices. It fails with a descriptive error if the weights sum to zero,
// matching the ConfigError contract for a malformed weighted class list.
func NewWeighted(values []uint32, weights []uint32) (*Weighted, error) {
	if len(values) != len(weights) || len(values) == 0 {
		return nil, fmt.Errorf("weighted sampler: values and weights must be non-empty and equal length")
	}
	cum := make([]uint32, len(weights))
	var total uint32
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("weighted sampler: total weight must be positive")
	}
	return &Weighted{values: append([]uint32(nil), values...), cum: cum, total: total}, nil
}

// Sample draws r uniform in [0, total) and returns the value at the first
// index whose cumulative weight exceeds r.
func (w *Weighted) Sample(src *rand.Rand) uint32 {
	r := uint32(src.IntN(int(w.total)))
	for i, c := range w.cum {
		if r < c {
			return w.values[i]
		}
	}
	// Unreachable given total == cum[len(cum)-1], kept as a defensive
	// fallback so Sample always returns a valid class.
	return w.values[len(w.values)-1]
}
