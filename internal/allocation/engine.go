// Package allocation computes per-link traffic shares.
package allocation

import (
	"github.com/plexsphere/bondd/internal/link"
)

// Adaptive scoring weights.
const (
	adaptiveSpeedWeight   = 0.7
	adaptiveLatencyWeight = 0.3
)

// Compute returns a copy of links with AllocationPercentage set according to
// strategy. The input is never modified. An empty input yields an empty result.
// Unknown strategies are treated as adaptive.
func Compute(links []link.Link, strategy link.Strategy) []link.Link {
	out := link.CloneAll(links)
	if len(out) == 0 {
		return out
	}

	var weights []float64
	switch strategy {
	case link.StrategyRoundRobin:
		// Equal shares.
	case link.StrategySpeedWeighted:
		weights = weigh(out, func(l link.Link) float64 { return nonNegative(l.SpeedMbps) })
	case link.StrategyLatencyWeighted:
		weights = weigh(out, func(l link.Link) float64 { return 1.0 / float64(nonNegativeInt(l.LatencyMs)+1) })
	default:
		weights = weigh(out, AdaptiveScore)
	}

	assign(out, weights)
	return out
}

// AdaptiveScore combines speed and latency into one score; higher is better.
func AdaptiveScore(l link.Link) float64 {
	latencyFactor := 100.0 / float64(nonNegativeInt(l.LatencyMs)+1)
	return nonNegative(l.SpeedMbps)*adaptiveSpeedWeight + latencyFactor*adaptiveLatencyWeight
}

// weigh returns per-link weights, or nil when they sum to zero so the caller
// degrades to round robin.
func weigh(links []link.Link, fn func(link.Link) float64) []float64 {
	weights := make([]float64, len(links))
	var total float64
	for i, l := range links {
		weights[i] = fn(l)
		total += weights[i]
	}
	if total <= 0 {
		return nil
	}
	return weights
}

// assign distributes 100% proportionally to weights, or equally when weights is nil.
// The last link absorbs floating-point residue so the sum is exactly 100.
func assign(links []link.Link, weights []float64) {
	n := len(links)
	if weights == nil {
		share := 100.0 / float64(n)
		for i := range links {
			links[i].AllocationPercentage = share
		}
		return
	}

	var total float64
	for _, w := range weights {
		total += w
	}

	var assigned float64
	for i := range links {
		if i == n-1 {
			links[i].AllocationPercentage = max(0, 100.0-assigned)
			break
		}
		pct := weights[i] / total * 100.0
		links[i].AllocationPercentage = pct
		assigned += pct
	}
}

// Sum returns the total allocation over links.
func Sum(links []link.Link) float64 {
	var total float64
	for _, l := range links {
		total += l.AllocationPercentage
	}
	return total
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegativeInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
