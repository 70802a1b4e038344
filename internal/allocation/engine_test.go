package allocation

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/plexsphere/bondd/internal/link"
)

const sumTolerance = 0.01

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func linksWith(speeds []float64, latencies []int) []link.Link {
	out := make([]link.Link, len(speeds))
	for i := range speeds {
		out[i] = link.Link{
			ID:        fmt.Sprintf("link-%d", i),
			SpeedMbps: speeds[i],
			LatencyMs: latencies[i],
			Connected: true,
		}
	}
	return out
}

func TestCompute_RoundRobinFourLinks(t *testing.T) {
	links := linksWith([]float64{5, 10, 50, 100}, []int{1, 2, 3, 4})
	got := Compute(links, link.StrategyRoundRobin)
	for _, l := range got {
		if !approx(l.AllocationPercentage, 25, sumTolerance) {
			t.Errorf("%s allocation = %v, want 25", l.ID, l.AllocationPercentage)
		}
	}
}

func TestCompute_SpeedWeighted(t *testing.T) {
	links := linksWith([]float64{10, 30}, []int{0, 0})
	got := Compute(links, link.StrategySpeedWeighted)
	if !approx(got[0].AllocationPercentage, 25, 0.1) || !approx(got[1].AllocationPercentage, 75, 0.1) {
		t.Errorf("allocations = [%v, %v], want [25, 75]", got[0].AllocationPercentage, got[1].AllocationPercentage)
	}
}

func TestCompute_SpeedWeightedZeroSpeedDegradesToRoundRobin(t *testing.T) {
	links := linksWith([]float64{0, 0, 0}, []int{10, 20, 30})
	got := Compute(links, link.StrategySpeedWeighted)
	for _, l := range got {
		if !approx(l.AllocationPercentage, 100.0/3, sumTolerance) {
			t.Errorf("%s allocation = %v, want 33.33", l.ID, l.AllocationPercentage)
		}
	}
}

func TestCompute_LatencyWeighted(t *testing.T) {
	links := linksWith([]float64{1, 1}, []int{10, 40})
	got := Compute(links, link.StrategyLatencyWeighted)
	// Weights 1/11 and 1/41.
	if !approx(got[0].AllocationPercentage, 78.8, 0.5) || !approx(got[1].AllocationPercentage, 21.2, 0.5) {
		t.Errorf("allocations = [%v, %v], want ~[78.8, 21.2]", got[0].AllocationPercentage, got[1].AllocationPercentage)
	}
}

func TestCompute_LatencyWeightedZeroLatency(t *testing.T) {
	links := linksWith([]float64{1, 1}, []int{0, 0})
	got := Compute(links, link.StrategyLatencyWeighted)
	if !approx(got[0].AllocationPercentage, 50, sumTolerance) {
		t.Errorf("allocation = %v, want 50", got[0].AllocationPercentage)
	}
}

func TestCompute_Adaptive(t *testing.T) {
	links := linksWith([]float64{100, 10}, []int{9, 99})
	got := Compute(links, link.StrategyAdaptive)

	s0 := 100*0.7 + 0.3*(100.0/10)
	s1 := 10*0.7 + 0.3*(100.0/100)
	want0 := s0 / (s0 + s1) * 100
	if !approx(got[0].AllocationPercentage, want0, sumTolerance) {
		t.Errorf("allocation[0] = %v, want %v", got[0].AllocationPercentage, want0)
	}
}

func TestCompute_EmptyIsNoop(t *testing.T) {
	for _, s := range link.Strategies {
		if got := Compute(nil, s); len(got) != 0 {
			t.Errorf("Compute(nil, %s) returned %d links", s, len(got))
		}
	}
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	links := linksWith([]float64{10, 30}, []int{5, 5})
	_ = Compute(links, link.StrategySpeedWeighted)
	for _, l := range links {
		if l.AllocationPercentage != 0 {
			t.Errorf("input %s mutated: %v", l.ID, l.AllocationPercentage)
		}
	}
}

func TestCompute_SumInvariantAllStrategies(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(8)
		speeds := make([]float64, n)
		lats := make([]int, n)
		for i := range speeds {
			// Include zeros to exercise degenerate weights.
			if rng.Intn(5) > 0 {
				speeds[i] = rng.Float64() * 500
			}
			lats[i] = rng.Intn(1000)
		}
		links := linksWith(speeds, lats)
		for _, s := range link.Strategies {
			got := Compute(links, s)
			if sum := Sum(got); !approx(sum, 100, sumTolerance) {
				t.Fatalf("trial %d strategy %s: sum = %v", trial, s, sum)
			}
			for _, l := range got {
				if l.AllocationPercentage < 0 || l.AllocationPercentage > 100+sumTolerance {
					t.Fatalf("trial %d strategy %s: %s out of range: %v", trial, s, l.ID, l.AllocationPercentage)
				}
			}
		}
	}
}

func TestCompute_LinkLossRebalance(t *testing.T) {
	links := linksWith([]float64{10, 10, 10}, []int{5, 5, 5})
	got := Compute(links, link.StrategyRoundRobin)
	for _, l := range got {
		if !approx(l.AllocationPercentage, 100.0/3, sumTolerance) {
			t.Fatalf("initial allocation %v", l.AllocationPercentage)
		}
	}

	remaining := got[:2]
	got = Compute(remaining, link.StrategyRoundRobin)
	for _, l := range got {
		if !approx(l.AllocationPercentage, 50, sumTolerance) {
			t.Errorf("%s after loss = %v, want 50", l.ID, l.AllocationPercentage)
		}
	}
}

func TestCompute_NegativeInputsClamped(t *testing.T) {
	links := []link.Link{
		{ID: "a", SpeedMbps: -5, LatencyMs: -1},
		{ID: "b", SpeedMbps: 10, LatencyMs: 10},
	}
	got := Compute(links, link.StrategySpeedWeighted)
	if !approx(got[0].AllocationPercentage, 0, sumTolerance) || !approx(got[1].AllocationPercentage, 100, sumTolerance) {
		t.Errorf("allocations = [%v, %v], want [0, 100]", got[0].AllocationPercentage, got[1].AllocationPercentage)
	}
}
