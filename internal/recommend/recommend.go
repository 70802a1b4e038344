// Package recommend proposes link combinations from a scan result.
package recommend

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/plexsphere/bondd/internal/link"
)

// Type identifies the goal a recommendation optimizes for.
type Type string

const (
	TypeSpeed       Type = "speed_optimized"
	TypeReliability Type = "reliability_optimized"
	TypeBalanced    Type = "balanced"
	TypePowerSaving Type = "power_saving"
)

// Label returns the human-readable name of t.
func (t Type) Label() string {
	switch t {
	case TypeSpeed:
		return "Speed Optimized"
	case TypeReliability:
		return "Reliability Optimized"
	case TypeBalanced:
		return "Balanced Performance"
	case TypePowerSaving:
		return "Power Efficient"
	default:
		return string(t)
	}
}

const (
	minLinks = 1
	maxLinks = 5

	efficiencySpeedWeight  = 0.7
	efficiencySignalWeight = 0.3

	// combineEfficiency is the per-extra-link throughput retention factor.
	combineEfficiency = 0.85
)

// Recommendation is a proposed set of links to bond.
type Recommendation struct {
	Type                 Type        `json:"type"`
	Title                string      `json:"title"`
	Description          string      `json:"description"`
	Links                []link.Link `json:"links"`
	EstimatedSpeedMbps   float64     `json:"estimated_speed_mbps"`
	EstimatedReliability float64     `json:"estimated_reliability"`
	EstimatedPowerUsage  float64     `json:"estimated_power_usage"`
	Selected             bool        `json:"selected"`
}

// PowerUsageLabel buckets the power estimate into Low, Medium or High.
func (r Recommendation) PowerUsageLabel() string {
	switch {
	case r.EstimatedPowerUsage < 0.3:
		return "Low"
	case r.EstimatedPowerUsage < 0.7:
		return "Medium"
	default:
		return "High"
	}
}

// Generate returns recommendations for the available links, most aggressive
// first. The first recommendation is marked selected. The input is not modified.
func Generate(available []link.Link) []Recommendation {
	if len(available) == 0 {
		return nil
	}

	bySpeed := link.CloneAll(available)
	slices.SortStableFunc(bySpeed, func(a, b link.Link) int { return cmpDesc(a.SpeedMbps, b.SpeedMbps) })

	byLatency := link.CloneAll(available)
	slices.SortStableFunc(byLatency, func(a, b link.Link) int { return a.LatencyMs - b.LatencyMs })

	byEfficiency := link.CloneAll(available)
	slices.SortStableFunc(byEfficiency, func(a, b link.Link) int {
		return cmpDesc(efficiencyScore(a), efficiencyScore(b))
	})

	recs := []Recommendation{
		build(TypeSpeed, top(bySpeed, 3), 0.8),
		build(TypeReliability, top(byLatency, 2), 0.6),
		build(TypeBalanced, balanced(available, bySpeed, byLatency), 0.5),
		build(TypePowerSaving, top(byEfficiency, 1), 0.2),
	}
	recs[0].Selected = true
	return recs
}

func balanced(all, bySpeed, byLatency []link.Link) []link.Link {
	picked := []link.Link{bySpeed[0]}
	if len(byLatency) > 1 && byLatency[1].ID != bySpeed[0].ID {
		picked = append(picked, byLatency[1])
	}
	if len(picked) < 2 {
		for _, l := range all {
			if !containsID(picked, l.ID) {
				picked = append(picked, l.Clone())
				break
			}
		}
	}
	return picked
}

func build(t Type, links []link.Link, power float64) Recommendation {
	r := Recommendation{
		Type:                 t,
		Title:                t.Label() + " Configuration",
		Links:                links,
		EstimatedSpeedMbps:   EstimateCombinedSpeed(links),
		EstimatedReliability: EstimateReliability(links),
		EstimatedPowerUsage:  power,
	}
	r.Description = describe(r)
	return r
}

func describe(r Recommendation) string {
	var b strings.Builder
	n := len(r.Links)
	switch r.Type {
	case TypeSpeed:
		fmt.Fprintf(&b, "Combines %d links for maximum speed", n)
	case TypeReliability:
		fmt.Fprintf(&b, "Uses %d stable links for a reliable connection", n)
	case TypeBalanced:
		fmt.Fprintf(&b, "Balances %d links for good speed and reliability", n)
	case TypePowerSaving:
		fmt.Fprintf(&b, "Efficient setup using %d link(s) to save power", n)
	}
	fmt.Fprintf(&b, " (%.1f Mbps, %.0f%% reliability, %s power)",
		r.EstimatedSpeedMbps, r.EstimatedReliability*100, r.PowerUsageLabel())
	return b.String()
}

// top returns the first count links, clamped to [minLinks, maxLinks] and the input length.
func top(links []link.Link, count int) []link.Link {
	n := min(count, len(links))
	n = max(minLinks, min(n, maxLinks))
	return link.CloneAll(links[:n])
}

func efficiencyScore(l link.Link) float64 {
	speedScore := math.Min(1.0, l.SpeedMbps/100.0)
	signalScore := 1.0
	if l.SignalStrength != nil {
		signalScore = link.SignalQualityFactor(*l.SignalStrength)
	}
	return speedScore*efficiencySpeedWeight + signalScore*efficiencySignalWeight
}

// EstimateCombinedSpeed sums link speeds with diminishing returns per extra link.
func EstimateCombinedSpeed(links []link.Link) float64 {
	var total float64
	for _, l := range links {
		total += l.SpeedMbps
	}
	if len(links) > 1 {
		total *= math.Pow(combineEfficiency, float64(len(links)-1))
	}
	return total
}

// EstimateReliability maps average latency to a 0-1 score, improved by redundancy.
func EstimateReliability(links []link.Link) float64 {
	if len(links) == 0 {
		return 0
	}
	var totalLatency float64
	for _, l := range links {
		totalLatency += float64(l.LatencyMs)
	}
	avg := totalLatency / float64(len(links))
	reliability := math.Max(0.3, 1.0-avg/500.0)
	if len(links) > 1 {
		reliability = math.Min(0.99, reliability+0.1*float64(len(links)-1))
	}
	return reliability
}

func containsID(links []link.Link, id string) bool {
	return slices.ContainsFunc(links, func(l link.Link) bool { return l.ID == id })
}

func cmpDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
