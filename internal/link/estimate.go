package link

// Estimates used until a link has measured metrics.

// EstimateFromSignal maps a WiFi RSSI (dBm) to an expected throughput and latency.
func EstimateFromSignal(rssi int) (speedMbps float64, latencyMs int) {
	switch {
	case rssi >= -50:
		return 50, 15
	case rssi >= -60:
		return 40, 25
	case rssi >= -70:
		return 25, 40
	case rssi >= -80:
		return 10, 60
	default:
		return 5, 100
	}
}

// SignalQualityFactor returns the fraction of the negotiated link rate that is
// realistically achievable at the given RSSI.
func SignalQualityFactor(rssi int) float64 {
	switch {
	case rssi >= -50:
		return 0.9
	case rssi >= -60:
		return 0.8
	case rssi >= -70:
		return 0.6
	case rssi >= -80:
		return 0.4
	default:
		return 0.2
	}
}

// RadioGeneration is the cellular access technology.
type RadioGeneration string

const (
	Radio2G      RadioGeneration = "2g"
	Radio3G      RadioGeneration = "3g"
	Radio3GPlus  RadioGeneration = "3g+"
	Radio4G      RadioGeneration = "4g"
	Radio5G      RadioGeneration = "5g"
	RadioUnknown RadioGeneration = ""
)

// EstimateCellular maps a radio generation to expected throughput and latency.
func EstimateCellular(gen RadioGeneration) (speedMbps float64, latencyMs int) {
	switch gen {
	case Radio5G:
		return 50, 30
	case Radio4G:
		return 20, 50
	case Radio3GPlus:
		return 10, 80
	case Radio3G:
		return 5, 100
	case Radio2G:
		return 0.5, 200
	default:
		return 2, 150
	}
}
