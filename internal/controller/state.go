package controller

import (
	"time"

	"github.com/plexsphere/bondd/internal/link"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateProbing
	StateActive
	StateReconfiguring
	StateDisconnected
	// StateDegraded means the last initialize attempt for Method failed.
	StateDegraded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProbing:
		return "probing"
	case StateActive:
		return "active"
	case StateReconfiguring:
		return "reconfiguring"
	case StateDisconnected:
		return "disconnected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is an immutable view of the controller published after every
// mutation. Readers must not modify it.
type Snapshot struct {
	State         State             `json:"state"`
	Method        link.Method       `json:"method,omitempty"`
	Strategy      link.Strategy     `json:"strategy"`
	Capabilities  link.Capabilities `json:"capabilities"`
	Links         []link.Link       `json:"links"`
	CombinedSpeed float64           `json:"combined_speed_mbps"`
	Connected     bool              `json:"connected"`
	// Retrying lists lost links waiting to be reconnected.
	Retrying  []string  `json:"retrying,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Listener receives controller change notifications. Callbacks run on the
// controller goroutine and must not call back into the controller's
// mutating operations.
type Listener interface {
	OnStatusChanged(connected bool)
	OnLinksUpdated(links []link.Link)
	OnSpeedChanged(mbps float64)
}

// linksEqual reports whether a and b describe the same links with the same
// metrics and allocation.
func linksEqual(a, b []link.Link) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.SpeedMbps != y.SpeedMbps || x.LatencyMs != y.LatencyMs ||
			x.AllocationPercentage != y.AllocationPercentage || x.Connected != y.Connected {
			return false
		}
	}
	return true
}
