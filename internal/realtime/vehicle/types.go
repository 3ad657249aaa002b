package vehicle

import (
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
)

// Position is the latest known location of one vehicle
type Position struct {
	VehicleID      string         `json:"vehicle_id"`
	Label          string         `json:"label,omitempty"`
	Coordinate     geo.Coordinate `json:"coordinate"`
	ObservedAt     time.Time      `json:"observed_at"`
	Capacity       *int           `json:"capacity,omitempty"`
	PassengerCount *int           `json:"passenger_count,omitempty"`
}

// CrowdLevel buckets passenger load relative to capacity
type CrowdLevel string

const (
	CrowdUnknown CrowdLevel = "unknown"
	CrowdLow     CrowdLevel = "low"
	CrowdMedium  CrowdLevel = "medium"
	CrowdHigh    CrowdLevel = "high"
)

// Occupancy returns the passenger load as a fraction of capacity. ok is false
// when either figure is missing or capacity is not positive.
func (p Position) Occupancy() (ratio float64, ok bool) {
	if p.Capacity == nil || p.PassengerCount == nil || *p.Capacity <= 0 {
		return 0, false
	}
	return float64(*p.PassengerCount) / float64(*p.Capacity), true
}

// Crowd classifies the occupancy: high from 80%, medium from 40%, low below.
func (p Position) Crowd() CrowdLevel {
	ratio, ok := p.Occupancy()
	switch {
	case !ok:
		return CrowdUnknown
	case ratio >= 0.8:
		return CrowdHigh
	case ratio >= 0.4:
		return CrowdMedium
	default:
		return CrowdLow
	}
}

// NewerThan reports whether p was observed strictly after other
func (p Position) NewerThan(other Position) bool {
	return p.ObservedAt.After(other.ObservedAt)
}
