package tracking

import (
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

// Stop is a named point on a route. Names are unique within a route.
type Stop struct {
	Name       string         `json:"name"`
	Coordinate geo.Coordinate `json:"coordinate"`
}

// Route is everything needed to open a session
type Route struct {
	ID          string
	Name        string
	VehicleID   string
	EncodedPath string
	Stops       []Stop

	// InitialVehicle, when set, is shown until the first newer poll result
	InitialVehicle *vehicle.Position
}

// UserPosition is a one-shot device location fix
type UserPosition struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	ObservedAt time.Time      `json:"observed_at"`
}

// State is the lifecycle stage of a session
type State int

const (
	StateOpening State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "opening":
		*s = StateOpening
	case "active":
		*s = StateActive
	case "closed":
		*s = StateClosed
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// Snapshot is the derived view of a session at one point in time.
// Geometry and Stops are shared with the session and must not be modified.
type Snapshot struct {
	SessionID    string             `json:"session_id"`
	RouteID      string             `json:"route_id"`
	RouteName    string             `json:"route_name,omitempty"`
	State        State              `json:"state"`
	Version      uint64             `json:"version"`
	Path         string             `json:"path"`
	Geometry     []geo.Coordinate   `json:"geometry"`
	Stops        []Stop             `json:"stops"`
	Vehicle      *vehicle.Position  `json:"vehicle,omitempty"`
	Crowd        vehicle.CrowdLevel `json:"crowd"`
	User         *UserPosition      `json:"user,omitempty"`
	DistanceKm   *float64           `json:"distance_km,omitempty"`
	VehicleError string             `json:"vehicle_error,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
