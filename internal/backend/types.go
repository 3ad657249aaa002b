package backend

import (
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

// RouteDetails is the route payload served by the transit backend
type RouteDetails struct {
	ID            string   `json:"id,omitempty"`
	RouteName     string   `json:"route_name"`
	DepartureTime string   `json:"departure_time,omitempty"`
	StartLocation string   `json:"start_location,omitempty"`
	EndLocation   string   `json:"end_location,omitempty"`
	Status        string   `json:"status,omitempty"`
	RoutePolyline string   `json:"route_polyline"`
	Bus           *Bus     `json:"bus,omitempty"`
	Stops         StopList `json:"stops"`
}

// StopList wraps the ordered stops of a route
type StopList struct {
	Stops []Stop `json:"stops"`
}

// Stop is one named stop on a route
type Stop struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Bus is the vehicle assigned to a route
type Bus struct {
	ID                    string   `json:"id"`
	BusNumber             string   `json:"bus_number,omitempty"`
	CurrentLatitude       *float64 `json:"current_latitude,omitempty"`
	CurrentLongitude      *float64 `json:"current_longitude,omitempty"`
	Capacity              *int     `json:"capacity,omitempty"`
	CurrentPassengerCount *int     `json:"current_passenger_count,omitempty"`
	UpdatedAt             string   `json:"updated_at,omitempty"`
}

type routeEnvelope struct {
	Route *RouteDetails `json:"route"`
}

type busEnvelope struct {
	Bus *Bus `json:"bus"`
}

// Position converts the bus to a vehicle position. ok is false when the bus
// carries no coordinates. A missing or unparseable updated_at leaves
// ObservedAt as fallback.
func (b *Bus) Position(fallback time.Time) (pos vehicle.Position, ok bool) {
	if b == nil || b.CurrentLatitude == nil || b.CurrentLongitude == nil {
		return vehicle.Position{}, false
	}
	pos = vehicle.Position{
		VehicleID:      b.ID,
		Label:          b.BusNumber,
		Coordinate:     geo.Coordinate{Latitude: *b.CurrentLatitude, Longitude: *b.CurrentLongitude},
		ObservedAt:     fallback,
		Capacity:       b.Capacity,
		PassengerCount: b.CurrentPassengerCount,
	}
	if b.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, b.UpdatedAt); err == nil {
			pos.ObservedAt = ts.UTC()
		}
	}
	return pos, true
}

// TrackingRoute builds the input for opening a tracking session. The bus
// position embedded in the route, if any, seeds the session.
func (d *RouteDetails) TrackingRoute() tracking.Route {
	route := tracking.Route{
		ID:          d.ID,
		Name:        d.RouteName,
		EncodedPath: d.RoutePolyline,
		Stops:       make([]tracking.Stop, 0, len(d.Stops.Stops)),
	}
	for _, s := range d.Stops.Stops {
		route.Stops = append(route.Stops, tracking.Stop{
			Name:       s.Name,
			Coordinate: geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
		})
	}
	if d.Bus != nil {
		route.VehicleID = d.Bus.ID
		if pos, ok := d.Bus.Position(time.Time{}); ok {
			route.InitialVehicle = &pos
		}
	}
	return route
}
