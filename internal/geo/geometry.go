// Package geo provides WGS84 coordinates and great-circle geometry.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula
const EarthRadiusKm = 6371.0

// Coordinate is a WGS84 point in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InvalidCoordinateError reports a coordinate that cannot take part in distance math
type InvalidCoordinateError struct {
	Coordinate Coordinate
	Reason     string
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%v, %v): %s", e.Coordinate.Latitude, e.Coordinate.Longitude, e.Reason)
}

// IsFinite reports whether both axes are finite numbers
func (c Coordinate) IsFinite() bool {
	return !math.IsNaN(c.Latitude) && !math.IsInf(c.Latitude, 0) &&
		!math.IsNaN(c.Longitude) && !math.IsInf(c.Longitude, 0)
}

// Validate checks that the coordinate is finite and inside the WGS84 ranges.
// Upstream payloads are run through this before they reach a session.
func (c Coordinate) Validate() error {
	if !c.IsFinite() {
		return &InvalidCoordinateError{Coordinate: c, Reason: "non-finite value"}
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return &InvalidCoordinateError{Coordinate: c, Reason: "latitude out of range"}
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return &InvalidCoordinateError{Coordinate: c, Reason: "longitude out of range"}
	}
	return nil
}

// DistanceKm calculates the great-circle distance between two points in kilometers
func DistanceKm(a, b Coordinate) (float64, error) {
	if !a.IsFinite() {
		return 0, &InvalidCoordinateError{Coordinate: a, Reason: "non-finite value"}
	}
	if !b.IsFinite() {
		return 0, &InvalidCoordinateError{Coordinate: b, Reason: "non-finite value"}
	}

	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	deltaPhi := phi2 - phi1
	deltaLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	// rounding can push h a hair outside [0,1] for antipodal or identical points
	h = Clamp(h, 0, 1)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c, nil
}

// Bearing calculates the bearing from point a to point b in degrees (0-360)
func Bearing(a, b Coordinate) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	deltaLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// LineLengthKm calculates the total length of a path in kilometers.
// Segments with non-finite endpoints are skipped.
func LineLengthKm(path []Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		d, err := DistanceKm(path[i-1], path[i])
		if err != nil {
			continue
		}
		total += d
	}
	return total
}

// ClosestPointIndex finds the index of the path point nearest to target.
// Returns -1 for an empty path.
func ClosestPointIndex(path []Coordinate, target Coordinate) int {
	minDist := math.MaxFloat64
	minIdx := -1

	for i, c := range path {
		dist, err := DistanceKm(c, target)
		if err != nil {
			continue
		}
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}

	return minIdx
}

// Clamp constrains a value between min and max
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
