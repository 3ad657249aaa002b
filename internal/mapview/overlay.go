// Package mapview turns tracking snapshots into GeoJSON overlays and
// viewport hints for a map renderer.
package mapview

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

// DefaultZoom is the initial zoom level around Center
const DefaultZoom = 12

// Feature kinds, stored in the "kind" property
const (
	KindPath    = "path"
	KindStop    = "stop"
	KindVehicle = "vehicle"
	KindUser    = "user"
)

// Viewport is where a renderer should initially look
type Viewport struct {
	Center geo.Coordinate `json:"center"`
	Zoom   int            `json:"zoom"`
}

func point(c geo.Coordinate) orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Overlay builds a feature collection with the route path, one point per
// stop and, when known, the vehicle and user positions.
func Overlay(snap tracking.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(snap.Geometry) > 0 {
		line := make(orb.LineString, 0, len(snap.Geometry))
		for _, c := range snap.Geometry {
			line = append(line, point(c))
		}
		f := geojson.NewFeature(line)
		f.Properties["kind"] = KindPath
		f.Properties["route_id"] = snap.RouteID
		f.Properties["length_km"] = geo.LineLengthKm(snap.Geometry)
		fc.Append(f)
	}

	for i, stop := range snap.Stops {
		f := geojson.NewFeature(point(stop.Coordinate))
		f.Properties["kind"] = KindStop
		f.Properties["name"] = stop.Name
		f.Properties["order"] = i
		fc.Append(f)
	}

	if v := snap.Vehicle; v != nil {
		f := geojson.NewFeature(point(v.Coordinate))
		f.Properties["kind"] = KindVehicle
		f.Properties["vehicle_id"] = v.VehicleID
		f.Properties["crowd"] = string(snap.Crowd)
		f.Properties["observed_at"] = v.ObservedAt
		if v.Label != "" {
			f.Properties["label"] = v.Label
		}
		if idx := geo.ClosestPointIndex(snap.Geometry, v.Coordinate); idx >= 0 && len(snap.Geometry) > 1 {
			next := idx + 1
			if next == len(snap.Geometry) {
				idx, next = idx-1, idx
			}
			f.Properties["bearing"] = geo.Bearing(snap.Geometry[idx], snap.Geometry[next])
		}
		fc.Append(f)
	}

	if u := snap.User; u != nil {
		f := geojson.NewFeature(point(u.Coordinate))
		f.Properties["kind"] = KindUser
		f.Properties["observed_at"] = u.ObservedAt
		if snap.DistanceKm != nil {
			f.Properties["distance_km"] = *snap.DistanceKm
		}
		fc.Append(f)
	}

	return fc
}

// Center picks the map centre: the first stop, else the first path point,
// else the vehicle. ok is false when the snapshot has none of them.
func Center(snap tracking.Snapshot) (center geo.Coordinate, ok bool) {
	switch {
	case len(snap.Stops) > 0:
		return snap.Stops[0].Coordinate, true
	case len(snap.Geometry) > 0:
		return snap.Geometry[0], true
	case snap.Vehicle != nil:
		return snap.Vehicle.Coordinate, true
	}
	return geo.Coordinate{}, false
}

// ViewportFor returns the initial viewport for snap
func ViewportFor(snap tracking.Snapshot) (Viewport, bool) {
	c, ok := Center(snap)
	if !ok {
		return Viewport{}, false
	}
	return Viewport{Center: c, Zoom: DefaultZoom}, true
}

// Bounds returns the box containing every feature of the overlay
func Bounds(snap tracking.Snapshot) (orb.Bound, bool) {
	var pts orb.MultiPoint
	for _, c := range snap.Geometry {
		pts = append(pts, point(c))
	}
	for _, s := range snap.Stops {
		pts = append(pts, point(s.Coordinate))
	}
	if snap.Vehicle != nil {
		pts = append(pts, point(snap.Vehicle.Coordinate))
	}
	if snap.User != nil {
		pts = append(pts, point(snap.User.Coordinate))
	}
	if len(pts) == 0 {
		return orb.Bound{}, false
	}
	return pts.Bound(), true
}
