package mapview

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
	"github.com/mini-rodalies-3d/bustracker/internal/tracking"
)

func sampleSnapshot() tracking.Snapshot {
	distance := 1.25
	return tracking.Snapshot{
		RouteID: "r1",
		Geometry: []geo.Coordinate{
			{Latitude: 38.5, Longitude: -120.2},
			{Latitude: 40.7, Longitude: -120.95},
			{Latitude: 43.252, Longitude: -126.453},
		},
		Stops: []tracking.Stop{
			{Name: "Central", Coordinate: geo.Coordinate{Latitude: 38.6, Longitude: -120.3}},
			{Name: "Airport", Coordinate: geo.Coordinate{Latitude: 43.2, Longitude: -126.4}},
		},
		Vehicle: &vehicle.Position{
			VehicleID:  "bus-1",
			Coordinate: geo.Coordinate{Latitude: 40.7, Longitude: -120.95},
			ObservedAt: time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC),
		},
		Crowd:      vehicle.CrowdMedium,
		User:       &tracking.UserPosition{Coordinate: geo.Coordinate{Latitude: 37, Longitude: -119}},
		DistanceKm: &distance,
	}
}

func TestOverlay(t *testing.T) {
	fc := Overlay(sampleSnapshot())

	if len(fc.Features) != 5 {
		t.Fatalf("got %d features, expected 5", len(fc.Features))
	}

	kinds := make(map[string]int)
	for _, f := range fc.Features {
		kinds[f.Properties.MustString("kind")]++
	}
	if kinds[KindPath] != 1 || kinds[KindStop] != 2 || kinds[KindVehicle] != 1 || kinds[KindUser] != 1 {
		t.Errorf("kinds = %v", kinds)
	}

	path, ok := fc.Features[0].Geometry.(orb.LineString)
	if !ok || len(path) != 3 {
		t.Fatalf("path geometry = %#v", fc.Features[0].Geometry)
	}
	// GeoJSON is lon, lat
	if path[0][0] != -120.2 || path[0][1] != 38.5 {
		t.Errorf("first path point = %v", path[0])
	}

	stop := fc.Features[1]
	if stop.Properties.MustString("name") != "Central" || stop.Properties.MustInt("order") != 0 {
		t.Errorf("stop properties = %v", stop.Properties)
	}

	veh := fc.Features[3]
	if veh.Properties.MustString("crowd") != "medium" {
		t.Errorf("vehicle properties = %v", veh.Properties)
	}
	if _, ok := veh.Properties["bearing"]; !ok {
		t.Error("vehicle bearing missing")
	}

	if _, err := json.Marshal(fc); err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
}

func TestOverlay_EmptySnapshot(t *testing.T) {
	fc := Overlay(tracking.Snapshot{})
	if len(fc.Features) != 0 {
		t.Errorf("got %d features", len(fc.Features))
	}
}

func TestCenter(t *testing.T) {
	full := sampleSnapshot()

	noStops := sampleSnapshot()
	noStops.Stops = nil

	vehicleOnly := sampleSnapshot()
	vehicleOnly.Stops = nil
	vehicleOnly.Geometry = nil

	tests := []struct {
		name string
		snap tracking.Snapshot
		want geo.Coordinate
		ok   bool
	}{
		{"first stop", full, geo.Coordinate{Latitude: 38.6, Longitude: -120.3}, true},
		{"first path point", noStops, geo.Coordinate{Latitude: 38.5, Longitude: -120.2}, true},
		{"vehicle", vehicleOnly, geo.Coordinate{Latitude: 40.7, Longitude: -120.95}, true},
		{"nothing", tracking.Snapshot{}, geo.Coordinate{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Center(tc.snap)
			if ok != tc.ok || got != tc.want {
				t.Errorf("Center() = %v, %v; expected %v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}

	vp, ok := ViewportFor(full)
	if !ok || vp.Zoom != DefaultZoom {
		t.Errorf("ViewportFor() = %+v, %v", vp, ok)
	}
}

func TestBounds(t *testing.T) {
	b, ok := Bounds(sampleSnapshot())
	if !ok {
		t.Fatal("expected bounds")
	}
	if b.Min[0] != -126.453 || b.Max[0] != -119 || b.Min[1] != 37 || b.Max[1] != 43.252 {
		t.Errorf("Bounds() = %v", b)
	}

	if _, ok := Bounds(tracking.Snapshot{}); ok {
		t.Error("expected no bounds for empty snapshot")
	}
}
