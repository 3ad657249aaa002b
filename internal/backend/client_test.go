package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/realtime/vehicle"
)

const routeJSON = `{
	"route": {
		"route_name": "Kolhapur - Sangli",
		"departure_time": "08:30",
		"start_location": "Kolhapur",
		"end_location": "Sangli",
		"status": "active",
		"route_polyline": "_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@",
		"bus": {
			"id": "bus-42",
			"bus_number": "MH09-1234",
			"current_latitude": 16.705,
			"current_longitude": 74.243,
			"capacity": 50,
			"current_passenger_count": 12
		},
		"stops": {
			"stops": [
				{"name": "Central", "latitude": 38.5, "longitude": -120.2},
				{"name": "Airport", "latitude": 43.252, "longitude": -126.453}
			]
		}
	}
}`

func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetRoute_DecodesEnvelopeAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/user/route/r1" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(routeJSON))
	})

	c := NewClient(srv.URL+"/", WithRouteCache(8, time.Minute))

	for i := 0; i < 3; i++ {
		details, err := c.GetRoute(context.Background(), "r1")
		if err != nil {
			t.Fatalf("GetRoute returned error: %v", err)
		}
		if details.RouteName != "Kolhapur - Sangli" || details.ID != "r1" {
			t.Errorf("details = %+v", details)
		}
		if len(details.Stops.Stops) != 2 {
			t.Errorf("got %d stops", len(details.Stops.Stops))
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("backend hit %d times, expected 1", n)
	}

	c.InvalidateRoute("r1")
	if _, err := c.GetRoute(context.Background(), "r1"); err != nil {
		t.Fatalf("GetRoute returned error: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("backend hit %d times after invalidation, expected 2", n)
	}
}

func TestGetRoute_BareObject(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc", "route_name": "Loop", "route_polyline": "", "stops": {"stops": []}}`))
	})

	details, err := NewClient(srv.URL).GetRoute(context.Background(), "r9")
	if err != nil {
		t.Fatalf("GetRoute returned error: %v", err)
	}
	if details.ID != "abc" || details.RouteName != "Loop" || details.Bus != nil {
		t.Errorf("details = %+v", details)
	}
}

func TestGetRoute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{"not found", http.StatusNotFound, `{"message":"no route"}`, true},
		{"server error", http.StatusInternalServerError, `oops`, false},
		{"malformed json", http.StatusOK, `{"route": [`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := NewClient(srv.URL, WithRouteCache(4, 0)).GetRoute(context.Background(), "r1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrRouteNotFound); got != tc.notFound {
				t.Errorf("errors.Is(err, ErrRouteNotFound) = %v for %v", got, err)
			}
		})
	}
}

func TestTrackingRoute(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(routeJSON))
	})

	details, err := NewClient(srv.URL).GetRoute(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRoute returned error: %v", err)
	}

	route := details.TrackingRoute()
	if route.ID != "r1" || route.VehicleID != "bus-42" || route.Name != "Kolhapur - Sangli" {
		t.Errorf("route = %+v", route)
	}
	if len(route.Stops) != 2 || route.Stops[1].Name != "Airport" || route.Stops[1].Coordinate.Latitude != 43.252 {
		t.Errorf("stops = %+v", route.Stops)
	}
	if route.InitialVehicle == nil {
		t.Fatal("initial vehicle missing")
	}
	if route.InitialVehicle.Coordinate.Latitude != 16.705 || route.InitialVehicle.Crowd() != vehicle.CrowdLow {
		t.Errorf("initial vehicle = %+v", route.InitialVehicle)
	}
}

func TestFetchPosition(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/bus/b1":
			w.Write([]byte(`{"bus": {"id": "b1", "current_latitude": 16.7, "current_longitude": 74.2, "capacity": 40, "current_passenger_count": 35, "updated_at": "2025-03-03T08:00:05Z"}}`))
		case "/api/v1/user/bus/b2":
			w.Write([]byte(`{"current_latitude": 1.5, "current_longitude": 2.5}`))
		default:
			http.NotFound(w, r)
		}
	})

	requested := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL)
	c.now = func() time.Time { return requested }

	pos, err := c.FetchPosition(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchPosition returned error: %v", err)
	}
	if pos.VehicleID != "b1" || pos.Coordinate.Latitude != 16.7 || pos.Coordinate.Longitude != 74.2 {
		t.Errorf("position = %+v", pos)
	}
	if want := time.Date(2025, time.March, 3, 8, 0, 5, 0, time.UTC); !pos.ObservedAt.Equal(want) {
		t.Errorf("ObservedAt = %v, expected %v", pos.ObservedAt, want)
	}
	if pos.Crowd() != vehicle.CrowdHigh {
		t.Errorf("Crowd() = %q", pos.Crowd())
	}

	pos, err = c.FetchPosition(context.Background(), "b2")
	if err != nil {
		t.Fatalf("FetchPosition returned error: %v", err)
	}
	if pos.VehicleID != "b2" || !pos.ObservedAt.Equal(requested) {
		t.Errorf("bare payload position = %+v", pos)
	}
}

func TestFetchPosition_Errors(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/bus/missing":
			http.NotFound(w, r)
		case "/api/v1/user/bus/broken":
			http.Error(w, "boom", http.StatusBadGateway)
		case "/api/v1/user/bus/garbled":
			w.Write([]byte(`<html>`))
		case "/api/v1/user/bus/nocoords":
			w.Write([]byte(`{"bus": {"id": "nocoords"}}`))
		}
	})

	tests := []struct {
		busID string
		kind  vehicle.FetchErrorKind
	}{
		{"missing", vehicle.KindNotFound},
		{"broken", vehicle.KindStatus},
		{"garbled", vehicle.KindPayload},
		{"nocoords", vehicle.KindPayload},
	}

	c := NewClient(srv.URL)
	for _, tc := range tests {
		t.Run(tc.busID, func(t *testing.T) {
			_, err := c.FetchPosition(context.Background(), tc.busID)
			var fe *vehicle.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, expected FetchError", err)
			}
			if fe.Kind != tc.kind {
				t.Errorf("Kind = %q, expected %q", fe.Kind, tc.kind)
			}
		})
	}

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closed.Close()
	_, err := NewClient(closed.URL, WithTimeout(time.Second)).FetchPosition(context.Background(), "b1")
	var fe *vehicle.FetchError
	if !errors.As(err, &fe) || fe.Kind != vehicle.KindNetwork {
		t.Errorf("error = %v, expected network FetchError", err)
	}
}
