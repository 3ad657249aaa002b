package polyline

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
)

// Reference vector from the encoded polyline algorithm documentation
const referencePath = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

var referenceCoords = []geo.Coordinate{
	{Latitude: 38.5, Longitude: -120.2},
	{Latitude: 40.7, Longitude: -120.95},
	{Latitude: 43.252, Longitude: -126.453},
}

func assertPathsEqual(t *testing.T, got, want []geo.Coordinate, tolerance float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d coordinates, expected %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if math.Abs(got[i].Latitude-want[i].Latitude) > tolerance ||
			math.Abs(got[i].Longitude-want[i].Longitude) > tolerance {
			t.Errorf("coordinate %d = %v, expected %v", i, got[i], want[i])
		}
	}
}

func TestDecode_ReferenceVector(t *testing.T) {
	path, err := Decode(referencePath)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	assertPathsEqual(t, path, referenceCoords, 1e-9)
}

func TestDecode_Empty(t *testing.T) {
	path, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\") returned error: %v", err)
	}
	if path == nil || len(path) != 0 {
		t.Errorf("Decode(\"\") = %v, expected empty non-nil slice", path)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated mid-group", "_p~iF~ps|U_"},
		{"truncated after latitude", "_p~iF"},
		{"continuation byte only", "_"},
		{"byte below alphabet", "_p~iF~ps|U\x20"},
		{"byte above alphabet", "_p~iF\x7f"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path, err := Decode(tc.input)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Decode(%q) error = %v, expected DecodeError", tc.input, err)
			}
			if path != nil {
				t.Errorf("Decode(%q) returned partial geometry %v", tc.input, path)
			}
			if decodeErr.Unwrap() == nil {
				t.Error("DecodeError should wrap the codec error")
			}
		})
	}
}

func TestDecodeWithPrecision_RejectsNonPositive(t *testing.T) {
	_, err := DecodeWithPrecision(referencePath, 0)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for zero precision, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		precision float64
		path      []geo.Coordinate
	}{
		{"reference", 1e5, referenceCoords},
		{"single point", 1e5, []geo.Coordinate{{Latitude: 16.70504, Longitude: 74.24326}}},
		{"southern and western", 1e5, []geo.Coordinate{
			{Latitude: -33.86882, Longitude: 151.20929},
			{Latitude: -34.92866, Longitude: 138.59863},
			{Latitude: -12.46344, Longitude: 130.84564},
		}},
		{"polyline6", 1e6, []geo.Coordinate{
			{Latitude: 41.387015, Longitude: 2.170047},
			{Latitude: 41.403629, Longitude: 2.174356},
			{Latitude: 41.380894, Longitude: 2.122820},
		}},
		{"repeated points", 1e5, []geo.Coordinate{
			{Latitude: 1, Longitude: 1},
			{Latitude: 1, Longitude: 1},
			{Latitude: 1, Longitude: 1},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeWithPrecision(tc.path, tc.precision)
			decoded, err := DecodeWithPrecision(encoded, tc.precision)
			if err != nil {
				t.Fatalf("DecodeWithPrecision(%q) returned error: %v", encoded, err)
			}
			assertPathsEqual(t, decoded, tc.path, 1/tc.precision)
		})
	}
}

func TestRoundTrip_RandomPaths(t *testing.T) {
	rng := rand.New(rand.NewPCG(20250303, 1))

	for _, precision := range []float64{1e5, 1e6} {
		for i := 0; i < 200; i++ {
			path := make([]geo.Coordinate, 1+rng.IntN(40))
			for j := range path {
				path[j] = geo.Coordinate{
					Latitude:  rng.Float64()*180 - 90,
					Longitude: rng.Float64()*360 - 180,
				}
			}

			encoded := EncodeWithPrecision(path, precision)
			decoded, err := DecodeWithPrecision(encoded, precision)
			if err != nil {
				t.Fatalf("precision %g path %d: DecodeWithPrecision returned error: %v", precision, i, err)
			}
			assertPathsEqual(t, decoded, path, 1/precision)
		}
	}
}

func TestEncode_ReferenceVector(t *testing.T) {
	if got := Encode(referenceCoords); got != referencePath {
		t.Errorf("Encode = %q, expected %q", got, referencePath)
	}
	if got := Encode(nil); got != "" {
		t.Errorf("Encode(nil) = %q, expected empty", got)
	}
}

func TestDecode_PreservesOrder(t *testing.T) {
	// a path that doubles back must not be reordered
	path := []geo.Coordinate{
		{Latitude: 10, Longitude: 10},
		{Latitude: 11, Longitude: 10},
		{Latitude: 10.5, Longitude: 10},
		{Latitude: 9, Longitude: 10},
	}
	decoded, err := Decode(Encode(path))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	assertPathsEqual(t, decoded, path, 1e-5)
}
