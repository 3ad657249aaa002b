// Package polyline decodes and encodes route geometry in the encoded polyline
// format (cumulative deltas packed into 5-bit base-64-like character groups).
//
// Decoding is strict: a stream that ends in the middle of a group, or in the
// middle of a latitude/longitude pair, is rejected with a *DecodeError rather
// than truncated. A single wrong bit shifts every following point.
package polyline

import (
	"fmt"

	gopolyline "github.com/twpayne/go-polyline"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
)

// DefaultPrecision is the scale factor for 5 decimal digits
const DefaultPrecision = 1e5

// DecodeError reports malformed polyline input
type DecodeError struct {
	Input     string
	Precision float64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("polyline: cannot decode %d-byte path at precision %g: %v", len(e.Input), e.Precision, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode decodes an encoded path at the default precision
func Decode(encoded string) ([]geo.Coordinate, error) {
	return DecodeWithPrecision(encoded, DefaultPrecision)
}

// DecodeWithPrecision decodes an encoded path using a custom precision factor
// (1e5 for Google/OSRM polylines, 1e6 for GraphHopper/Valhalla "polyline6").
// The returned slice preserves input order and is never nil.
func DecodeWithPrecision(encoded string, precision float64) ([]geo.Coordinate, error) {
	if precision <= 0 {
		return nil, &DecodeError{Input: encoded, Precision: precision, Err: fmt.Errorf("precision must be positive")}
	}
	if encoded == "" {
		return []geo.Coordinate{}, nil
	}

	codec := gopolyline.Codec{Dim: 2, Scale: precision}
	coords, rest, err := codec.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, &DecodeError{Input: encoded, Precision: precision, Err: err}
	}
	if len(rest) != 0 {
		return nil, &DecodeError{Input: encoded, Precision: precision, Err: fmt.Errorf("%d trailing bytes", len(rest))}
	}

	path := make([]geo.Coordinate, 0, len(coords))
	for _, c := range coords {
		if len(c) != 2 {
			return nil, &DecodeError{Input: encoded, Precision: precision, Err: fmt.Errorf("incomplete coordinate pair")}
		}
		path = append(path, geo.Coordinate{Latitude: c[0], Longitude: c[1]})
	}

	return path, nil
}

// Encode encodes a path at the default precision
func Encode(path []geo.Coordinate) string {
	return EncodeWithPrecision(path, DefaultPrecision)
}

// EncodeWithPrecision encodes a path using a custom precision factor
func EncodeWithPrecision(path []geo.Coordinate, precision float64) string {
	if len(path) == 0 {
		return ""
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}

	coords := make([][]float64, 0, len(path))
	for _, c := range path {
		coords = append(coords, []float64{c.Latitude, c.Longitude})
	}

	codec := gopolyline.Codec{Dim: 2, Scale: precision}
	return string(codec.EncodeCoords(nil, coords))
}
