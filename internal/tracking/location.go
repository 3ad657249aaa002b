package tracking

import (
	"context"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/geo"
)

// LocationStatus is the permission outcome of a location request
type LocationStatus string

const (
	LocationGranted LocationStatus = "granted"
	LocationDenied  LocationStatus = "denied"
)

// LocationResponse is what a device reports for one location request.
// Coordinate is nil when permission was granted but no fix was available.
type LocationResponse struct {
	Status     LocationStatus
	Coordinate *geo.Coordinate
	ObservedAt time.Time
}

// LocationProvider produces one-shot user location fixes
type LocationProvider interface {
	RequestLocation(ctx context.Context) (LocationResponse, error)
}

// LocationProviderFunc adapts a function to LocationProvider
type LocationProviderFunc func(ctx context.Context) (LocationResponse, error)

func (f LocationProviderFunc) RequestLocation(ctx context.Context) (LocationResponse, error) {
	return f(ctx)
}

// Fixed returns a provider that always answers with resp
func Fixed(resp LocationResponse) LocationProvider {
	return LocationProviderFunc(func(context.Context) (LocationResponse, error) {
		return resp, nil
	})
}
