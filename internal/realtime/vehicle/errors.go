package vehicle

import (
	"errors"
	"fmt"
)

// ErrVehicleNotFound is wrapped by FetchError when the source has no record
// of the requested vehicle.
var ErrVehicleNotFound = errors.New("vehicle not found")

// FetchErrorKind classifies a failed position fetch
type FetchErrorKind string

const (
	KindNetwork  FetchErrorKind = "network"
	KindStatus   FetchErrorKind = "status"
	KindPayload  FetchErrorKind = "payload"
	KindNotFound FetchErrorKind = "not_found"
)

// FetchError is reported through a handle's error callback. It never stops
// the poll schedule.
type FetchError struct {
	VehicleID  string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch position for %s: %s (status %d): %v", e.VehicleID, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch position for %s: %s: %v", e.VehicleID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// classify converts any source error into a FetchError
func classify(vehicleID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.VehicleID != "" {
			return fe
		}
		// sources may return a shared error value
		out := *fe
		out.VehicleID = vehicleID
		return &out
	}
	if errors.Is(err, ErrVehicleNotFound) {
		return &FetchError{VehicleID: vehicleID, Kind: KindNotFound, Err: err}
	}
	return &FetchError{VehicleID: vehicleID, Kind: KindNetwork, Err: err}
}
