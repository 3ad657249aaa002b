package vehicle

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	shared := &FetchError{Kind: KindStatus, StatusCode: 503, Err: errors.New("unavailable")}

	got := classify("bus-1", fmt.Errorf("poll: %w", shared))
	if got.VehicleID != "bus-1" || got.Kind != KindStatus || got.StatusCode != 503 {
		t.Errorf("classify = %+v", got)
	}
	if shared.VehicleID != "" {
		t.Errorf("source error was modified: VehicleID = %q", shared.VehicleID)
	}
	if other := classify("bus-2", shared); other.VehicleID != "bus-2" {
		t.Errorf("second classify VehicleID = %q", other.VehicleID)
	}

	tagged := &FetchError{VehicleID: "bus-7", Kind: KindPayload, Err: errors.New("bad json")}
	if got := classify("bus-1", tagged); got != tagged {
		t.Errorf("classify replaced an error that already names its vehicle")
	}

	if got := classify("bus-1", fmt.Errorf("lookup: %w", ErrVehicleNotFound)); got.Kind != KindNotFound {
		t.Errorf("not found kind = %q", got.Kind)
	}
	if got := classify("bus-1", errors.New("connection reset")); got.Kind != KindNetwork {
		t.Errorf("plain error kind = %q", got.Kind)
	}
}
