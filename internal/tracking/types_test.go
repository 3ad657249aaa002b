package tracking

import (
	"encoding/json"
	"testing"
)

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{StateOpening, StateActive, StateClosed} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var got State
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != s {
			t.Errorf("round trip %v = %v", s, got)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("expected error for unknown state")
	}
}
