package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWelfordState(t *testing.T) {
	var w WelfordState
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Update(v)
	}
	if w.Count != 8 {
		t.Errorf("Count = %d", w.Count)
	}
	if math.Abs(w.Mean-5) > 1e-9 {
		t.Errorf("Mean = %v, expected 5", w.Mean)
	}
	if math.Abs(w.StdDev()-2) > 1e-9 {
		t.Errorf("StdDev = %v, expected 2", w.StdDev())
	}
}

func TestWelfordState_SingleObservation(t *testing.T) {
	var w WelfordState
	w.Update(42)
	if w.StdDev() != 0 {
		t.Errorf("StdDev with one observation = %v", w.StdDev())
	}
}

func TestLatencyStats(t *testing.T) {
	var s LatencyStats
	s.Observe(100*time.Millisecond, false)
	s.Observe(300*time.Millisecond, true)
	s.Observe(200*time.Millisecond, false)

	sum := s.Summary()
	if sum.Count != 3 || sum.Failures != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if math.Abs(sum.MeanMs-200) > 1e-9 {
		t.Errorf("MeanMs = %v", sum.MeanMs)
	}
	if sum.MinMs != 100 || sum.MaxMs != 300 {
		t.Errorf("min/max = %v/%v", sum.MinMs, sum.MaxMs)
	}
}
