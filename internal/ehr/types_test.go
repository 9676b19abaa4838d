package ehr

import (
	"testing"
	"time"
)

// TestCertaintyForConfidence tests the confidence-to-certainty mapping
// including the inclusive upward boundaries.
func TestCertaintyForConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Certainty
	}{
		{0.0, CertaintyProvisional},
		{0.3, CertaintyProvisional},
		{0.59, CertaintyProvisional},
		{0.6, CertaintyPresumed},
		{0.75, CertaintyPresumed},
		{0.79, CertaintyPresumed},
		{0.8, CertaintyConfirmed},
		{0.95, CertaintyConfirmed},
		{1.0, CertaintyConfirmed},
	}

	for _, tt := range tests {
		got := CertaintyForConfidence(tt.confidence)
		if got != tt.want {
			t.Errorf("CertaintyForConfidence(%v) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

// TestVisitActive tests active-visit detection
func TestVisitActive(t *testing.T) {
	v := Visit{ID: "v1", StartedAt: time.Now()}
	if !v.Active() {
		t.Error("visit without stop time should be active")
	}

	stopped := time.Now()
	v.StoppedAt = &stopped
	if v.Active() {
		t.Error("visit with stop time should not be active")
	}
}
