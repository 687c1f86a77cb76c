package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitterBounds(t *testing.T) {
	base := time.Minute
	max := 15 * time.Minute

	tests := []struct {
		name    string
		attempt int
		center  time.Duration
	}{
		{"first attempt", 1, time.Minute},
		{"second attempt", 2, 2 * time.Minute},
		{"third attempt", 3, 4 * time.Minute},
		{"attempt at ceiling", 5, 15 * time.Minute},
		{"far past ceiling", 50, 15 * time.Minute},
		{"zero attempt treated as first", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo := time.Duration(float64(tt.center) * 0.8)
			hi := time.Duration(float64(tt.center) * 1.2)
			for i := 0; i < 200; i++ {
				got := ExponentialJitter(base, max, tt.attempt)
				if got < lo || got > hi {
					t.Fatalf("ExponentialJitter(attempt=%d) = %v, want within [%v, %v]", tt.attempt, got, lo, hi)
				}
			}
		})
	}
}

func TestExponentialJitterOverflow(t *testing.T) {
	// Huge attempt counts must not overflow into a negative delay.
	for attempt := 40; attempt <= 500; attempt += 20 {
		got := ExponentialJitter(time.Minute, 15*time.Minute, attempt)
		if got <= 0 {
			t.Fatalf("ExponentialJitter(attempt=%d) = %v, want positive", attempt, got)
		}
	}
}
