package system

import (
	"testing"
	"time"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
	if got.Before(before) || got.After(time.Now().Add(time.Second)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestClockElapsedNonNegative(t *testing.T) {
	t.Parallel()

	clk := New()
	start := clk.Now()
	if d := clk.Now().Sub(start); d < 0 {
		t.Fatalf("negative elapsed %v", d)
	}
}
