package engine

import (
	"testing"
	"time"
)

func TestBackoff_DelayWithoutJitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute)

	for i := 0; i < 200; i++ {
		got := b.Delay(3)
		if got < 4*time.Second || got >= 6*time.Second {
			t.Fatalf("Delay(3) = %v, want in [4s, 6s)", got)
		}
	}
}

func TestBackoff_JitterNeverExceedsCap(t *testing.T) {
	b := Backoff{
		Base:   time.Second,
		Max:    5 * time.Second,
		Jitter: func(d time.Duration) time.Duration { return d },
	}

	if got := b.Delay(3); got != 5*time.Second {
		t.Errorf("Delay(3) = %v, want cap 5s", got)
	}
}

func TestBackoff_Next(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: time.Minute}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got, want := b.Next(now, 2), now.Add(4*time.Second); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
}
