package pipeline

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := time.Second
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for retry, w := range want {
		if got := Backoff(base, retry); got != w {
			t.Errorf("Backoff(%v, %d) = %v, want %v", base, retry, got, w)
		}
	}

	prev := Backoff(base, 1)
	for retry := 2; retry <= 8; retry++ {
		next := Backoff(base, retry)
		if next <= prev {
			t.Errorf("Backoff not increasing at retry %d: %v <= %v", retry, next, prev)
		}
		prev = next
	}
}

func TestRetryBackoffHook(t *testing.T) {
	b := backoff(100 * time.Millisecond)
	for attempt, want := range []time.Duration{100, 200, 400} {
		if got := b(0, 0, attempt, nil); got != want*time.Millisecond {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want*time.Millisecond)
		}
	}
}

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{501, false},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tt := range tests {
		if got := isTransientStatus(tt.code); got != tt.want {
			t.Errorf("isTransientStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
