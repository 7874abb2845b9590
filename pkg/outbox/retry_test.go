package outbox

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	maxBackoff := 60 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: -1, want: 0},
		{attempts: 0, want: 0},
		{attempts: 1, want: 1 * time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 6, want: 32 * time.Second},
		{attempts: 7, want: 60 * time.Second},
		{attempts: 200, want: 60 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff(tc.attempts, maxBackoff); got != tc.want {
			t.Fatalf("attempts=%d: want %s got %s", tc.attempts, tc.want, got)
		}
	}
}

func TestJitterDeterministic(t *testing.T) {
	t.Parallel()

	maxJitter := 200 * time.Millisecond
	got := jitter(rand.New(rand.NewSource(1)), maxJitter)
	if got < 0 || got > maxJitter {
		t.Fatalf("jitter out of range: %s", got)
	}
	if again := jitter(rand.New(rand.NewSource(1)), maxJitter); again != got {
		t.Fatalf("expected deterministic jitter; got %s and %s", got, again)
	}
	if jitter(nil, maxJitter) != 0 {
		t.Fatalf("nil rand must yield zero jitter")
	}
}

func TestTruncateError(t *testing.T) {
	t.Parallel()

	if got := truncateError(nil, 10); got != "" {
		t.Fatalf("expected empty for nil error, got %q", got)
	}
	if got := truncateError(errors.New("hello world"), 5); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
	// "й" is two bytes; cutting inside it must drop the partial rune.
	if got := truncateError(errors.New("aй"), 2); got != "a" {
		t.Fatalf("expected %q, got %q", "a", got)
	}
}
