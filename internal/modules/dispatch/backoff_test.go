package dispatch

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	b := newBackoff(2*time.Second, 30*time.Second, 2)
	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Second)
		}
	}
}

func TestBackoff_MultiplierBelowOne(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, 0.5)
	for i := 0; i < 3; i++ {
		if got := b.Next(); got != time.Second {
			t.Fatalf("step %d: got %v, want constant 1s", i, got)
		}
	}
}
