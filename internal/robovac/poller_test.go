package robovac

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerRefreshes(t *testing.T) {
	session := &fakeSession{data: map[string]any{"8": float64(50)}}
	v := newTestVacuum(session)

	var refreshes atomic.Int32
	poller := NewPoller(v, 5*time.Millisecond, nil, func(*Vacuum) {
		refreshes.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	poller.Run(ctx)

	if refreshes.Load() < 2 {
		t.Fatalf("expected immediate poll plus ticks, got %d", refreshes.Load())
	}
	if battery, ok := v.Battery(); !ok || battery != 50 {
		t.Fatalf("battery = %d (ok=%v), want 50", battery, ok)
	}
}

func TestPollerDefaultsInterval(t *testing.T) {
	v := newTestVacuum(&fakeSession{})
	poller := NewPoller(v, 0, nil, nil)
	if poller.interval != DefaultPollInterval {
		t.Fatalf("interval = %v, want %v", poller.interval, DefaultPollInterval)
	}
}
