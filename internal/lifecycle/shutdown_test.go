package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 5 * time.Second})

	var closed []string
	sm.RegisterCloser(CloserFunc(func() error {
		closed = append(closed, "first")
		return nil
	}))
	sm.RegisterCloser(CloserFunc(func() error {
		closed = append(closed, "second")
		return nil
	}))

	if !sm.Track() {
		t.Fatal("Track should succeed before shutdown")
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.Untrack()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("expected no executions in flight, got %d", sm.InFlightCount())
	}
	if strings.Join(closed, ",") != "second,first" {
		t.Errorf("closers should run in reverse order, got %v", closed)
	}
	if sm.Track() {
		t.Error("Track should fail after shutdown")
	}
	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("shutdown channel should be closed")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 100 * time.Millisecond})
	sm.Track()

	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "1 in-flight") {
		t.Fatalf("expected drain timeout error, got %v", err)
	}
}

func TestShutdown_OnlyOnce(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	calls := 0
	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error {
		calls++
		return boom
	}))

	first := sm.Shutdown(context.Background(), "first")
	second := sm.Shutdown(context.Background(), "second")
	if calls != 1 {
		t.Errorf("closer should run once, ran %d times", calls)
	}
	if !errors.Is(first, boom) || !errors.Is(second, boom) {
		t.Errorf("both calls should report the close error: %v, %v", first, second)
	}
}
