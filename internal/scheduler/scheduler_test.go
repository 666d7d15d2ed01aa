package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerStartStopWithoutSources(t *testing.T) {
	s := New(nil, nil, nil, 10*time.Millisecond, nil)
	s.Start()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return in time")
	}
}

func TestSchedulerTickToleratesNilSources(t *testing.T) {
	s := New(nil, nil, nil, time.Second, nil)
	s.tick(time.Second) // must not panic
}
