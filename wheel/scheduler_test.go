package wheel

import (
	"testing"
	"time"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler(8, 20*time.Millisecond)
	defer s.Close()

	timer := s.Register(25 * time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire within 2s")
	}
}

func TestSchedulerStopPreventsFire(t *testing.T) {
	s := NewScheduler(8, 20*time.Millisecond)
	defer s.Close()

	timer := s.Register(100 * time.Millisecond)
	timer.Stop()

	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerCloseIsIdempotent(t *testing.T) {
	s := NewScheduler(8, 10*time.Millisecond)
	s.Close()
	s.Close() // must not panic
}
