package wheel

import (
	"sync"
	"time"
)

// A Scheduler drives a Wheel with a single background goroutine that ticks
// once per Resolution (default 1s), and exposes a channel-based Timer API
// for callers that want an expiry notification rather than a poll loop.
//
// Grounded on original_source/src/timer/mod.rs's TimerExecutor, which pairs
// a Mutex-guarded wheel with a dedicated OS thread; here the guard is a
// sync.Mutex and the thread is a goroutine driven by a time.Ticker.
type Scheduler struct {
	mu         sync.Mutex
	wheel      *Wheel[uint64]
	fired      map[uint64]chan struct{}
	nextID     uint64
	resolution time.Duration

	stop chan struct{}
	once sync.Once
}

// NewScheduler starts a Scheduler with the given slot count (see
// DefaultSlots) and tick resolution. A non-positive resolution defaults to
// one second, matching spec.md §4.B.
func NewScheduler(slots int, resolution time.Duration) *Scheduler {
	if resolution <= 0 {
		resolution = time.Second
	}
	s := &Scheduler{
		wheel:      New[uint64](slots),
		fired:      make(map[uint64]chan struct{}),
		resolution: resolution,
		stop:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	t := time.NewTicker(s.resolution)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ready := s.wheel.Tick()
	var chans []chan struct{}
	for _, id := range ready {
		if c, ok := s.fired[id]; ok {
			chans = append(chans, c)
			delete(s.fired, id)
		}
	}
	s.mu.Unlock()

	for _, c := range chans {
		close(c)
	}
}

// A Timer represents one pending wheel registration. Its channel closes
// once the timer's timeout has elapsed.
type Timer struct {
	C <-chan struct{}

	s  *Scheduler
	id uint64
}

// Stop releases the timer's bookkeeping if it has not yet fired. It is safe
// to call Stop after the timer has already fired.
func (t *Timer) Stop() {
	t.s.mu.Lock()
	delete(t.s.fired, t.id)
	t.s.mu.Unlock()
}

// Register arms a timer that fires after timeout. A timeout of zero or less
// fires on the scheduler's very next tick, not immediately (spec.md §4.B).
func (s *Scheduler) Register(timeout time.Duration) *Timer {
	if timeout < 0 {
		timeout = 0
	}
	secs := uint64(timeout / s.resolution)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	c := make(chan struct{})
	s.fired[id] = c
	s.wheel.Add(secs, id)
	s.mu.Unlock()

	return &Timer{C: c, s: s, id: id}
}

// Close stops the scheduler's background goroutine. It is idempotent.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.stop) })
}
