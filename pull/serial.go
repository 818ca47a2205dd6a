package pull

import (
	"sync"

	"github.com/gammazero/deque"
)

// Serial runs steps one at a time, in the order they were submitted. A step
// submitted while another one is running, whether from another goroutine or
// from inside the running step, is queued and run by the goroutine that is
// already draining, after the current step returns. Steps therefore never
// overlap and never nest, which lets a stream keep its state in plain fields.
//
// The zero value is ready to use.
type Serial struct {
	mu      sync.Mutex
	steps   deque.Deque[func()]
	running bool
}

// Do runs fn, or queues it if a step is already running.
func (s *Serial) Do(fn func()) {
	s.mu.Lock()
	s.steps.PushBack(fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for s.steps.Len() > 0 {
		step := s.steps.PopFront()
		s.mu.Unlock()
		step()
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}
