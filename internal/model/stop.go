package model

import "sync"

// StopFlag is the shared cooperative cancellation token. It is polled at safe
// points (line boundaries, queue operations) and never interrupts a record
// mid-write. The zero value is ready to use.
type StopFlag struct {
	once sync.Once
	mu   sync.Mutex
	ch   chan struct{}
}

func (s *StopFlag) done() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Signal raises the flag. It is safe to call more than once.
func (s *StopFlag) Signal() {
	ch := s.done()
	s.once.Do(func() { close(ch) })
}

// Stopped reports whether the flag has been raised.
func (s *StopFlag) Stopped() bool {
	select {
	case <-s.done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the flag is raised.
func (s *StopFlag) Done() <-chan struct{} {
	return s.done()
}
