package runtime

import "sync/atomic"

// seqGen numbers the events of one run. Nodes may publish from their own
// goroutines, so it is safe for concurrent use.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}

// Reset restarts numbering for a new run.
func (s *seqGen) Reset() {
	s.counter.Store(0)
}
