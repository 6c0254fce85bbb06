package segment

import (
	"fmt"

	"pcstream/sink"
	"pcstream/util/timer"

	"go.uber.org/atomic"
)

// Sink uploads buffers into a Store. It never applies backpressure.
type Sink struct {
	store  *Store
	ticker timer.Ticker
	closed atomic.Bool
}

// NewSink publishes idle segments on a ticker running at a quarter of the
// segment duration.
func NewSink(store *Store) *Sink {
	return &Sink{
		store:  store,
		ticker: timer.NewTicker(store.Config().SegmentDuration/4, store.Tick),
	}
}

func (s *Sink) CanFeed(int64, bool) bool {
	return !s.closed.Load()
}

func (s *Sink) Feed(buf []byte, index int) error {
	if s.closed.Load() {
		return sink.ErrorClosed
	}

	if err := s.store.Append(index, buf); err != nil {
		return fmt.Errorf("failed to append %w", err)
	}

	return nil
}

// Close flushes the open segments. The store stays readable.
func (s *Sink) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	s.ticker.Stop()
	s.store.Close()

	return nil
}

func (s *Sink) Store() *Store {
	return s.store
}

func (s *Sink) String() string {
	return "segment-sink"
}
