package sink

import (
	"errors"
	"sync"

	"pcstream/stream"

	"go.uber.org/atomic"
)

var (
	ErrorInvalidStream = errors.New("invalid stream index")
	ErrorClosed        = errors.New("sink closed")
)

// Sink accepts encoded buffers tagged by stream index. CanFeed with wait set
// blocks until the transport will take the next buffer. Feed may be called
// concurrently for different stream indices.
type Sink interface {
	CanFeed(timestamp int64, wait bool) bool
	Feed(buf []byte, index int) error
	Close() error
	String() string
}

// Waiter is implemented by sinks whose CanFeed(ts, true) wakes up after a
// bounded wait while still open, so callers can notice a stop. A false
// CanFeed from such a sink means retry unless Closed reports true. For
// every other sink a false CanFeed means it will never take a buffer.
type Waiter interface {
	Closed() bool
}

// StreamGate is implemented by sinks whose readiness differs per stream.
type StreamGate interface {
	CanFeedStream(timestamp int64, index int, wait bool) bool
}

// Gate asks s whether it will take the next buffer of stream index.
func Gate(s Sink, timestamp int64, index int, wait bool) bool {
	if g, ok := s.(StreamGate); ok {
		return g.CanFeedStream(timestamp, index, wait)
	}

	return s.CanFeed(timestamp, wait)
}

// Retry reports whether a refused gate on s may be tried again.
func Retry(s Sink) bool {
	w, ok := s.(Waiter)

	return ok && !w.Closed()
}

// Noop discards buffers. It is always ready.
type Noop struct {
	registry stream.Registry
	record   bool

	mtx      sync.Mutex
	counts   map[int]int
	recorded map[int][][]byte
	closed   atomic.Bool
}

func NewNoop(r stream.Registry, record bool) *Noop {
	return &Noop{
		registry: r,
		record:   record,
		counts:   make(map[int]int),
		recorded: make(map[int][][]byte),
	}
}

func (n *Noop) CanFeed(int64, bool) bool {
	return !n.closed.Load()
}

func (n *Noop) Feed(buf []byte, index int) error {
	if n.closed.Load() {
		return ErrorClosed
	}

	if n.registry != nil && !n.registry.Valid(index) {
		return ErrorInvalidStream
	}

	n.mtx.Lock()
	defer n.mtx.Unlock()

	n.counts[index]++

	if n.record {
		n.recorded[index] = append(n.recorded[index], buf)
	}

	return nil
}

// Count returns the number of buffers fed for index.
func (n *Noop) Count(index int) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	return n.counts[index]
}

// Recorded returns the buffers fed for index, in order, when recording.
func (n *Noop) Recorded(index int) [][]byte {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	return append([][]byte(nil), n.recorded[index]...)
}

func (n *Noop) Close() error {
	n.closed.Store(true)

	return nil
}

func (n *Noop) String() string {
	return "noop-sink"
}
