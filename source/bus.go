package source

import (
	"context"
	"fmt"
	"sync"

	"pcstream/broker"
	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultBusQueue = 4

// Bus turns buffers consumed from a broker topic into frames. When the queue
// is full the oldest frame is dropped.
type Bus struct {
	broker broker.Broker
	topic  string

	queue   chan *frame.Frame
	mtx     sync.Mutex
	done    chan struct{}
	err     error
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus connects b and starts consuming topic in the background.
func NewBus(b broker.Broker, topic string, queue int) (*Bus, error) {
	if queue <= 0 {
		queue = DefaultBusQueue
	}

	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect %s %w", b, err)
	}

	s := &Bus{
		broker: b,
		topic:  topic,
		queue:  make(chan *frame.Frame, queue),
		done:   make(chan struct{}),
	}

	h := broker.Handler(s.handle)

	go func() {
		defer close(s.done)

		if err := b.Subscribe(topic, &h); err != nil && !s.closed.Load() {
			log.Error("bus subscription ended", zap.String("topic", topic), zap.Error(err))

			s.mtx.Lock()
			s.err = err
			s.mtx.Unlock()
		}
	}()

	return s, nil
}

func (s *Bus) handle(e broker.Event) error {
	f, err := codec.Decode(e.Message().Body)
	if err != nil {
		return fmt.Errorf("failed to decode bus message %w", err)
	}

	s.push(f)

	return nil
}

func (s *Bus) push(f *frame.Frame) {
	for {
		select {
		case s.queue <- f:
			return
		default:
		}

		select {
		case old := <-s.queue:
			old.Release()
			s.dropped.Inc()
		default:
		}
	}
}

// Acquire waits for the next frame. It returns ErrorExhausted once the
// subscription has ended and the queue is empty.
func (s *Bus) Acquire(ctx context.Context) (*frame.Frame, error) {
	select {
	case f := <-s.queue:
		return f, nil
	default:
	}

	select {
	case f := <-s.queue:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case f := <-s.queue:
			return f, nil
		default:
		}

		s.mtx.Lock()
		err := s.err
		s.mtx.Unlock()

		if err != nil {
			return nil, fmt.Errorf("failed to consume %s %w", s.topic, err)
		}

		return nil, frame.ErrorExhausted
	}
}

func (s *Bus) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects the broker and releases queued frames.
func (s *Bus) Close() error {
	var err error

	s.once.Do(func() {
		s.closed.Store(true)
		err = s.broker.Disconnect()

		<-s.done

		for {
			select {
			case f := <-s.queue:
				f.Release()
			default:
				return
			}
		}
	})

	if err != nil {
		return fmt.Errorf("failed to disconnect %s %w", s.broker, err)
	}

	return nil
}

func (s *Bus) String() string {
	return "bus(" + s.topic + ")"
}
