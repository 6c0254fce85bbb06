package broker

import (
	"fmt"
	"strconv"

	"pcstream/sink"
	"pcstream/stream"

	"go.uber.org/atomic"
)

// Topic names the bus topic carrying one stream.
func Topic(prefix string, d stream.Descriptor) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return fmt.Sprintf("%s.%s.%d.%d", prefix, d.FourCC, d.Tile, d.Quality)
}

// Sink publishes every buffer on the topic of its stream.
type Sink struct {
	broker   Broker
	prefix   string
	registry stream.Registry
	topics   []string
	closed   atomic.Bool
}

func NewSink(b Broker, prefix string, r stream.Registry) *Sink {
	s := &Sink{
		broker:   b,
		prefix:   prefix,
		registry: r,
		topics:   make([]string, len(r)),
	}

	for i, d := range r {
		s.topics[i] = Topic(prefix, d)
	}

	return s
}

// CanFeed never waits, the broker client buffers on its own.
func (s *Sink) CanFeed(int64, bool) bool {
	return !s.closed.Load()
}

func (s *Sink) Feed(buf []byte, index int) error {
	if s.closed.Load() {
		return sink.ErrorClosed
	}

	if !s.registry.Valid(index) {
		return sink.ErrorInvalidStream
	}

	d := s.registry[index]

	m := &Message{
		Header: map[string]string{
			HeaderFourCC:  d.FourCC.String(),
			HeaderTile:    strconv.FormatUint(uint64(d.Tile), 10),
			HeaderQuality: strconv.FormatUint(uint64(d.Quality), 10),
			HeaderIndex:   strconv.Itoa(index),
		},
		Body: buf,
	}

	if err := s.broker.Publish(s.topics[index], m); err != nil {
		return fmt.Errorf("failed to publish stream %d %w", index, err)
	}

	return nil
}

func (s *Sink) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	if err := s.broker.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s %w", s.broker, err)
	}

	return nil
}

func (s *Sink) String() string {
	return "bus-sink(" + s.broker.String() + ")"
}

func (s *Sink) Topics() []string {
	return s.topics
}
