package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/stream"

	"go.uber.org/zap"
)

const (
	DefaultSegmentDuration = 2000 * time.Millisecond
	DefaultTimeshiftDepth  = 30000 * time.Millisecond
	MinTimeshiftDepth      = 8000 * time.Millisecond
)

var (
	ErrorInvalidConfig = errors.New("invalid segment config")
	ErrorClosed        = errors.New("segment store closed")
)

type Config struct {
	SegmentDuration time.Duration
	TimeshiftDepth  time.Duration
}

// Validate rejects unusable durations and returns warnings for settings
// that let segments expire before a slow subscriber reads them.
func (c Config) Validate() ([]string, error) {
	if c.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment duration %v %w", c.SegmentDuration, ErrorInvalidConfig)
	}

	if c.TimeshiftDepth <= 0 {
		return nil, fmt.Errorf("timeshift depth %v %w", c.TimeshiftDepth, ErrorInvalidConfig)
	}

	var warnings []string

	if c.TimeshiftDepth <= 2*c.SegmentDuration {
		warnings = append(warnings, fmt.Sprintf("timeshift depth %v should exceed 2 x segment duration %v", c.TimeshiftDepth, c.SegmentDuration))
	}

	if c.TimeshiftDepth < MinTimeshiftDepth {
		warnings = append(warnings, fmt.Sprintf("timeshift depth %v below %v may drop segments", c.TimeshiftDepth, MinTimeshiftDepth))
	}

	return warnings, nil
}

// Buffer is one stored encoded buffer. Seq starts at 1 per stream.
type Buffer struct {
	Seq  uint64
	Data []byte
}

type segment struct {
	start time.Time
	first uint64
	bufs  [][]byte
}

func (s *segment) last() uint64 {
	return s.first + uint64(len(s.bufs)) - 1
}

type track struct {
	open      *segment
	published []*segment
	next      uint64
}

// Store keeps recent segments of every stream. Buffers become readable once
// their segment is published, that is when its duration has elapsed.
type Store struct {
	cfg      Config
	registry stream.Registry
	now      func() time.Time

	mtx    sync.Mutex
	tracks []*track
	closed bool
}

func NewStore(cfg Config, r stream.Registry) (*Store, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	for _, w := range warnings {
		log.Warn(w)
	}

	s := &Store{
		cfg:      cfg,
		registry: r,
		now:      time.Now,
		tracks:   make([]*track, len(r)),
	}

	for i := range s.tracks {
		s.tracks[i] = &track{next: 1}
	}

	return s, nil
}

func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) Registry() stream.Registry {
	return s.registry
}

// Append adds buf to the open segment of stream index.
func (s *Store) Append(index int, buf []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return ErrorClosed
	}

	if !s.registry.Valid(index) {
		return fmt.Errorf("append %d %w", index, stream.ErrorNoStream)
	}

	now := s.now()
	t := s.tracks[index]

	if t.open == nil {
		t.open = &segment{start: now, first: t.next}
	}

	t.open.bufs = append(t.open.bufs, buf)
	t.next++

	s.rotate(t, now)

	return nil
}

// Tick publishes segments whose duration elapsed without new appends.
func (s *Store) Tick() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := s.now()

	for _, t := range s.tracks {
		s.rotate(t, now)
	}
}

func (s *Store) rotate(t *track, now time.Time) {
	if t.open != nil && now.Sub(t.open.start) >= s.cfg.SegmentDuration {
		t.published = append(t.published, t.open)
		t.open = nil
	}

	for len(t.published) > 1 && now.Sub(t.published[0].start) > s.cfg.TimeshiftDepth {
		t.published[0] = nil
		t.published = t.published[1:]
	}
}

// Read returns the first published buffer after cursor. A zero cursor starts
// at the newest published segment. A cursor behind the retention window
// resumes at the oldest retained buffer. Once the store is closed and the
// cursor has reached the end, Read returns stream.ErrorEndOfStream.
func (s *Store) Read(index int, cursor uint64) (Buffer, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.registry.Valid(index) {
		return Buffer{}, false, fmt.Errorf("read %d %w", index, stream.ErrorNoStream)
	}

	t := s.tracks[index]

	if len(t.published) == 0 {
		if s.closed {
			return Buffer{}, false, stream.ErrorEndOfStream
		}

		return Buffer{}, false, nil
	}

	oldest := t.published[0]
	newest := t.published[len(t.published)-1]

	want := cursor + 1

	switch {
	case cursor == 0:
		want = newest.first
	case want < oldest.first:
		log.Warn("cursor behind retention window",
			zap.Int("stream", index),
			zap.Uint64("cursor", cursor),
			zap.Uint64("oldest", oldest.first))

		want = oldest.first
	}

	if want > newest.last() {
		if s.closed {
			return Buffer{}, false, stream.ErrorEndOfStream
		}

		return Buffer{}, false, nil
	}

	for _, seg := range t.published {
		if want <= seg.last() {
			return Buffer{Seq: want, Data: seg.bufs[want-seg.first]}, true, nil
		}
	}

	return Buffer{}, false, nil
}

// Published returns the number of published segments of stream index.
func (s *Store) Published(index int) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.registry.Valid(index) {
		return 0
	}

	return len(s.tracks[index].published)
}

// Close publishes every open segment and refuses further appends. Readers
// can drain what is retained.
func (s *Store) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return
	}

	s.closed = true

	for _, t := range s.tracks {
		if t.open != nil {
			t.published = append(t.published, t.open)
			t.open = nil
		}
	}
}

func (s *Store) Closed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.closed
}
