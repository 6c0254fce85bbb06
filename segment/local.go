package segment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pcstream/stream"
)

// Local reads a Store in the same process.
type Local struct {
	store    *Store
	eof      time.Duration
	interval time.Duration

	mtx     sync.Mutex
	cursors map[int]uint64
}

func NewLocal(store *Store, eof time.Duration) *Local {
	if eof <= 0 {
		eof = stream.DefaultEOFTimeout
	}

	return &Local{
		store:    store,
		eof:      eof,
		interval: stream.DefaultPollInterval,
		cursors:  make(map[int]uint64),
	}
}

func (l *Local) Connect(context.Context) error {
	return nil
}

func (l *Local) Count() int {
	return len(l.store.Registry())
}

func (l *Local) Descriptor(i int) (stream.Descriptor, error) {
	r := l.store.Registry()
	if !r.Valid(i) {
		return stream.Descriptor{}, fmt.Errorf("descriptor %d %w", i, stream.ErrorNoStream)
	}

	return r[i], nil
}

// Enable is a no-op, every stream of a store is readable.
func (l *Local) Enable(int, bool) error {
	return nil
}

func (l *Local) Pull(ctx context.Context, i int) ([]byte, error) {
	return stream.Poll(ctx, l.eof, l.interval, func() ([]byte, bool, error) {
		l.mtx.Lock()
		cursor := l.cursors[i]
		l.mtx.Unlock()

		buf, ok, err := l.store.Read(i, cursor)
		if err != nil || !ok {
			return nil, false, err
		}

		l.mtx.Lock()
		l.cursors[i] = buf.Seq
		l.mtx.Unlock()

		return buf.Data, true, nil
	})
}

func (l *Local) Close() error {
	return nil
}

func (l *Local) String() string {
	return "segment-local"
}
