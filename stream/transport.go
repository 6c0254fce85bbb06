package stream

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultEOFTimeout   = 10 * time.Second
)

var (
	ErrorEndOfStream = errors.New("end of stream")
	ErrorNotReady    = errors.New("endpoint not ready")
	ErrorNoStream    = errors.New("no such stream")
)

// Transport is the subscriber side of a stream transport. Pull may be called
// concurrently for different stream indices.
type Transport interface {
	Connect(ctx context.Context) error
	Count() int
	Descriptor(index int) (Descriptor, error)
	Enable(index int, on bool) error
	Pull(ctx context.Context, index int) ([]byte, error)
	Close() error
	String() string
}

// Poll calls fn every interval until it reports done, returns an error, or
// timeout elapses. A timeout yields ErrorEndOfStream.
func Poll(ctx context.Context, timeout, interval time.Duration, fn func() ([]byte, bool, error)) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		data, done, err := fn()
		if err != nil {
			return nil, err
		}

		if done {
			return data, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrorEndOfStream
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
