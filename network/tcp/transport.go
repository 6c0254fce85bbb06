package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pcstream/network"
	"pcstream/stream"
)

var ErrorStreamMismatch = errors.New("buffer tagged with another stream")

// Transport is the subscriber side of Sink. Every Pull opens a connection.
type Transport struct {
	addr     string
	eof      time.Duration
	interval time.Duration
	mp       *msgParser
	dialer   net.Dialer

	mtx      sync.Mutex
	registry stream.Registry
	enabled  map[int]bool
}

func NewTransport(addr string, eof time.Duration) *Transport {
	if eof <= 0 {
		eof = stream.DefaultEOFTimeout
	}

	return &Transport{
		addr:     addr,
		eof:      eof,
		interval: stream.DefaultPollInterval,
		mp:       newMsgParser(network.DefaultMaxFrameLen),
		dialer:   net.Dialer{Timeout: DefaultRequestWait},
		enabled:  make(map[int]bool),
	}
}

func (t *Transport) request(ctx context.Context, index int32, wait time.Duration) ([]byte, error) {
	c, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %w", t.addr, err)
	}

	defer c.Close()

	var req [4]byte
	binary.BigEndian.PutUint32(req[:], uint32(index))

	msg, err := t.mp.Pack(req[:])
	if err != nil {
		return nil, err
	}

	if _, err := c.Write(msg); err != nil {
		return nil, fmt.Errorf("failed to send request %w", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(wait))

	return t.mp.Read(c)
}

func (t *Transport) Connect(ctx context.Context) error {
	data, err := t.request(ctx, describeRequest, DefaultRequestWait)
	if err != nil {
		return fmt.Errorf("%v %w", err, stream.ErrorNotReady)
	}

	r, err := stream.ParseRegistry(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse registry %w", err)
	}

	t.mtx.Lock()
	t.registry = r
	t.mtx.Unlock()

	return nil
}

func (t *Transport) Count() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return len(t.registry)
}

func (t *Transport) Descriptor(i int) (stream.Descriptor, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !t.registry.Valid(i) {
		return stream.Descriptor{}, fmt.Errorf("descriptor %d %w", i, stream.ErrorNoStream)
	}

	return t.registry[i], nil
}

// Enable is recorded only, a request names its stream.
func (t *Transport) Enable(i int, on bool) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.enabled[i] = on

	return nil
}

func (t *Transport) Pull(ctx context.Context, i int) ([]byte, error) {
	return stream.Poll(ctx, t.eof, t.interval, func() ([]byte, bool, error) {
		data, err := t.request(ctx, int32(i), DefaultRequestWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}

			return nil, false, nil
		}

		if len(data) < 4 {
			return nil, false, ErrorMsgTooShort
		}

		if int(binary.BigEndian.Uint32(data)) != i {
			return nil, false, ErrorStreamMismatch
		}

		return data[4:], true, nil
	})
}

func (t *Transport) Close() error {
	return nil
}

func (t *Transport) String() string {
	return "tcp-transport(" + t.addr + ")"
}
