package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/stream"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const maxDatagram = 64 << 10

// Transport listens for the datagrams of a Sink. Streams are discovered from
// the first manifest.
type Transport struct {
	opts     Options
	eof      time.Duration
	interval time.Duration
	conn     *net.UDPConn
	dec      *fecDecoder

	mtx      sync.Mutex
	registry stream.Registry
	enabled  map[int]bool
	queues   map[int][][]byte
	manifest chan struct{}

	closed  atomic.Bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewTransport binds addr and starts reading.
func NewTransport(addr string, eof time.Duration, opts ...Option) (*Transport, error) {
	if eof <= 0 {
		eof = stream.DefaultEOFTimeout
	}

	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}

	t := &Transport{
		opts:     newOptions(opts...),
		eof:      eof,
		interval: stream.DefaultPollInterval,
		conn:     conn,
		dec:      newFECDecoder(DefaultReassemblyTimeout),
		enabled:  make(map[int]bool),
		queues:   make(map[int][][]byte),
		manifest: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go t.read()

	return t, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *Transport) read() {
	defer close(t.done)

	buf := make([]byte, maxDatagram)

	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if !t.closed.Load() {
				log.Warn("udp read failed", zap.Error(err))
			}

			return
		}

		if n == 0 {
			continue
		}

		if buf[0] == typeManifest {
			t.onManifest(string(buf[1:n]))

			continue
		}

		h, err := parseHeader(buf[:n])
		if err != nil {
			log.Debug("bad datagram", zap.Int("size", n), zap.Error(err))

			continue
		}

		if !t.accepts(int(h.stream)) {
			continue
		}

		payload := make([]byte, n-headerSize)
		copy(payload, buf[headerSize:n])

		index, data, ok, err := t.dec.decode(h, payload, time.Now())
		if err != nil {
			log.Debug("fec decode failed", zap.Uint16("stream", h.stream), zap.Uint32("seq", h.seq), zap.Error(err))

			continue
		}

		if ok {
			t.push(index, data)
		}
	}
}

func (t *Transport) onManifest(s string) {
	r, err := stream.ParseRegistry(s)
	if err != nil {
		log.Warn("bad manifest", zap.Error(err))

		return
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.registry != nil {
		return
	}

	t.registry = r
	close(t.manifest)
}

// accepts reports whether packets of stream i are kept. Before any Enable
// every stream is kept.
func (t *Transport) accepts(i int) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if len(t.enabled) == 0 {
		return true
	}

	return t.enabled[i]
}

func (t *Transport) push(i int, data []byte) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	q := t.queues[i]
	if len(q) >= t.opts.QueueLen {
		q = q[1:]
		t.dropped.Inc()
	}

	t.queues[i] = append(q, data)
}

func (t *Transport) pop(i int) ([]byte, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	q := t.queues[i]
	if len(q) == 0 {
		return nil, false
	}

	data := q[0]
	q[0] = nil
	t.queues[i] = q[1:]

	return data, true
}

func (t *Transport) Connect(ctx context.Context) error {
	timer := time.NewTimer(t.opts.ManifestWait)
	defer timer.Stop()

	select {
	case <-t.manifest:
		return nil
	case <-timer.C:
		return errors.Wrap(stream.ErrorNotReady, "no manifest")
	case <-t.done:
		return errors.Wrap(stream.ErrorNotReady, "transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
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
		return stream.Descriptor{}, errors.Wrapf(stream.ErrorNoStream, "descriptor %d", i)
	}

	return t.registry[i], nil
}

func (t *Transport) Enable(i int, on bool) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if on {
		t.enabled[i] = true
	} else {
		delete(t.enabled, i)
	}

	return nil
}

func (t *Transport) Pull(ctx context.Context, i int) ([]byte, error) {
	return stream.Poll(ctx, t.eof, t.interval, func() ([]byte, bool, error) {
		if data, ok := t.pop(i); ok {
			return data, true, nil
		}

		if t.closed.Load() {
			return nil, false, stream.ErrorEndOfStream
		}

		return nil, false, nil
	})
}

// Dropped is the number of buffers evicted from full queues.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Transport) Close() error {
	if !t.closed.CAS(false, true) {
		return nil
	}

	err := t.conn.Close()
	<-t.done

	return errors.Wrap(err, "close")
}

func (t *Transport) String() string {
	return "udp-transport(" + t.conn.LocalAddr().String() + ")"
}
