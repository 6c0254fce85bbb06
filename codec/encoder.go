package codec

import (
	"fmt"
	"sync"
	"time"

	"pcstream/frame"
	"pcstream/log"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

type job struct {
	ts     int64
	points []frame.Point
}

type encoder struct {
	params Params
	zenc   *zstd.Encoder

	in     chan *job
	inMtx  sync.RWMutex
	closed bool

	mtx   sync.Mutex
	out   [][]byte
	done  bool
	avail chan struct{}

	wg sync.WaitGroup
}

// NewEncoder starts a cwi1 encoder worker for p.
func NewEncoder(p Params) (Encoder, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(p.JPEGQuality)), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder %w", err)
	}

	e := &encoder{
		params: p,
		zenc:   zenc,
		in:     make(chan *job, DefaultQueueLen),
		avail:  make(chan struct{}, 1),
	}

	e.wg.Add(1)

	go e.run()

	return e, nil
}

func (e *encoder) Params() Params {
	return e.params
}

func (e *encoder) run() {
	defer e.wg.Done()

	for j := range e.in {
		buf, err := encodePoints(j.ts, j.points, e.params, e.zenc)
		if err != nil {
			log.Warn("encode failed", zap.Uint32("tile", e.params.Tile), zap.Error(err))

			continue
		}

		e.mtx.Lock()
		e.out = append(e.out, buf)
		e.mtx.Unlock()

		e.signal()
	}

	e.mtx.Lock()
	e.done = true
	e.mtx.Unlock()

	e.signal()
}

func (e *encoder) signal() {
	select {
	case e.avail <- struct{}{}:
	default:
	}
}

func (e *encoder) Submit(f *frame.Frame) {
	j := &job{
		ts:     f.Timestamp,
		points: selectPoints(f.Points, e.params.Tile, e.params.VoxelSize),
	}

	e.inMtx.RLock()
	defer e.inMtx.RUnlock()

	if e.closed {
		return
	}

	e.in <- j
}

// Ready waits at most DefaultReadyWait when wait is set.
func (e *encoder) Ready(wait bool) bool {
	var timeout <-chan time.Time

	for {
		e.mtx.Lock()
		n, done := len(e.out), e.done
		e.mtx.Unlock()

		if n > 0 {
			return true
		}

		if done || !wait {
			return false
		}

		if timeout == nil {
			timeout = time.After(DefaultReadyWait)
		}

		select {
		case <-e.avail:
		case <-timeout:
			return false
		}
	}
}

func (e *encoder) Take() []byte {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if len(e.out) == 0 {
		return nil
	}

	buf := e.out[0]
	e.out[0] = nil
	e.out = e.out[1:]

	return buf
}

func (e *encoder) Done() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return e.done && len(e.out) == 0
}

// Close stops accepting frames, drains the queue and waits for the worker.
func (e *encoder) Close() {
	e.inMtx.Lock()
	if e.closed {
		e.inMtx.Unlock()

		return
	}

	e.closed = true
	close(e.in)
	e.inMtx.Unlock()

	e.wg.Wait()
	e.zenc.Close()
}

type decoder struct {
	mtx   sync.Mutex
	ready []*frame.Frame
}

func NewDecoder() Decoder {
	return &decoder{}
}

func (d *decoder) Submit(data []byte) {
	f, err := Decode(data)
	if err != nil {
		log.Warn("decode failed", zap.Int("size", len(data)), zap.Error(err))

		return
	}

	d.mtx.Lock()
	d.ready = append(d.ready, f)
	d.mtx.Unlock()
}

// Ready does not block, decoding is done inside Submit.
func (d *decoder) Ready(bool) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return len(d.ready) > 0
}

func (d *decoder) Take() *frame.Frame {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if len(d.ready) == 0 {
		return nil
	}

	f := d.ready[0]
	d.ready = d.ready[1:]

	return f
}

func (d *decoder) Close() {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	for _, f := range d.ready {
		f.Release()
	}

	d.ready = nil
}
