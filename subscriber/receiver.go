package subscriber

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"
	plmxs "pcstream/prometheus"
	"pcstream/stats"
	"pcstream/stream"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Consumer takes ownership of every frame fed to it.
type Consumer interface {
	Feed(*frame.Frame)
}

// Persister stores raw received buffers.
type Persister interface {
	Save(index int, seq uint64, buf []byte) error
}

// Receiver pulls, decodes and forwards the frames of one stream.
type Receiver struct {
	index      int
	descriptor stream.Descriptor
	transport  stream.Transport
	decoder    codec.Decoder
	consumer   Consumer
	persister  Persister
	count      int
	monitor    *plmxs.Monitor

	state    atomic.Int32
	stats    *stats.Set
	frames   int
	received int
	seq      uint64
	bytes    int64
	start    time.Time
	end      time.Time
}

func NewReceiver(index int, d stream.Descriptor, t stream.Transport, opts Options) *Receiver {
	return &Receiver{
		index:      index,
		descriptor: d,
		transport:  t,
		decoder:    codec.NewDecoder(),
		consumer:   opts.Consumer,
		persister:  opts.Persister,
		count:      opts.Count,
		monitor:    opts.Monitor,
		stats: stats.NewSet(fmt.Sprintf("receiver %d", index),
			"recv", "decode", "latency", "completeloop", "receivedsize"),
	}
}

func (r *Receiver) setState(s State) {
	r.state.Store(int32(s))
	r.monitor.SetReceiverState(r.index, int(s))
}

func (r *Receiver) State() State {
	return State(r.state.Load())
}

// Run loops until Stop, end of stream, ctx cancellation or the frame count.
// A transport failure other than end of stream is returned.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.state.CAS(int32(StateIdle), int32(StateRunning)) {
		return nil
	}

	r.monitor.SetReceiverState(r.index, int(StateRunning))
	r.start = time.Now()

	defer func() {
		r.end = time.Now()
		r.decoder.Close()
		r.setState(StateStopped)
	}()

	for r.State() == StateRunning {
		t0 := time.Now()

		buf, err := r.transport.Pull(ctx, r.index)
		if err != nil {
			if errors.Is(err, stream.ErrorEndOfStream) || errors.Is(err, context.Canceled) {
				log.Info("receiver end of stream", zap.Int("stream", r.index), zap.Int("frames", r.frames))

				return nil
			}

			return fmt.Errorf("failed to pull stream %d %w", r.index, err)
		}

		if len(buf) == 0 {
			log.Info("receiver got empty buffer", zap.Int("stream", r.index))

			return nil
		}

		t1 := time.Now()
		r.stats.Add("recv", t1.Sub(t0).Seconds())
		r.stats.Add("receivedsize", float64(len(buf)))
		r.bytes += int64(len(buf))
		r.monitor.AddReceived(r.index, len(buf))

		if r.persister != nil {
			r.seq++

			if err := r.persister.Save(r.index, r.seq, buf); err != nil {
				log.Warn("failed to persist buffer", zap.Int("stream", r.index), zap.Uint64("seq", r.seq), zap.Error(err))
			}
		}

		r.decoder.Submit(buf)

		ok := r.decoder.Ready(false)
		t2 := time.Now()
		r.stats.Add("decode", t2.Sub(t1).Seconds())
		r.monitor.ObserveStage("decode", r.index, t2.Sub(t1).Seconds())

		if ok {
			f := r.decoder.Take()
			r.stats.Add("latency", float64(frame.NowMillis()-f.Timestamp)/1000)

			if r.consumer != nil {
				r.consumer.Feed(f)
			} else {
				f.Release()
			}

			r.frames++
		} else {
			log.Warn("decoder produced no frame", zap.Int("stream", r.index), zap.Int("size", len(buf)))
			r.monitor.IncDecodeFailure(r.index)
		}

		r.stats.Add("completeloop", time.Since(t0).Seconds())

		r.received++
		if r.count > 0 && r.received >= r.count {
			return nil
		}
	}

	return nil
}

// Stop is idempotent. The receiver observes it before its next pull.
func (r *Receiver) Stop() {
	for {
		s := r.state.Load()
		if s == int32(StateStopped) {
			return
		}

		if r.state.CAS(s, int32(StateStopped)) {
			r.monitor.SetReceiverState(r.index, int(StateStopped))

			return
		}
	}
}

func (r *Receiver) Index() int {
	return r.index
}

func (r *Receiver) Descriptor() stream.Descriptor {
	return r.descriptor
}

// Frames counts decoded frames.
func (r *Receiver) Frames() int {
	return r.frames
}

// Received counts pulled buffers, decodable or not. The count limit applies
// to it.
func (r *Receiver) Received() int {
	return r.received
}

// Stats must only be read after Run returned.
func (r *Receiver) Stats() *stats.Set {
	return r.stats
}

func (r *Receiver) Report() {
	r.stats.Report()

	if r.start.IsZero() || r.end.IsZero() {
		return
	}

	log.Info("receiver bandwidth",
		zap.Int("stream", r.index),
		zap.String("descriptor", r.descriptor.String()),
		zap.Int64("bytes", r.bytes),
		zap.String("rate", stats.FormatRate(r.bytes, r.end.Sub(r.start).Seconds())))
}
