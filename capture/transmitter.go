package capture

import (
	"errors"
	"fmt"
	"time"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"
	plmxs "pcstream/prometheus"
	"pcstream/sink"
	"pcstream/stats"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrorSinkNotReady = errors.New("sink refused to feed")

// Transmitter drains one encoder into the sink under one stream index.
type Transmitter struct {
	index   int
	enc     codec.Encoder
	sink    sink.Sink
	monitor *plmxs.Monitor

	stats      *stats.Set
	totalBytes int64
	start      time.Time
	end        time.Time

	stopped atomic.Bool
}

func NewTransmitter(index int, enc codec.Encoder, s sink.Sink, m *plmxs.Monitor) *Transmitter {
	return &Transmitter{
		index:   index,
		enc:     enc,
		sink:    s,
		monitor: m,
		stats:   stats.NewSet(fmt.Sprintf("transmitter %d", index), "encode", "encodedsize", "send"),
	}
}

// Run loops until Stop or until the encoder is closed and drained.
func (t *Transmitter) Run() error {
	t.start = time.Now()
	defer func() { t.end = time.Now() }()

	for !t.stopped.Load() {
		t0 := time.Now()

		if !t.enc.Ready(true) {
			if t.enc.Done() {
				return nil
			}

			continue
		}

		buf := t.enc.Take()
		if buf == nil {
			continue
		}

		t1 := time.Now()
		t.stats.Add("encode", t1.Sub(t0).Seconds())
		t.stats.Add("encodedsize", float64(len(buf)))
		t.monitor.ObserveStage("encode", t.index, t1.Sub(t0).Seconds())

		for !sink.Gate(t.sink, frame.NowMillis(), t.index, true) {
			if t.stopped.Load() {
				return nil
			}

			if !sink.Retry(t.sink) {
				return fmt.Errorf("stream %d %w", t.index, ErrorSinkNotReady)
			}
		}

		if err := t.sink.Feed(buf, t.index); err != nil {
			return fmt.Errorf("failed to feed stream %d %w", t.index, err)
		}

		d := time.Since(t1).Seconds()
		t.stats.Add("send", d)
		t.totalBytes += int64(len(buf))
		t.monitor.ObserveStage("send", t.index, d)
		t.monitor.AddSent(t.index, len(buf))
	}

	return nil
}

// Stop is idempotent and may be called before Run.
func (t *Transmitter) Stop() {
	t.stopped.Store(true)
}

func (t *Transmitter) Index() int {
	return t.index
}

func (t *Transmitter) TotalBytes() int64 {
	return t.totalBytes
}

// Stats must only be read after Run returned.
func (t *Transmitter) Stats() *stats.Set {
	return t.stats
}

func (t *Transmitter) Report() {
	t.stats.Report()

	if t.start.IsZero() || t.end.IsZero() {
		return
	}

	log.Info("transmitter bandwidth",
		zap.Int("stream", t.index),
		zap.Int64("bytes", t.totalBytes),
		zap.String("rate", stats.FormatRate(t.totalBytes, t.end.Sub(t.start).Seconds())))
}
