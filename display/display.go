package display

import (
	"context"
	"time"

	"pcstream/frame"
	"pcstream/log"
	plmxs "pcstream/prometheus"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultQueueLen    = 2
	DefaultPollTimeout = time.Second
)

// Renderer draws frames. It does not take ownership of them.
type Renderer interface {
	Render(*frame.Frame) error
	Close() error
}

type Options struct {
	QueueLen    int
	PollTimeout time.Duration
	Monitor     *plmxs.Monitor
}

type Option func(*Options)

func OptionWithQueueLen(n int) Option {
	return func(o *Options) {
		o.QueueLen = n
	}
}

func OptionWithPollTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.PollTimeout = d
	}
}

func OptionWithMonitor(m *plmxs.Monitor) Option {
	return func(o *Options) {
		o.Monitor = m
	}
}

// Display sits between producers and a single render loop. Feed never
// blocks: frames that do not fit the queue are released and counted.
type Display struct {
	opts     Options
	renderer Renderer
	queue    chan *frame.Frame

	fed      atomic.Uint64
	dropped  atomic.Uint64
	rendered atomic.Uint64
}

func New(r Renderer, opts ...Option) *Display {
	d := &Display{
		renderer: r,
		opts: Options{
			QueueLen:    DefaultQueueLen,
			PollTimeout: DefaultPollTimeout,
		},
	}

	for _, o := range opts {
		o(&d.opts)
	}

	if d.opts.QueueLen <= 0 {
		d.opts.QueueLen = DefaultQueueLen
	}

	d.queue = make(chan *frame.Frame, d.opts.QueueLen)

	return d
}

// Feed takes ownership of f.
func (d *Display) Feed(f *frame.Frame) {
	d.fed.Inc()

	select {
	case d.queue <- f:
	default:
		f.Release()
		d.dropped.Inc()
		d.opts.Monitor.IncDropped()
	}
}

// Run renders until ctx is done or active reports no producer is left and
// the queue is empty. Queued frames are released and the renderer closed on
// exit.
func (d *Display) Run(ctx context.Context, active func() bool) error {
	defer d.teardown()

	t := time.NewTimer(d.opts.PollTimeout)
	defer t.Stop()

	for {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}

		t.Reset(d.opts.PollTimeout)

		select {
		case <-ctx.Done():
			return nil

		case f := <-d.queue:
			err := d.renderer.Render(f)
			f.Release()
			d.rendered.Inc()

			if err != nil {
				log.Warn("render failed", zap.Error(err))
			}

		case <-t.C:
			if active != nil && !active() && len(d.queue) == 0 {
				return nil
			}
		}
	}
}

func (d *Display) teardown() {
	for {
		select {
		case f := <-d.queue:
			f.Release()
		default:
			if err := d.renderer.Close(); err != nil {
				log.Warn("failed to close renderer", zap.Error(err))
			}

			return
		}
	}
}

func (d *Display) Fed() uint64 {
	return d.fed.Load()
}

func (d *Display) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Display) Rendered() uint64 {
	return d.rendered.Load()
}

func (d *Display) Queued() int {
	return len(d.queue)
}

// LogRenderer logs the point count and frame rate every Interval.
type LogRenderer struct {
	Interval time.Duration

	frames int
	points int
	last   time.Time
}

func NewLogRenderer(interval time.Duration) *LogRenderer {
	return &LogRenderer{Interval: interval}
}

func (r *LogRenderer) Render(f *frame.Frame) error {
	now := time.Now()
	if r.last.IsZero() {
		r.last = now
	}

	r.frames++
	r.points += f.Count()

	if el := now.Sub(r.last); el >= r.Interval {
		log.Info("display",
			zap.Int("frames", r.frames),
			zap.Float64("fps", float64(r.frames)/el.Seconds()),
			zap.Int("points", r.points/r.frames),
			zap.Int64("latency_ms", frame.NowMillis()-f.Timestamp))

		r.frames, r.points, r.last = 0, 0, now
	}

	return nil
}

func (r *LogRenderer) Close() error {
	return nil
}
