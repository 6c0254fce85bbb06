package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"
	plmxs "pcstream/prometheus"
	"pcstream/stats"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Loop acquires frames at a bounded rate and feeds them to every encoder.
type Loop struct {
	source  frame.Source
	group   *codec.Group
	fps     float64
	count   int
	monitor *plmxs.Monitor

	stats    *stats.Set
	lastGrab time.Time
	frames   int

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

type LoopOption func(*Loop)

func LoopOptionWithFPS(fps float64) LoopOption {
	return func(l *Loop) {
		l.fps = fps
	}
}

func LoopOptionWithCount(n int) LoopOption {
	return func(l *Loop) {
		l.count = n
	}
}

func LoopOptionWithMonitor(m *plmxs.Monitor) LoopOption {
	return func(l *Loop) {
		l.monitor = m
	}
}

func NewLoop(src frame.Source, group *codec.Group, opts ...LoopOption) *Loop {
	l := &Loop{
		source: src,
		group:  group,
		stats:  stats.NewSet("capture", "grab"),
		stopCh: make(chan struct{}),
	}

	for _, o := range opts {
		o(l)
	}

	return l
}

// Run blocks until Stop, ctx cancellation, the frame count, or source
// exhaustion. Any other acquisition failure is returned.
func (l *Loop) Run(ctx context.Context) error {
	for !l.stopped.Load() {
		if !l.waitInterval(ctx) {
			break
		}

		if l.stopped.Load() || ctx.Err() != nil {
			break
		}

		t0 := time.Now()
		l.lastGrab = t0

		f, err := l.source.Acquire(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrorExhausted) || errors.Is(err, context.Canceled) {
				log.Info("capture source finished", zap.String("source", l.source.String()), zap.Int("frames", l.frames))

				return nil
			}

			return fmt.Errorf("failed to acquire frame from %s %w", l.source, err)
		}

		l.group.Feed(f)
		f.Release()

		d := time.Since(t0).Seconds()
		l.stats.Add("grab", d)
		l.monitor.IncCaptured()
		l.monitor.ObserveStage("grab", -1, d)

		l.frames++
		if l.count > 0 && l.frames >= l.count {
			break
		}
	}

	return nil
}

// waitInterval enforces the frame rate cap. It returns false when
// interrupted by Stop or ctx.
func (l *Loop) waitInterval(ctx context.Context) bool {
	if l.fps <= 0 || l.lastGrab.IsZero() {
		return true
	}

	next := l.lastGrab.Add(time.Duration(float64(time.Second) / l.fps))

	d := time.Until(next)
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-l.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop is idempotent and may be called before Run.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

func (l *Loop) Frames() int {
	return l.frames
}

// Stats must only be read after Run returned.
func (l *Loop) Stats() *stats.Set {
	return l.stats
}
