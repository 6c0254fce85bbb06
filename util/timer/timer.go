package timer

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type Ticker interface {
	Stop()
	// Runs is the number of completed calls of f.
	Runs() uint64
}

type Option func(*ticker)

// OptionWithImmediate calls f once as soon as the ticker starts.
func OptionWithImmediate() Option {
	return func(t *ticker) {
		t.immediate = true
	}
}

type ticker struct {
	t         *time.Ticker
	immediate bool
	runs      atomic.Uint64

	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// NewTicker calls f every d on its own goroutine until Stop. Calls never
// overlap, a slow f delays the next tick.
func NewTicker(d time.Duration, f func(), opts ...Option) Ticker {
	t := &ticker{
		t:    time.NewTicker(d),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	for _, o := range opts {
		o(t)
	}

	go t.run(f)

	return t
}

func (t *ticker) run(f func()) {
	defer close(t.done)
	defer t.t.Stop()

	call := func() {
		f()
		t.runs.Inc()
	}

	if t.immediate {
		call()
	}

	for {
		select {
		case <-t.t.C:
			call()
		case <-t.stop:
			return
		}
	}
}

func (t *ticker) Runs() uint64 {
	return t.runs.Load()
}

// Stop is idempotent and returns once f is no longer running.
func (t *ticker) Stop() {
	t.once.Do(func() {
		close(t.stop)
	})

	<-t.done
}
