package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/log"
	plmxs "pcstream/prometheus"
	"pcstream/stream"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultRetry = 0
	DefaultDelay = time.Second
)

var (
	ErrRetryExhausted = errors.New("connection retries exhausted")
	ErrNoStreams      = errors.New("endpoint advertises no streams")
	ErrNotConnected   = errors.New("subscriber not connected")
	ErrStarted        = errors.New("subscriber already started")
)

type Options struct {
	Retry        int
	Delay        time.Duration
	Policy       stream.Policy
	TilePolicies map[uint32]stream.Policy
	Count        int
	Consumer     Consumer
	Persister    Persister
	Monitor      *plmxs.Monitor
}

type Option func(*Options)

func OptionWithRetry(n int) Option {
	return func(o *Options) {
		o.Retry = n
	}
}

func OptionWithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

func OptionWithPolicy(p stream.Policy) Option {
	return func(o *Options) {
		o.Policy = p
	}
}

// OptionWithTilePolicy overrides the policy for one tile.
func OptionWithTilePolicy(tile uint32, p stream.Policy) Option {
	return func(o *Options) {
		if o.TilePolicies == nil {
			o.TilePolicies = make(map[uint32]stream.Policy)
		}

		o.TilePolicies[tile] = p
	}
}

// OptionWithCount stops every receiver after n frames, 0 means unlimited.
func OptionWithCount(n int) Option {
	return func(o *Options) {
		o.Count = n
	}
}

func OptionWithConsumer(c Consumer) Option {
	return func(o *Options) {
		o.Consumer = c
	}
}

func OptionWithPersister(p Persister) Option {
	return func(o *Options) {
		o.Persister = p
	}
}

func OptionWithMonitor(m *plmxs.Monitor) Option {
	return func(o *Options) {
		o.Monitor = m
	}
}

// Selection is the stream chosen for one tile.
type Selection struct {
	Tile       uint32
	Index      int
	Descriptor stream.Descriptor
	Policy     stream.Policy
}

// Subscriber discovers the streams of a transport and runs one receiver per
// selected tile.
type Subscriber struct {
	opts      Options
	transport stream.Transport

	registry   stream.Registry
	selections []Selection
	receivers  []*Receiver

	mtx       sync.Mutex
	connected bool
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	err       error
	done      chan struct{}
	active    atomic.Int32
	stopOnce  sync.Once
}

func NewSubscriber(t stream.Transport, opts ...Option) *Subscriber {
	s := &Subscriber{
		transport: t,
		done:      make(chan struct{}),
		opts: Options{
			Retry:  DefaultRetry,
			Delay:  DefaultDelay,
			Policy: stream.DefaultPolicy,
		},
	}

	for _, o := range opts {
		o(&s.opts)
	}

	return s
}

func (s *Subscriber) Options() Options {
	return s.opts
}

func (s *Subscriber) String() string {
	return "subscriber(" + s.transport.String() + ")"
}

// Connect tries 1+Retry times, Delay apart. An attempt succeeds when the
// transport connects and advertises at least one stream.
func (s *Subscriber) Connect(ctx context.Context) error {
	var last error

	for attempt := 0; attempt <= s.opts.Retry; attempt++ {
		if attempt > 0 {
			log.Info("retrying connection",
				zap.String("transport", s.transport.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", s.opts.Delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.Delay):
			}
		}

		err := s.transport.Connect(ctx)
		if err == nil && s.transport.Count() >= 1 {
			return s.discover()
		}

		if err == nil {
			err = ErrNoStreams
		}

		last = err

		log.Warn("connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	// An endpoint that kept answering with an empty registry is malformed.
	if errors.Is(last, ErrNoStreams) {
		return last
	}

	return fmt.Errorf("after %d attempts %w: %v", s.opts.Retry+1, ErrRetryExhausted, last)
}

func (s *Subscriber) discover() error {
	n := s.transport.Count()
	if n == 0 {
		return ErrNoStreams
	}

	r := make(stream.Registry, 0, n)

	for i := 0; i < n; i++ {
		d, err := s.transport.Descriptor(i)
		if err != nil {
			return fmt.Errorf("failed to describe stream %d %w", i, err)
		}

		r = append(r, d)
	}

	s.mtx.Lock()
	s.registry = r
	s.connected = true
	s.mtx.Unlock()

	log.Info("streams discovered", zap.String("transport", s.transport.String()), zap.String("streams", r.String()))

	return nil
}

func (s *Subscriber) Registry() stream.Registry {
	return s.registry
}

func (s *Subscriber) policy(tile uint32) stream.Policy {
	if p, ok := s.opts.TilePolicies[tile]; ok {
		return p
	}

	return s.opts.Policy
}

// Select picks one stream per tile. Tiles without a match for an exact
// quality are skipped.
func (s *Subscriber) Select() ([]Selection, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}

	tm := stream.NewTileMap(s.registry)
	sel := make([]Selection, 0, len(tm.Tiles()))

	for _, tile := range tm.Tiles() {
		p := s.policy(tile)

		e, ok := p.Select(tm.Entries(tile))
		if !ok {
			log.Warn("no stream matches quality, tile skipped", zap.Uint32("tile", tile), zap.String("policy", p.String()))

			continue
		}

		sel = append(sel, Selection{
			Tile:       tile,
			Index:      e.Index,
			Descriptor: s.registry[e.Index],
			Policy:     p,
		})
	}

	s.selections = sel

	return sel, nil
}

// Start enables the selected streams and runs their receivers. The first
// receiver failure stops the others.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	if s.started {
		return ErrStarted
	}

	for _, sel := range s.selections {
		if !sel.Policy.Explicit() {
			continue
		}

		if err := s.transport.Enable(sel.Index, true); err != nil {
			return fmt.Errorf("failed to enable stream %d %w", sel.Index, err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, sel := range s.selections {
		r := NewReceiver(sel.Index, sel.Descriptor, s.transport, s.opts)
		s.receivers = append(s.receivers, r)
		s.active.Inc()
		s.wg.Add(1)

		log.Info("receiver started", zap.Uint32("tile", sel.Tile), zap.String("descriptor", sel.Descriptor.String()))

		go func(r *Receiver) {
			defer s.wg.Done()
			defer s.active.Dec()

			if err := r.Run(ctx); err != nil {
				log.Error("receiver failed", zap.Int("stream", r.Index()), zap.Error(err))

				s.mtx.Lock()
				if s.err == nil {
					s.err = err
				}
				s.mtx.Unlock()

				s.stopReceivers()
			}
		}(r)
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	return nil
}

func (s *Subscriber) stopReceivers() {
	s.mtx.Lock()
	rs := s.receivers
	s.mtx.Unlock()

	for _, r := range rs {
		r.Stop()
	}
}

// Active reports whether any receiver is still running.
func (s *Subscriber) Active() bool {
	return s.active.Load() > 0
}

// Stop is idempotent. It stops and joins every receiver, then closes the
// transport.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.stopReceivers()

		s.mtx.Lock()
		started := s.started
		cancel := s.cancel
		s.mtx.Unlock()

		if started {
			cancel()
			<-s.done
		}

		if err := s.transport.Close(); err != nil {
			log.Warn("failed to close transport", zap.Error(err))
		}
	})
}

// Wait joins every receiver and returns the first failure.
func (s *Subscriber) Wait() error {
	s.mtx.Lock()
	started := s.started
	s.mtx.Unlock()

	if !started {
		return nil
	}

	<-s.done

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.err
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) Receivers() []*Receiver {
	return s.receivers
}

// Report logs the statistics of every receiver. Call after Wait or Stop.
func (s *Subscriber) Report() {
	for _, r := range s.receivers {
		r.Report()
	}
}
