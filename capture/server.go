package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/log"
	plmxs "pcstream/prometheus"
	"pcstream/sink"
	"pcstream/stream"

	"go.uber.org/zap"
)

const (
	DefaultMaxProbe = 10
	DefaultName     = "pcserver"
)

var (
	ErrorTileMismatch = errors.New("source never produced the expected tiles")
	ErrorNoSource     = errors.New("no frame source")
	ErrorNoSink       = errors.New("no sink")
	ErrorNoParams     = errors.New("no encoder parameters")
	ErrorStarted      = errors.New("server already started")
)

type SinkFactory func(stream.Registry) (sink.Sink, error)

type EncoderFactory func(codec.Params) (codec.Encoder, error)

type Options struct {
	Name       string
	Source     frame.Source
	Sink       SinkFactory
	NewEncoder EncoderFactory
	FourCC     stream.FourCC
	Tiled      bool
	MaxTile    int
	Params     []codec.Params
	FPS        float64
	Count      int
	MaxProbe   int
	Monitor    *plmxs.Monitor
}

type Option func(*Options)

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

func OptionWithSource(s frame.Source) Option {
	return func(o *Options) {
		o.Source = s
	}
}

func OptionWithSink(f SinkFactory) Option {
	return func(o *Options) {
		o.Sink = f
	}
}

func OptionWithEncoderFactory(f EncoderFactory) Option {
	return func(o *Options) {
		o.NewEncoder = f
	}
}

func OptionWithFourCC(f stream.FourCC) Option {
	return func(o *Options) {
		o.FourCC = f
	}
}

// OptionWithTiles enables tiling with tiles 0..maxTile-1.
func OptionWithTiles(maxTile int) Option {
	return func(o *Options) {
		o.Tiled = maxTile > 1
		o.MaxTile = maxTile
	}
}

func OptionWithParams(p ...codec.Params) Option {
	return func(o *Options) {
		o.Params = append(o.Params, p...)
	}
}

func OptionWithFPS(fps float64) Option {
	return func(o *Options) {
		o.FPS = fps
	}
}

func OptionWithCount(n int) Option {
	return func(o *Options) {
		o.Count = n
	}
}

func OptionWithMaxProbe(n int) Option {
	return func(o *Options) {
		o.MaxProbe = n
	}
}

func OptionWithMonitor(m *plmxs.Monitor) Option {
	return func(o *Options) {
		o.Monitor = m
	}
}

// Server owns one capture loop, one encoder and transmitter per stream, and
// the sink they share.
type Server struct {
	opts     Options
	registry stream.Registry
	params   []codec.Params

	sink   sink.Sink
	group  *codec.Group
	loop   *Loop
	trans  []*Transmitter
	cancel context.CancelFunc

	mtx     sync.Mutex
	started bool
	err     error
	done    chan struct{}
	once    sync.Once
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		done: make(chan struct{}),
	}

	for _, o := range opts {
		o(&s.opts)
	}

	if s.opts.Name == "" {
		s.opts.Name = DefaultName
	}

	if s.opts.FourCC == 0 {
		s.opts.FourCC = stream.DefaultFourCC
	}

	if s.opts.MaxProbe == 0 {
		s.opts.MaxProbe = DefaultMaxProbe
	}

	if s.opts.NewEncoder == nil {
		s.opts.NewEncoder = codec.NewEncoder
	}

	if s.opts.Source == nil {
		return nil, ErrorNoSource
	}

	if s.opts.Sink == nil {
		return nil, ErrorNoSink
	}

	if len(s.opts.Params) == 0 {
		return nil, ErrorNoParams
	}

	tiles := []uint32{0}
	if s.opts.Tiled {
		tiles = tiles[:0]
		for t := 0; t < s.opts.MaxTile; t++ {
			tiles = append(tiles, uint32(t))
		}
	}

	for _, t := range tiles {
		for _, p := range s.opts.Params {
			p.Tile = t
			s.params = append(s.params, p)
			s.registry = append(s.registry, stream.Descriptor{
				FourCC:  s.opts.FourCC,
				Tile:    t,
				Quality: p.Quality(),
			})
		}
	}

	return s, nil
}

func (s *Server) Options() Options {
	return s.opts
}

// Registry is the advertised stream list, fixed for the server lifetime.
func (s *Server) Registry() stream.Registry {
	return s.registry
}

func (s *Server) String() string {
	return s.opts.Name
}

// probe discards frames until one carries every expected tile.
func (s *Server) probe(ctx context.Context) error {
	if !s.opts.Tiled {
		return nil
	}

	want := s.opts.MaxTile - 1

	for i := 0; i < s.opts.MaxProbe; i++ {
		f, err := s.opts.Source.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to probe source %w", err)
		}

		got := f.Tiles()
		f.Release()

		if got >= want {
			return nil
		}

		log.Warn("probe frame has too few tiles", zap.Int("want", want), zap.Int("got", got))
	}

	return fmt.Errorf("after %d frames %w", s.opts.MaxProbe, ErrorTileMismatch)
}

// Start builds the pipeline and runs it in the background.
func (s *Server) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.started {
		return ErrorStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.probe(ctx); err != nil {
		cancel()

		return err
	}

	sk, err := s.opts.Sink(s.registry)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to create sink %w", err)
	}

	s.sink = sk
	s.group = codec.NewGroup()

	for i, p := range s.params {
		enc, err := s.opts.NewEncoder(p)
		if err != nil {
			s.group.Close()
			_ = sk.Close()
			cancel()

			return fmt.Errorf("failed to create encoder for stream %d %w", i, err)
		}

		s.group.Add(enc)
		s.trans = append(s.trans, NewTransmitter(i, enc, sk, s.opts.Monitor))
	}

	s.loop = NewLoop(s.opts.Source, s.group,
		LoopOptionWithFPS(s.opts.FPS),
		LoopOptionWithCount(s.opts.Count),
		LoopOptionWithMonitor(s.opts.Monitor))

	s.started = true

	log.Info("source server started",
		zap.String("name", s.opts.Name),
		zap.String("sink", sk.String()),
		zap.String("streams", s.registry.String()))

	go s.run(ctx)

	return nil
}

func (s *Server) run(ctx context.Context) {
	var (
		wg   sync.WaitGroup
		emtx sync.Mutex
		errs []error
	)

	fail := func(err error) {
		emtx.Lock()
		errs = append(errs, err)
		emtx.Unlock()
	}

	for _, t := range s.trans {
		wg.Add(1)

		go func(t *Transmitter) {
			defer wg.Done()

			if err := t.Run(); err != nil {
				log.Error("transmitter failed", zap.Int("stream", t.Index()), zap.Error(err))
				fail(err)
				s.loop.Stop()
			}
		}(t)
	}

	if err := s.loop.Run(ctx); err != nil {
		log.Error("capture loop failed", zap.Error(err))
		fail(err)

		for _, t := range s.trans {
			t.Stop()
		}
	}

	// Closing the group drains the encoders, transmitters exit once empty.
	s.group.Close()
	wg.Wait()

	if err := s.sink.Close(); err != nil {
		log.Warn("failed to close sink", zap.Error(err))
	}

	emtx.Lock()
	if len(errs) > 0 {
		s.err = errs[0]
	}
	emtx.Unlock()

	close(s.done)
}

// Stop is idempotent. It returns after every goroutine has exited.
func (s *Server) Stop() {
	s.mtx.Lock()
	started := s.started
	s.mtx.Unlock()

	if !started {
		return
	}

	s.once.Do(func() {
		s.loop.Stop()

		for _, t := range s.trans {
			t.Stop()
		}

		s.cancel()
	})

	<-s.done

	if err := s.opts.Source.Close(); err != nil {
		log.Warn("failed to close source", zap.Error(err))
	}
}

// Wait blocks until the pipeline has finished and returns the first fatal
// error.
func (s *Server) Wait() error {
	s.mtx.Lock()
	started := s.started
	s.mtx.Unlock()

	if !started {
		return nil
	}

	<-s.done

	return s.err
}

func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Report logs every statistic. Call after Wait or Stop.
func (s *Server) Report() {
	if s.loop != nil {
		s.loop.Stats().Report()
	}

	for _, t := range s.trans {
		t.Report()
	}
}

func (s *Server) Loop() *Loop {
	return s.loop
}

func (s *Server) Transmitters() []*Transmitter {
	return s.trans
}
