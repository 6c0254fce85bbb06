package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pcstream"
	"pcstream/broker"
	"pcstream/capture"
	"pcstream/cmd/internal/setup"
	"pcstream/config"
	"pcstream/frame"
	"pcstream/framework"
	"pcstream/log"
	"pcstream/network"
	"pcstream/network/tcp"
	"pcstream/network/udp"
	"pcstream/network/ws"
	plmxs "pcstream/prometheus"
	"pcstream/rpc"
	"pcstream/rpc/grpc"
	"pcstream/segment"
	"pcstream/sink"
	"pcstream/source"
	"pcstream/stream"
	"pcstream/util/profile"

	"go.uber.org/zap"
)

func main() {
	var (
		path     = flag.String("config", "", "yaml config file")
		count    = flag.Int("count", 0, "stop after this many frames, 0 runs until interrupted")
		fps      = flag.Float64("fps", config.DefaultFPS, "capture rate, 0 captures as fast as possible")
		sinkKind = flag.String("sink", config.SinkSegment, "noop, tcp, segment, udp or bus")
		sinkAddr = flag.String("addr", "", "tcp listen or udp destination address")
		tiles    = flag.Int("tiles", 0, "split frames into this many tiles")
		octree   = flag.String("octree", "9", "comma separated octree bits")
		jpeg     = flag.String("jpeg", "85", "comma separated jpeg qualities")
		voxel    = flag.Float64("voxel", 0, "voxel size, 0 keeps every point")
		wsAddr   = flag.String("ws", config.DefaultWSAddr, "websocket listen address")
		grpcAddr = flag.String("grpc", "", "grpc listen address")
		segDur   = flag.Duration("segment", 0, "segment duration")
		shift    = flag.Duration("timeshift", 0, "timeshift depth")
		linger   = flag.Duration("linger", 0, "keep listeners up this long after the capture ended")
		brkKind  = flag.String("broker", "", "redis, rabbit or kafka")
		brkAddr  = flag.String("broker-addr", "", "broker address")
		regKind  = flag.String("registry", "", "redis or zookeeper")
		regAddr  = flag.String("registry-addr", "", "registry address")
		metrics  = flag.String("metrics", "", "prometheus listen address")
		pprof    = flag.String("pprof", "", "pprof listen address")
		level    = flag.String("log", config.DefaultLogLevel, "log level")
	)

	flag.Parse()

	cfg, err := config.LoadServer(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var flagErrs []error

	flag.Visit(func(f *flag.Flag) {
		var err error

		switch f.Name {
		case "octree":
			cfg.OctreeBits, err = setup.ParseUint8s(*octree)
		case "jpeg":
			cfg.JPEGQuality, err = setup.ParseUint8s(*jpeg)
		case "voxel":
			cfg.VoxelSize = float32(*voxel)
		case "ws":
			cfg.Listen.WS = *wsAddr
		case "grpc":
			cfg.Listen.GRPC = *grpcAddr
		case "segment":
			cfg.Segment.DurationMs = int64(*segDur / time.Millisecond)
		case "timeshift":
			cfg.Segment.TimeshiftMs = int64(*shift / time.Millisecond)
		case "linger":
			cfg.LingerMs = int64(*linger / time.Millisecond)
		case "broker":
			cfg.Broker.Kind = *brkKind
		case "broker-addr":
			cfg.Broker.Addr = *brkAddr
		case "registry":
			cfg.Registry.Kind = *regKind
		case "registry-addr":
			cfg.Registry.Addr = *regAddr
		case "pprof":
			cfg.Pprof = *pprof
		case "count":
			cfg.Count = *count
		case "fps":
			cfg.FPS = *fps
		case "sink":
			cfg.Sink.Kind = *sinkKind
		case "addr":
			cfg.Sink.Addr = *sinkAddr
		case "tiles":
			cfg.Tiled = *tiles > 1
			cfg.MaxTile = *tiles
		case "metrics":
			cfg.Metrics = *metrics
		case "log":
			cfg.Log = *level
		}

		if err != nil {
			flagErrs = append(flagErrs, fmt.Errorf("-%s %w", f.Name, err))
		}
	})

	if len(flagErrs) > 0 {
		for _, err := range flagErrs {
			fmt.Fprintln(os.Stderr, err)
		}

		os.Exit(2)
	}

	setup.Log(cfg.Name, cfg.Log)

	err = run(cfg)
	if err != nil {
		log.Error("pcserver failed", zap.Error(err))
	}

	log.Sync()

	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Server) error {
	warnings, err := cfg.Validate()
	if err != nil {
		return err
	}

	setup.Warn(warnings)

	var m *plmxs.Monitor

	if cfg.Metrics != "" {
		m = plmxs.NewMonitor(cfg.Name)
		m.Serve(cfg.Metrics)

		defer m.Stop()
	}

	if cfg.Pprof != "" {
		p, err := profile.Serve(cfg.Pprof)
		if err != nil {
			return err
		}

		defer p.Stop()
	}

	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	defer src.Close()

	var store *segment.Store

	opts := []capture.Option{
		capture.OptionWithName(cfg.Name),
		capture.OptionWithSource(src),
		capture.OptionWithParams(cfg.Params()...),
		capture.OptionWithFPS(cfg.FPS),
		capture.OptionWithCount(cfg.Count),
		capture.OptionWithMonitor(m),
		capture.OptionWithSink(func(r stream.Registry) (sink.Sink, error) {
			return newSink(cfg, r, store)
		}),
	}

	if cfg.Tiled {
		opts = append(opts, capture.OptionWithTiles(cfg.MaxTile))
	}

	srv, err := capture.NewServer(opts...)
	if err != nil {
		return err
	}

	app := pcstream.NewApp()
	app.SetStreams(srv.Registry())

	if cfg.Sink.Kind == config.SinkSegment {
		store, err = segment.NewStore(cfg.Segment.Config(), srv.Registry())
		if err != nil {
			return err
		}

		if err := addListeners(app, cfg.Listen, store); err != nil {
			return err
		}
	}

	if cfg.Registry.Kind != "" {
		r, err := setup.NewRegistry(cfg.Registry)
		if err != nil {
			return err
		}

		app.AddRegistry(r, setup.Domain(cfg.Registry))
	}

	app.AddRunner(&lingerRunner{Server: srv, linger: cfg.Linger()})

	err = app.Run(context.Background())

	srv.Report()

	return err
}

func newSource(cfg config.Server) (frame.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceDir:
		return source.NewDir(cfg.Source.Path, cfg.Source.Loop)
	case config.SourceBus:
		b, err := setup.NewBroker(cfg.Broker, cfg.Name+"-source")
		if err != nil {
			return nil, err
		}

		return source.NewBus(b, cfg.Source.Topic, 0)
	default:
		var opts []source.SyntheticOption
		if cfg.Source.Points > 0 {
			opts = append(opts, source.SyntheticOptionWithPoints(cfg.Source.Points))
		}

		return source.NewSynthetic(opts...), nil
	}
}

func newSink(cfg config.Server, r stream.Registry, store *segment.Store) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case config.SinkNoop:
		return sink.NewNoop(r, false), nil
	case config.SinkTCP:
		return tcp.NewSink(orDefault(cfg.Sink.Addr, config.DefaultTCPAddr), r)
	case config.SinkUDP:
		return udp.NewSink(orDefault(cfg.Sink.Addr, config.DefaultUDPAddr), r)
	case config.SinkBus:
		b, err := setup.NewBroker(cfg.Broker, cfg.Name)
		if err != nil {
			return nil, err
		}

		if err := b.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect %s %w", b, err)
		}

		return broker.NewSink(b, orDefault(cfg.Sink.Topic, broker.DefaultTopicPrefix), r), nil
	default:
		return segment.NewSink(store), nil
	}
}

// addListeners serves store over websocket and grpc. Servers are named by
// transport kind, which is how they are advertised.
func addListeners(app pcstream.App, l config.Listen, store *segment.Store) error {
	if l.WS != "" {
		svr := ws.NewServer(
			network.ServerOptionWithName(config.TransportWS),
			network.ServerOptionWithAddr(l.WS),
			network.ServerOptionWithCodec(segment.NewCodec()),
			network.ServerOptionWithHandler(framework.NewRouter(framework.OptionWithModule(segment.NewService(store)))))

		if err := app.AddServer(svr); err != nil {
			return err
		}
	}

	if l.GRPC != "" {
		svr := grpc.NewServer(
			rpc.ServerOptionWithName(config.TransportGRPC),
			rpc.ServerOptionWithAddr(l.GRPC),
			grpc.ServerOptionWithSub(grpc.NewSegments(store)))

		if err := app.AddRPCServer(svr); err != nil {
			return err
		}
	}

	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

// lingerRunner keeps the app up for linger after the capture finished on
// its own. Stop cuts the wait short.
type lingerRunner struct {
	*capture.Server
	linger time.Duration

	done chan struct{}
	stop chan struct{}
}

func (r *lingerRunner) Start() error {
	r.done = make(chan struct{})
	r.stop = make(chan struct{})

	if err := r.Server.Start(); err != nil {
		return err
	}

	go func() {
		defer close(r.done)

		select {
		case <-r.Server.Done():
		case <-r.stop:
			return
		}

		if r.linger <= 0 {
			return
		}

		log.Info("capture finished, lingering", zap.Duration("linger", r.linger))

		t := time.NewTimer(r.linger)
		defer t.Stop()

		select {
		case <-t.C:
		case <-r.stop:
		}
	}()

	return nil
}

func (r *lingerRunner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}

	r.Server.Stop()
}

func (r *lingerRunner) Done() <-chan struct{} {
	return r.done
}
