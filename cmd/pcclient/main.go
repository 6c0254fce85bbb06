package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pcstream"
	"pcstream/cmd/internal/setup"
	"pcstream/config"
	"pcstream/display"
	"pcstream/log"
	"pcstream/network"
	"pcstream/network/tcp"
	"pcstream/network/udp"
	"pcstream/network/ws"
	"pcstream/persist"
	plmxs "pcstream/prometheus"
	"pcstream/registry"
	"pcstream/rpc/grpc"
	"pcstream/segment"
	"pcstream/stream"
	"pcstream/subscriber"

	"go.uber.org/zap"
)

func main() {
	var (
		path      = flag.String("config", "", "yaml config file")
		transport = flag.String("transport", config.TransportWS, "ws, grpc, tcp or udp")
		addr      = flag.String("addr", "", "server address, resolved from the registry when empty")
		retry     = flag.Int("retry", 0, "connection attempts after the first")
		delay     = flag.Duration("delay", time.Second, "wait before and between connection attempts")
		policy    = flag.String("policy", "default", "quality policy")
		count     = flag.Int("count", 0, "stop each stream after this many frames")
		save      = flag.String("save", "", "directory to store received buffers in")
		show      = flag.Bool("display", false, "render received frames")
		regKind   = flag.String("registry", "", "redis or zookeeper, used when addr is empty")
		regAddr   = flag.String("registry-addr", "", "registry address")
		domain    = flag.String("domain", "", "registry domain")
		eof       = flag.Duration("eof", 10*time.Second, "end of stream timeout")
		metrics   = flag.String("metrics", "", "prometheus listen address")
		level     = flag.String("log", config.DefaultLogLevel, "log level")
		verbose   = flag.Bool("v", false, "debug logging")
	)

	flag.Parse()

	cfg, err := config.LoadClient(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = *transport
		case "addr":
			cfg.Addr = *addr
		case "retry":
			cfg.Retry = *retry
		case "delay":
			cfg.DelayMs = int64(*delay / time.Millisecond)
		case "policy":
			cfg.Policy = *policy
		case "count":
			cfg.Count = *count
		case "save":
			cfg.SaveDir = *save
		case "display":
			cfg.Display = *show
		case "registry":
			cfg.Registry.Kind = *regKind
		case "registry-addr":
			cfg.Registry.Addr = *regAddr
		case "domain":
			cfg.Registry.Domain = *domain
		case "eof":
			cfg.EOFMs = int64(*eof / time.Millisecond)
		case "metrics":
			cfg.Metrics = *metrics
		case "log":
			cfg.Log = *level
		}
	})

	if *verbose {
		cfg.Log = "debug"
	}

	setup.Log(cfg.Name, cfg.Log)

	err = run(cfg)
	if err != nil {
		log.Error("pcclient failed", zap.Error(err))
	}

	log.Sync()

	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Client) error {
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

	addr, err := resolve(cfg)
	if err != nil {
		return err
	}

	t, err := newTransport(cfg.Transport, addr, cfg.EOF())
	if err != nil {
		return err
	}

	def, tiles, err := cfg.Policies()
	if err != nil {
		return err
	}

	opts := []subscriber.Option{
		subscriber.OptionWithRetry(cfg.Retry),
		subscriber.OptionWithDelay(cfg.Delay()),
		subscriber.OptionWithPolicy(def),
		subscriber.OptionWithCount(cfg.Count),
		subscriber.OptionWithMonitor(m),
	}

	for tile, p := range tiles {
		opts = append(opts, subscriber.OptionWithTilePolicy(tile, p))
	}

	if cfg.SaveDir != "" {
		ps, err := persist.Open(cfg.SaveDir)
		if err != nil {
			return err
		}

		defer ps.Close()

		opts = append(opts, subscriber.OptionWithPersister(ps))
	}

	var d *display.Display

	if cfg.Display {
		d = display.New(display.NewLogRenderer(time.Second), display.OptionWithMonitor(m))
		opts = append(opts, subscriber.OptionWithConsumer(d))
	}

	sub := subscriber.NewSubscriber(t, opts...)

	app := pcstream.NewApp()
	app.AddRunner(pcstream.NewSubscriberRunner(sub))

	if d == nil {
		err = app.Run(context.Background())
	} else {
		err = runWithDisplay(app, d)
	}

	sub.Report()

	return err
}

// runWithDisplay renders on the calling goroutine until the app returned
// and the display queue is drained.
func runWithDisplay(app pcstream.App, d *display.Display) error {
	errc := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)

		errc <- app.Run(context.Background())
	}()

	active := func() bool {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}

	if err := d.Run(context.Background(), active); err != nil {
		log.Warn("display failed", zap.Error(err))
	}

	log.Info("display finished",
		zap.Uint64("fed", d.Fed()),
		zap.Uint64("rendered", d.Rendered()),
		zap.Uint64("dropped", d.Dropped()))

	return <-errc
}

func resolve(cfg config.Client) (string, error) {
	if cfg.Addr != "" {
		return cfg.Addr, nil
	}

	r, err := setup.NewRegistry(cfg.Registry)
	if err != nil {
		return "", err
	}

	defer r.Release()

	svc, err := registry.Resolve(r, setup.Domain(cfg.Registry), cfg.Transport)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s server %w", cfg.Transport, err)
	}

	log.Info("resolved server", zap.String("id", svc.ID), zap.String("addr", svc.Addr))

	return svc.Addr, nil
}

func newTransport(kind, addr string, eof time.Duration) (stream.Transport, error) {
	switch kind {
	case config.TransportGRPC:
		return grpc.NewTransport(addr, eof), nil
	case config.TransportTCP:
		return tcp.NewTransport(addr, eof), nil
	case config.TransportUDP:
		return udp.NewTransport(addr, eof)
	default:
		if !strings.Contains(addr, "://") {
			addr = "ws://" + addr
		}

		return segment.NewRemote(func(h network.Handler, c network.Codec) network.Client {
			return ws.NewClient(
				network.ClientOptionWithAddr(addr),
				network.ClientOptionWithHandler(h),
				network.ClientOptionWithCodec(c))
		}, eof), nil
	}
}
