package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pcstream/codec"
	"pcstream/segment"
	"pcstream/stream"

	"gopkg.in/yaml.v2"
)

var ErrorInvalidConfig = errors.New("invalid config")

const (
	SinkNoop    = "noop"
	SinkTCP     = "tcp"
	SinkSegment = "segment"
	SinkUDP     = "udp"
	SinkBus     = "bus"

	TransportWS   = "ws"
	TransportGRPC = "grpc"
	TransportTCP  = "tcp"
	TransportUDP  = "udp"

	SourceSynthetic = "synthetic"
	SourceDir       = "dir"
	SourceBus       = "bus"

	BrokerRedis  = "redis"
	BrokerRabbit = "rabbit"
	BrokerKafka  = "kafka"

	RegistryRedis     = "redis"
	RegistryZookeeper = "zookeeper"

	DefaultFPS       = 15
	DefaultMaxTile   = 4
	DefaultWSAddr    = ":9000"
	DefaultGRPCAddr  = ":9001"
	DefaultTCPAddr   = ":9002"
	DefaultUDPAddr   = "127.0.0.1:9003"
	DefaultLogLevel  = "info"
	DefaultEOFMillis = 10000
)

// Segment durations are in milliseconds.
type Segment struct {
	DurationMs  int64 `yaml:"duration_ms"`
	TimeshiftMs int64 `yaml:"timeshift_ms"`
}

func (s Segment) Config() segment.Config {
	return segment.Config{
		SegmentDuration: time.Duration(s.DurationMs) * time.Millisecond,
		TimeshiftDepth:  time.Duration(s.TimeshiftMs) * time.Millisecond,
	}
}

type Source struct {
	Kind   string `yaml:"kind"`
	Path   string `yaml:"path"`
	Loop   bool   `yaml:"loop"`
	Points int    `yaml:"points"`
	Topic  string `yaml:"topic"`
}

type Sink struct {
	Kind  string `yaml:"kind"`
	Addr  string `yaml:"addr"`
	Topic string `yaml:"topic"`
}

type Listen struct {
	WS   string `yaml:"ws"`
	GRPC string `yaml:"grpc"`
}

type Broker struct {
	Kind     string `yaml:"kind"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type Registry struct {
	Kind   string `yaml:"kind"`
	Addr   string `yaml:"addr"`
	Domain string `yaml:"domain"`
}

func (r Registry) validate() error {
	switch r.Kind {
	case "":
		return nil
	case RegistryRedis, RegistryZookeeper:
	default:
		return invalid("registry kind %q", r.Kind)
	}

	if r.Addr == "" {
		return invalid("registry %s without address", r.Kind)
	}

	return nil
}

// Server configures cmd/pcserver.
type Server struct {
	Name        string   `yaml:"name"`
	Log         string   `yaml:"log"`
	Source      Source   `yaml:"source"`
	Tiled       bool     `yaml:"tiled"`
	MaxTile     int      `yaml:"max_tile"`
	OctreeBits  []uint8  `yaml:"octree_bits"`
	JPEGQuality []uint8  `yaml:"jpeg_quality"`
	VoxelSize   float32  `yaml:"voxel_size"`
	FPS         float64  `yaml:"fps"`
	Count       int      `yaml:"count"`
	Sink        Sink     `yaml:"sink"`
	Segment     Segment  `yaml:"segment"`
	Listen      Listen   `yaml:"listen"`
	Broker      Broker   `yaml:"broker"`
	Registry    Registry `yaml:"registry"`
	Metrics     string   `yaml:"metrics"`
	Pprof       string   `yaml:"pprof"`
	LingerMs    int64    `yaml:"linger_ms"`
}

// Client configures cmd/pcclient. Segment holds the durations the server is
// expected to use, for the delay checks.
type Client struct {
	Name         string            `yaml:"name"`
	Log          string            `yaml:"log"`
	Transport    string            `yaml:"transport"`
	Addr         string            `yaml:"addr"`
	Registry     Registry          `yaml:"registry"`
	Retry        int               `yaml:"retry"`
	DelayMs      int64             `yaml:"delay_ms"`
	EOFMs        int64             `yaml:"eof_ms"`
	Policy       string            `yaml:"policy"`
	TilePolicies map[uint32]string `yaml:"tile_policies"`
	Count        int               `yaml:"count"`
	SaveDir      string            `yaml:"save_dir"`
	Display      bool              `yaml:"display"`
	Segment      Segment           `yaml:"segment"`
	Metrics      string            `yaml:"metrics"`
}

func DefaultSegment() Segment {
	return Segment{
		DurationMs:  int64(segment.DefaultSegmentDuration / time.Millisecond),
		TimeshiftMs: int64(segment.DefaultTimeshiftDepth / time.Millisecond),
	}
}

func DefaultServer() Server {
	return Server{
		Name:        "pcserver",
		Log:         DefaultLogLevel,
		Source:      Source{Kind: SourceSynthetic},
		MaxTile:     DefaultMaxTile,
		OctreeBits:  []uint8{codec.DefaultOctreeBits},
		JPEGQuality: []uint8{codec.DefaultJPEGQuality},
		FPS:         DefaultFPS,
		Sink:        Sink{Kind: SinkSegment},
		Segment:     DefaultSegment(),
		Listen:      Listen{WS: DefaultWSAddr},
	}
}

func DefaultClient() Client {
	return Client{
		Name:      "pcclient",
		Log:       DefaultLogLevel,
		Transport: TransportWS,
		Addr:      "127.0.0.1" + DefaultWSAddr,
		DelayMs:   int64(time.Second / time.Millisecond),
		EOFMs:     DefaultEOFMillis,
		Policy:    "default",
		Segment:   DefaultSegment(),
	}
}

// load overlays the YAML file at path on v. An empty path leaves v as is.
func load(path string, v interface{}) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %w", err)
	}

	if err := yaml.UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("failed to parse %s %w", path, err)
	}

	return nil
}

func LoadServer(path string) (Server, error) {
	c := DefaultServer()

	return c, load(path, &c)
}

func LoadClient(path string) (Client, error) {
	c := DefaultClient()

	return c, load(path, &c)
}

// Linger is how long listeners stay up after the capture ended, so delayed
// clients can drain the timeshift buffer.
func (s Server) Linger() time.Duration {
	return time.Duration(s.LingerMs) * time.Millisecond
}

// Params is the cross product of octree bits and jpeg qualities.
func (s Server) Params() []codec.Params {
	params := make([]codec.Params, 0, len(s.OctreeBits)*len(s.JPEGQuality))

	for _, o := range s.OctreeBits {
		for _, q := range s.JPEGQuality {
			params = append(params, codec.Params{OctreeBits: o, JPEGQuality: q, VoxelSize: s.VoxelSize})
		}
	}

	return params
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s %w", fmt.Sprintf(format, args...), ErrorInvalidConfig)
}

// Validate returns hard errors and warnings for settings that work but are
// likely to lose data.
func (s Server) Validate() ([]string, error) {
	if s.FPS < 0 {
		return nil, invalid("fps %v", s.FPS)
	}

	if s.LingerMs < 0 {
		return nil, invalid("linger %d", s.LingerMs)
	}

	if s.Tiled && s.MaxTile < 1 {
		return nil, invalid("max tile %d", s.MaxTile)
	}

	if len(s.OctreeBits) == 0 || len(s.JPEGQuality) == 0 {
		return nil, invalid("no encoder parameters")
	}

	for _, o := range s.OctreeBits {
		if o == 0 || o > 20 {
			return nil, invalid("octree bits %d", o)
		}
	}

	for _, q := range s.JPEGQuality {
		if q > 100 {
			return nil, invalid("jpeg quality %d", q)
		}
	}

	switch s.Broker.Kind {
	case "", BrokerRedis, BrokerRabbit, BrokerKafka:
	default:
		return nil, invalid("broker kind %q", s.Broker.Kind)
	}

	if err := s.Registry.validate(); err != nil {
		return nil, err
	}

	switch s.Source.Kind {
	case SourceSynthetic:
	case SourceDir:
		if s.Source.Path == "" {
			return nil, invalid("dir source without path")
		}
	case SourceBus:
		if s.Broker.Kind == "" {
			return nil, invalid("bus source without broker")
		}
	default:
		return nil, invalid("source kind %q", s.Source.Kind)
	}

	var warnings []string

	switch s.Sink.Kind {
	case SinkNoop, SinkTCP, SinkUDP:
	case SinkBus:
		if s.Broker.Kind == "" {
			return nil, invalid("bus sink without broker")
		}
	case SinkSegment:
		w, err := s.Segment.Config().Validate()
		if err != nil {
			return nil, fmt.Errorf("%v %w", err, ErrorInvalidConfig)
		}

		warnings = append(warnings, w...)

		if s.Listen.WS == "" && s.Listen.GRPC == "" {
			return nil, invalid("segment sink without ws or grpc listener")
		}
	default:
		return nil, invalid("sink kind %q", s.Sink.Kind)
	}

	if s.Count == 0 && s.Source.Kind == SourceDir && s.Source.Loop {
		warnings = append(warnings, "looping dir source without count runs until stopped")
	}

	return warnings, nil
}

func (c Client) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

func (c Client) EOF() time.Duration {
	return time.Duration(c.EOFMs) * time.Millisecond
}

// Policies parses the default policy and the per tile overrides.
func (c Client) Policies() (stream.Policy, map[uint32]stream.Policy, error) {
	p, err := stream.ParsePolicy(c.Policy)
	if err != nil {
		return stream.Policy{}, nil, err
	}

	tiles := make(map[uint32]stream.Policy, len(c.TilePolicies))

	for t, s := range c.TilePolicies {
		tp, err := stream.ParsePolicy(s)
		if err != nil {
			return stream.Policy{}, nil, fmt.Errorf("tile %d %w", t, err)
		}

		tiles[t] = tp
	}

	return p, tiles, nil
}

func (c Client) Validate() ([]string, error) {
	switch c.Transport {
	case TransportWS, TransportGRPC, TransportTCP, TransportUDP:
	default:
		return nil, invalid("transport %q", c.Transport)
	}

	if err := c.Registry.validate(); err != nil {
		return nil, err
	}

	if c.Addr == "" && c.Registry.Kind == "" {
		return nil, invalid("neither address nor registry set")
	}

	if c.Retry < 0 || c.DelayMs < 0 || c.Count < 0 {
		return nil, invalid("negative retry, delay or count")
	}

	if _, _, err := c.Policies(); err != nil {
		return nil, fmt.Errorf("%v %w", err, ErrorInvalidConfig)
	}

	seg := c.Segment.Config()

	warnings, err := seg.Validate()
	if err != nil {
		return nil, fmt.Errorf("%v %w", err, ErrorInvalidConfig)
	}

	delay := c.Delay()

	switch {
	case c.Retry == 0 && delay == 0:
		warnings = append(warnings, "neither delay nor retry set, the first segment may not be available yet")
	case c.Retry == 0 && delay <= seg.SegmentDuration:
		warnings = append(warnings, fmt.Sprintf("delay %v not above segment duration %v without retry", delay, seg.SegmentDuration))
	}

	if delay >= seg.TimeshiftDepth {
		warnings = append(warnings, fmt.Sprintf("delay %v reaches the timeshift depth %v, segments expire before they are read", delay, seg.TimeshiftDepth))
	}

	return warnings, nil
}
