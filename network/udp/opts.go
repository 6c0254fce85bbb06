package udp

import "time"

const (
	DefaultDataShards        = 10
	DefaultParityShards      = 3
	DefaultShardSize         = 1200
	DefaultDSCP              = 46
	DefaultManifestInterval  = time.Second
	DefaultManifestWait      = 3 * time.Second
	DefaultReassemblyTimeout = 2 * time.Second
	DefaultQueueLen          = 32
)

type Options struct {
	DataShards       int
	ParityShards     int
	ShardSize        int
	DSCP             int
	ManifestInterval time.Duration
	ManifestWait     time.Duration
	QueueLen         int
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	o := Options{
		DataShards:       DefaultDataShards,
		ParityShards:     DefaultParityShards,
		ShardSize:        DefaultShardSize,
		DSCP:             DefaultDSCP,
		ManifestInterval: DefaultManifestInterval,
		ManifestWait:     DefaultManifestWait,
		QueueLen:         DefaultQueueLen,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func OptionWithShards(data, parity int) Option {
	return func(o *Options) {
		o.DataShards = data
		o.ParityShards = parity
	}
}

func OptionWithShardSize(n int) Option {
	return func(o *Options) {
		o.ShardSize = n
	}
}

// OptionWithDSCP marks outgoing datagrams, 0 leaves the socket untouched.
func OptionWithDSCP(dscp int) Option {
	return func(o *Options) {
		o.DSCP = dscp
	}
}

func OptionWithManifestInterval(d time.Duration) Option {
	return func(o *Options) {
		o.ManifestInterval = d
	}
}

func OptionWithManifestWait(d time.Duration) Option {
	return func(o *Options) {
		o.ManifestWait = d
	}
}

func OptionWithQueueLen(n int) Option {
	return func(o *Options) {
		o.QueueLen = n
	}
}
