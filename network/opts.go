package network

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxConnNum  uint32 = 256
	DefaultWriteBufLen uint32 = 100

	// DefaultMaxFrameLen bounds one message, large enough for an encoded
	// point cloud.
	DefaultMaxFrameLen uint32 = 64 << 20

	DefaultMaxReconnectNum   uint32        = 3
	DefaultReconnectInterval time.Duration = 5 * time.Second
)

type Options struct {
	Addr string
	Name string

	Codec   Codec
	Handler Handler

	// MaxWriteBufLen is the number of frames queued per connection before
	// the connection is dropped.
	MaxWriteBufLen uint32
	MaxMsgLen      uint32

	Context context.Context
}

type ClientOptions struct {
	Options
	MaxReconnectNum   uint32
	ReconnectInterval time.Duration
}

type ServerOptions struct {
	Options
	MaxConnNum uint32
	ID         string
}

type ClientOption func(*ClientOptions)

type ServerOption func(*ServerOptions)

func (o *Options) setDefaults() {
	if o.MaxWriteBufLen == 0 {
		o.MaxWriteBufLen = DefaultWriteBufLen
	}

	if o.MaxMsgLen == 0 {
		o.MaxMsgLen = DefaultMaxFrameLen
	}

	if o.Context == nil {
		o.Context = context.Background()
	}
}

// NewServerOptions applies opts over the defaults. A server without an ID
// gets a random one.
func NewServerOptions(opts ...ServerOption) ServerOptions {
	var o ServerOptions

	for _, f := range opts {
		f(&o)
	}

	o.setDefaults()

	if o.MaxConnNum == 0 {
		o.MaxConnNum = DefaultMaxConnNum
	}

	if o.ID == "" {
		o.ID = uuid.New().String()
	}

	return o
}

func NewClientOptions(opts ...ClientOption) ClientOptions {
	var o ClientOptions

	for _, f := range opts {
		f(&o)
	}

	o.setDefaults()

	if o.MaxReconnectNum == 0 {
		o.MaxReconnectNum = DefaultMaxReconnectNum
	}

	if o.ReconnectInterval == 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}

	return o
}

func ServerOptionWithAddr(a string) ServerOption {
	return func(o *ServerOptions) {
		o.Addr = a
	}
}

// ServerOptionWithName sets the name the server is advertised under.
func ServerOptionWithName(n string) ServerOption {
	return func(o *ServerOptions) {
		o.Name = n
	}
}

func ServerOptionWithID(id string) ServerOption {
	return func(o *ServerOptions) {
		o.ID = id
	}
}

func ServerOptionWithMaxConnNum(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxConnNum = n
	}
}

func ServerOptionWithHandler(h Handler) ServerOption {
	return func(o *ServerOptions) {
		o.Handler = h
	}
}

func ServerOptionWithCodec(c Codec) ServerOption {
	return func(o *ServerOptions) {
		o.Codec = c
	}
}

func ServerOptionWithMaxMsgLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxMsgLen = n
	}
}

func ServerOptionWithMaxWriteBufLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxWriteBufLen = n
	}
}

func ClientOptionWithAddr(a string) ClientOption {
	return func(o *ClientOptions) {
		o.Addr = a
	}
}

func ClientOptionWithMaxReconnectNum(n uint32) ClientOption {
	return func(o *ClientOptions) {
		o.MaxReconnectNum = n
	}
}

func ClientOptionWithMaxMsgLen(n uint32) ClientOption {
	return func(o *ClientOptions) {
		o.MaxMsgLen = n
	}
}

func ClientOptionWithReconnectInterval(t time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.ReconnectInterval = t
	}
}

func ClientOptionWithHandler(h Handler) ClientOption {
	return func(o *ClientOptions) {
		o.Handler = h
	}
}

func ClientOptionWithCodec(c Codec) ClientOption {
	return func(o *ClientOptions) {
		o.Codec = c
	}
}
