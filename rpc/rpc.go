// Package rpc holds the contracts of request/response transports. The only
// implementation is rpc/grpc.
package rpc

import (
	"context"
	"time"
)

const (
	DefaultMaxStreams uint32 = 256

	// DefaultMaxMsgLen bounds one rpc message, large enough for an encoded
	// point cloud.
	DefaultMaxMsgLen uint32 = 64 << 20

	DefaultMaxBackoff  time.Duration = 5 * time.Second
	DefaultCallTimeout time.Duration = time.Second
	DefaultKeepalive   time.Duration = 30 * time.Second
)

// Server hosts rpc services. Start blocks until Stop.
type Server interface {
	Start() error
	Stop()
	String() string
	Options() ServerOptions
}

// Client holds one connection. Client returns the typed stub built for it.
type Client interface {
	Start() error
	Stop()
	String() string
	Options() ClientOptions
	Client() interface{}
}

type Options struct {
	Addr string
	Name string

	MaxMsgLen uint32
	Keepalive time.Duration

	Context context.Context
}

type ClientOptions struct {
	Options
	// MaxBackoff caps the delay between reconnection attempts.
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

type ServerOptions struct {
	Options
	MaxStreams uint32
	ID         string
}

type ClientOption func(*ClientOptions)

type ServerOption func(*ServerOptions)

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

func ServerOptionWithMaxMsgLen(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxMsgLen = n
	}
}

// ServerOptionWithMaxStreams bounds concurrent pulls per connection.
func ServerOptionWithMaxStreams(n uint32) ServerOption {
	return func(o *ServerOptions) {
		o.MaxStreams = n
	}
}

func ServerOptionWithKeepalive(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		o.Keepalive = d
	}
}

func ClientOptionWithAddr(a string) ClientOption {
	return func(o *ClientOptions) {
		o.Addr = a
	}
}

func ClientOptionWithName(n string) ClientOption {
	return func(o *ClientOptions) {
		o.Name = n
	}
}

func ClientOptionWithMaxMsgLen(n uint32) ClientOption {
	return func(o *ClientOptions) {
		o.MaxMsgLen = n
	}
}

func ClientOptionWithMaxBackoff(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.MaxBackoff = d
	}
}

func ClientOptionWithCallTimeout(t time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.CallTimeout = t
	}
}

func ClientOptionWithKeepalive(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.Keepalive = d
	}
}
