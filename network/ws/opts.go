package ws

import (
	"context"
	"time"

	"pcstream/network"
)

type wsServerConfigKey struct{}

// wsServerConfig is shared by every server option, each one edits its own
// fields.
type wsServerConfig struct {
	HTTPTimeout        time.Duration
	HTTPMaxHeaderBytes uint32
	Path               string
	Compression        bool
}

type wsClientConfigKey struct{}

type wsClientConfig struct {
	HandshakeTimeout time.Duration
	Compression      bool
}

func serverConfig(o *network.ServerOptions) *wsServerConfig {
	if o.Context == nil {
		o.Context = context.Background()
	}

	if cfg, ok := o.Context.Value(wsServerConfigKey{}).(*wsServerConfig); ok {
		return cfg
	}

	cfg := &wsServerConfig{
		HTTPTimeout:        DefaultHTTPTimeOut,
		HTTPMaxHeaderBytes: DefaultMaxHeaderBytes,
	}
	o.Context = context.WithValue(o.Context, wsServerConfigKey{}, cfg)

	return cfg
}

func clientConfig(o *network.ClientOptions) *wsClientConfig {
	if o.Context == nil {
		o.Context = context.Background()
	}

	if cfg, ok := o.Context.Value(wsClientConfigKey{}).(*wsClientConfig); ok {
		return cfg
	}

	cfg := &wsClientConfig{HandshakeTimeout: DefaultHTTPTimeOut}
	o.Context = context.WithValue(o.Context, wsClientConfigKey{}, cfg)

	return cfg
}

func ServerOptionWithHTTP(timeout time.Duration, maxHeaderBytes uint32) network.ServerOption {
	return func(o *network.ServerOptions) {
		cfg := serverConfig(o)
		cfg.HTTPTimeout = timeout
		cfg.HTTPMaxHeaderBytes = maxHeaderBytes
	}
}

// ServerOptionWithPath only upgrades requests for path. By default any path
// is accepted.
func ServerOptionWithPath(path string) network.ServerOption {
	return func(o *network.ServerOptions) {
		serverConfig(o).Path = path
	}
}

// ServerOptionWithCompression negotiates permessage-deflate. Chunk bodies
// are already compressed, it only pays off for the json envelope.
func ServerOptionWithCompression() network.ServerOption {
	return func(o *network.ServerOptions) {
		serverConfig(o).Compression = true
	}
}

func ClientOptionWithHandshakeTimeout(d time.Duration) network.ClientOption {
	return func(o *network.ClientOptions) {
		clientConfig(o).HandshakeTimeout = d
	}
}

func ClientOptionWithCompression() network.ClientOption {
	return func(o *network.ClientOptions) {
		clientConfig(o).Compression = true
	}
}
