package grpc

import (
	"context"

	"pcstream/rpc"

	"google.golang.org/grpc"
)

// ServerSub registers its services on a freshly created grpc server.
type ServerSub interface {
	OnListened(*grpc.Server)
}

// ClientSub wraps a connection into the typed client returned by Client.
type ClientSub interface {
	OnConnected(*grpc.ClientConn) interface{}
}

type serverConfigKey struct{}

type serverConfig struct {
	sub          ServerSub
	noReflection bool
}

type clientConfigKey struct{}

func serverCfg(o *rpc.ServerOptions) *serverConfig {
	if o.Context == nil {
		o.Context = context.Background()
	}

	cfg, ok := o.Context.Value(serverConfigKey{}).(*serverConfig)
	if !ok {
		cfg = &serverConfig{}
		o.Context = context.WithValue(o.Context, serverConfigKey{}, cfg)
	}

	return cfg
}

func ServerOptionWithSub(sub ServerSub) rpc.ServerOption {
	return func(o *rpc.ServerOptions) {
		serverCfg(o).sub = sub
	}
}

// ServerOptionWithoutReflection hides the services from grpc reflection.
func ServerOptionWithoutReflection() rpc.ServerOption {
	return func(o *rpc.ServerOptions) {
		serverCfg(o).noReflection = true
	}
}

func ClientOptionWithSub(sub ClientSub) rpc.ClientOption {
	return func(o *rpc.ClientOptions) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, clientConfigKey{}, sub)
	}
}
