package grpc

import (
	"fmt"
	"sync"
	"time"

	"pcstream/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/keepalive"
)

// DefaultMinConnectTimeout bounds one connection attempt, calls are bounded
// separately by CallTimeout.
const DefaultMinConnectTimeout = 20 * time.Second

type client struct {
	opts       rpc.ClientOptions
	sub        ClientSub
	mtx        sync.Mutex
	conn       *grpc.ClientConn
	grpcClient interface{}
}

func NewClient(opts ...rpc.ClientOption) rpc.Client {
	cli := &client{}

	for _, o := range opts {
		o(&cli.opts)
	}

	if cli.opts.MaxBackoff == 0 {
		cli.opts.MaxBackoff = rpc.DefaultMaxBackoff
	}

	if cli.opts.Keepalive == 0 {
		cli.opts.Keepalive = rpc.DefaultKeepalive
	}

	if cli.opts.CallTimeout == 0 {
		cli.opts.CallTimeout = rpc.DefaultCallTimeout
	}

	if cli.opts.MaxMsgLen == 0 {
		cli.opts.MaxMsgLen = rpc.DefaultMaxMsgLen
	}

	if cli.opts.Context != nil {
		cli.sub, _ = cli.opts.Context.Value(clientConfigKey{}).(ClientSub)
	}

	if cli.sub == nil {
		panic("grpc client sub is nil")
	}

	return cli
}

func (cli *client) Options() rpc.ClientOptions {
	return cli.opts
}

// Start dials without blocking, the connection is established on first use
// and re-established with exponential backoff capped at MaxBackoff.
func (cli *client) Start() error {
	bc := backoff.DefaultConfig
	bc.MaxDelay = cli.opts.MaxBackoff

	if bc.BaseDelay > bc.MaxDelay {
		bc.BaseDelay = bc.MaxDelay
	}

	conn, err := grpc.Dial(cli.opts.Addr,
		grpc.WithInsecure(),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: bc, MinConnectTimeout: DefaultMinConnectTimeout}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: cli.opts.Keepalive, PermitWithoutStream: true}),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(int(cli.opts.MaxMsgLen))))
	if err != nil {
		return fmt.Errorf("grpc connect %w", err)
	}

	cli.mtx.Lock()
	cli.conn = conn
	cli.grpcClient = cli.sub.OnConnected(conn)
	cli.mtx.Unlock()

	return nil
}

func (cli *client) Stop() {
	cli.mtx.Lock()
	defer cli.mtx.Unlock()

	if cli.conn != nil {
		cli.conn.Close()
		cli.conn = nil
	}
}

func (cli *client) String() string {
	return "grpc-client"
}

func (cli *client) Client() interface{} {
	cli.mtx.Lock()
	defer cli.mtx.Unlock()

	return cli.grpcClient
}
