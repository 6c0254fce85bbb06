package grpc

import (
	"fmt"
	"net"
	"sync"

	"pcstream/log"
	"pcstream/rpc"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

type server struct {
	opts rpc.ServerOptions

	cfg  serverConfig
	mtx  sync.Mutex
	lis  net.Listener
	gsvr *grpc.Server

	ready chan struct{}
}

func NewServer(opts ...rpc.ServerOption) rpc.Server {
	svr := &server{
		ready: make(chan struct{}),
	}

	for _, o := range opts {
		o(&svr.opts)
	}

	if svr.opts.MaxMsgLen == 0 {
		svr.opts.MaxMsgLen = rpc.DefaultMaxMsgLen
	}

	if svr.opts.MaxStreams == 0 {
		svr.opts.MaxStreams = rpc.DefaultMaxStreams
	}

	if svr.opts.Keepalive == 0 {
		svr.opts.Keepalive = rpc.DefaultKeepalive
	}

	if svr.opts.ID == "" {
		svr.opts.ID = uuid.New().String()
	}

	svr.cfg = *serverCfg(&svr.opts)

	if svr.cfg.sub == nil {
		panic("grpc server sub is nil")
	}

	return svr
}

// Start listens and serves until Stop.
func (svr *server) Start() error {
	lis, err := net.Listen("tcp", svr.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen %w", err)
	}

	gsvr := grpc.NewServer(
		grpc.MaxRecvMsgSize(int(svr.opts.MaxMsgLen)),
		grpc.MaxSendMsgSize(int(svr.opts.MaxMsgLen)),
		grpc.MaxConcurrentStreams(svr.opts.MaxStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: svr.opts.Keepalive}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             svr.opts.Keepalive / 2,
			PermitWithoutStream: true,
		}))
	svr.cfg.sub.OnListened(gsvr)

	if !svr.cfg.noReflection {
		reflection.Register(gsvr)
	}

	svr.mtx.Lock()
	svr.lis = lis
	svr.gsvr = gsvr
	svr.mtx.Unlock()

	close(svr.ready)

	log.Info("grpc server listening", zap.String("addr", lis.Addr().String()), zap.String("id", svr.opts.ID))

	if err := gsvr.Serve(lis); err != nil {
		return fmt.Errorf("grpc server %w", err)
	}

	return nil
}

// Addr is the bound address once Start is listening.
func (svr *server) Addr() net.Addr {
	<-svr.ready

	return svr.lis.Addr()
}

func (svr *server) Options() rpc.ServerOptions {
	return svr.opts
}

func (svr *server) Stop() {
	svr.mtx.Lock()
	gsvr := svr.gsvr
	svr.mtx.Unlock()

	if gsvr != nil {
		gsvr.Stop()
	}
}

func (svr *server) String() string {
	return "grpc-server"
}
