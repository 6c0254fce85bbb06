package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pcstream/log"
	s "pcstream/network"
	"pcstream/network/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxHeaderBytes uint32        = 1024
	DefaultHTTPTimeOut    time.Duration = 1000 * time.Millisecond
)

type server struct {
	opts  s.ServerOptions
	conns map[*Conn]struct{}

	ln         net.Listener
	httpServer *http.Server

	upgrader   websocket.Upgrader
	wgConns    sync.WaitGroup
	mutexConns sync.Mutex
	ready      chan struct{}

	cfg wsServerConfig
}

func NewServer(opts ...s.ServerOption) s.Server {
	svr := &server{
		ready: make(chan struct{}),
	}

	svr.opts = s.NewServerOptions(opts...)
	svr.cfg = *serverConfig(&svr.opts)

	return svr
}

func (svr *server) Options() s.ServerOptions {
	return svr.opts
}

// Start listens and serves until Stop.
func (svr *server) Start() error {
	ln, err := net.Listen("tcp", svr.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen %w", err)
	}

	svr.mutexConns.Lock()
	svr.ln = ln
	svr.conns = make(map[*Conn]struct{})
	svr.upgrader = websocket.Upgrader{
		HandshakeTimeout:  svr.cfg.HTTPTimeout,
		EnableCompression: svr.cfg.Compression,
		CheckOrigin:       func(_ *http.Request) bool { return true },
	}

	svr.httpServer = &http.Server{
		Addr:           svr.opts.Addr,
		Handler:        svr,
		ReadTimeout:    svr.cfg.HTTPTimeout,
		MaxHeaderBytes: int(svr.cfg.HTTPMaxHeaderBytes),
	}
	svr.mutexConns.Unlock()

	close(svr.ready)

	log.Info("ws server listening", zap.String("addr", ln.Addr().String()), zap.String("id", svr.opts.ID))

	if err := svr.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve %w", err)
	}

	return nil
}

// Addr is the bound address once Start is listening.
func (svr *server) Addr() net.Addr {
	<-svr.ready

	return svr.ln.Addr()
}

func (svr *server) String() string {
	return "ws-server"
}

func (svr *server) Stop() {
	svr.mutexConns.Lock()
	hs := svr.httpServer

	for conn := range svr.conns {
		conn.Close()
	}

	svr.conns = nil
	svr.mutexConns.Unlock()

	if hs != nil {
		_ = hs.Close()
	}

	svr.wgConns.Wait()
}

func (svr *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

		return
	}

	if svr.cfg.Path != "" && r.URL.Path != svr.cfg.Path {
		http.NotFound(w, r)

		return
	}

	conn, err := svr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", zap.Error(err))

		return
	}

	svr.mutexConns.Lock()
	if svr.conns == nil {
		svr.mutexConns.Unlock()
		conn.Close()

		return
	}

	if uint32(len(svr.conns)) >= svr.opts.MaxConnNum {
		svr.mutexConns.Unlock()
		conn.Close()

		return
	}

	co := newConn(conn, svr.opts.MaxWriteBufLen, svr.opts.MaxMsgLen)
	svr.conns[co] = struct{}{}
	svr.wgConns.Add(1)
	svr.mutexConns.Unlock()

	defer svr.wgConns.Done()

	session := session.NewSession(co, svr.opts.Codec, svr.opts.Handler)

	session.OnConnect()
	session.Run()
	co.Close()
	co.Wait()

	svr.mutexConns.Lock()
	if svr.conns != nil {
		delete(svr.conns, co)
	}
	svr.mutexConns.Unlock()
	session.OnClose()
}
