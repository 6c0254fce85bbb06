package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/network"
	"pcstream/network/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrorNotConnected = errors.New("websocket client not connected")
	ErrorClientClosed = errors.New("websocket client stopped")
)

type client struct {
	sync.Mutex
	opts      network.ClientOptions
	dialer    websocket.Dialer
	closeFlag bool
	stop      chan struct{}

	conn *Conn
	sess *session.Session
}

func NewClient(opts ...network.ClientOption) network.Client {
	cli := &client{
		opts: network.NewClientOptions(opts...),
		stop: make(chan struct{}),
	}

	cfg := clientConfig(&cli.opts)

	cli.dialer = websocket.Dialer{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: cfg.Compression,
	}

	return cli
}

func (cli *client) Options() network.ClientOptions {
	return cli.opts
}

func (cli *client) connect() (*Conn, *session.Session, error) {
	cli.Lock()
	defer cli.Unlock()

	if cli.closeFlag {
		return nil, nil, ErrorClientClosed
	}

	c, _, err := cli.dialer.Dial(cli.opts.Addr, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s %w", cli.opts.Addr, err)
	}

	co := newConn(c, cli.opts.MaxWriteBufLen, cli.opts.MaxMsgLen)
	sess := session.NewSession(co, cli.opts.Codec, cli.opts.Handler)

	cli.conn = co
	cli.sess = sess

	return co, sess, nil
}

func (cli *client) serve(co *Conn, sess *session.Session) {
	sess.OnConnect()
	sess.Run()
	co.Close()

	cli.Lock()
	if cli.sess == sess {
		cli.sess = nil
		cli.conn = nil
	}
	cli.Unlock()

	sess.OnClose()
}

// Dial connects once and runs the session on its own goroutine.
func (cli *client) Dial() error {
	co, sess, err := cli.connect()
	if err != nil {
		return err
	}

	go cli.serve(co, sess)

	return nil
}

// Start blocks, reconnecting up to MaxReconnectNum consecutive failures.
func (cli *client) Start() error {
	var reCount uint32

	for {
		co, sess, err := cli.connect()
		if errors.Is(err, ErrorClientClosed) {
			return nil
		}

		if err != nil {
			if reCount >= cli.opts.MaxReconnectNum {
				return fmt.Errorf("reconnect count > max reconnect count, %w", err)
			}

			log.Warn("websocket reconnect", zap.String("addr", cli.opts.Addr), zap.Uint32("count", reCount), zap.Error(err))

			t := time.NewTimer(cli.opts.ReconnectInterval)

			select {
			case <-t.C:
			case <-cli.stop:
				t.Stop()

				return nil
			}

			reCount++

			continue
		}

		reCount = 0

		cli.serve(co, sess)
	}
}

func (cli *client) Stop() {
	cli.Lock()
	if !cli.closeFlag {
		close(cli.stop)
	}

	cli.closeFlag = true
	co := cli.conn
	cli.conn = nil
	cli.Unlock()

	if co != nil {
		co.Close()
		co.Wait()
	}
}

func (cli *client) String() string {
	return "ws-client"
}

func (cli *client) WriteMessage(data interface{}) error {
	cli.Lock()
	sess := cli.sess
	cli.Unlock()

	if sess == nil {
		return ErrorNotConnected
	}

	return sess.WriteMessage(data)
}
