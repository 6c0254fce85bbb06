package session

import (
	"fmt"
	"net"
	"sync"

	"pcstream/log"
	"pcstream/network"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Session binds one connection to a codec and a handler. It is the
// network.Agent handlers reply through.
type Session struct {
	conn    network.Conn
	codec   network.Codec
	handler network.Handler

	mtx  sync.RWMutex
	data map[string]interface{}

	read     atomic.Uint64
	written  atomic.Uint64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func NewSession(conn network.Conn, codec network.Codec, handler network.Handler) *Session {
	return &Session{
		conn:    conn,
		codec:   codec,
		handler: handler,
		data:    make(map[string]interface{}),
	}
}

// Run decodes and dispatches messages until the conn fails. Messages are
// handled one at a time, in arrival order.
func (s *Session) Run() {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("session read ended", zap.String("conn", s.conn.String()), zap.Error(err))

			break
		}

		s.read.Inc()
		s.bytesIn.Add(uint64(len(data)))

		msg, err := s.codec.Unmarshal(data)
		if err != nil {
			log.Warn("failed to unmarshal", zap.String("codec", s.codec.String()), zap.Error(err))

			break
		}

		s.handler.Handle(s, msg)
	}
}

func (s *Session) OnClose() {
	s.handler.OnClose(s)
}

func (s *Session) OnConnect() {
	s.handler.OnConnect(s)
}

func (s *Session) WriteMessage(msg interface{}) error {
	data, err := s.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %w", err)
	}

	if err = s.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("failed to write %w", err)
	}

	s.written.Inc()
	s.bytesOut.Add(uint64(len(data)))

	return nil
}

// Counters returns the messages and bytes read and written so far.
func (s *Session) Counters() network.Counters {
	return network.Counters{
		Read:     s.read.Load(),
		Written:  s.written.Load(),
		BytesIn:  s.bytesIn.Load(),
		BytesOut: s.bytesOut.Load(),
	}
}

func (s *Session) GetData(key string) interface{} {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.data[key]
}

func (s *Session) SetData(key string, v interface{}) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.data[key] = v
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}
