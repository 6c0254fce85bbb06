package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/network"
	"pcstream/sink"
	"pcstream/stream"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultAcceptWait  = time.Second
	DefaultRequestWait = time.Second

	describeRequest int32 = -1
)

var ErrorBadRequest = errors.New("bad stream request")

// Sink is the connection-oriented sink. Every inbound connection asks for
// one stream and receives the next buffer of that stream, then is closed.
type Sink struct {
	registry stream.Registry
	ln       net.Listener
	mp       *msgParser

	mtx     sync.Mutex
	cond    *sync.Cond
	waiting map[int][]*Conn
	closed  bool

	wg      sync.WaitGroup
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewSink listens on addr and starts accepting requests.
func NewSink(addr string, r stream.Registry) (*Sink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen %w", err)
	}

	s := &Sink{
		registry: r,
		ln:       ln,
		mp:       newMsgParser(network.DefaultMaxFrameLen),
		waiting:  make(map[int][]*Conn),
	}
	s.cond = sync.NewCond(&s.mtx)

	s.wg.Add(1)

	go s.accept()

	log.Info("tcp sink listening", zap.String("addr", ln.Addr().String()), zap.String("streams", r.String()))

	return s, nil
}

func (s *Sink) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Sink) accept() {
	defer s.wg.Done()

	for {
		c, err := s.ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				time.Sleep(5 * time.Millisecond)

				continue
			}

			return
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.serve(c)
		}()
	}
}

func (s *Sink) serve(c net.Conn) {
	_ = c.SetReadDeadline(time.Now().Add(DefaultRequestWait))

	req, err := s.mp.Read(c)
	if err != nil || len(req) != 4 {
		log.Debug("bad tcp request", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
		c.Close()

		return
	}

	_ = c.SetReadDeadline(time.Time{})

	co := newConn(c, 1, s.mp)
	index := int32(binary.BigEndian.Uint32(req))

	if index == describeRequest {
		_ = co.WriteMessage([]byte(s.registry.String()))
		co.Close()

		return
	}

	if !s.registry.Valid(int(index)) {
		co.Close()

		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		co.Close()

		return
	}

	s.waiting[int(index)] = append(s.waiting[int(index)], co)
	s.cond.Broadcast()
}

func (s *Sink) hasWaiter() bool {
	for _, w := range s.waiting {
		if len(w) > 0 {
			return true
		}
	}

	return false
}

// CanFeed reports whether any subscriber is waiting. With wait set it
// blocks until one is, the sink is closed or DefaultAcceptWait elapsed; the
// caller retries the gate on false until Closed.
func (s *Sink) CanFeed(_ int64, wait bool) bool {
	return s.gate(s.hasWaiter, wait)
}

// CanFeedStream is CanFeed restricted to subscribers of stream index.
func (s *Sink) CanFeedStream(_ int64, index int, wait bool) bool {
	return s.gate(func() bool { return len(s.waiting[index]) > 0 }, wait)
}

// gate runs ready under mtx.
func (s *Sink) gate(ready func() bool, wait bool) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !wait || s.closed || ready() {
		return !s.closed && ready()
	}

	t := time.AfterFunc(DefaultAcceptWait, func() {
		s.mtx.Lock()
		s.cond.Broadcast()
		s.mtx.Unlock()
	})
	defer t.Stop()

	deadline := time.Now().Add(DefaultAcceptWait)

	for !s.closed && !ready() && time.Now().Before(deadline) {
		s.cond.Wait()
	}

	return !s.closed && ready()
}

func (s *Sink) Closed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.closed
}

// Feed answers every subscriber waiting on index. A buffer fed without a
// waiter on its own index is dropped and counted.
func (s *Sink) Feed(buf []byte, index int) error {
	if !s.registry.Valid(index) {
		return sink.ErrorInvalidStream
	}

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()

		return sink.ErrorClosed
	}

	conns := s.waiting[index]
	delete(s.waiting, index)
	s.mtx.Unlock()

	if len(conns) == 0 {
		s.dropped.Inc()

		return nil
	}

	var tag [4]byte
	binary.BigEndian.PutUint32(tag[:], uint32(index))

	for _, co := range conns {
		if err := s.mp.Write(co, tag[:], buf); err != nil {
			log.Warn("failed to write buffer", zap.Int("stream", index), zap.Error(err))
		}

		co.Close()
		s.sent.Inc()
	}

	return nil
}

func (s *Sink) Sent() uint64 {
	return s.sent.Load()
}

func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Sink) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()

		return nil
	}

	s.closed = true
	waiting := s.waiting
	s.waiting = nil
	s.cond.Broadcast()
	s.mtx.Unlock()

	err := s.ln.Close()

	for _, conns := range waiting {
		for _, co := range conns {
			co.Close()
		}
	}

	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close listener %w", err)
	}

	return nil
}

func (s *Sink) String() string {
	return "tcp-sink(" + s.ln.Addr().String() + ")"
}
