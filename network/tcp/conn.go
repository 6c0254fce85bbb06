package tcp

import (
	"errors"
	"net"
	"sync"
)

const DefaultWriteQueueLen = 100

var (
	ErrorConnClosed     = errors.New("tcp conn closed")
	ErrorWriteQueueFull = errors.New("tcp write queue full")
)

// Conn writes through one goroutine fed by a bounded queue. A peer that
// lets the queue fill up is disconnected. Close flushes queued writes
// before closing the socket.
type Conn struct {
	mtx    sync.Mutex
	conn   net.Conn
	queue  chan []byte
	closed bool
	mp     *msgParser
	done   chan struct{}
}

func newConn(c net.Conn, queueLen int, mp *msgParser) *Conn {
	if queueLen <= 0 {
		queueLen = DefaultWriteQueueLen
	}

	co := &Conn{
		conn:  c,
		mp:    mp,
		queue: make(chan []byte, queueLen+1),
		done:  make(chan struct{}),
	}

	go co.writeLoop()

	return co
}

func (c *Conn) writeLoop() {
	defer close(c.done)

	for data := range c.queue {
		if data == nil {
			break
		}

		if _, err := c.conn.Write(data); err != nil {
			break
		}
	}

	_ = c.conn.Close()

	c.mtx.Lock()
	c.closed = true
	c.mtx.Unlock()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close is idempotent. The nil sentinel always fits, one slot is reserved
// for it.
func (c *Conn) Close() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return
	}

	c.queue <- nil
	c.closed = true
}

// Wait blocks until queued writes are flushed and the socket is closed.
func (c *Conn) Wait() {
	<-c.done
}

func (c *Conn) Read(data []byte) (int, error) {
	return c.conn.Read(data)
}

func (c *Conn) ReadMessage() ([]byte, error) {
	return c.mp.Read(c)
}

// Write queues data without blocking.
func (c *Conn) Write(data []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return ErrorConnClosed
	}

	if len(c.queue) >= cap(c.queue)-1 {
		c.queue <- nil
		c.closed = true

		return ErrorWriteQueueFull
	}

	c.queue <- data

	return nil
}

func (c *Conn) WriteMessage(data []byte) error {
	return c.mp.Write(c, data)
}

func (c *Conn) String() string {
	return "tcp(" + c.conn.RemoteAddr().String() + ")"
}
