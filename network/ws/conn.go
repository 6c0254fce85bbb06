package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteWait = 5 * time.Second
	DefaultPongWait  = 60 * time.Second
	// DefaultPingPeriod stays below DefaultPongWait so a live peer always
	// answers before the read deadline.
	DefaultPingPeriod = DefaultPongWait * 9 / 10
)

var (
	ErrorConnClosed     = errors.New("websocket conn closed")
	ErrorWriteQueueFull = errors.New("websocket write queue full")
)

// Conn owns one websocket. Data frames and pings go out through a single
// writer goroutine, a pong pushes the read deadline forward.
type Conn struct {
	mtx    sync.Mutex
	conn   *websocket.Conn
	queue  chan []byte
	closed bool
	done   chan struct{}
}

func newConn(c *websocket.Conn, queueLen uint32, maxMsgLen uint32) *Conn {
	co := &Conn{
		conn:  c,
		queue: make(chan []byte, queueLen+1),
		done:  make(chan struct{}),
	}

	if maxMsgLen > 0 {
		c.SetReadLimit(int64(maxMsgLen))
	}

	_ = c.SetReadDeadline(time.Now().Add(DefaultPongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(DefaultPongWait))
	})

	go co.writeLoop()

	return co
}

func (c *Conn) writeLoop() {
	defer close(c.done)

	ping := time.NewTicker(DefaultPingPeriod)
	defer ping.Stop()

loop:
	for {
		select {
		case data := <-c.queue:
			if data == nil {
				break loop
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteWait))

			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				break loop
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(DefaultWriteWait)); err != nil {
				break loop
			}
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(DefaultWriteWait))
	_ = c.conn.Close()

	c.mtx.Lock()
	c.closed = true
	c.mtx.Unlock()
}

func (c *Conn) ReadMessage() ([]byte, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read message %w", err)
	}

	return b, nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close flushes queued writes and closes the socket once. It does not wait.
func (c *Conn) Close() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.queue <- nil
}

// Wait blocks until the writer has exited.
func (c *Conn) Wait() {
	<-c.done
}

// WriteMessage queues data without blocking. A full queue closes the conn.
func (c *Conn) WriteMessage(data []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return ErrorConnClosed
	}

	if len(c.queue) >= cap(c.queue)-1 {
		c.closed = true
		c.queue <- nil

		return ErrorWriteQueueFull
	}

	c.queue <- data

	return nil
}

func (c *Conn) String() string {
	return "ws(" + c.conn.RemoteAddr().String() + ")"
}
