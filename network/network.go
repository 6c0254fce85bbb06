// Package network holds the message transport contracts shared by the
// websocket server and client. Messages are typed values turned into frames
// by a Codec and dispatched to a Handler.
package network

import (
	"net"
)

// Server accepts subscriber connections. Start blocks until Stop.
type Server interface {
	Start() error
	Stop()
	String() string
	Options() ServerOptions
}

// Client connects to a Server. Dial makes a single attempt and serves the
// session in the background, Start keeps reconnecting until Stop.
type Client interface {
	Dial() error
	Start() error
	Stop()
	String() string
	WriteMessage(interface{}) error
	Options() ClientOptions
}

// Handler receives decoded messages and connection events of every session.
type Handler interface {
	Handle(Agent, interface{})
	OnConnect(Agent)
	OnClose(Agent)
}

// Agent is the peer a message came from. Data is per connection and lives
// as long as the session.
type Agent interface {
	WriteMessage(interface{}) error
	GetData(string) interface{}
	SetData(string, interface{})
	Counters() Counters
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// Counters are the totals of one session.
type Counters struct {
	Read     uint64
	Written  uint64
	BytesIn  uint64
	BytesOut uint64
}

type Codec interface {
	Marshal(interface{}) ([]byte, error)
	Unmarshal([]byte) (interface{}, error)
	String() string
}

// Conn moves whole frames. WriteMessage queues and never blocks on the
// network.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	String() string
}
