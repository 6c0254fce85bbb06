package ws

import (
	"net"
	"testing"
	"time"

	"pcstream/framework"
	"pcstream/network"
	"pcstream/network/codec/json"

	"github.com/stretchr/testify/require"
)

type Ping struct {
	N int
}

type Pong struct {
	N int
}

func newCodec() network.Codec {
	c := json.NewCodec()
	c.Register((*Ping)(nil))
	c.Register((*Pong)(nil))

	return c
}

type echo struct {
	closed chan network.Counters
}

func (e *echo) Init(r framework.Router) {
	r.Register((*Ping)(nil), func(args []interface{}) {
		p := args[0].(*Ping)
		_ = args[1].(network.Agent).WriteMessage(&Pong{N: p.N})
	})
	r.Register((*framework.OnClose)(nil), func(args []interface{}) {
		e.closed <- args[1].(network.Agent).Counters()
	})
}

type collector struct {
	pongs chan int
}

func (c *collector) Init(r framework.Router) {
	r.Register((*Pong)(nil), func(args []interface{}) {
		c.pongs <- args[0].(*Pong).N
	})
}

func startServer(t *testing.T, opts ...network.ServerOption) (network.Server, string, *echo) {
	e := &echo{closed: make(chan network.Counters, 1)}

	opts = append([]network.ServerOption{
		network.ServerOptionWithAddr("127.0.0.1:0"),
		network.ServerOptionWithCodec(newCodec()),
		network.ServerOptionWithHandler(framework.NewRouter(framework.OptionWithModule(e))),
	}, opts...)

	svr := NewServer(opts...)

	go func() {
		_ = svr.Start()
	}()

	addr := svr.(interface{ Addr() net.Addr }).Addr().String()

	return svr, addr, e
}

func TestEchoWithPathAndCompression(t *testing.T) {
	svr, addr, e := startServer(t, ServerOptionWithPath("/segments"), ServerOptionWithCompression())
	defer svr.Stop()

	c := &collector{pongs: make(chan int, 4)}
	cli := NewClient(
		network.ClientOptionWithAddr("ws://"+addr+"/segments"),
		network.ClientOptionWithCodec(newCodec()),
		network.ClientOptionWithHandler(framework.NewRouter(framework.OptionWithModule(c))),
		ClientOptionWithCompression(),
		ClientOptionWithHandshakeTimeout(time.Second))

	require.NoError(t, cli.Dial())

	for i := 1; i <= 3; i++ {
		require.NoError(t, cli.WriteMessage(&Ping{N: i}))
	}

	for i := 1; i <= 3; i++ {
		select {
		case n := <-c.pongs:
			require.Equal(t, i, n)
		case <-time.After(2 * time.Second):
			t.Fatal("no pong")
		}
	}

	cli.Stop()

	select {
	case cnt := <-e.closed:
		require.Equal(t, uint64(3), cnt.Read)
		require.Equal(t, uint64(3), cnt.Written)
		require.NotZero(t, cnt.BytesIn)
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
}

func TestWrongPathRejected(t *testing.T) {
	svr, addr, _ := startServer(t, ServerOptionWithPath("/segments"))
	defer svr.Stop()

	cli := NewClient(
		network.ClientOptionWithAddr("ws://"+addr+"/other"),
		network.ClientOptionWithCodec(newCodec()),
		network.ClientOptionWithHandler(framework.NewRouter()))

	require.Error(t, cli.Dial())
}

func TestWriteBeforeDial(t *testing.T) {
	cli := NewClient(network.ClientOptionWithAddr("ws://127.0.0.1:1"))

	require.ErrorIs(t, cli.WriteMessage(&Ping{}), ErrorNotConnected)
}
