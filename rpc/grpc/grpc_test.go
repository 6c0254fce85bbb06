package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"pcstream/rpc"
	"pcstream/segment"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

type addrServer interface {
	Addr() net.Addr
}

func TestSegmentsOverGRPC(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{760, 985})
	store, err := segment.NewStore(segment.Config{SegmentDuration: time.Hour, TimeshiftDepth: 3 * time.Hour}, r)
	require.NoError(t, err)

	svr := NewServer(
		rpc.ServerOptionWithAddr("127.0.0.1:0"),
		rpc.ServerOptionWithName("segments"),
		ServerOptionWithSub(NewSegments(store)))

	errc := make(chan error, 1)

	go func() {
		errc <- svr.Start()
	}()

	addr := svr.(addrServer).Addr().String()

	tr := NewTransport(addr, time.Second)
	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, 2, tr.Count())

	d, err := tr.Descriptor(0)
	require.NoError(t, err)
	require.Equal(t, uint32(760), d.Quality)

	_, err = tr.Descriptor(2)
	require.ErrorIs(t, err, stream.ErrorNoStream)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(1, []byte{byte(i + 1)}))
	}

	store.Close()

	for i := 0; i < 3; i++ {
		buf, err := tr.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i + 1)}, buf)
	}

	_, err = tr.Pull(context.Background(), 1)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)

	_, err = tr.Pull(context.Background(), 0)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)

	require.NoError(t, tr.Close())

	svr.Stop()
	require.NoError(t, <-errc)
}

func TestTransportNotReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	tr := NewTransport(addr, time.Second)
	require.ErrorIs(t, tr.Connect(context.Background()), stream.ErrorNotReady)
	require.NoError(t, tr.Close())
}

func TestServerRequiresSub(t *testing.T) {
	require.Panics(t, func() {
		NewServer(rpc.ServerOptionWithAddr("127.0.0.1:0"))
	})
}

func TestClientDefaults(t *testing.T) {
	cli := NewClient(ClientOptionWithSub(connSub{}), rpc.ClientOptionWithMaxBackoff(2*time.Second))

	o := cli.Options()
	require.Equal(t, 2*time.Second, o.MaxBackoff)
	require.Equal(t, rpc.DefaultCallTimeout, o.CallTimeout)
	require.Equal(t, rpc.DefaultKeepalive, o.Keepalive)
	require.Equal(t, uint32(rpc.DefaultMaxMsgLen), o.MaxMsgLen)
}

func TestServerWithoutSub(t *testing.T) {
	require.Panics(t, func() {
		NewServer(rpc.ServerOptionWithAddr("127.0.0.1:0"), ServerOptionWithoutReflection())
	})
}
