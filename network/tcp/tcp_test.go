package tcp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"pcstream/sink"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

func TestMsgParser(t *testing.T) {
	p := newMsgParser(16)

	msg, err := p.Pack([]byte("ab"), []byte("cd"))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 4, 'a', 'b', 'c', 'd'}, msg)

	data, err := p.Read(bytes.NewReader(msg))
	require.NoError(t, err)
	require.Equal(t, "abcd", string(data))

	_, err = p.Pack(make([]byte, 17))
	require.ErrorIs(t, err, ErrorMsgTooLong)

	_, err = p.Pack(nil)
	require.ErrorIs(t, err, ErrorMsgTooShort)

	_, err = p.Read(bytes.NewReader([]byte{0, 0, 1, 0}))
	require.ErrorIs(t, err, ErrorMsgTooLong)
}

func TestSinkAndTransport(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{760, 985})

	s, err := NewSink("127.0.0.1:0", r)
	require.NoError(t, err)

	tr := NewTransport(s.Addr().String(), time.Second)
	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, 2, tr.Count())

	d, err := tr.Descriptor(1)
	require.NoError(t, err)
	require.Equal(t, uint32(985), d.Quality)

	require.False(t, s.CanFeed(0, false))

	got := make(chan []byte, 1)
	errc := make(chan error, 1)

	go func() {
		buf, err := tr.Pull(context.Background(), 1)
		errc <- err
		got <- buf
	}()

	require.True(t, s.CanFeedStream(0, 1, true))
	require.True(t, s.CanFeed(0, false))
	require.False(t, s.CanFeedStream(0, 0, false))

	require.NoError(t, s.Feed([]byte("skipped"), 0))
	require.Equal(t, uint64(1), s.Dropped())

	require.NoError(t, s.Feed([]byte("payload"), 1))
	require.Equal(t, uint64(1), s.Sent())

	require.NoError(t, <-errc)
	require.Equal(t, "payload", string(<-got))

	require.ErrorIs(t, s.Feed(nil, 7), sink.ErrorInvalidStream)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.False(t, s.CanFeed(0, true))
	require.ErrorIs(t, s.Feed([]byte("x"), 0), sink.ErrorClosed)
}

func TestTransportEndOfStream(t *testing.T) {
	tr := NewTransport("127.0.0.1:1", 50*time.Millisecond)
	require.ErrorIs(t, tr.Connect(context.Background()), stream.ErrorNotReady)

	_, err := tr.Pull(context.Background(), 0)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)
}

func TestSinkGateWithoutSubscriber(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{985})

	s, err := NewSink("127.0.0.1:0", r)
	require.NoError(t, err)

	start := time.Now()
	require.False(t, s.CanFeed(0, true))
	require.False(t, s.CanFeedStream(0, 0, true))
	require.GreaterOrEqual(t, time.Since(start), 2*DefaultAcceptWait)
	require.False(t, s.Closed())
	require.True(t, sink.Retry(s))
	require.Zero(t, s.Dropped())

	done := make(chan bool, 1)

	go func() {
		done <- s.CanFeedStream(0, 0, true)
	}()

	require.NoError(t, s.Close())

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * DefaultAcceptWait):
		t.Fatal("gate not released by Close")
	}

	require.True(t, s.Closed())
	require.False(t, sink.Retry(s))
}
