package segment

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"pcstream/framework"
	"pcstream/network"
	"pcstream/network/ws"
	"pcstream/sink"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mtx sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg Config, r stream.Registry) (*Store, *clock) {
	t.Helper()

	s, err := NewStore(cfg, r)
	require.NoError(t, err)

	c := &clock{now: time.Unix(1000, 0)}
	s.now = c.Now

	return s, c
}

func oneStream() stream.Registry {
	return stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{985})
}

func TestConfigValidate(t *testing.T) {
	_, err := Config{}.Validate()
	require.ErrorIs(t, err, ErrorInvalidConfig)

	_, err = Config{SegmentDuration: time.Second}.Validate()
	require.ErrorIs(t, err, ErrorInvalidConfig)

	w, err := Config{SegmentDuration: 2 * time.Second, TimeshiftDepth: 30 * time.Second}.Validate()
	require.NoError(t, err)
	require.Empty(t, w)

	w, err = Config{SegmentDuration: 2 * time.Second, TimeshiftDepth: 4 * time.Second}.Validate()
	require.NoError(t, err)
	require.Len(t, w, 2)
}

func TestStorePublishesAfterDuration(t *testing.T) {
	s, c := newTestStore(t, Config{SegmentDuration: time.Second, TimeshiftDepth: 10 * time.Second}, oneStream())

	require.NoError(t, s.Append(0, []byte("a")))
	require.NoError(t, s.Append(0, []byte("b")))

	_, ok, err := s.Read(0, 0)
	require.NoError(t, err)
	require.False(t, ok)

	c.Advance(time.Second)
	s.Tick()
	require.Equal(t, 1, s.Published(0))

	b, ok, err := s.Read(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), b.Seq)
	require.Equal(t, "a", string(b.Data))

	b, ok, err = s.Read(0, b.Seq)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(b.Data))

	_, ok, err = s.Read(0, b.Seq)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = s.Read(3, 0)
	require.ErrorIs(t, err, stream.ErrorNoStream)
	require.ErrorIs(t, s.Append(3, nil), stream.ErrorNoStream)
}

func TestStoreLiveEdgeAndEviction(t *testing.T) {
	s, c := newTestStore(t, Config{SegmentDuration: time.Second, TimeshiftDepth: 3 * time.Second}, oneStream())

	// Segment i holds seq 2i+1 and 2i+2.
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Append(0, []byte{byte(2*i + 1)}))
		require.NoError(t, s.Append(0, []byte{byte(2*i + 2)}))
		c.Advance(time.Second)
		s.Tick()
	}

	require.LessOrEqual(t, s.Published(0), 4)

	b, ok, err := s.Read(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(11), b.Seq)

	b, ok, err = s.Read(0, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, b.Seq, uint64(2))
	require.Equal(t, []byte{byte(b.Seq)}, b.Data)
}

func TestStoreCloseFlushesAndEnds(t *testing.T) {
	s, _ := newTestStore(t, Config{SegmentDuration: time.Hour, TimeshiftDepth: 3 * time.Hour}, oneStream())

	require.NoError(t, s.Append(0, []byte("x")))
	s.Close()
	s.Close()

	require.ErrorIs(t, s.Append(0, nil), ErrorClosed)

	b, ok, err := s.Read(0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.Read(0, b.Seq)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)
}

func TestSink(t *testing.T) {
	s, err := NewStore(Config{SegmentDuration: 20 * time.Millisecond, TimeshiftDepth: time.Second}, oneStream())
	require.NoError(t, err)

	sk := NewSink(s)
	require.True(t, sk.CanFeed(0, true))
	require.NoError(t, sk.Feed([]byte("a"), 0))
	require.Error(t, sk.Feed([]byte("a"), 1))

	require.Eventually(t, func() bool {
		return s.Published(0) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sk.Close())
	require.NoError(t, sk.Close())
	require.False(t, sk.CanFeed(0, true))
	require.ErrorIs(t, sk.Feed([]byte("a"), 0), sink.ErrorClosed)
	require.True(t, s.Closed())
}

func TestServiceAnswer(t *testing.T) {
	s, c := newTestStore(t, Config{SegmentDuration: time.Second, TimeshiftDepth: 10 * time.Second}, oneStream())
	svc := NewService(s)

	require.Equal(t, "cwi1:0:985", svc.Manifest().Streams)
	require.Equal(t, int64(1000), svc.Manifest().SegmentDuration)

	require.True(t, svc.Answer(&Pull{Stream: 0}).Pending)
	require.NotEmpty(t, svc.Answer(&Pull{Stream: 5}).Error)

	require.NoError(t, s.Append(0, []byte("a")))
	c.Advance(time.Second)
	s.Tick()

	ch := svc.Answer(&Pull{Stream: 0})
	require.Equal(t, uint64(1), ch.Seq)
	require.Equal(t, []byte("a"), ch.Data)

	s.Close()
	require.True(t, svc.Answer(&Pull{Stream: 0, Cursor: 1}).EOS)
}

func TestLocalTransport(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{760, 985})
	s, err := NewStore(Config{SegmentDuration: time.Hour, TimeshiftDepth: 3 * time.Hour}, r)
	require.NoError(t, err)

	l := NewLocal(s, 50*time.Millisecond)
	require.NoError(t, l.Connect(context.Background()))
	require.Equal(t, 2, l.Count())

	d, err := l.Descriptor(1)
	require.NoError(t, err)
	require.Equal(t, uint32(985), d.Quality)

	_, err = l.Descriptor(2)
	require.ErrorIs(t, err, stream.ErrorNoStream)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(1, []byte{byte(i)}))
	}

	s.Close()

	for i := 0; i < 3; i++ {
		buf, err := l.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, buf)
	}

	_, err = l.Pull(context.Background(), 1)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)

	_, err = l.Pull(context.Background(), 0)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)
}

type addrServer interface {
	Addr() net.Addr
}

func TestRemoteOverWebsocket(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{1, 2}, []uint32{985})
	s, err := NewStore(Config{SegmentDuration: time.Hour, TimeshiftDepth: 3 * time.Hour}, r)
	require.NoError(t, err)

	srv := ws.NewServer(
		network.ServerOptionWithAddr("127.0.0.1:0"),
		network.ServerOptionWithCodec(NewCodec()),
		network.ServerOptionWithHandler(framework.NewRouter(framework.OptionWithModule(NewService(s)))))

	go func() {
		_ = srv.Start()
	}()

	defer srv.Stop()

	url := "ws://" + srv.(addrServer).Addr().String()

	remote := NewRemote(func(h network.Handler, c network.Codec) network.Client {
		return ws.NewClient(
			network.ClientOptionWithAddr(url),
			network.ClientOptionWithHandler(h),
			network.ClientOptionWithCodec(c))
	}, 200*time.Millisecond)

	require.NoError(t, remote.Connect(context.Background()))
	require.Equal(t, 2, remote.Count())

	d, err := remote.Descriptor(1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), d.Tile)
	require.NoError(t, remote.Enable(1, true))
	require.True(t, remote.Enabled(1))

	require.NoError(t, s.Append(1, []byte("first")))
	require.NoError(t, s.Append(1, []byte("second")))
	s.Close()

	buf, err := remote.Pull(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "first", string(buf))

	buf, err = remote.Pull(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "second", string(buf))

	_, err = remote.Pull(context.Background(), 1)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)

	require.NoError(t, remote.Close())
}

func TestRemoteNotReady(t *testing.T) {
	remote := NewRemote(func(h network.Handler, c network.Codec) network.Client {
		return ws.NewClient(
			network.ClientOptionWithAddr("ws://127.0.0.1:1"),
			network.ClientOptionWithHandler(h),
			network.ClientOptionWithCodec(c))
	}, 0)

	require.ErrorIs(t, remote.Connect(context.Background()), stream.ErrorNotReady)
}
