package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pcstream/codec"
	"pcstream/frame"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mtx      sync.Mutex
	registry stream.Registry
	failures int
	connects int
	enabled  map[int]bool
	queues   map[int][][]byte
	eof      time.Duration
	pullErr  error
	closed   int
}

func newFakeTransport(r stream.Registry) *fakeTransport {
	return &fakeTransport{
		registry: r,
		enabled:  make(map[int]bool),
		queues:   make(map[int][][]byte),
		eof:      50 * time.Millisecond,
	}
}

func (f *fakeTransport) push(index int, buf []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.queues[index] = append(f.queues[index], buf)
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.connects++
	if f.connects <= f.failures {
		return stream.ErrorNotReady
	}

	return nil
}

func (f *fakeTransport) Count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.connects <= f.failures {
		return 0
	}

	return len(f.registry)
}

func (f *fakeTransport) Descriptor(i int) (stream.Descriptor, error) {
	if !f.registry.Valid(i) {
		return stream.Descriptor{}, stream.ErrorNoStream
	}

	return f.registry[i], nil
}

func (f *fakeTransport) Enable(i int, on bool) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.enabled[i] = on

	return nil
}

func (f *fakeTransport) Pull(ctx context.Context, i int) ([]byte, error) {
	return stream.Poll(ctx, f.eof, time.Millisecond, func() ([]byte, bool, error) {
		f.mtx.Lock()
		defer f.mtx.Unlock()

		if f.pullErr != nil {
			return nil, false, f.pullErr
		}

		q := f.queues[i]
		if len(q) == 0 {
			return nil, false, nil
		}

		f.queues[i] = q[1:]

		return q[0], true, nil
	})
}

func (f *fakeTransport) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.closed++

	return nil
}

func (f *fakeTransport) String() string {
	return "fake"
}

type collector struct {
	mtx    sync.Mutex
	frames []*frame.Frame
}

func (c *collector) Feed(f *frame.Frame) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.frames = append(c.frames, f)
}

func (c *collector) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return len(c.frames)
}

type memPersister struct {
	mtx  sync.Mutex
	seqs map[int][]uint64
}

func (p *memPersister) Save(index int, seq uint64, buf []byte) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.seqs == nil {
		p.seqs = make(map[int][]uint64)
	}

	p.seqs[index] = append(p.seqs[index], seq)

	return nil
}

func encoded(t *testing.T, ts int64) []byte {
	t.Helper()

	f := frame.New(ts, []frame.Point{{X: 1, Y: 2, Z: 3, Tile: 1}, {X: 2, Y: 1, Z: 0, Tile: 1}})

	buf, err := codec.Encode(f, codec.Params{OctreeBits: codec.DefaultOctreeBits, JPEGQuality: codec.DefaultJPEGQuality})
	require.NoError(t, err)
	f.Release()

	return buf
}

func threeQualities() stream.Registry {
	return stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{60, 85, 95})
}

func TestSelectPolicies(t *testing.T) {
	cases := []struct {
		policy string
		found  bool
		index  int
	}{
		{"lowest", true, 0},
		{"highest", true, 2},
		{"first", true, 0},
		{"last", true, 2},
		{"default", true, 0},
		{"85", true, 1},
		{"70", false, 0},
	}

	for _, c := range cases {
		t.Run(c.policy, func(t *testing.T) {
			p, err := stream.ParsePolicy(c.policy)
			require.NoError(t, err)

			s := NewSubscriber(newFakeTransport(threeQualities()), OptionWithPolicy(p))
			require.NoError(t, s.Connect(context.Background()))

			sel, err := s.Select()
			require.NoError(t, err)

			if !c.found {
				require.Empty(t, sel)

				return
			}

			require.Len(t, sel, 1)
			require.Equal(t, c.index, sel[0].Index)
			require.Equal(t, uint32(0), sel[0].Tile)
		})
	}
}

func TestSelectPerTileOverride(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{1, 2, 3}, []uint32{760, 985})

	s := NewSubscriber(newFakeTransport(r),
		OptionWithPolicy(stream.Exact(985)),
		OptionWithTilePolicy(2, stream.Exact(760)),
		OptionWithTilePolicy(3, stream.Exact(500)))
	require.NoError(t, s.Connect(context.Background()))

	sel, err := s.Select()
	require.NoError(t, err)
	require.Len(t, sel, 2)
	require.Equal(t, 1, sel[0].Index)
	require.Equal(t, 2, sel[1].Index)
}

func TestSelectBeforeConnect(t *testing.T) {
	_, err := NewSubscriber(newFakeTransport(threeQualities())).Select()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectRetry(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	ft.failures = 2

	s := NewSubscriber(ft, OptionWithRetry(2), OptionWithDelay(time.Millisecond))
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, 3, ft.connects)
	require.Len(t, s.Registry(), 3)
}

func TestConnectRetryExhausted(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	ft.failures = 5

	s := NewSubscriber(ft, OptionWithRetry(1), OptionWithDelay(time.Millisecond))
	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrRetryExhausted)
	require.Equal(t, 2, ft.connects)
}

func TestConnectNoStreams(t *testing.T) {
	s := NewSubscriber(newFakeTransport(nil), OptionWithRetry(1), OptionWithDelay(time.Millisecond))
	require.ErrorIs(t, s.Connect(context.Background()), ErrNoStreams)
}

func TestReceiverEndOfStream(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	r := NewReceiver(0, ft.registry[0], ft, Options{})
	require.Equal(t, StateIdle, r.State())

	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, StateStopped, r.State())
	require.GreaterOrEqual(t, time.Since(start), ft.eof)

	// Terminal.
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, StateStopped, r.State())
}

func TestReceiverDecodeFailureContinues(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	ft.push(0, encoded(t, frame.NowMillis()))
	ft.push(0, []byte("not a point cloud"))
	ft.push(0, encoded(t, frame.NowMillis()))

	c := &collector{}
	p := &memPersister{}
	r := NewReceiver(0, ft.registry[0], ft, Options{Consumer: c, Persister: p})

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 2, c.Len())
	require.Equal(t, 2, r.Frames())
	require.Equal(t, 3, r.Received())
	require.Equal(t, []uint64{1, 2, 3}, p.seqs[0])
	require.Equal(t, 3, r.Stats().Get("recv").Count())
	require.Equal(t, 3, r.Stats().Get("decode").Count())
	require.Equal(t, 2, r.Stats().Get("latency").Count())
}

func TestReceiverCountLimitUndecodable(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	for i := 0; i < 3; i++ {
		ft.push(0, []byte("garbage"))
	}

	p := &memPersister{}
	r := NewReceiver(0, ft.registry[0], ft, Options{Count: 2, Persister: p})

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 2, r.Received())
	require.Equal(t, 0, r.Frames())
	require.Equal(t, []uint64{1, 2}, p.seqs[0])
	require.Equal(t, 2, r.Stats().Get("decode").Count())
	require.Equal(t, 0, r.Stats().Get("latency").Count())
}

func TestReceiverCountLimit(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	for i := 0; i < 5; i++ {
		ft.push(0, encoded(t, int64(i)))
	}

	r := NewReceiver(0, ft.registry[0], ft, Options{Count: 3})
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 3, r.Frames())
	require.Equal(t, StateStopped, r.State())
}

func TestReceiverTransportFailure(t *testing.T) {
	boom := errors.New("connection reset")
	ft := newFakeTransport(threeQualities())
	ft.pullErr = boom

	r := NewReceiver(0, ft.registry[0], ft, Options{})
	require.ErrorIs(t, r.Run(context.Background()), boom)
	require.Equal(t, StateStopped, r.State())
}

func TestReceiverStopBeforeRun(t *testing.T) {
	ft := newFakeTransport(threeQualities())
	r := NewReceiver(0, ft.registry[0], ft, Options{})
	r.Stop()
	r.Stop()

	require.Equal(t, StateStopped, r.State())
	require.NoError(t, r.Run(context.Background()))
}

func TestSubscriberStartAndStop(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{1, 2}, []uint32{760, 985})
	ft := newFakeTransport(r)
	ft.eof = time.Minute

	c := &collector{}
	s := NewSubscriber(ft, OptionWithPolicy(stream.Exact(985)), OptionWithConsumer(c))
	require.NoError(t, s.Connect(context.Background()))

	sel, err := s.Select()
	require.NoError(t, err)
	require.Len(t, sel, 2)

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrStarted)
	require.True(t, ft.enabled[1])
	require.True(t, ft.enabled[3])

	ft.push(1, encoded(t, frame.NowMillis()))
	ft.push(3, encoded(t, frame.NowMillis()))

	require.Eventually(t, func() bool {
		return c.Len() == 2
	}, time.Second, 5*time.Millisecond)
	require.True(t, s.Active())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}

	wg.Wait()
	require.NoError(t, s.Wait())
	require.False(t, s.Active())
	require.Equal(t, 1, ft.closed)

	for _, rc := range s.Receivers() {
		require.Equal(t, StateStopped, rc.State())
	}
}

func TestSubscriberDefaultPolicySkipsEnable(t *testing.T) {
	ft := newFakeTransport(threeQualities())

	s := NewSubscriber(ft)
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.Select()
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())
	require.Empty(t, ft.enabled)

	s.Stop()
}

func TestSubscriberReceiverFailureStopsSiblings(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{1, 2}, []uint32{985})
	ft := newFakeTransport(r)
	ft.eof = time.Minute

	s := NewSubscriber(ft, OptionWithPolicy(stream.DefaultPolicy))
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.Select()
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	boom := errors.New("link down")

	ft.mtx.Lock()
	ft.pullErr = boom
	ft.mtx.Unlock()

	require.ErrorIs(t, s.Wait(), boom)
	s.Stop()
}
