package source

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pcstream/broker"
	"pcstream/codec"
	"pcstream/frame"

	"github.com/stretchr/testify/require"
)

func TestSyntheticTilesAndCount(t *testing.T) {
	s := NewSynthetic(SyntheticOptionWithPoints(512), SyntheticOptionWithCount(3))

	var last int64

	for i := 0; i < 3; i++ {
		f, err := s.Acquire(context.Background())
		require.NoError(t, err)
		require.Equal(t, 512, f.Count())
		require.Equal(t, 4, f.Tiles())
		require.GreaterOrEqual(t, f.Timestamp, last)

		last = f.Timestamp
		f.Release()
	}

	_, err := s.Acquire(context.Background())
	require.ErrorIs(t, err, frame.ErrorExhausted)
	require.NoError(t, s.Close())
}

func TestSyntheticClosed(t *testing.T) {
	s := NewSynthetic()
	require.NoError(t, s.Close())

	_, err := s.Acquire(context.Background())
	require.ErrorIs(t, err, frame.ErrorClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewSynthetic().Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func writeClouds(t *testing.T, dir string, n int) {
	t.Helper()

	params := codec.Params{OctreeBits: codec.DefaultOctreeBits, JPEGQuality: codec.DefaultJPEGQuality}
	src := NewSynthetic(SyntheticOptionWithPoints(16))

	for i := 0; i < n; i++ {
		f, err := src.Acquire(context.Background())
		require.NoError(t, err)

		buf, err := codec.Encode(f, params)
		require.NoError(t, err)
		f.Release()

		name := filepath.Join(dir, "pointcloud-0-0000"+string(rune('0'+i))+".cwicpc")
		require.NoError(t, ioutil.WriteFile(name, buf, 0o644))
	}
}

func TestDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "pcdir")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	_, err = NewDir(dir, false)
	require.ErrorIs(t, err, ErrorEmptyDir)

	writeClouds(t, dir, 3)

	d, err := NewDir(dir, false)
	require.NoError(t, err)
	require.Len(t, d.Files(), 3)

	for i := 0; i < 3; i++ {
		f, err := d.Acquire(context.Background())
		require.NoError(t, err)
		require.Equal(t, 16, f.Count())
		f.Release()
	}

	_, err = d.Acquire(context.Background())
	require.ErrorIs(t, err, frame.ErrorExhausted)

	looping, err := NewDir(dir, true)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		f, err := looping.Acquire(context.Background())
		require.NoError(t, err)
		f.Release()
	}

	require.NoError(t, looping.Close())
}

type chanEvent struct {
	topic string
	msg   *broker.Message
}

func (e *chanEvent) Topic() string {
	return e.topic
}

func (e *chanEvent) Message() *broker.Message {
	return e.msg
}

func (e *chanEvent) Ack() error {
	return nil
}

func (e *chanEvent) Error() error {
	return nil
}

// chanBroker delivers published messages to a single subscriber.
type chanBroker struct {
	msgs chan *broker.Message
	stop chan struct{}
	once sync.Once
}

func newChanBroker() *chanBroker {
	return &chanBroker{
		msgs: make(chan *broker.Message, 16),
		stop: make(chan struct{}),
	}
}

func (b *chanBroker) Connect() error {
	return nil
}

func (b *chanBroker) Disconnect() error {
	b.once.Do(func() {
		close(b.stop)
	})

	return nil
}

func (b *chanBroker) Publish(topic string, m *broker.Message) error {
	b.msgs <- m

	return nil
}

func (b *chanBroker) Subscribe(topic string, h *broker.Handler) error {
	handler := *h

	for {
		select {
		case m := <-b.msgs:
			_ = handler(&chanEvent{topic: topic, msg: m})
		case <-b.stop:
			return nil
		}
	}
}

func (b *chanBroker) Options() broker.Options {
	return broker.Options{}
}

func (b *chanBroker) String() string {
	return "chan"
}

func TestBusDeliversFrames(t *testing.T) {
	b := newChanBroker()

	s, err := NewBus(b, "pcstream.cwi1.0.985", 2)
	require.NoError(t, err)

	params := codec.Params{OctreeBits: codec.DefaultOctreeBits, JPEGQuality: codec.DefaultJPEGQuality}
	f := frame.New(42, []frame.Point{{X: 1, Y: 2, Z: 3, Tile: 1}})

	buf, err := codec.Encode(f, params)
	require.NoError(t, err)
	f.Release()

	require.NoError(t, b.Publish("pcstream.cwi1.0.985", &broker.Message{Body: buf}))
	require.NoError(t, b.Publish("pcstream.cwi1.0.985", &broker.Message{Body: []byte("garbage")}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.Timestamp)
	require.Equal(t, 1, got.Count())
	got.Release()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Acquire(context.Background())
	require.ErrorIs(t, err, frame.ErrorExhausted)
}

func TestBusDropsOldest(t *testing.T) {
	s := &Bus{queue: make(chan *frame.Frame, 2), done: make(chan struct{})}

	frames := []*frame.Frame{frame.New(1, nil), frame.New(2, nil), frame.New(3, nil)}
	for _, f := range frames {
		s.push(f)
	}

	require.Equal(t, uint64(1), s.Dropped())
	require.True(t, frames[0].Released())

	f, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), f.Timestamp)
}
