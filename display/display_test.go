package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pcstream/frame"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type recordingRenderer struct {
	mtx      sync.Mutex
	rendered []int64
	fail     error
	closed   atomic.Int32
}

func (r *recordingRenderer) Render(f *frame.Frame) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.rendered = append(r.rendered, f.Timestamp)

	return r.fail
}

func (r *recordingRenderer) Close() error {
	r.closed.Inc()

	return nil
}

func (r *recordingRenderer) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.rendered)
}

func TestFeedNeverBlocks(t *testing.T) {
	d := New(&recordingRenderer{})

	frames := make([]*frame.Frame, 10)
	for i := range frames {
		frames[i] = frame.New(int64(i), nil)
	}

	done := make(chan struct{})

	go func() {
		for _, f := range frames {
			d.Feed(f)
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed blocked")
	}

	require.Equal(t, 2, d.Queued())
	require.Equal(t, uint64(8), d.Dropped())
	require.Equal(t, uint64(10), d.Fed())

	for i, f := range frames {
		require.Equal(t, i >= 2, f.Released(), "frame %d", i)
	}
}

func TestRunRendersAndTearsDown(t *testing.T) {
	r := &recordingRenderer{}
	d := New(r, OptionWithPollTimeout(10*time.Millisecond))

	var producing atomic.Bool
	producing.Store(true)

	errc := make(chan error, 1)

	go func() {
		errc <- d.Run(context.Background(), producing.Load)
	}()

	frames := make([]*frame.Frame, 0, 5)

	for i := 0; i < 5; i++ {
		f := frame.New(int64(i), nil)
		frames = append(frames, f)
		d.Feed(f)

		require.Eventually(t, func() bool {
			return r.Len() == i+1
		}, time.Second, time.Millisecond)
	}

	producing.Store(false)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("display did not exit")
	}

	require.Equal(t, int32(1), r.closed.Load())
	require.Equal(t, uint64(5), d.Rendered())

	for _, f := range frames {
		require.True(t, f.Released())
	}
}

func TestRunContextDrainsQueue(t *testing.T) {
	r := &recordingRenderer{fail: errors.New("no window")}
	d := New(r)

	a, b := frame.New(1, nil), frame.New(2, nil)
	d.Feed(a)
	d.Feed(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, d.Run(ctx, nil))
	require.True(t, a.Released())
	require.True(t, b.Released())
	require.Equal(t, 0, d.Queued())
	require.Equal(t, int32(1), r.closed.Load())
}
