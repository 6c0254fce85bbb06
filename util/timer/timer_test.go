package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestTicker(t *testing.T) {
	var n atomic.Int32

	t1 := NewTicker(10*time.Millisecond, func() {
		n.Inc()
	})

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)

	t1.Stop()
	t1.Stop()

	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, stopped, n.Load())
	require.Equal(t, uint64(stopped), t1.Runs())
}

func TestTickerImmediate(t *testing.T) {
	called := make(chan struct{}, 1)

	t1 := NewTicker(time.Hour, func() {
		called <- struct{}{}
	}, OptionWithImmediate())
	defer t1.Stop()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("not called on start")
	}

	require.Eventually(t, func() bool { return t1.Runs() == 1 }, time.Second, 5*time.Millisecond)
}
