package sink

import (
	"testing"

	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{985, 960})
	n := NewNoop(r, true)

	require.True(t, n.CanFeed(0, true))
	require.NoError(t, n.Feed([]byte("a"), 0))
	require.NoError(t, n.Feed([]byte("b"), 0))
	require.NoError(t, n.Feed([]byte("c"), 1))
	require.ErrorIs(t, n.Feed([]byte("d"), 2), ErrorInvalidStream)

	require.Equal(t, 2, n.Count(0))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, n.Recorded(0))

	require.NoError(t, n.Close())
	require.False(t, n.CanFeed(0, true))
	require.ErrorIs(t, n.Feed([]byte("e"), 0), ErrorClosed)
}

type perStream struct {
	*Noop
	ready int
}

func (p perStream) CanFeedStream(_ int64, index int, _ bool) bool {
	return index == p.ready
}

func (p perStream) Closed() bool {
	return false
}

func TestGateAndRetry(t *testing.T) {
	n := NewNoop(nil, false)

	require.True(t, Gate(n, 0, 5, true))
	require.False(t, Retry(n))

	p := perStream{Noop: n, ready: 1}
	require.True(t, Gate(p, 0, 1, true))
	require.False(t, Gate(p, 0, 0, true))
	require.True(t, Retry(p))
}
