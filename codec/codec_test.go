package codec

import (
	"testing"

	"pcstream/frame"

	"github.com/stretchr/testify/require"
)

func testFrame(ts int64) *frame.Frame {
	points := []frame.Point{
		{X: -1, Y: 0, Z: 0.5, R: 255, Tile: 1},
		{X: 1, Y: 2, Z: 1.5, G: 255, Tile: 2},
		{X: 0, Y: 1, Z: 1, B: 255, Tile: 3},
	}

	return frame.New(ts, points)
}

func TestParamsQuality(t *testing.T) {
	require.Equal(t, uint32(985), Params{OctreeBits: 9, JPEGQuality: 85}.Quality())
}

func TestEncodeDecode(t *testing.T) {
	f := testFrame(1234)

	buf, err := Encode(f, Params{OctreeBits: 10, JPEGQuality: 85})
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, int64(1234), got.Timestamp)
	require.Equal(t, 3, got.Count())

	for i, p := range got.Points {
		require.InDelta(t, f.Points[i].X, p.X, 0.01)
		require.InDelta(t, f.Points[i].Y, p.Y, 0.01)
		require.InDelta(t, f.Points[i].Z, p.Z, 0.01)
		require.Equal(t, f.Points[i].R, p.R)
		require.Equal(t, f.Points[i].Tile, p.Tile)
	}
}

func TestEncodeTile(t *testing.T) {
	buf, err := Encode(testFrame(1), Params{Tile: 2, OctreeBits: 9, JPEGQuality: 60})
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.Count())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("short"))
	require.ErrorIs(t, err, ErrorShortBuffer)

	buf, err := Encode(testFrame(1), Params{OctreeBits: 9, JPEGQuality: 85})
	require.NoError(t, err)

	buf[0] = 'x'
	_, err = Decode(buf)
	require.ErrorIs(t, err, ErrorBadMagic)
}

func TestEncoderFIFO(t *testing.T) {
	e, err := NewEncoder(Params{OctreeBits: 9, JPEGQuality: 85})
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		f := testFrame(i)
		e.Submit(f)
		f.Release()
	}

	for i := int64(1); i <= 5; i++ {
		require.True(t, e.Ready(true))

		got, err := Decode(e.Take())
		require.NoError(t, err)
		require.Equal(t, i, got.Timestamp)
	}

	require.False(t, e.Ready(false))
	require.False(t, e.Done())
	e.Close()
	e.Close()
	require.False(t, e.Ready(true))
	require.True(t, e.Done())
}

func TestDecoderDropsGarbage(t *testing.T) {
	d := NewDecoder()
	d.Submit([]byte("garbage"))
	require.False(t, d.Ready(true))

	buf, err := Encode(testFrame(7), Params{OctreeBits: 9, JPEGQuality: 85})
	require.NoError(t, err)

	d.Submit(buf)
	require.True(t, d.Ready(true))
	require.Equal(t, int64(7), d.Take().Timestamp)
	require.Nil(t, d.Take())
}

func TestGroupCloseKeepsOutput(t *testing.T) {
	a, err := NewEncoder(Params{OctreeBits: 9, JPEGQuality: 85})
	require.NoError(t, err)

	b, err := NewEncoder(Params{OctreeBits: 8, JPEGQuality: 60})
	require.NoError(t, err)

	g := NewGroup(a, b)

	f := testFrame(7)
	g.Feed(f)
	f.Release()
	g.Close()

	for i := 0; i < g.Len(); i++ {
		e := g.Encoder(i)
		require.False(t, e.Done())
		require.True(t, e.Ready(true))

		got, err := Decode(e.Take())
		require.NoError(t, err)
		require.Equal(t, int64(7), got.Timestamp)
		require.True(t, e.Done())
	}

	f = testFrame(8)
	g.Feed(f)
	f.Release()
	require.False(t, a.Ready(false))
}
