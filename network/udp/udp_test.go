package udp

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"pcstream/sink"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

func payload(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)

	return b
}

func decodeAll(t *testing.T, dec *fecDecoder, pkts [][]byte) (int, []byte, bool) {
	t.Helper()

	for _, p := range pkts {
		h, err := parseHeader(p)
		require.NoError(t, err)

		index, buf, ok, err := dec.decode(h, append([]byte(nil), p[headerSize:]...), time.Now())
		require.NoError(t, err)

		if ok {
			return index, buf, true
		}
	}

	return 0, nil, false
}

func TestFECRoundTrip(t *testing.T) {
	enc, err := newFECEncoder(4, 2, 100)
	require.NoError(t, err)

	buf := payload(1050, 1)

	pkts, err := enc.encode(3, 1, buf)
	require.NoError(t, err)
	require.Len(t, pkts, 3*6)
	require.Equal(t, byte(typeData), pkts[0][0])
	require.Equal(t, byte(typeParity), pkts[5][0])

	index, got, ok := decodeAll(t, newFECDecoder(time.Second), pkts)
	require.True(t, ok)
	require.Equal(t, 3, index)
	require.True(t, bytes.Equal(buf, got))
}

func TestFECRecoversLostShards(t *testing.T) {
	enc, err := newFECEncoder(4, 2, 100)
	require.NoError(t, err)

	buf := payload(800, 2)

	pkts, err := enc.encode(0, 7, buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2*6)

	// two data shards lost in each block
	var kept [][]byte

	for i, p := range pkts {
		if i%6 == 0 || i%6 == 2 {
			continue
		}

		kept = append(kept, p)
	}

	dec := newFECDecoder(time.Second)

	_, got, ok := decodeAll(t, dec, kept)
	require.True(t, ok)
	require.Equal(t, buf, got)
	require.Equal(t, uint64(2), dec.recovered)
}

func TestFECTooManyLost(t *testing.T) {
	enc, err := newFECEncoder(4, 1, 100)
	require.NoError(t, err)

	pkts, err := enc.encode(0, 1, payload(300, 3))
	require.NoError(t, err)

	_, _, ok := decodeAll(t, newFECDecoder(time.Second), pkts[2:])
	require.False(t, ok)
}

func TestFECOrdering(t *testing.T) {
	enc, err := newFECEncoder(2, 1, 64)
	require.NoError(t, err)

	first, err := enc.encode(0, 1, payload(100, 4))
	require.NoError(t, err)

	second, err := enc.encode(0, 2, payload(100, 5))
	require.NoError(t, err)

	dec := newFECDecoder(time.Second)

	// first buffer partially received, then the second completes
	_, _, ok := decodeAll(t, dec, first[:1])
	require.False(t, ok)

	_, _, ok = decodeAll(t, dec, second)
	require.True(t, ok)
	require.Equal(t, uint64(1), dec.lost)

	_, _, ok = decodeAll(t, dec, first[1:])
	require.False(t, ok)
}

func TestFECExpire(t *testing.T) {
	enc, err := newFECEncoder(2, 1, 64)
	require.NoError(t, err)

	pkts, err := enc.encode(0, 1, payload(100, 6))
	require.NoError(t, err)

	dec := newFECDecoder(10 * time.Millisecond)
	now := time.Now()

	h, err := parseHeader(pkts[0])
	require.NoError(t, err)

	_, _, ok, err := dec.decode(h, pkts[0][headerSize:], now)
	require.NoError(t, err)
	require.False(t, ok)

	dec.expire(now.Add(time.Second))
	require.Empty(t, dec.assemblies)
	require.Equal(t, uint64(1), dec.lost)
}

func TestInvalidShards(t *testing.T) {
	_, err := newFECEncoder(0, 1, 10)
	require.ErrorIs(t, err, ErrorInvalidShard)

	_, err = newFECEncoder(200, 100, 10)
	require.ErrorIs(t, err, ErrorInvalidShard)

	_, err = parseHeader([]byte{typeData})
	require.ErrorIs(t, err, ErrorShortPacket)
}

func TestSinkAndTransport(t *testing.T) {
	r := stream.BuildRegistry(stream.DefaultFourCC, []uint32{1, 2}, []uint32{760})

	tr, err := NewTransport("127.0.0.1:0", 200*time.Millisecond)
	require.NoError(t, err)

	s, err := NewSink(tr.LocalAddr().String(), r,
		OptionWithShards(4, 2),
		OptionWithShardSize(512),
		OptionWithManifestInterval(20*time.Millisecond),
		OptionWithDSCP(0))
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, 2, tr.Count())

	d, err := tr.Descriptor(1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), d.Tile)

	_, err = tr.Descriptor(5)
	require.ErrorIs(t, err, stream.ErrorNoStream)

	require.NoError(t, tr.Enable(1, true))

	bufs := [][]byte{payload(3000, 7), payload(10, 8)}

	require.True(t, s.CanFeed(0, true))
	require.NoError(t, s.Feed(payload(100, 9), 0))

	for _, b := range bufs {
		require.NoError(t, s.Feed(b, 1))
	}

	for _, b := range bufs {
		got, err := tr.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, b, got)
	}

	_, err = tr.Pull(context.Background(), 0)
	require.ErrorIs(t, err, stream.ErrorEndOfStream)

	require.ErrorIs(t, s.Feed([]byte("x"), 9), sink.ErrorInvalidStream)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.False(t, s.CanFeed(0, false))
	require.ErrorIs(t, s.Feed([]byte("x"), 0), sink.ErrorClosed)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestTransportNoManifest(t *testing.T) {
	tr, err := NewTransport("127.0.0.1:0", 0, OptionWithManifestWait(20*time.Millisecond))
	require.NoError(t, err)

	defer tr.Close()

	require.ErrorIs(t, tr.Connect(context.Background()), stream.ErrorNotReady)
}
