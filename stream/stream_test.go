package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFourCC(t *testing.T) {
	f, err := NewFourCC("cwi1")
	require.NoError(t, err)
	require.Equal(t, FourCC(0x63776931), f)
	require.Equal(t, "cwi1", f.String())

	_, err = NewFourCC("cwi")
	require.ErrorIs(t, err, ErrorInvalidFourCC)
}

func TestBuildRegistry(t *testing.T) {
	tiles := []uint32{0, 1, 2}
	qualities := []uint32{985, 960}

	r := BuildRegistry(DefaultFourCC, tiles, qualities)
	require.Len(t, r, len(tiles)*len(qualities))
	require.Equal(t, Descriptor{FourCC: DefaultFourCC, Tile: 0, Quality: 985}, r[0])
	require.Equal(t, Descriptor{FourCC: DefaultFourCC, Tile: 0, Quality: 960}, r[1])
	require.Equal(t, Descriptor{FourCC: DefaultFourCC, Tile: 2, Quality: 960}, r[5])

	parsed, err := ParseRegistry(r.String())
	require.NoError(t, err)
	require.Equal(t, r, parsed)
}

func TestTileMapOrder(t *testing.T) {
	r := Registry{
		{FourCC: DefaultFourCC, Tile: 2, Quality: 10},
		{FourCC: DefaultFourCC, Tile: 1, Quality: 20},
		{FourCC: DefaultFourCC, Tile: 2, Quality: 30},
	}

	m := NewTileMap(r)
	require.Equal(t, []uint32{2, 1}, m.Tiles())
	require.Equal(t, []Entry{{Index: 0, Quality: 10}, {Index: 2, Quality: 30}}, m.Entries(2))
	require.Equal(t, []Entry{{Index: 1, Quality: 20}}, m.Entries(1))
}

func TestPolicySelect(t *testing.T) {
	entries := []Entry{
		{Index: 0, Quality: 60},
		{Index: 1, Quality: 85},
		{Index: 2, Quality: 95},
	}

	cases := []struct {
		policy string
		index  int
		found  bool
	}{
		{"lowest", 0, true},
		{"highest", 2, true},
		{"first", 0, true},
		{"last", 2, true},
		{"default", 0, true},
		{"85", 1, true},
		{"70", 0, false},
	}

	for _, c := range cases {
		t.Run(c.policy, func(t *testing.T) {
			p, err := ParsePolicy(c.policy)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				e, ok := p.Select(entries)
				require.Equal(t, c.found, ok)

				if ok {
					require.Equal(t, c.index, e.Index)
				}
			}
		})
	}
}

func TestPolicyTies(t *testing.T) {
	entries := []Entry{
		{Index: 4, Quality: 50},
		{Index: 5, Quality: 90},
		{Index: 6, Quality: 50},
		{Index: 7, Quality: 90},
	}

	lowest, _ := ParsePolicy("lowest")
	e, ok := lowest.Select(entries)
	require.True(t, ok)
	require.Equal(t, 4, e.Index)

	highest, _ := ParsePolicy("highest")
	e, ok = highest.Select(entries)
	require.True(t, ok)
	require.Equal(t, 5, e.Index)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("default")
	require.NoError(t, err)
	require.False(t, p.Explicit())

	p, err = ParsePolicy("highest")
	require.NoError(t, err)
	require.True(t, p.Explicit())

	_, err = ParsePolicy("best")
	require.ErrorIs(t, err, ErrorInvalidPolicy)
}

func TestPoll(t *testing.T) {
	calls := 0

	data, err := Poll(context.Background(), time.Second, time.Millisecond, func() ([]byte, bool, error) {
		calls++
		if calls < 3 {
			return nil, false, nil
		}

		return []byte("x"), true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)
	require.Equal(t, 3, calls)

	_, err = Poll(context.Background(), 20*time.Millisecond, time.Millisecond, func() ([]byte, bool, error) {
		return nil, false, nil
	})
	require.ErrorIs(t, err, ErrorEndOfStream)

	boom := errors.New("boom")
	_, err = Poll(context.Background(), time.Second, time.Millisecond, func() ([]byte, bool, error) {
		return nil, false, boom
	})
	require.ErrorIs(t, err, boom)
}
