package stream

import (
	"strings"
)

// Registry is the ordered list of streams a source offers. The position of a
// descriptor is its stream index on both ends.
type Registry []Descriptor

// BuildRegistry returns the cross product of tiles and qualities, tiles outer.
func BuildRegistry(fourcc FourCC, tiles []uint32, qualities []uint32) Registry {
	r := make(Registry, 0, len(tiles)*len(qualities))

	for _, t := range tiles {
		for _, q := range qualities {
			r = append(r, Descriptor{FourCC: fourcc, Tile: t, Quality: q})
		}
	}

	return r
}

func (r Registry) Valid(index int) bool {
	return index >= 0 && index < len(r)
}

func (r Registry) String() string {
	parts := make([]string, len(r))
	for i, d := range r {
		parts[i] = d.String()
	}

	return strings.Join(parts, ",")
}

func ParseRegistry(s string) (Registry, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	r := make(Registry, 0, len(parts))

	for _, p := range parts {
		d, err := ParseDescriptor(p)
		if err != nil {
			return nil, err
		}

		r = append(r, d)
	}

	return r, nil
}

// Entry is one candidate stream of a tile.
type Entry struct {
	Index   int
	Quality uint32
}

// TileMap groups stream indices by tile in discovery order.
type TileMap struct {
	tiles   []uint32
	entries map[uint32][]Entry
}

func NewTileMap(r Registry) *TileMap {
	m := &TileMap{
		entries: make(map[uint32][]Entry),
	}

	for i, d := range r {
		if _, ok := m.entries[d.Tile]; !ok {
			m.tiles = append(m.tiles, d.Tile)
		}

		m.entries[d.Tile] = append(m.entries[d.Tile], Entry{Index: i, Quality: d.Quality})
	}

	return m
}

// Tiles lists tiles in order of first appearance.
func (m *TileMap) Tiles() []uint32 {
	return m.tiles
}

func (m *TileMap) Entries(tile uint32) []Entry {
	return m.entries[tile]
}
