package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrorInvalidFourCC     = errors.New("fourcc must be 4 ascii characters")
	ErrorInvalidDescriptor = errors.New("invalid stream descriptor")
)

// FourCC packs four ASCII bytes big-endian.
type FourCC uint32

var DefaultFourCC = MustFourCC("cwi1")

func NewFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%q: %w", s, ErrorInvalidFourCC)
	}

	var v uint32

	for i := 0; i < 4; i++ {
		if s[i] > 0x7f {
			return 0, fmt.Errorf("%q: %w", s, ErrorInvalidFourCC)
		}

		v = v<<8 | uint32(s[i])
	}

	return FourCC(v), nil
}

func MustFourCC(s string) FourCC {
	f, err := NewFourCC(s)
	if err != nil {
		panic(err)
	}

	return f
}

func (f FourCC) String() string {
	return string([]byte{byte(f >> 24), byte(f >> 16), byte(f >> 8), byte(f)})
}

// Descriptor identifies one independently encoded stream.
type Descriptor struct {
	FourCC  FourCC
	Tile    uint32
	Quality uint32
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s:%d:%d", d.FourCC, d.Tile, d.Quality)
}

func ParseDescriptor(s string) (Descriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Descriptor{}, fmt.Errorf("%q: %w", s, ErrorInvalidDescriptor)
	}

	fourcc, err := NewFourCC(parts[0])
	if err != nil {
		return Descriptor{}, err
	}

	tile, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse tile %q %w", s, ErrorInvalidDescriptor)
	}

	quality, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse quality %q %w", s, ErrorInvalidDescriptor)
	}

	return Descriptor{FourCC: fourcc, Tile: uint32(tile), Quality: uint32(quality)}, nil
}
