package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"pcstream/frame"

	"github.com/klauspost/compress/zstd"
)

const (
	_version    uint8 = 1
	_headerLen        = 4 + 1 + 1 + 2 + 4 + 8 + 4 + 6*4 + 4
	_pointLen         = 3*2 + 3 + 1
	_maxBits    uint8 = 16
	_minBits    uint8 = 1
	_maxPoints        = 1 << 24
	_maxBodyLen       = _maxPoints * _pointLen
)

var (
	ErrorBadMagic      = errors.New("bad cwi1 magic")
	ErrorBadVersion    = errors.New("unsupported cwi1 version")
	ErrorShortBuffer   = errors.New("cwi1 buffer too short")
	ErrorCountMismatch = errors.New("cwi1 point count mismatch")
	ErrorTooLarge      = errors.New("cwi1 frame too large")

	_magic = [4]byte{'c', 'w', 'i', '1'}

	_zdec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

type bbox struct {
	min [3]float32
	max [3]float32
}

func bounds(points []frame.Point) bbox {
	if len(points) == 0 {
		return bbox{}
	}

	b := bbox{
		min: [3]float32{points[0].X, points[0].Y, points[0].Z},
		max: [3]float32{points[0].X, points[0].Y, points[0].Z},
	}

	for i := range points {
		p := &points[i]
		v := [3]float32{p.X, p.Y, p.Z}

		for k := 0; k < 3; k++ {
			if v[k] < b.min[k] {
				b.min[k] = v[k]
			}

			if v[k] > b.max[k] {
				b.max[k] = v[k]
			}
		}
	}

	return b
}

func clampBits(bits uint8) uint8 {
	if bits < _minBits {
		return _minBits
	}

	if bits > _maxBits {
		return _maxBits
	}

	return bits
}

func quantize(v, lo, hi float32, steps float64) uint16 {
	if hi <= lo {
		return 0
	}

	return uint16(math.Round(float64(v-lo) / float64(hi-lo) * steps))
}

func dequantize(q uint16, lo, hi float32, steps float64) float32 {
	if hi <= lo {
		return lo
	}

	return lo + float32(float64(q)/steps*float64(hi-lo))
}

// zstdLevel maps an image quality knob onto zstd levels 1..10.
func zstdLevel(jpegQuality uint8) zstd.EncoderLevel {
	l := 1 + int(jpegQuality)/11
	if l > 10 {
		l = 10
	}

	return zstd.EncoderLevelFromZstd(l)
}

// selectPoints copies the points of tile, merging points sharing a voxel
// when voxel is positive.
func selectPoints(points []frame.Point, tile uint32, voxel float32) []frame.Point {
	out := make([]frame.Point, 0, len(points))

	var seen map[[3]int32]struct{}
	if voxel > 0 {
		seen = make(map[[3]int32]struct{}, len(points))
	}

	for i := range points {
		p := points[i]
		if !p.InTile(tile) {
			continue
		}

		if seen != nil {
			key := [3]int32{
				int32(math.Floor(float64(p.X / voxel))),
				int32(math.Floor(float64(p.Y / voxel))),
				int32(math.Floor(float64(p.Z / voxel))),
			}

			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
		}

		out = append(out, p)
	}

	return out
}

func encodePoints(ts int64, points []frame.Point, p Params, zenc *zstd.Encoder) ([]byte, error) {
	if len(points) > _maxPoints {
		return nil, ErrorTooLarge
	}

	bits := clampBits(p.OctreeBits)
	steps := float64(uint32(1)<<bits - 1)
	b := bounds(points)

	body := make([]byte, len(points)*_pointLen)

	for i := range points {
		pt := &points[i]
		o := body[i*_pointLen:]
		binary.BigEndian.PutUint16(o[0:], quantize(pt.X, b.min[0], b.max[0], steps))
		binary.BigEndian.PutUint16(o[2:], quantize(pt.Y, b.min[1], b.max[1], steps))
		binary.BigEndian.PutUint16(o[4:], quantize(pt.Z, b.min[2], b.max[2], steps))
		o[6], o[7], o[8], o[9] = pt.R, pt.G, pt.B, pt.Tile
	}

	compressed := zenc.EncodeAll(body, nil)

	var buf bytes.Buffer
	buf.Grow(_headerLen + len(compressed))
	buf.Write(_magic[:])
	buf.WriteByte(_version)
	buf.WriteByte(bits)
	_ = binary.Write(&buf, binary.BigEndian, uint16(0))
	_ = binary.Write(&buf, binary.BigEndian, p.Tile)
	_ = binary.Write(&buf, binary.BigEndian, ts)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(points)))
	_ = binary.Write(&buf, binary.BigEndian, b.min)
	_ = binary.Write(&buf, binary.BigEndian, b.max)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(compressed)))
	buf.Write(compressed)

	return buf.Bytes(), nil
}

// Encode encodes the tile of f selected by p. The frame is not retained.
func Encode(f *frame.Frame, p Params) ([]byte, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(p.JPEGQuality)), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder %w", err)
	}

	defer zenc.Close()

	return encodePoints(f.Timestamp, selectPoints(f.Points, p.Tile, p.VoxelSize), p, zenc)
}

// Decode parses a cwi1 buffer into a new frame.
func Decode(data []byte) (*frame.Frame, error) {
	if len(data) < _headerLen {
		return nil, ErrorShortBuffer
	}

	if !bytes.Equal(data[:4], _magic[:]) {
		return nil, ErrorBadMagic
	}

	if data[4] != _version {
		return nil, fmt.Errorf("version %d %w", data[4], ErrorBadVersion)
	}

	bits := clampBits(data[5])
	steps := float64(uint32(1)<<bits - 1)

	r := bytes.NewReader(data[8:_headerLen])

	var (
		tile   uint32
		ts     int64
		count  uint32
		b      bbox
		length uint32
	)

	for _, v := range []interface{}{&tile, &ts, &count, &b.min, &b.max, &length} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return nil, fmt.Errorf("failed to read header %w", err)
		}
	}

	if count > _maxPoints {
		return nil, ErrorTooLarge
	}

	if uint64(len(data)-_headerLen) < uint64(length) {
		return nil, ErrorShortBuffer
	}

	body, err := _zdec.DecodeAll(data[_headerLen:_headerLen+int(length)], make([]byte, 0, int(count)*_pointLen))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body %w", err)
	}

	if len(body) != int(count)*_pointLen || len(body) > _maxBodyLen {
		return nil, ErrorCountMismatch
	}

	points := make([]frame.Point, count)

	for i := range points {
		o := body[i*_pointLen:]
		points[i] = frame.Point{
			X:    dequantize(binary.BigEndian.Uint16(o[0:]), b.min[0], b.max[0], steps),
			Y:    dequantize(binary.BigEndian.Uint16(o[2:]), b.min[1], b.max[1], steps),
			Z:    dequantize(binary.BigEndian.Uint16(o[4:]), b.min[2], b.max[2], steps),
			R:    o[6],
			G:    o[7],
			B:    o[8],
			Tile: o[9],
		}
	}

	return frame.New(ts, points), nil
}
