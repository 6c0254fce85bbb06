package frame

import (
	"context"
	"errors"
	"time"

	"pcstream/log"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrorExhausted = errors.New("source exhausted")
	ErrorClosed    = errors.New("source closed")
)

// Point is one colored sample. Tile is a bit mask, bit n-1 set means the
// point belongs to tile n.
type Point struct {
	X, Y, Z float32
	R, G, B uint8
	Tile    uint8
}

// Frame is a captured point cloud. The holder must call Release once.
type Frame struct {
	Timestamp int64
	Points    []Point

	released  atomic.Bool
	onRelease func(*Frame)
}

// Source produces frames on demand.
type Source interface {
	Acquire(ctx context.Context) (*Frame, error)
	Close() error
	String() string
}

var doubleReleases atomic.Uint64

func New(ts int64, points []Point) *Frame {
	return &Frame{
		Timestamp: ts,
		Points:    points,
	}
}

// NowMillis is the timestamp base used by sources and receivers.
func NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// SetReleaseHook installs a callback run by the first Release.
func (f *Frame) SetReleaseHook(h func(*Frame)) {
	f.onRelease = h
}

func (f *Frame) Count() int {
	return len(f.Points)
}

// Tiles returns the highest tile number referenced by any point.
func (f *Frame) Tiles() int {
	var mask uint8

	for i := range f.Points {
		mask |= f.Points[i].Tile
	}

	n := 0

	for mask != 0 {
		n++
		mask >>= 1
	}

	return n
}

// InTile reports whether p belongs to tile. Tile 0 is the whole frame.
func (p *Point) InTile(tile uint32) bool {
	if tile == 0 {
		return true
	}

	if tile > 8 {
		return false
	}

	return p.Tile&(1<<(tile-1)) != 0
}

func (f *Frame) Released() bool {
	return f.released.Load()
}

func (f *Frame) Release() {
	if f == nil {
		return
	}

	if !f.released.CAS(false, true) {
		doubleReleases.Inc()
		log.Warn("frame released twice", zap.Int64("timestamp", f.Timestamp))

		return
	}

	if f.onRelease != nil {
		f.onRelease(f)
	}

	f.Points = nil
}

// DoubleReleases is the number of Release calls on already released frames.
func DoubleReleases() uint64 {
	return doubleReleases.Load()
}
