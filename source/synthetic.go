package source

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"pcstream/frame"
)

const (
	DefaultPoints = 4096
	DefaultRadius = 1.0
)

type SyntheticOption func(*Synthetic)

func SyntheticOptionWithPoints(n int) SyntheticOption {
	return func(s *Synthetic) {
		s.points = n
	}
}

// SyntheticOptionWithCount limits the frame count, 0 means unlimited.
func SyntheticOptionWithCount(n int) SyntheticOption {
	return func(s *Synthetic) {
		s.count = n
	}
}

func SyntheticOptionWithSeed(seed int64) SyntheticOption {
	return func(s *Synthetic) {
		s.rnd = rand.New(rand.NewSource(seed))
	}
}

// Synthetic produces a rotating sphere whose points are tiled by quadrant of
// the horizontal plane, tiles 1 to 4.
type Synthetic struct {
	points int
	count  int
	rnd    *rand.Rand

	mtx      sync.Mutex
	produced int
	lastTS   int64
	closed   bool
}

func NewSynthetic(opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		points: DefaultPoints,
		rnd:    rand.New(rand.NewSource(1)),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func quadrant(x, z float32) uint8 {
	switch {
	case x >= 0 && z >= 0:
		return 1 << 0
	case x < 0 && z >= 0:
		return 1 << 1
	case x < 0:
		return 1 << 2
	default:
		return 1 << 3
	}
}

func (s *Synthetic) Acquire(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return nil, frame.ErrorClosed
	}

	if s.count > 0 && s.produced >= s.count {
		return nil, frame.ErrorExhausted
	}

	ts := frame.NowMillis()
	if ts < s.lastTS {
		ts = s.lastTS
	}

	s.lastTS = ts

	angle := float64(s.produced) * 0.05
	pts := make([]frame.Point, s.points)

	for i := range pts {
		theta := s.rnd.Float64() * 2 * math.Pi
		phi := math.Acos(2*s.rnd.Float64() - 1)

		x := float32(DefaultRadius * math.Sin(phi) * math.Cos(theta+angle))
		y := float32(DefaultRadius * math.Cos(phi))
		z := float32(DefaultRadius * math.Sin(phi) * math.Sin(theta+angle))

		pts[i] = frame.Point{
			X:    x,
			Y:    y,
			Z:    z,
			R:    uint8(127 + 127*x),
			G:    uint8(127 + 127*y),
			B:    uint8(127 + 127*z),
			Tile: quadrant(x, z),
		}
	}

	s.produced++

	return frame.New(ts, pts), nil
}

func (s *Synthetic) Produced() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.produced
}

func (s *Synthetic) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.closed = true

	return nil
}

func (s *Synthetic) String() string {
	return "synthetic"
}
