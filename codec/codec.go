package codec

import (
	"time"

	"pcstream/frame"
)

const (
	DefaultOctreeBits  uint8 = 9
	DefaultJPEGQuality uint8 = 85
	DefaultQueueLen          = 8
	DefaultReadyWait         = 100 * time.Millisecond
)

// Params configures one encoder instance.
type Params struct {
	Tile        uint32
	OctreeBits  uint8
	JPEGQuality uint8
	VoxelSize   float32
}

// Quality ranks encoders of the same family, higher is better.
func (p Params) Quality() uint32 {
	return 100*uint32(p.OctreeBits) + uint32(p.JPEGQuality)
}

// Encoder turns frames into buffers asynchronously, in submission order.
type Encoder interface {
	Submit(*frame.Frame)
	Ready(wait bool) bool
	Take() []byte
	// Done reports that the encoder is closed and every buffer was taken.
	Done() bool
	Close()
	Params() Params
}

// Decoder turns buffers back into frames.
type Decoder interface {
	Submit([]byte)
	Ready(wait bool) bool
	Take() *frame.Frame
	Close()
}

// Group is the set of encoders fed by one capture loop.
type Group struct {
	encoders []Encoder
}

func NewGroup(encoders ...Encoder) *Group {
	return &Group{encoders: encoders}
}

func (g *Group) Add(e Encoder) int {
	g.encoders = append(g.encoders, e)

	return len(g.encoders) - 1
}

func (g *Group) Len() int {
	return len(g.encoders)
}

func (g *Group) Encoder(i int) Encoder {
	return g.encoders[i]
}

// Feed hands the frame to every encoder. The caller keeps ownership.
func (g *Group) Feed(f *frame.Frame) {
	for _, e := range g.encoders {
		e.Submit(f)
	}
}

// Close ends the input of every encoder and waits for their workers.
// Encoded buffers stay available to Take, so transmitters drain them after
// Close returns and are joined afterwards.
func (g *Group) Close() {
	for _, e := range g.encoders {
		e.Close()
	}
}
