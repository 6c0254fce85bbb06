package segment

import (
	"fmt"

	"pcstream/network/codec/json"
)

// Describe asks for the stream manifest.
type Describe struct{}

type Manifest struct {
	Streams         string `json:"streams"`
	SegmentDuration int64  `json:"segment_duration_ms"`
	TimeshiftDepth  int64  `json:"timeshift_depth_ms"`
}

// Pull asks for the first buffer of Stream after Cursor.
type Pull struct {
	Stream int    `json:"stream"`
	Cursor uint64 `json:"cursor"`
}

// Chunk answers a Pull. Pending means nothing is published yet, EOS that the
// stream ended.
type Chunk struct {
	Stream  int    `json:"stream"`
	Seq     uint64 `json:"seq"`
	Data    []byte `json:"data,omitempty"`
	Pending bool   `json:"pending,omitempty"`
	EOS     bool   `json:"eos,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Register adds the segment messages to a json codec.
func Register(p *json.Processor) error {
	msgs := []struct {
		name string
		msg  interface{}
	}{
		{"describe", (*Describe)(nil)},
		{"manifest", (*Manifest)(nil)},
		{"pull", (*Pull)(nil)},
		{"chunk", (*Chunk)(nil)},
	}

	for _, m := range msgs {
		if err := p.RegisterAs(m.name, m.msg); err != nil {
			return fmt.Errorf("failed to register %s %w", m.name, err)
		}
	}

	return nil
}

// NewCodec returns a json codec with the segment messages registered.
func NewCodec() *json.Processor {
	p := json.NewCodec()

	if err := Register(p); err != nil {
		panic(err)
	}

	return p
}
