package udp

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

const (
	typeData     = 0xf1
	typeParity   = 0xf2
	typeManifest = 0xf3

	headerSize = 18
	maxShards  = 256
)

var (
	ErrorShortPacket  = errors.New("short packet")
	ErrorBadPacket    = errors.New("malformed packet")
	ErrorInvalidShard = errors.New("invalid shard configuration")
)

// header layout, little endian:
// | type | stream(2) | seq(4) | block(2) | blocks(2) | shard | data | parity | blockLen(4) |.
type header struct {
	kind     uint8
	stream   uint16
	seq      uint32
	block    uint16
	blocks   uint16
	shard    uint8
	data     uint8
	parity   uint8
	blockLen uint32
}

func (h *header) put(b []byte) {
	b[0] = h.kind
	binary.LittleEndian.PutUint16(b[1:], h.stream)
	binary.LittleEndian.PutUint32(b[3:], h.seq)
	binary.LittleEndian.PutUint16(b[7:], h.block)
	binary.LittleEndian.PutUint16(b[9:], h.blocks)
	b[11] = h.shard
	b[12] = h.data
	b[13] = h.parity
	binary.LittleEndian.PutUint32(b[14:], h.blockLen)
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, ErrorShortPacket
	}

	h := header{
		kind:     b[0],
		stream:   binary.LittleEndian.Uint16(b[1:]),
		seq:      binary.LittleEndian.Uint32(b[3:]),
		block:    binary.LittleEndian.Uint16(b[7:]),
		blocks:   binary.LittleEndian.Uint16(b[9:]),
		shard:    b[11],
		data:     b[12],
		parity:   b[13],
		blockLen: binary.LittleEndian.Uint32(b[14:]),
	}

	if h.data == 0 || h.block >= h.blocks || int(h.shard) >= int(h.data)+int(h.parity) {
		return header{}, ErrorBadPacket
	}

	return h, nil
}

func manifestPacket(registry string) []byte {
	return append([]byte{typeManifest}, registry...)
}

type fecEncoder struct {
	dataShards   int
	parityShards int
	blockSize    int
	codec        reedsolomon.Encoder
}

func newFECEncoder(dataShards, parityShards, shardSize int) (*fecEncoder, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards >= maxShards || shardSize <= 0 {
		return nil, ErrorInvalidShard
	}

	codec, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "reedsolomon.New")
	}

	return &fecEncoder{
		dataShards:   dataShards,
		parityShards: parityShards,
		blockSize:    dataShards * shardSize,
		codec:        codec,
	}, nil
}

// encode splits buf in blocks of dataShards*shardSize bytes and returns one
// datagram per data and parity shard.
func (enc *fecEncoder) encode(stream int, seq uint32, buf []byte) ([][]byte, error) {
	if len(buf) == 0 {
		return nil, ErrorShortPacket
	}

	blocks := (len(buf) + enc.blockSize - 1) / enc.blockSize
	if blocks > 0xffff {
		return nil, errors.Errorf("buffer of %d bytes needs %d blocks", len(buf), blocks)
	}

	pkts := make([][]byte, 0, blocks*(enc.dataShards+enc.parityShards))

	for b := 0; b < blocks; b++ {
		start := b * enc.blockSize
		end := start + enc.blockSize

		if end > len(buf) {
			end = len(buf)
		}

		// capped so Split cannot write padding into the next block
		shards, err := enc.codec.Split(buf[start:end:end])
		if err != nil {
			return nil, errors.Wrap(err, "split")
		}

		if err := enc.codec.Encode(shards); err != nil {
			return nil, errors.Wrap(err, "encode")
		}

		for i, s := range shards {
			h := header{
				kind:     typeData,
				stream:   uint16(stream),
				seq:      seq,
				block:    uint16(b),
				blocks:   uint16(blocks),
				shard:    uint8(i),
				data:     uint8(enc.dataShards),
				parity:   uint8(enc.parityShards),
				blockLen: uint32(end - start),
			}

			if i >= enc.dataShards {
				h.kind = typeParity
			}

			pkt := make([]byte, headerSize+len(s))
			h.put(pkt)
			copy(pkt[headerSize:], s)
			pkts = append(pkts, pkt)
		}
	}

	return pkts, nil
}

type block struct {
	shards [][]byte
	have   int
	length int
	data   []byte
}

type assembly struct {
	created time.Time
	blocks  []block
	pending int
}

type assemblyKey struct {
	stream uint16
	seq    uint32
}

// fecDecoder rebuilds buffers from shards. It is owned by one goroutine.
type fecDecoder struct {
	timeout    time.Duration
	codecs     map[[2]uint8]reedsolomon.Encoder
	assemblies map[assemblyKey]*assembly
	last       map[uint16]uint32

	recovered uint64
	lost      uint64
}

func newFECDecoder(timeout time.Duration) *fecDecoder {
	return &fecDecoder{
		timeout:    timeout,
		codecs:     make(map[[2]uint8]reedsolomon.Encoder),
		assemblies: make(map[assemblyKey]*assembly),
		last:       make(map[uint16]uint32),
	}
}

func (dec *fecDecoder) codec(data, parity uint8) (reedsolomon.Encoder, error) {
	k := [2]uint8{data, parity}
	if c, ok := dec.codecs[k]; ok {
		return c, nil
	}

	c, err := reedsolomon.New(int(data), int(parity))
	if err != nil {
		return nil, errors.Wrap(err, "reedsolomon.New")
	}

	dec.codecs[k] = c

	return c, nil
}

// decode consumes one data or parity packet. It returns the stream index and
// the buffer when the packet completes one.
func (dec *fecDecoder) decode(h header, payload []byte, now time.Time) (int, []byte, bool, error) {
	dec.expire(now)

	if last, ok := dec.last[h.stream]; ok && h.seq <= last {
		return 0, nil, false, nil
	}

	key := assemblyKey{stream: h.stream, seq: h.seq}

	a, ok := dec.assemblies[key]
	if !ok {
		a = &assembly{
			created: now,
			blocks:  make([]block, h.blocks),
			pending: int(h.blocks),
		}
		dec.assemblies[key] = a
	}

	if int(h.block) >= len(a.blocks) {
		return 0, nil, false, ErrorBadPacket
	}

	b := &a.blocks[h.block]
	if b.data != nil {
		return 0, nil, false, nil
	}

	if b.shards == nil {
		b.shards = make([][]byte, int(h.data)+int(h.parity))
		b.length = int(h.blockLen)
	}

	if int(h.shard) >= len(b.shards) || b.shards[h.shard] != nil {
		return 0, nil, false, nil
	}

	b.shards[h.shard] = payload
	b.have++

	if b.have < int(h.data) {
		return 0, nil, false, nil
	}

	c, err := dec.codec(h.data, h.parity)
	if err != nil {
		return 0, nil, false, err
	}

	missing := 0

	for i := 0; i < int(h.data); i++ {
		if b.shards[i] == nil {
			missing++
		}
	}

	if err := c.ReconstructData(b.shards); err != nil {
		delete(dec.assemblies, key)
		dec.lost++

		return 0, nil, false, errors.Wrap(err, "reconstruct")
	}

	var out bytes.Buffer
	if err := c.Join(&out, b.shards, b.length); err != nil {
		delete(dec.assemblies, key)
		dec.lost++

		return 0, nil, false, errors.Wrap(err, "join")
	}

	if missing > 0 {
		dec.recovered++
	}

	b.data = out.Bytes()
	b.shards = nil
	a.pending--

	if a.pending > 0 {
		return 0, nil, false, nil
	}

	size := 0
	for i := range a.blocks {
		size += len(a.blocks[i].data)
	}

	buf := make([]byte, 0, size)
	for i := range a.blocks {
		buf = append(buf, a.blocks[i].data...)
	}

	delete(dec.assemblies, key)
	dec.last[h.stream] = h.seq

	// older partial buffers of this stream can no longer be delivered in order
	for k := range dec.assemblies {
		if k.stream == h.stream && k.seq < h.seq {
			delete(dec.assemblies, k)
			dec.lost++
		}
	}

	return int(h.stream), buf, true, nil
}

func (dec *fecDecoder) expire(now time.Time) {
	for k, a := range dec.assemblies {
		if now.Sub(a.created) > dec.timeout {
			delete(dec.assemblies, k)
			dec.lost++
		}
	}
}
