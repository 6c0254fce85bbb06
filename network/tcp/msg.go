package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const lenSize = 4

var (
	ErrorMsgTooLong  = errors.New("message too long")
	ErrorMsgTooShort = errors.New("message too short")
)

// msgParser frames messages as | len uint32 big-endian | data |. Empty
// messages are rejected.
type msgParser struct {
	maxMsgLen uint32
}

func newMsgParser(maxMsgLen uint32) *msgParser {
	return &msgParser{maxMsgLen: maxMsgLen}
}

func (p *msgParser) check(n uint64) error {
	switch {
	case n > uint64(p.maxMsgLen):
		return fmt.Errorf("%d bytes %w", n, ErrorMsgTooLong)
	case n == 0:
		return ErrorMsgTooShort
	default:
		return nil
	}
}

func (p *msgParser) Read(r io.Reader) ([]byte, error) {
	var hdr [lenSize]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read length %w", err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if err := p.check(uint64(n)); err != nil {
		return nil, err
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes %w", n, err)
	}

	return data, nil
}

// Pack frames the concatenation of parts as one message.
func (p *msgParser) Pack(parts ...[]byte) ([]byte, error) {
	var n uint64
	for _, b := range parts {
		n += uint64(len(b))
	}

	if err := p.check(n); err != nil {
		return nil, err
	}

	msg := make([]byte, lenSize, lenSize+n)
	binary.BigEndian.PutUint32(msg, uint32(n))

	for _, b := range parts {
		msg = append(msg, b...)
	}

	return msg, nil
}

// Write queues one framed message on conn.
func (p *msgParser) Write(conn *Conn, parts ...[]byte) error {
	msg, err := p.Pack(parts...)
	if err != nil {
		return err
	}

	return conn.Write(msg)
}
