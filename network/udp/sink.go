package udp

import (
	"net"
	"sync"

	"pcstream/log"
	"pcstream/sink"
	"pcstream/stream"
	"pcstream/util/timer"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// Sink pushes every buffer as FEC protected datagrams to one address and
// announces the stream registry every ManifestInterval.
type Sink struct {
	opts     Options
	registry stream.Registry
	conn     *net.UDPConn
	enc      *fecEncoder
	ticker   timer.Ticker

	wmtx sync.Mutex
	seqs []atomic.Uint32

	closed  atomic.Bool
	packets atomic.Uint64
	errs    atomic.Uint64
}

func NewSink(addr string, r stream.Registry, opts ...Option) (*Sink, error) {
	o := newOptions(opts...)

	if len(r) > 0xffff {
		return nil, errors.Errorf("%d streams do not fit the packet header", len(r))
	}

	enc, err := newFECEncoder(o.DataShards, o.ParityShards, o.ShardSize)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	if o.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(o.DSCP << 2); err != nil {
			log.Debug("failed to set tos", zap.Int("dscp", o.DSCP), zap.Error(err))
		}
	}

	s := &Sink{
		opts:     o,
		registry: r,
		conn:     conn,
		enc:      enc,
		seqs:     make([]atomic.Uint32, len(r)),
	}

	s.ticker = timer.NewTicker(o.ManifestInterval, s.announce, timer.OptionWithImmediate())

	log.Info("udp sink", zap.String("addr", raddr.String()), zap.Int("data", o.DataShards), zap.Int("parity", o.ParityShards))

	return s, nil
}

func (s *Sink) announce() {
	if err := s.write(manifestPacket(s.registry.String())); err != nil {
		log.Debug("failed to send manifest", zap.Error(err))
	}
}

func (s *Sink) write(pkt []byte) error {
	s.wmtx.Lock()
	defer s.wmtx.Unlock()

	if _, err := s.conn.Write(pkt); err != nil {
		s.errs.Inc()

		return errors.WithStack(err)
	}

	s.packets.Inc()

	return nil
}

// CanFeed never waits, datagrams are sent without flow control.
func (s *Sink) CanFeed(int64, bool) bool {
	return !s.closed.Load()
}

func (s *Sink) Feed(buf []byte, index int) error {
	if s.closed.Load() {
		return sink.ErrorClosed
	}

	if !s.registry.Valid(index) {
		return sink.ErrorInvalidStream
	}

	seq := s.seqs[index].Inc()

	pkts, err := s.enc.encode(index, seq, buf)
	if err != nil {
		return errors.Wrapf(err, "stream %d", index)
	}

	for _, pkt := range pkts {
		if err := s.write(pkt); err != nil {
			// receivers rebuild from parity or drop the buffer
			log.Debug("failed to send packet", zap.Int("stream", index), zap.Error(err))
		}
	}

	return nil
}

func (s *Sink) Packets() uint64 {
	return s.packets.Load()
}

func (s *Sink) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	s.ticker.Stop()

	return errors.Wrap(s.conn.Close(), "close")
}

func (s *Sink) String() string {
	return "udp-sink(" + s.conn.RemoteAddr().String() + ")"
}
