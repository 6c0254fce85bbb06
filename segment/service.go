package segment

import (
	"errors"
	"time"

	"pcstream/framework"
	"pcstream/log"
	"pcstream/network"
	"pcstream/stream"

	"go.uber.org/zap"
)

const servedKey = "segment.served"

// Service answers Describe and Pull requests from a Store.
type Service struct {
	store *Store
}

// served counts what one session received. Sessions dispatch serially.
type served struct {
	chunks  int
	pending int
	bytes   int
}

func sessionServed(a network.Agent) *served {
	if v, ok := a.GetData(servedKey).(*served); ok {
		return v
	}

	v := &served{}
	a.SetData(servedKey, v)

	return v
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func (s *Service) Init(r framework.Router) {
	r.Register((*Describe)(nil), s.describe)
	r.Register((*Pull)(nil), s.pull)
	r.Register((*framework.OnConnect)(nil), s.connect)
	r.Register((*framework.OnClose)(nil), s.close)
}

func (s *Service) Manifest() *Manifest {
	cfg := s.store.Config()

	return &Manifest{
		Streams:         s.store.Registry().String(),
		SegmentDuration: int64(cfg.SegmentDuration / time.Millisecond),
		TimeshiftDepth:  int64(cfg.TimeshiftDepth / time.Millisecond),
	}
}

func (s *Service) connect(args []interface{}) {
	a := args[1].(network.Agent)

	sessionServed(a)

	log.Debug("segment subscriber connected", zap.String("remote", a.RemoteAddr().String()))
}

func (s *Service) close(args []interface{}) {
	a := args[1].(network.Agent)
	v := sessionServed(a)
	c := a.Counters()

	log.Info("segment subscriber left",
		zap.String("remote", a.RemoteAddr().String()),
		zap.Int("chunks", v.chunks),
		zap.Int("pending", v.pending),
		zap.Int("bytes", v.bytes),
		zap.Uint64("requests", c.Read))
}

func (s *Service) describe(args []interface{}) {
	a := args[1].(network.Agent)

	if err := a.WriteMessage(s.Manifest()); err != nil {
		log.Warn("failed to send manifest", zap.Error(err))
	}
}

// Answer builds the reply to one pull request.
func (s *Service) Answer(p *Pull) *Chunk {
	buf, ok, err := s.store.Read(p.Stream, p.Cursor)

	switch {
	case errors.Is(err, stream.ErrorEndOfStream):
		return &Chunk{Stream: p.Stream, EOS: true}
	case err != nil:
		return &Chunk{Stream: p.Stream, Error: err.Error()}
	case !ok:
		return &Chunk{Stream: p.Stream, Pending: true}
	}

	return &Chunk{Stream: p.Stream, Seq: buf.Seq, Data: buf.Data}
}

func (s *Service) pull(args []interface{}) {
	p := args[0].(*Pull)
	a := args[1].(network.Agent)

	c := s.Answer(p)

	v := sessionServed(a)
	if c.Pending {
		v.pending++
	} else if len(c.Data) > 0 {
		v.chunks++
		v.bytes += len(c.Data)
	}

	if err := a.WriteMessage(c); err != nil {
		log.Warn("failed to send chunk", zap.Int("stream", p.Stream), zap.Error(err))
	}
}
