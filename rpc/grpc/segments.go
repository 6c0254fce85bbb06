package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/rpc"
	"pcstream/segment"
	"pcstream/stream"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/golang/protobuf/ptypes/wrappers"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	describeMethod = "/pcstream.Segments/Describe"
	pullMethod     = "/pcstream.Segments/Pull"
)

// SegmentsServer is the server API of pcstream.Segments.
type SegmentsServer interface {
	Describe(context.Context, *empty.Empty) (*wrappers.StringValue, error)
	Pull(*wrappers.Int64Value, grpc.ServerStream) error
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(SegmentsServer).Describe(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: describeMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SegmentsServer).Describe(ctx, req.(*empty.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func pullHandler(srv interface{}, ss grpc.ServerStream) error {
	in := new(wrappers.Int64Value)
	if err := ss.RecvMsg(in); err != nil {
		return err
	}

	return srv.(SegmentsServer).Pull(in, ss)
}

var segmentsDesc = grpc.ServiceDesc{
	ServiceName: "pcstream.Segments",
	HandlerType: (*SegmentsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Pull", Handler: pullHandler, ServerStreams: true},
	},
	Metadata: "pcstream/segments",
}

// Segments serves a segment Store. Pull streams one stream from its live
// edge until the store is closed.
type Segments struct {
	store    *segment.Store
	interval time.Duration
}

func NewSegments(store *segment.Store) *Segments {
	return &Segments{
		store:    store,
		interval: stream.DefaultPollInterval,
	}
}

func (s *Segments) OnListened(gsvr *grpc.Server) {
	gsvr.RegisterService(&segmentsDesc, s)
}

func (s *Segments) Describe(context.Context, *empty.Empty) (*wrappers.StringValue, error) {
	return &wrappers.StringValue{Value: s.store.Registry().String()}, nil
}

func (s *Segments) Pull(in *wrappers.Int64Value, ss grpc.ServerStream) error {
	index := int(in.GetValue())
	if !s.store.Registry().Valid(index) {
		return fmt.Errorf("pull %d %w", index, stream.ErrorNoStream)
	}

	var cursor uint64

	for {
		buf, ok, err := s.store.Read(index, cursor)
		if errors.Is(err, stream.ErrorEndOfStream) {
			return nil
		}

		if err != nil {
			return err
		}

		if ok {
			if err := ss.SendMsg(&wrappers.BytesValue{Value: buf.Data}); err != nil {
				return err
			}

			cursor = buf.Seq

			continue
		}

		select {
		case <-ss.Context().Done():
			return ss.Context().Err()
		case <-time.After(s.interval):
		}
	}
}

type connSub struct{}

func (connSub) OnConnected(conn *grpc.ClientConn) interface{} {
	return conn
}

type pulled struct {
	data []byte
	err  error
}

// Transport subscribes to a Segments server.
type Transport struct {
	cli     *client
	eof     time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mtx     sync.Mutex
	reg     stream.Registry
	streams map[int]chan pulled
}

func NewTransport(addr string, eof time.Duration) *Transport {
	if eof <= 0 {
		eof = stream.DefaultEOFTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		cli: NewClient(
			ClientOptionWithSub(connSub{}),
			rpc.ClientOptionWithAddr(addr)).(*client),
		eof:     eof,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[int]chan pulled),
	}
}

func (t *Transport) conn() *grpc.ClientConn {
	c, _ := t.cli.Client().(*grpc.ClientConn)

	return c
}

func (t *Transport) Connect(ctx context.Context) error {
	if t.conn() == nil {
		if err := t.cli.Start(); err != nil {
			return fmt.Errorf("%v %w", err, stream.ErrorNotReady)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cli.opts.CallTimeout)
	defer cancel()

	out := new(wrappers.StringValue)
	if err := t.conn().Invoke(ctx, describeMethod, &empty.Empty{}, out, grpc.WaitForReady(true)); err != nil {
		return fmt.Errorf("describe %v %w", err, stream.ErrorNotReady)
	}

	r, err := stream.ParseRegistry(out.GetValue())
	if err != nil {
		return fmt.Errorf("failed to parse registry %w", err)
	}

	t.mtx.Lock()
	t.reg = r
	t.mtx.Unlock()

	return nil
}

func (t *Transport) Count() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return len(t.reg)
}

func (t *Transport) Descriptor(i int) (stream.Descriptor, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if !t.reg.Valid(i) {
		return stream.Descriptor{}, fmt.Errorf("descriptor %d %w", i, stream.ErrorNoStream)
	}

	return t.reg[i], nil
}

// Enable is recorded by opening the stream on first Pull.
func (t *Transport) Enable(int, bool) error {
	return nil
}

func (t *Transport) open(i int) (chan pulled, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if ch, ok := t.streams[i]; ok {
		return ch, nil
	}

	conn := t.conn()
	if conn == nil {
		return nil, stream.ErrorNotReady
	}

	cs, err := conn.NewStream(t.ctx, &segmentsDesc.Streams[0], pullMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %d %w", i, err)
	}

	if err := cs.SendMsg(&wrappers.Int64Value{Value: int64(i)}); err != nil {
		return nil, fmt.Errorf("failed to request stream %d %w", i, err)
	}

	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send %w", err)
	}

	ch := make(chan pulled, 1)
	t.streams[i] = ch
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer close(ch)

		for {
			in := new(wrappers.BytesValue)
			err := cs.RecvMsg(in)

			if errors.Is(err, io.EOF) {
				return
			}

			if err != nil {
				if t.ctx.Err() == nil {
					log.Warn("grpc pull failed", zap.Int("stream", i), zap.Error(err))

					select {
					case ch <- pulled{err: err}:
					case <-t.ctx.Done():
					}
				}

				return
			}

			select {
			case ch <- pulled{data: in.GetValue()}:
			case <-t.ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (t *Transport) Pull(ctx context.Context, i int) ([]byte, error) {
	ch, err := t.open(i)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.eof)
	defer timer.Stop()

	select {
	case p, ok := <-ch:
		if !ok {
			return nil, stream.ErrorEndOfStream
		}

		if p.err != nil {
			return nil, fmt.Errorf("failed to pull stream %d %w", i, p.err)
		}

		return p.data, nil
	case <-timer.C:
		return nil, stream.ErrorEndOfStream
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) Close() error {
	t.cancel()
	t.wg.Wait()
	t.cli.Stop()

	return nil
}

func (t *Transport) String() string {
	return "grpc-transport(" + t.cli.opts.Addr + ")"
}
