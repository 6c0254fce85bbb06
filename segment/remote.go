package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/framework"
	"pcstream/log"
	"pcstream/network"
	"pcstream/stream"

	"go.uber.org/zap"
)

const DefaultRequestTimeout = time.Second

var ErrorRemote = errors.New("remote segment error")

// ClientFactory builds the message client of a Remote around its handler.
type ClientFactory func(h network.Handler, c network.Codec) network.Client

// Remote is a stream.Transport talking to a segment Service.
type Remote struct {
	client   network.Client
	eof      time.Duration
	interval time.Duration
	timeout  time.Duration

	mtx      sync.Mutex
	dialed   bool
	manifest chan *Manifest
	registry stream.Registry
	enabled  map[int]bool
	cursors  map[int]uint64
	replies  map[int]chan *Chunk
}

func NewRemote(factory ClientFactory, eof time.Duration) *Remote {
	if eof <= 0 {
		eof = stream.DefaultEOFTimeout
	}

	r := &Remote{
		eof:      eof,
		interval: stream.DefaultPollInterval,
		timeout:  DefaultRequestTimeout,
		manifest: make(chan *Manifest, 1),
		enabled:  make(map[int]bool),
		cursors:  make(map[int]uint64),
		replies:  make(map[int]chan *Chunk),
	}

	r.client = factory(framework.NewRouter(framework.OptionWithModule(r)), NewCodec())

	return r
}

func (r *Remote) Init(rt framework.Router) {
	rt.Register((*Manifest)(nil), r.onManifest)
	rt.Register((*Chunk)(nil), r.onChunk)
	rt.Register((*framework.OnClose)(nil), r.onClose)
}

func (r *Remote) onManifest(args []interface{}) {
	m := args[0].(*Manifest)

	select {
	case r.manifest <- m:
	default:
	}
}

func (r *Remote) reply(stream int) chan *Chunk {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	ch, ok := r.replies[stream]
	if !ok {
		ch = make(chan *Chunk, 4)
		r.replies[stream] = ch
	}

	return ch
}

func (r *Remote) onChunk(args []interface{}) {
	c := args[0].(*Chunk)

	select {
	case r.reply(c.Stream) <- c:
	default:
		log.Warn("dropping unexpected chunk", zap.Int("stream", c.Stream), zap.Uint64("seq", c.Seq))
	}
}

func (r *Remote) onClose([]interface{}) {
	r.mtx.Lock()
	r.dialed = false
	r.mtx.Unlock()
}

// Connect dials once and asks for the manifest. Any failure is reported as
// stream.ErrorNotReady so the subscriber retries.
func (r *Remote) Connect(ctx context.Context) error {
	r.mtx.Lock()
	dialed := r.dialed
	r.mtx.Unlock()

	if !dialed {
		if err := r.client.Dial(); err != nil {
			return fmt.Errorf("%v %w", err, stream.ErrorNotReady)
		}

		r.mtx.Lock()
		r.dialed = true
		r.mtx.Unlock()
	}

	if err := r.client.WriteMessage(&Describe{}); err != nil {
		return fmt.Errorf("failed to describe %v %w", err, stream.ErrorNotReady)
	}

	t := time.NewTimer(r.timeout)
	defer t.Stop()

	select {
	case m := <-r.manifest:
		reg, err := stream.ParseRegistry(m.Streams)
		if err != nil {
			return fmt.Errorf("failed to parse manifest %w", err)
		}

		r.mtx.Lock()
		r.registry = reg
		r.mtx.Unlock()

		log.Info("segment manifest",
			zap.String("streams", m.Streams),
			zap.Int64("segment_duration_ms", m.SegmentDuration),
			zap.Int64("timeshift_depth_ms", m.TimeshiftDepth))

		return nil
	case <-t.C:
		return fmt.Errorf("no manifest within %v %w", r.timeout, stream.ErrorNotReady)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Remote) Count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.registry)
}

func (r *Remote) Descriptor(i int) (stream.Descriptor, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if !r.registry.Valid(i) {
		return stream.Descriptor{}, fmt.Errorf("descriptor %d %w", i, stream.ErrorNoStream)
	}

	return r.registry[i], nil
}

// Enable is recorded only, the service serves every stream on request.
func (r *Remote) Enable(i int, on bool) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if !r.registry.Valid(i) {
		return fmt.Errorf("enable %d %w", i, stream.ErrorNoStream)
	}

	r.enabled[i] = on

	return nil
}

func (r *Remote) Enabled(i int) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.enabled[i]
}

// Pull requests the next buffer of stream i until one arrives or the end of
// stream timeout elapses.
func (r *Remote) Pull(ctx context.Context, i int) ([]byte, error) {
	ch := r.reply(i)

	return stream.Poll(ctx, r.eof, r.interval, func() ([]byte, bool, error) {
		r.mtx.Lock()
		cursor := r.cursors[i]
		r.mtx.Unlock()

		if err := r.client.WriteMessage(&Pull{Stream: i, Cursor: cursor}); err != nil {
			log.Debug("pull request failed", zap.Int("stream", i), zap.Error(err))

			return nil, false, nil
		}

		t := time.NewTimer(r.timeout)
		defer t.Stop()

		for {
			select {
			case c := <-ch:
				switch {
				case c.EOS:
					return nil, false, stream.ErrorEndOfStream
				case c.Error != "":
					return nil, false, fmt.Errorf("%s %w", c.Error, ErrorRemote)
				case c.Pending:
					return nil, false, nil
				case c.Seq <= cursor:
					continue
				}

				r.mtx.Lock()
				r.cursors[i] = c.Seq
				r.mtx.Unlock()

				return c.Data, true, nil
			case <-t.C:
				return nil, false, nil
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
	})
}

func (r *Remote) Close() error {
	r.client.Stop()

	return nil
}

func (r *Remote) String() string {
	return "segment-remote(" + r.client.Options().Addr + ")"
}
