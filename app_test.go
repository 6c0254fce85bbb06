package pcstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pcstream/network"
	"pcstream/registry"
	"pcstream/stream"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mtx    sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return append([]string(nil), r.events...)
}

type fakeRunner struct {
	name     string
	rec      *recorder
	startErr error
	waitErr  error
	once     sync.Once
	done     chan struct{}
}

func newFakeRunner(name string, rec *recorder) *fakeRunner {
	return &fakeRunner{name: name, rec: rec, done: make(chan struct{})}
}

func (r *fakeRunner) Start() error {
	r.rec.add("start " + r.name)

	return r.startErr
}

func (r *fakeRunner) finish() {
	r.once.Do(func() { close(r.done) })
}

func (r *fakeRunner) Stop() {
	r.rec.add("stop " + r.name)
	r.finish()
}

func (r *fakeRunner) Done() <-chan struct{} { return r.done }
func (r *fakeRunner) Wait() error           { <-r.done; return r.waitErr }
func (r *fakeRunner) String() string        { return r.name }

type fakeServer struct {
	opts network.ServerOptions
	rec  *recorder
	once sync.Once
	stop chan struct{}
}

func newFakeServer(name, addr string, rec *recorder) *fakeServer {
	s := &fakeServer{rec: rec, stop: make(chan struct{})}
	s.opts.Name = name
	s.opts.Addr = addr
	s.opts.ID = name + "-id"

	return s
}

func (s *fakeServer) Start() error {
	<-s.stop

	return nil
}

func (s *fakeServer) Stop() {
	s.rec.add("stop server " + s.opts.Name)
	s.once.Do(func() { close(s.stop) })
}

func (s *fakeServer) String() string                 { return s.opts.Name }
func (s *fakeServer) Options() network.ServerOptions { return s.opts }

type fakeRegistry struct {
	rec *recorder
	mtx sync.Mutex
	reg map[string]*registry.Service
}

func (f *fakeRegistry) Init() error { return nil }

func (f *fakeRegistry) Register(s *registry.Service, opts ...registry.RegisterOption) error {
	o := registry.NewRegisterOptions(opts...)

	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.reg[o.Domain+"/"+s.ID] = s
	f.rec.add("register " + s.ID)

	return nil
}

func (f *fakeRegistry) DeRegister(s *registry.Service, opts ...registry.DeregisterOption) error {
	o := registry.NewDeregisterOptions(opts...)

	f.mtx.Lock()
	defer f.mtx.Unlock()

	delete(f.reg, o.Domain+"/"+s.ID)
	f.rec.add("deregister " + s.ID)

	return nil
}

func (f *fakeRegistry) ListServices(...registry.ListOption) ([]*registry.Service, error) {
	return nil, nil
}

func (f *fakeRegistry) Watch(...registry.WatchOption) error { return nil }
func (f *fakeRegistry) Options() registry.Options           { return registry.Options{} }
func (f *fakeRegistry) Release() error                      { return nil }
func (f *fakeRegistry) String() string                      { return "fake" }

func TestAppRunsUntilRunnersFinish(t *testing.T) {
	rec := &recorder{}
	reg := &fakeRegistry{rec: rec, reg: make(map[string]*registry.Service)}
	streams := stream.BuildRegistry(stream.DefaultFourCC, []uint32{0}, []uint32{985})

	a := NewApp()
	a.AddRegistry(reg, "test")
	a.SetStreams(streams)
	require.NoError(t, a.AddServer(newFakeServer("ws", "10.0.0.1:9000", rec)))
	require.ErrorIs(t, a.AddServer(newFakeServer("ws", "10.0.0.1:9001", rec)), ErrorNameIsExist)

	first := newFakeRunner("first", rec)
	second := newFakeRunner("second", rec)
	a.AddRunner(first, second)

	errc := make(chan error, 1)

	go func() {
		errc <- a.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		reg.mtx.Lock()
		defer reg.mtx.Unlock()

		s, ok := reg.reg["test/ws-id"]

		return ok && s.Addr == "10.0.0.1:9000" && s.Transport() == "ws"
	}, time.Second, 5*time.Millisecond)

	first.finish()
	second.finish()

	require.NoError(t, <-errc)

	require.Equal(t, []string{
		"start first",
		"start second",
		"register ws-id",
		"deregister ws-id",
		"stop second",
		"stop first",
		"stop server ws",
	}, rec.list())
	require.Empty(t, reg.reg)
}

func TestAppStartFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	first := newFakeRunner("first", rec)
	second := newFakeRunner("second", rec)
	second.startErr = boom

	a := NewApp()
	a.AddRunner(first, second)

	err := a.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"start first", "start second", "stop first"}, rec.list())
}

func TestAppContextCancel(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("receiver failed")

	r := newFakeRunner("sub", rec)
	r.waitErr = boom

	a := NewApp()
	a.AddRunner(r)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	go func() {
		errc <- a.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.ErrorIs(t, <-errc, boom)
	require.Equal(t, []string{"start sub", "stop sub"}, rec.list())
}
