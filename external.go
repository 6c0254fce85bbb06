package pcstream

import (
	"context"
	"errors"
	"time"

	"pcstream/broker"
	"pcstream/network"
	"pcstream/registry"
	"pcstream/rpc"
	"pcstream/stream"
	"pcstream/subscriber"
)

const (
	DefaultRegisterTTL      = 30 * time.Second
	DefaultRegisterInterval = 20 * time.Second
)

var (
	ErrorNameIsExist = errors.New("name is exist")
	ErrorInvalidAddr = errors.New("invalid addr")
)

// Runner is a pipeline hosted by an App. Done is closed once the pipeline
// finished on its own or after Stop.
type Runner interface {
	Start() error
	Stop()
	Done() <-chan struct{}
	Wait() error
	String() string
}

// App hosts the long-running parts of a process. Servers are advertised
// under their Options().Name, which is the transport kind.
type App interface {
	AddRegistry(registry.Registry, string)
	AddServer(...network.Server) error
	AddRPCServer(...rpc.Server) error
	AddBroker(...broker.Broker) error
	AddRunner(...Runner)
	SetStreams(stream.Registry)
	Run(context.Context) error
}

func NewApp() App {
	return &app{
		domain:  registry.DefaultDomain,
		brokers: make(map[string]broker.Broker),
		svrs:    make(map[string]network.Server),
		rpcSvrs: make(map[string]rpc.Server),
	}
}

type subscriberRunner struct {
	sub    *subscriber.Subscriber
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriberRunner connects, selects and starts s on Start.
func NewSubscriberRunner(s *subscriber.Subscriber) Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &subscriberRunner{sub: s, ctx: ctx, cancel: cancel}
}

func (r *subscriberRunner) Start() error {
	if err := r.sub.Connect(r.ctx); err != nil {
		return err
	}

	if _, err := r.sub.Select(); err != nil {
		return err
	}

	return r.sub.Start(r.ctx)
}

func (r *subscriberRunner) Stop() {
	r.cancel()
	r.sub.Stop()
}

func (r *subscriberRunner) Done() <-chan struct{} {
	return r.sub.Done()
}

func (r *subscriberRunner) Wait() error {
	return r.sub.Wait()
}

func (r *subscriberRunner) String() string {
	return r.sub.String()
}
