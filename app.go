package pcstream

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"pcstream/broker"
	"pcstream/log"
	"pcstream/network"
	"pcstream/registry"
	"pcstream/rpc"
	"pcstream/stream"
	"pcstream/util/addr"
	"pcstream/util/timer"

	"go.uber.org/zap"
)

type app struct {
	registry registry.Registry
	domain   string
	streams  stream.Registry

	brokers map[string]broker.Broker
	svrs    map[string]network.Server
	rpcSvrs map[string]rpc.Server
	runners []Runner

	services  []*registry.Service
	regTicker timer.Ticker

	mtx sync.Mutex
}

func (app *app) AddRegistry(r registry.Registry, domain string) {
	app.registry = r

	if domain != "" {
		app.domain = domain
	}
}

func (app *app) SetStreams(r stream.Registry) {
	app.streams = r
}

func (app *app) AddServer(svrs ...network.Server) error {
	for _, v := range svrs {
		if _, ok := app.svrs[v.Options().Name]; ok {
			return ErrorNameIsExist
		}

		app.svrs[v.Options().Name] = v
	}

	return nil
}

func (app *app) AddRPCServer(svrs ...rpc.Server) error {
	for _, v := range svrs {
		if _, ok := app.rpcSvrs[v.Options().Name]; ok {
			return ErrorNameIsExist
		}

		app.rpcSvrs[v.Options().Name] = v
	}

	return nil
}

func (app *app) AddBroker(brokers ...broker.Broker) error {
	for _, v := range brokers {
		if _, ok := app.brokers[v.Options().Name]; ok {
			return ErrorNameIsExist
		}

		app.brokers[v.Options().Name] = v
	}

	return nil
}

func (app *app) AddRunner(runners ...Runner) {
	app.runners = append(app.runners, runners...)
}

// Run starts everything, then waits for a signal, ctx, a server failure or
// the end of every runner. Everything is stopped in reverse order and the
// first runner error is returned.
func (app *app) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, b := range app.brokers {
		if err := b.Connect(); err != nil {
			app.disconnectBrokers()

			return fmt.Errorf("failed to connect broker %s %w", name, err)
		}
	}

	errc := make(chan error, len(app.svrs)+len(app.rpcSvrs))

	for _, v := range app.svrs {
		go func(svr network.Server) {
			if err := svr.Start(); err != nil {
				errc <- fmt.Errorf("%s %w", svr.String(), err)
			}
		}(v)
	}

	for _, v := range app.rpcSvrs {
		go func(svr rpc.Server) {
			if err := svr.Start(); err != nil {
				errc <- fmt.Errorf("%s %w", svr.String(), err)
			}
		}(v)
	}

	for i, r := range app.runners {
		if err := r.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				app.runners[j].Stop()
			}

			app.stopServers()
			app.disconnectBrokers()

			return fmt.Errorf("failed to start %s %w", r.String(), err)
		}

		log.Info("runner started", zap.String("runner", r.String()))
	}

	if app.registry != nil {
		if err := app.startRegistry(); err != nil {
			log.Warn("registration failed", zap.Error(err))
		}
	}

	var failure error

	select {
	case <-ctx.Done():
		log.Info("shutting down", zap.Error(ctx.Err()))
	case failure = <-errc:
		log.Error("server failed", zap.Error(failure))
	case <-app.runnersDone():
		log.Info("pipelines finished")
	}

	return app.shutdown(failure)
}

// runnersDone is closed once every runner is done. Without runners it never
// closes.
func (app *app) runnersDone() <-chan struct{} {
	if len(app.runners) == 0 {
		return nil
	}

	ch := make(chan struct{})

	go func() {
		for _, r := range app.runners {
			<-r.Done()
		}

		close(ch)
	}()

	return ch
}

func (app *app) shutdown(failure error) error {
	if app.registry != nil {
		app.stopRegistry()
	}

	var first error

	for i := len(app.runners) - 1; i >= 0; i-- {
		r := app.runners[i]
		r.Stop()

		if err := r.Wait(); err != nil && first == nil {
			first = fmt.Errorf("%s %w", r.String(), err)
		}
	}

	app.stopServers()
	app.disconnectBrokers()

	if first != nil {
		return first
	}

	return failure
}

func (app *app) stopServers() {
	for _, v := range app.rpcSvrs {
		v.Stop()
	}

	for _, v := range app.svrs {
		v.Stop()
	}
}

func (app *app) disconnectBrokers() {
	for name, b := range app.brokers {
		if err := b.Disconnect(); err != nil {
			log.Warn("failed to disconnect broker", zap.String("broker", name), zap.Error(err))
		}
	}
}

func (app *app) service(name, id, listen string) (*registry.Service, error) {
	a, err := addr.Advertise(listen)
	if err != nil {
		return nil, fmt.Errorf("%s %v %w", name, err, ErrorInvalidAddr)
	}

	return registry.NewService(id, a, name, app.streams), nil
}

func (app *app) startRegistry() error {
	if err := app.registry.Init(); err != nil {
		return fmt.Errorf("failed to init registry %w", err)
	}

	var services []*registry.Service

	for name, v := range app.svrs {
		s, err := app.service(name, v.Options().ID, v.Options().Addr)
		if err != nil {
			return err
		}

		services = append(services, s)
	}

	for name, v := range app.rpcSvrs {
		s, err := app.service(name, v.Options().ID, v.Options().Addr)
		if err != nil {
			return err
		}

		services = append(services, s)
	}

	app.mtx.Lock()
	app.services = services
	app.mtx.Unlock()

	if err := app.register(); err != nil {
		return err
	}

	app.regTicker = timer.NewTicker(DefaultRegisterInterval, func() {
		if err := app.register(); err != nil {
			log.Warn("failed to refresh registration", zap.Error(err))
		}
	})

	return nil
}

func (app *app) register() error {
	app.mtx.Lock()
	services := app.services
	app.mtx.Unlock()

	var first error

	for _, s := range services {
		if err := app.registry.Register(s,
			registry.RegisterOptionWithDomain(app.domain),
			registry.RegisterOptionWithTTL(DefaultRegisterTTL)); err != nil && first == nil {
			first = fmt.Errorf("failed to register %s %w", s.ID, err)
		}
	}

	return first
}

func (app *app) stopRegistry() {
	if app.regTicker != nil {
		app.regTicker.Stop()
	}

	app.mtx.Lock()
	services := app.services
	app.services = nil
	app.mtx.Unlock()

	for _, s := range services {
		if err := app.registry.DeRegister(s, registry.DeregisterOptionWithDomain(app.domain)); err != nil {
			log.Warn("failed to deregister", zap.String("id", s.ID), zap.Error(err))
		}
	}

	if err := app.registry.Release(); err != nil {
		log.Warn("failed to release registry", zap.Error(err))
	}
}
