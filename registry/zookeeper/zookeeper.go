package zookeeper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/registry"
	"pcstream/util/timer"

	hash "github.com/mitchellh/hashstructure/v2"
	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/zap"
)

var ErrorNoNode = errors.New("require at least one node")

const (
	DefaultProjectName string        = "/pcstream-registry"
	DefaultTimeout     time.Duration = 5 * time.Second
	DefaultFormat                    = hash.FormatV2
)

type zookeeperRegistry struct {
	client  *zk.Conn
	options registry.Options
	sync.Mutex

	watchers []*watcher
	register map[string]uint64
}

type watcher struct {
	ticker  timer.Ticker
	service []*registry.Service
	opts    *registry.WatchOptions
}

func NewRegistry(opts ...registry.Option) (registry.Registry, error) {
	var options registry.Options

	for _, o := range opts {
		o(&options)
	}

	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}

	c, _, err := zk.Connect([]string{options.Addr}, options.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper %w", err)
	}

	return &zookeeperRegistry{
		client:   c,
		options:  options,
		register: make(map[string]uint64),
	}, nil
}

func (z *zookeeperRegistry) Init() error {
	return createPath(DefaultProjectName, []byte{}, z.client)
}

func (z *zookeeperRegistry) Options() registry.Options {
	return z.options
}

func (z *zookeeperRegistry) String() string {
	return "zookeeper"
}

// Register skips the write when the service hash is unchanged since the
// last registration.
func (z *zookeeperRegistry) Register(s *registry.Service, opt ...registry.RegisterOption) error {
	opts := registry.NewRegisterOptions(opt...)

	h, err := hash.Hash(s, DefaultFormat, nil)
	if err != nil {
		return fmt.Errorf("failed to hash %w", err)
	}

	node := nodePath(DefaultProjectName, opts.Domain, s.ID)

	z.Lock()
	v, ok := z.register[node]
	z.Unlock()

	if ok && v == h {
		return nil
	}

	srv, err := encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode service %w", err)
	}

	exists, _, err := z.client.Exists(node)
	if err != nil {
		return fmt.Errorf("failed to check node %w", err)
	}

	if exists {
		if _, err := z.client.Set(node, srv, -1); err != nil {
			return fmt.Errorf("failed to set node %w", err)
		}
	} else if err := createPath(node, srv, z.client); err != nil {
		return err
	}

	z.Lock()
	z.register[node] = h
	z.Unlock()

	return nil
}

func (z *zookeeperRegistry) DeRegister(s *registry.Service, opt ...registry.DeregisterOption) error {
	opts := registry.NewDeregisterOptions(opt...)

	if s.Addr == "" {
		return ErrorNoNode
	}

	node := nodePath(DefaultProjectName, opts.Domain, s.ID)

	z.Lock()
	delete(z.register, node)
	z.Unlock()

	if err := z.client.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete node %w", err)
	}

	return nil
}

func (z *zookeeperRegistry) ListServices(opt ...registry.ListOption) ([]*registry.Service, error) {
	opts := registry.NewListOptions(opt...)

	children, _, err := z.client.Children(DefaultProjectName)
	if err != nil {
		return nil, fmt.Errorf("failed to list children %w", err)
	}

	res := []*registry.Service{}

	for _, name := range children {
		if opts.Domain != registry.WildcardDomain && nodeDomain(name) != opts.Domain {
			continue
		}

		b, _, err := z.client.Get(nodePath(DefaultProjectName, name, ""))
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get node %w", err)
		}

		s, err := decode(b)
		if err != nil {
			log.Warn("bad service node", zap.String("node", name), zap.Error(err))

			continue
		}

		res = append(res, s)
	}

	return res, nil
}

func (z *zookeeperRegistry) Watch(opt ...registry.WatchOption) error {
	opts := registry.NewWatchOptions(opt...)

	svrs, err := z.ListServices(registry.ListOptionWithDomain(opts.Domain))
	if err != nil {
		return err
	}

	w := &watcher{
		opts:    &opts,
		service: svrs,
	}

	w.ticker = timer.NewTicker(opts.Interval, func() {
		currentSvrs, err := z.ListServices(registry.ListOptionWithDomain(opts.Domain))
		if err != nil {
			log.Debug("watch list failed", zap.String("domain", opts.Domain), zap.Error(err))

			return
		}

		for _, e := range registry.Diff(w.service, currentSvrs) {
			w.opts.EventHandler(e)
		}

		w.service = currentSvrs
	})

	z.Lock()
	defer z.Unlock()

	z.watchers = append(z.watchers, w)

	return nil
}

func (z *zookeeperRegistry) Release() error {
	z.Lock()
	defer z.Unlock()

	for _, v := range z.watchers {
		v.ticker.Stop()
	}

	z.watchers = nil
	z.client.Close()

	return nil
}
