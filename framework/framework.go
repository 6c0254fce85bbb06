package framework

import (
	"reflect"
	"sync"

	"pcstream/log"
	"pcstream/network"

	"go.uber.org/zap"
)

type (
	// Module registers its message handlers on a router.
	Module interface {
		Init(Router)
	}

	// Router dispatches decoded messages by type. Handlers receive the
	// message and the network.Agent it came from.
	Router interface {
		Register(interface{}, func([]interface{}))
		network.Handler
	}

	router struct {
		mtx  sync.RWMutex
		r    map[reflect.Type]func([]interface{})
		opts Options
	}

	// OnConnect and OnClose are routed like messages when a session starts
	// and ends.
	OnClose struct{}

	OnConnect struct{}

	Options struct {
		Modules []Module
	}

	Option func(*Options)
)

// OptionWithModule adds modules, initialized in order by NewRouter.
func OptionWithModule(ms ...Module) Option {
	return func(o *Options) {
		o.Modules = append(o.Modules, ms...)
	}
}

func NewRouter(opts ...Option) Router {
	r := &router{
		r: make(map[reflect.Type]func([]interface{})),
	}

	for _, o := range opts {
		o(&r.opts)
	}

	for _, v := range r.opts.Modules {
		v.Init(r)
	}

	return r
}

func (r *router) Register(m interface{}, f func([]interface{})) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.r[reflect.TypeOf(m)] = f
}

func (r *router) lookup(t reflect.Type) (func([]interface{}), bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	f, ok := r.r[t]

	return f, ok
}

func (r *router) Handle(a network.Agent, m interface{}) {
	t := reflect.TypeOf(m)

	f, ok := r.lookup(t)
	if !ok {
		log.Debug("unrouted message", zap.String("type", t.String()))

		return
	}

	f([]interface{}{m, a})
}

func (r *router) OnConnect(a network.Agent) {
	if f, ok := r.lookup(reflect.TypeOf((*OnConnect)(nil))); ok {
		f([]interface{}{(*OnConnect)(nil), a})
	}
}

func (r *router) OnClose(a network.Agent) {
	if f, ok := r.lookup(reflect.TypeOf((*OnClose)(nil))); ok {
		f([]interface{}{(*OnClose)(nil), a})
	}
}
