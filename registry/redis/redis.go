package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pcstream/log"
	"pcstream/registry"
	"pcstream/util/timer"

	redigo "github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

var (
	ErrorNoConn     = errors.New("no redigo conn")
	ErrorInvalidKey = errors.New("invalid key")
)

const (
	DefaultMaxIdle      uint32        = 10
	DefaultMaxActive    uint32        = 10
	DefaultIdleTimeout  time.Duration = 1000 * time.Millisecond
	DefaultDialTimeout  time.Duration = 5 * time.Second
	DefaultPingAfter    time.Duration = time.Minute
	DefaultSeparator    string        = "_"
	DefaultSeparatorNum int           = 2
)

type redisreg struct {
	opts registry.Options
	pool *redigo.Pool
	cfg  poolConfig

	watchers []*watcher
	sync.Mutex
}

type watcher struct {
	ticker  timer.Ticker
	service []*registry.Service
	opts    *registry.WatchOptions
}

// serviceKey is domain_id, the service itself is the JSON value.
func serviceKey(domain string, s *registry.Service) (string, error) {
	if domain == "" || s.ID == "" {
		return "", ErrorInvalidKey
	}

	if strings.Contains(domain, DefaultSeparator) || strings.Contains(s.ID, DefaultSeparator) {
		return "", ErrorInvalidKey
	}

	return domain + DefaultSeparator + s.ID, nil
}

func keyDomain(key string) (string, error) {
	strs := strings.Split(key, DefaultSeparator)
	if len(strs) != DefaultSeparatorNum {
		return "", ErrorInvalidKey
	}

	return strs[0], nil
}

// ttlSeconds rounds up, redis rejects a zero expiry.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64((ttl + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}

	return s
}

func NewRegistry(opts ...registry.Option) registry.Registry {
	reg := &redisreg{}

	for _, o := range opts {
		o(&reg.opts)
	}

	if reg.opts.Timeout == 0 {
		reg.opts.Timeout = DefaultDialTimeout
	}

	reg.cfg = defaultPoolConfig()

	if reg.opts.Context != nil {
		if cfg, ok := reg.opts.Context.Value(poolConfigKey{}).(*poolConfig); ok {
			reg.cfg = *cfg
		}
	}

	reg.pool = &redigo.Pool{
		MaxIdle:      int(reg.cfg.maxIdle),
		MaxActive:    int(reg.cfg.maxActive),
		IdleTimeout:  reg.cfg.idleTimeout,
		TestOnBorrow: reg.testOnBorrow,
		Dial: func() (redigo.Conn, error) {
			c, err := redigo.Dial("tcp", reg.opts.Addr,
				redigo.DialConnectTimeout(reg.opts.Timeout),
				redigo.DialDatabase(reg.cfg.db))
			if err != nil {
				return nil, fmt.Errorf("failed to dial addr %w", err)
			}

			if reg.opts.Password == "" {
				return c, nil
			}

			if _, err := c.Do("AUTH", reg.opts.Password); err != nil {
				c.Close()

				return nil, fmt.Errorf("failed to auth %w", err)
			}

			return c, nil
		},
	}

	return reg
}

func (r *redisreg) testOnBorrow(c redigo.Conn, idle time.Time) error {
	if r.cfg.pingAfter <= 0 || time.Since(idle) < r.cfg.pingAfter {
		return nil
	}

	_, err := c.Do("PING")

	return err
}

func (r *redisreg) Init() error {
	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return fmt.Errorf("failed to ping %w", err)
	}

	return nil
}

func (r *redisreg) Register(s *registry.Service, opt ...registry.RegisterOption) error {
	opts := registry.NewRegisterOptions(opt...)

	key, err := serviceKey(opts.Domain, s)
	if err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal service %w", err)
	}

	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("SET", key, data, "EX", ttlSeconds(opts.TTL)); err != nil {
		return fmt.Errorf("failed to set %w", err)
	}

	return nil
}

func (r *redisreg) DeRegister(s *registry.Service, opt ...registry.DeregisterOption) error {
	opts := registry.NewDeregisterOptions(opt...)

	key, err := serviceKey(opts.Domain, s)
	if err != nil {
		return err
	}

	c := r.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("DEL", key); err != nil {
		return fmt.Errorf("failed to del %w", err)
	}

	return nil
}

func (r *redisreg) ListServices(opt ...registry.ListOption) ([]*registry.Service, error) {
	opts := registry.NewListOptions(opt...)

	c := r.pool.Get()
	if c == nil {
		return nil, ErrorNoConn
	}

	defer c.Close()

	pattern := opts.Domain + DefaultSeparator + "*"
	if opts.Domain == registry.WildcardDomain {
		pattern = "*" + DefaultSeparator + "*"
	}

	keys, err := redigo.Strings(c.Do("KEYS", pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys %w", err)
	}

	var services []*registry.Service

	for _, k := range keys {
		if _, err := keyDomain(k); err != nil {
			continue
		}

		data, err := redigo.Bytes(c.Do("GET", k))
		if errors.Is(err, redigo.ErrNil) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get %s %w", k, err)
		}

		var s registry.Service
		if err := json.Unmarshal(data, &s); err != nil {
			log.Warn("bad service entry", zap.String("key", k), zap.Error(err))

			continue
		}

		services = append(services, &s)
	}

	return services, nil
}

func (r *redisreg) Watch(opt ...registry.WatchOption) error {
	opts := registry.NewWatchOptions(opt...)

	svrs, err := r.ListServices(registry.ListOptionWithDomain(opts.Domain))
	if err != nil {
		return err
	}

	w := &watcher{
		opts:    &opts,
		service: svrs,
	}

	w.ticker = timer.NewTicker(opts.Interval, func() {
		currentSvrs, err := r.ListServices(registry.ListOptionWithDomain(opts.Domain))
		if err != nil {
			log.Debug("watch list failed", zap.String("domain", opts.Domain), zap.Error(err))

			return
		}

		for _, e := range registry.Diff(w.service, currentSvrs) {
			w.opts.EventHandler(e)
		}

		w.service = currentSvrs
	})

	r.Lock()
	defer r.Unlock()

	r.watchers = append(r.watchers, w)

	return nil
}

func (r *redisreg) Options() registry.Options {
	return r.opts
}

func (r *redisreg) Release() error {
	r.Lock()
	defer r.Unlock()

	for _, v := range r.watchers {
		v.ticker.Stop()
	}

	r.watchers = nil

	if err := r.pool.Close(); err != nil {
		return fmt.Errorf("failed to close pool %w", err)
	}

	return nil
}

func (r *redisreg) String() string {
	return "redis"
}
