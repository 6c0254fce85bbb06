package redis

import (
	"context"
	"time"

	"pcstream/registry"
)

type poolConfigKey struct{}

// poolConfig tunes the redigo pool and selects the logical database the
// services are kept in.
type poolConfig struct {
	maxIdle     uint32
	maxActive   uint32
	idleTimeout time.Duration
	db          int
	pingAfter   time.Duration
}

func defaultPoolConfig() poolConfig {
	return poolConfig{
		maxIdle:     DefaultMaxIdle,
		maxActive:   DefaultMaxActive,
		idleTimeout: DefaultIdleTimeout,
		pingAfter:   DefaultPingAfter,
	}
}

func withPool(o *registry.Options, f func(*poolConfig)) {
	if o.Context == nil {
		o.Context = context.Background()
	}

	cfg, ok := o.Context.Value(poolConfigKey{}).(*poolConfig)
	if !ok {
		c := defaultPoolConfig()
		cfg = &c
		o.Context = context.WithValue(o.Context, poolConfigKey{}, cfg)
	}

	f(cfg)
}

// OptionWithPool bounds the idle and active connections of the pool.
func OptionWithPool(maxIdle, maxActive uint32, idleTimeout time.Duration) registry.Option {
	return func(o *registry.Options) {
		withPool(o, func(c *poolConfig) {
			c.maxIdle = maxIdle
			c.maxActive = maxActive
			c.idleTimeout = idleTimeout
		})
	}
}

func OptionWithDB(db int) registry.Option {
	return func(o *registry.Options) {
		withPool(o, func(c *poolConfig) {
			c.db = db
		})
	}
}

// OptionWithPingAfter pings a pooled connection idle for longer than d
// before handing it out. Zero disables the check.
func OptionWithPingAfter(d time.Duration) registry.Option {
	return func(o *registry.Options) {
		withPool(o, func(c *poolConfig) {
			c.pingAfter = d
		})
	}
}
