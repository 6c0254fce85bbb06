package redis

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pcstream/broker"
	"pcstream/log"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

var ErrorNoConn = errors.New("no redigo conn")

const (
	DefaultMaxIdle     uint32        = 10
	DefaultMaxActive   uint32        = 10
	DefaultIdleTimeout time.Duration = 1000 * time.Millisecond
)

type redisBroker struct {
	opts        broker.Options
	pool        *redis.Pool
	maxIdle     uint32
	maxActive   uint32
	idleTimeout time.Duration

	mtx  sync.Mutex
	subs []*redis.PubSubConn
}

type publication struct {
	m   *broker.Message
	t   string
	err error
}

func (p *publication) Topic() string {
	return p.t
}

func (p *publication) Message() *broker.Message {
	return p.m
}

func (p *publication) Ack() error {
	return nil
}

func (p *publication) Error() error {
	return p.err
}

func (b *redisBroker) String() string {
	return "redis-broker"
}

func (b *redisBroker) Connect() error {
	c := b.pool.Get()
	if c == nil {
		return ErrorNoConn
	}

	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return fmt.Errorf("failed to ping %w", err)
	}

	return nil
}

func (b *redisBroker) Disconnect() error {
	b.mtx.Lock()
	for _, s := range b.subs {
		_ = s.Unsubscribe()
		_ = s.Close()
	}

	b.subs = nil
	b.mtx.Unlock()

	if err := b.pool.Close(); err != nil {
		return fmt.Errorf("failed to disconnect %w", err)
	}

	return nil
}

// Publish sends the body only, redis pub/sub has no headers.
func (b *redisBroker) Publish(topic string, msg *broker.Message) error {
	conn := b.pool.Get()
	defer conn.Close()

	if _, err := redis.Int(conn.Do("PUBLISH", topic, msg.Body)); err != nil {
		return fmt.Errorf("failed to publish %w", err)
	}

	return nil
}

func (b *redisBroker) Subscribe(topic string, h *broker.Handler) error {
	psc := &redis.PubSubConn{Conn: b.pool.Get()}

	if err := psc.Subscribe(topic); err != nil {
		psc.Close()

		return fmt.Errorf("failed to subscribe %w", err)
	}

	b.mtx.Lock()
	b.subs = append(b.subs, psc)
	b.mtx.Unlock()

	handler := *h

	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			p := &publication{
				m: &broker.Message{Body: v.Data},
				t: v.Channel,
			}

			if p.err = handler(p); p.err != nil {
				log.Warn("redis handler failed", zap.String("topic", v.Channel), zap.Error(p.err))
			}

		case redis.Subscription:
			if v.Count == 0 {
				return nil
			}

		case error:
			return fmt.Errorf("failed to receive %w", v)
		}
	}
}

func (b *redisBroker) Options() broker.Options {
	return b.opts
}

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &redisBroker{}

	for _, o := range opts {
		o(&b.opts)
	}

	b.maxIdle = DefaultMaxIdle
	b.maxActive = DefaultMaxActive
	b.idleTimeout = DefaultIdleTimeout

	b.pool = &redis.Pool{
		MaxIdle:     int(b.maxIdle),
		MaxActive:   int(b.maxActive),
		IdleTimeout: b.idleTimeout,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", b.opts.Addr)
			if err != nil {
				return nil, fmt.Errorf("failed to dial addr %w", err)
			}

			if b.opts.Password == "" {
				return c, nil
			}

			if _, err := c.Do("AUTH", b.opts.Password); err != nil {
				return nil, fmt.Errorf("failed to auth %w", err)
			}

			return c, nil
		},
	}

	return b
}
