// Package setup builds the backends shared by the binaries from config.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"pcstream/broker"
	"pcstream/broker/kafka"
	"pcstream/broker/rabbit"
	"pcstream/broker/redis"
	"pcstream/config"
	"pcstream/log"
	"pcstream/registry"
	rr "pcstream/registry/redis"
	"pcstream/registry/zookeeper"

	"go.uber.org/zap"
)

// Log initializes the process logger at level.
func Log(name, level string) {
	log.Init(name)
	log.SetLevel(log.ParseLevel(level))
}

// Warn logs every config warning.
func Warn(warnings []string) {
	for _, w := range warnings {
		log.Warn("config", zap.String("warning", w))
	}
}

// NewBroker returns an unconnected broker. name is the rabbit queue and the
// kafka consumer group.
func NewBroker(c config.Broker, name string) (broker.Broker, error) {
	opts := []broker.Option{
		broker.OptionWithName(name),
		broker.OptionWithAddr(c.Addr),
		broker.OptionWithPassword(c.Password),
	}

	switch c.Kind {
	case config.BrokerRedis:
		return redis.NewBroker(opts...), nil
	case config.BrokerRabbit:
		return rabbit.NewBroker(append(opts, broker.OptionWithQueue(name))...), nil
	case config.BrokerKafka:
		return kafka.NewBroker(append(opts, broker.OptionWithGroupID(name))...), nil
	default:
		return nil, fmt.Errorf("broker kind %q %w", c.Kind, config.ErrorInvalidConfig)
	}
}

func NewRegistry(c config.Registry) (registry.Registry, error) {
	switch c.Kind {
	case config.RegistryRedis:
		return rr.NewRegistry(registry.OptionWithAddr(c.Addr)), nil
	case config.RegistryZookeeper:
		return zookeeper.NewRegistry(registry.OptionWithAddr(c.Addr))
	default:
		return nil, fmt.Errorf("registry kind %q %w", c.Kind, config.ErrorInvalidConfig)
	}
}

// Domain is the registry domain, DefaultDomain when unset.
func Domain(c config.Registry) string {
	if c.Domain == "" {
		return registry.DefaultDomain
	}

	return c.Domain
}

// ParseUint8s parses a comma separated list such as "8,9,10".
func ParseUint8s(s string) ([]uint8, error) {
	var out []uint8

	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}

		v, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%q %w", s, config.ErrorInvalidConfig)
		}

		out = append(out, uint8(v))
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("empty list %w", config.ErrorInvalidConfig)
	}

	return out, nil
}
