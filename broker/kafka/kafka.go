package kafka

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"pcstream/broker"
	"pcstream/log"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"go.uber.org/zap"
)

const DefaultGroupID = "pcstream"

type publication struct {
	m   *broker.Message
	t   string
	err error
}

type kafkaBroker struct {
	opts broker.Options
	p    sarama.SyncProducer

	mtx       sync.Mutex
	consumers []*cluster.Consumer
}

func (s *kafkaBroker) addrs() []string {
	return strings.Split(s.opts.Addr, ",")
}

func (s *kafkaBroker) Connect() error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Timeout = s.opts.Timeout

	p, err := sarama.NewSyncProducer(s.addrs(), config)
	if err != nil {
		return fmt.Errorf("failed to connect kafka %w", err)
	}

	s.p = p

	return nil
}

func (s *kafkaBroker) Disconnect() error {
	s.mtx.Lock()
	for _, c := range s.consumers {
		c.Close()
	}

	s.consumers = nil
	s.mtx.Unlock()

	if s.p != nil {
		if err := s.p.Close(); err != nil {
			return fmt.Errorf("failed to close producer %w", err)
		}
	}

	return nil
}

func (s *kafkaBroker) Publish(topic string, m *broker.Message) error {
	if s.p == nil {
		return broker.ErrorNotConnected
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(m.Body),
	}

	for k, v := range m.Header {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish %w", err)
	}

	return nil
}

// Subscribe consumes topic (comma separated for several) from the newest
// offset until Disconnect.
func (s *kafkaBroker) Subscribe(topic string, h *broker.Handler) error {
	config := cluster.NewConfig()
	config.Version = sarama.V0_11_0_0
	config.Group.Return.Notifications = true
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.CommitInterval = 1 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	c, err := cluster.NewConsumer(s.addrs(), s.opts.GroupID, strings.Split(topic, ","), config)
	if err != nil {
		return fmt.Errorf("failed to subscribe %w", err)
	}

	s.mtx.Lock()
	s.consumers = append(s.consumers, c)
	s.mtx.Unlock()

	go func(c *cluster.Consumer) {
		errors := c.Errors()
		noti := c.Notifications()

		for {
			select {
			case err, ok := <-errors:
				if !ok {
					return
				}

				log.Error("kafka consumer error", zap.Error(err))

			case n, ok := <-noti:
				if !ok {
					return
				}

				log.Debug("kafka rebalance", zap.Any("current", n.Current))
			}
		}
	}(c)

	hand := *h

	for msg := range c.Messages() {
		header := make(map[string]string, len(msg.Headers))
		for _, rh := range msg.Headers {
			header[string(rh.Key)] = string(rh.Value)
		}

		push := &publication{
			m: &broker.Message{
				Header: header,
				Body:   msg.Value,
			},
			t: msg.Topic,
		}

		if push.err = hand(push); push.err != nil {
			log.Warn("kafka handler failed", zap.String("topic", msg.Topic), zap.Error(push.err))
		}

		c.MarkOffset(msg, "")
	}

	return nil
}

func (s *kafkaBroker) Options() broker.Options {
	return s.opts
}

func (s *kafkaBroker) String() string {
	return "kafka-broker"
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

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &kafkaBroker{}

	for _, o := range opts {
		o(&b.opts)
	}

	if b.opts.GroupID == "" {
		b.opts.GroupID = DefaultGroupID
	}

	if b.opts.Timeout == 0 {
		b.opts.Timeout = broker.DefaultTimeout
	}

	return b
}
