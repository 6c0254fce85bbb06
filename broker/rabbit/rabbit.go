package rabbit

import (
	"errors"
	"fmt"
	"sync"

	"pcstream/broker"
	"pcstream/log"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	DefaultExchange     = "pcstream"
	DefaultExchangeType = "topic"
)

var ErrConnectIsNull = errors.New("connection is nil")

type rabbitBroker struct {
	opts         broker.Options
	exchangeType string

	mtx     sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	ChannelPrefetchCount  int
	ChannelPrefetchGlobal bool
	nackMultiple          bool
	nackRequeue           bool
}

type publication struct {
	d   amqp.Delivery
	m   *broker.Message
	t   string
	err error
}

func (r *rabbitBroker) Connect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	conn, err := amqp.Dial(r.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect amqp %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()

		return fmt.Errorf("failed to open channel %w", err)
	}

	if err := channel.ExchangeDeclare(r.opts.Exchange, r.exchangeType, true, false, false, false, nil); err != nil {
		conn.Close()

		return fmt.Errorf("failed to declare exchange %w", err)
	}

	r.conn = conn
	r.channel = channel

	return nil
}

func (r *rabbitBroker) Disconnect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}

	return nil
}

func (r *rabbitBroker) ch() (*amqp.Channel, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.conn == nil || r.channel == nil {
		return nil, ErrConnectIsNull
	}

	return r.channel, nil
}

// Publish routes the message on the topic exchange with topic as key.
func (r *rabbitBroker) Publish(topic string, msg *broker.Message) error {
	channel, err := r.ch()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Body:    msg.Body,
		Headers: amqp.Table{},
	}

	for k, v := range msg.Header {
		m.Headers[k] = v
	}

	if err := channel.Publish(r.opts.Exchange, topic, false, false, m); err != nil {
		return fmt.Errorf("failed to publish %w", err)
	}

	return nil
}

// Subscribe binds an exclusive queue to topic and consumes until the
// channel is closed.
func (r *rabbitBroker) Subscribe(topic string, handler *broker.Handler) error {
	channel, err := r.ch()
	if err != nil {
		return err
	}

	q, err := channel.QueueDeclare(r.opts.Queue, false, true, r.opts.Queue == "", false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %w", err)
	}

	if err := channel.QueueBind(q.Name, topic, r.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %w", err)
	}

	if r.ChannelPrefetchCount == 0 {
		r.ChannelPrefetchCount = 1
		r.ChannelPrefetchGlobal = true
	}

	if err := channel.Qos(r.ChannelPrefetchCount, 0, r.ChannelPrefetchGlobal); err != nil {
		return fmt.Errorf("failed to set qos %w", err)
	}

	msgList, err := channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %w", err)
	}

	h := *handler

	for msg := range msgList {
		header := make(map[string]string)
		for k, v := range msg.Headers {
			header[k], _ = v.(string)
		}

		p := &publication{
			d: msg,
			m: &broker.Message{
				Header: header,
				Body:   msg.Body,
			},
			t: msg.RoutingKey,
		}

		p.err = h(p)
		if p.err == nil {
			if err = msg.Ack(false); err != nil {
				log.Error("failed to ack", zap.Error(err))
			}
		} else {
			if err = msg.Nack(r.nackMultiple, r.nackRequeue); err != nil {
				log.Error("failed to nack", zap.Error(err))
			}
		}
	}

	return nil
}

func (r *rabbitBroker) Options() broker.Options {
	return r.opts
}

func (r *rabbitBroker) String() string {
	return "rabbit-broker"
}

func (p *publication) Topic() string {
	return p.t
}

func (p *publication) Message() *broker.Message {
	return p.m
}

func (p *publication) Ack() error {
	return p.d.Ack(false)
}

func (p *publication) Error() error {
	return p.err
}

func NewBroker(opts ...broker.Option) broker.Broker {
	b := &rabbitBroker{
		exchangeType: DefaultExchangeType,
	}

	for _, o := range opts {
		o(&b.opts)
	}

	if b.opts.Exchange == "" {
		b.opts.Exchange = DefaultExchange
	}

	return b
}
