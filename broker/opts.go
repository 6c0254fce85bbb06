package broker

import "time"

const (
	DefaultTopicPrefix = "pcstream"
	DefaultTimeout     = 5 * time.Second
)

type Options struct {
	Name     string
	Addr     string
	Password string

	// rabbit
	Exchange string
	Queue    string

	// kafka
	GroupID string
	Timeout time.Duration
}

type Option func(*Options)

func OptionWithName(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

func OptionWithAddr(a string) Option {
	return func(o *Options) {
		o.Addr = a
	}
}

func OptionWithPassword(p string) Option {
	return func(o *Options) {
		o.Password = p
	}
}

func OptionWithExchange(e string) Option {
	return func(o *Options) {
		o.Exchange = e
	}
}

func OptionWithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

func OptionWithGroupID(g string) Option {
	return func(o *Options) {
		o.GroupID = g
	}
}

func OptionWithTimeout(t time.Duration) Option {
	return func(o *Options) {
		o.Timeout = t
	}
}
