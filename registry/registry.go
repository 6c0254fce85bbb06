package registry

import (
	"errors"
	"sort"

	"pcstream/stream"
)

const (
	WildcardDomain = "*"
	DefaultDomain  = "pcstream"

	MetadataStreams   = "streams"
	MetadataTransport = "transport"
)

var ErrorNotFound = errors.New("no matching service")

type Registry interface {
	Init() error
	Register(*Service, ...RegisterOption) error
	DeRegister(*Service, ...DeregisterOption) error
	ListServices(...ListOption) ([]*Service, error)
	Watch(...WatchOption) error
	Options() Options
	Release() error
	String() string
}

// Service is one advertised endpoint. Metadata carries the stream registry
// text form and the transport kind.
type Service struct {
	ID       string            `json:"id"`
	Addr     string            `json:"addr"`
	Version  string            `json:"version"`
	Metadata map[string]string `json:"metadata"`
}

func NewService(id, addr, transport string, r stream.Registry) *Service {
	return &Service{
		ID:   id,
		Addr: addr,
		Metadata: map[string]string{
			MetadataStreams:   r.String(),
			MetadataTransport: transport,
		},
	}
}

func (s *Service) Transport() string {
	return s.Metadata[MetadataTransport]
}

func (s *Service) Streams() (stream.Registry, error) {
	return stream.ParseRegistry(s.Metadata[MetadataStreams])
}

type Result struct {
	Action  string
	Service *Service
}

type EventType int

const (
	Create EventType = iota
	Delete
	Update
)

type Event struct {
	Type    EventType
	Service *Service
}

type serviceList []*Service

func (sl serviceList) Contain(s *Service) bool {
	for _, v := range sl {
		if v.ID == s.ID && v.Addr == s.Addr {
			return true
		}
	}

	return false
}

// Diff returns Create events for services only in cur and Delete events for
// services only in old.
func Diff(old, cur []*Service) []*Event {
	var events []*Event

	for _, v := range cur {
		if !serviceList(old).Contain(v) {
			events = append(events, &Event{Type: Create, Service: v})
		}
	}

	for _, v := range old {
		if !serviceList(cur).Contain(v) {
			events = append(events, &Event{Type: Delete, Service: v})
		}
	}

	return events
}

// Resolve returns the service of domain with the lowest ID that offers
// transport. An empty transport matches any.
func Resolve(r Registry, domain, transport string) (*Service, error) {
	svrs, err := r.ListServices(ListOptionWithDomain(domain))
	if err != nil {
		return nil, err
	}

	sort.Slice(svrs, func(i, j int) bool { return svrs[i].ID < svrs[j].ID })

	for _, s := range svrs {
		if transport == "" || s.Transport() == transport {
			return s, nil
		}
	}

	return nil, ErrorNotFound
}
