// Package json frames registered message types as a typed JSON envelope:
// {"type":"Name","body":{...}}.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrorNoPointer     = errors.New("json message pointer required")
	ErrorNoName        = errors.New("unnamed json message")
	ErrorDuplicate     = errors.New("message already registered")
	ErrorNotRegister   = errors.New("message not registered")
	ErrorEmptyEnvelope = errors.New("json envelope without type")
)

type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

type Processor struct {
	mtx    sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func NewCodec() *Processor {
	return &Processor{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register names msg after its type.
func (p *Processor) Register(msg interface{}) error {
	t := reflect.TypeOf(msg)
	if t == nil || t.Kind() != reflect.Ptr {
		return ErrorNoPointer
	}

	return p.RegisterAs(t.Elem().Name(), msg)
}

// RegisterAs puts msg on the wire as name.
func (p *Processor) RegisterAs(name string, msg interface{}) error {
	t := reflect.TypeOf(msg)
	if t == nil || t.Kind() != reflect.Ptr {
		return ErrorNoPointer
	}

	if name == "" {
		return ErrorNoName
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.byName[name]; ok {
		return fmt.Errorf("%s %w", name, ErrorDuplicate)
	}

	if _, ok := p.byType[t]; ok {
		return fmt.Errorf("%s %w", t, ErrorDuplicate)
	}

	p.byName[name] = t.Elem()
	p.byType[t] = name

	return nil
}

func (p *Processor) String() string {
	return "json"
}

func (p *Processor) Unmarshal(data []byte) (interface{}, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope %w", err)
	}

	if e.Type == "" {
		return nil, ErrorEmptyEnvelope
	}

	p.mtx.RLock()
	t, ok := p.byName[e.Type]
	p.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s %w", e.Type, ErrorNotRegister)
	}

	msg := reflect.New(t).Interface()

	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s %w", e.Type, err)
		}
	}

	return msg, nil
}

func (p *Processor) Marshal(msg interface{}) ([]byte, error) {
	t := reflect.TypeOf(msg)
	if t == nil || t.Kind() != reflect.Ptr {
		return nil, ErrorNoPointer
	}

	p.mtx.RLock()
	name, ok := p.byType[t]
	p.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s %w", t, ErrorNotRegister)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s %w", name, err)
	}

	data, err := json.Marshal(envelope{Type: name, Body: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %w", err)
	}

	return data, nil
}
