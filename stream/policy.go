package stream

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrorInvalidPolicy = errors.New("invalid quality policy")

type PolicyKind int

const (
	PolicyFirst PolicyKind = iota
	PolicyLast
	PolicyLowest
	PolicyHighest
	PolicyDefault
	PolicyExact
)

// DefaultPolicy selects like first without an explicit activation request.
var DefaultPolicy = Policy{kind: PolicyDefault}

// Policy picks one stream out of the candidates of a tile.
type Policy struct {
	kind    PolicyKind
	quality uint32
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "default":
		return Policy{kind: PolicyDefault}, nil
	case "first":
		return Policy{kind: PolicyFirst}, nil
	case "last":
		return Policy{kind: PolicyLast}, nil
	case "lowest":
		return Policy{kind: PolicyLowest}, nil
	case "highest":
		return Policy{kind: PolicyHighest}, nil
	}

	q, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Policy{}, fmt.Errorf("%q: %w", s, ErrorInvalidPolicy)
	}

	return Exact(uint32(q)), nil
}

func Exact(q uint32) Policy {
	return Policy{kind: PolicyExact, quality: q}
}

func (p Policy) Kind() PolicyKind {
	return p.kind
}

// Explicit is false for the default policy, which relies on the transport's
// own stream activation.
func (p Policy) Explicit() bool {
	return p.kind != PolicyDefault
}

func (p Policy) String() string {
	switch p.kind {
	case PolicyFirst:
		return "first"
	case PolicyLast:
		return "last"
	case PolicyLowest:
		return "lowest"
	case PolicyHighest:
		return "highest"
	case PolicyExact:
		return strconv.FormatUint(uint64(p.quality), 10)
	default:
		return "default"
	}
}

// Select applies the policy to entries given in discovery order.
func (p Policy) Select(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}

	switch p.kind {
	case PolicyFirst, PolicyDefault:
		return entries[0], true
	case PolicyLast:
		return entries[len(entries)-1], true
	case PolicyLowest:
		best := entries[0]

		for _, e := range entries[1:] {
			if e.Quality < best.Quality {
				best = e
			}
		}

		return best, true
	case PolicyHighest:
		best := entries[0]

		for _, e := range entries[1:] {
			if e.Quality > best.Quality {
				best = e
			}
		}

		return best, true
	case PolicyExact:
		for _, e := range entries {
			if e.Quality == p.quality {
				return e, true
			}
		}
	}

	return Entry{}, false
}
