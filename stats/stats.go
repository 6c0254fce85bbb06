package stats

import (
	"fmt"
	"strings"

	"pcstream/log"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Accumulator collects samples of one metric. It is owned by a single
// goroutine and read after that goroutine has stopped.
type Accumulator struct {
	name    string
	samples []float64
}

type Summary struct {
	Count   int
	Min     float64
	Max     float64
	Average float64
}

func NewAccumulator(name string) *Accumulator {
	return &Accumulator{name: name}
}

func (a *Accumulator) Name() string {
	return a.name
}

func (a *Accumulator) Add(v float64) {
	a.samples = append(a.samples, v)
}

func (a *Accumulator) Count() int {
	return len(a.samples)
}

func (a *Accumulator) Samples() []float64 {
	return a.samples
}

func (a *Accumulator) Summary() Summary {
	if len(a.samples) == 0 {
		return Summary{}
	}

	return Summary{
		Count:   len(a.samples),
		Min:     floats.Min(a.samples),
		Max:     floats.Max(a.samples),
		Average: stat.Mean(a.samples, nil),
	}
}

func (a *Accumulator) String() string {
	s := a.Summary()
	if s.Count == 0 {
		return fmt.Sprintf("%s: count=0", a.name)
	}

	return fmt.Sprintf("%s: count=%d, average=%.3f, min=%.3f, max=%.3f", a.name, s.Count, s.Average, s.Min, s.Max)
}

// Set is the ordered group of accumulators of one component.
type Set struct {
	prefix string
	order  []string
	accs   map[string]*Accumulator
}

func NewSet(prefix string, names ...string) *Set {
	s := &Set{
		prefix: prefix,
		accs:   make(map[string]*Accumulator),
	}

	for _, n := range names {
		s.Get(n)
	}

	return s
}

// Get returns the accumulator with the given name, creating it on first use.
func (s *Set) Get(name string) *Accumulator {
	if a, ok := s.accs[name]; ok {
		return a
	}

	a := NewAccumulator(name)
	s.accs[name] = a
	s.order = append(s.order, name)

	return a
}

func (s *Set) Add(name string, v float64) {
	s.Get(name).Add(v)
}

func (s *Set) Lines() []string {
	lines := make([]string, 0, len(s.order))

	for _, n := range s.order {
		line := s.accs[n].String()
		if s.prefix != "" {
			line = s.prefix + ": " + line
		}

		lines = append(lines, line)
	}

	return lines
}

func (s *Set) String() string {
	return strings.Join(s.Lines(), "\n")
}

// Report writes every metric through the logger, including empty ones.
func (s *Set) Report() {
	for _, l := range s.Lines() {
		log.Info(l)
	}
}

// FormatRate formats bytes per second, scaled to k or M above 10000.
func FormatRate(bytes int64, seconds float64) string {
	if seconds <= 0 {
		return "0 bytes/s"
	}

	rate := float64(bytes) / seconds
	unit := ""

	if rate > 10000 {
		rate /= 1000
		unit = "k"
	}

	if rate > 10000 {
		rate /= 1000
		unit = "M"
	}

	return fmt.Sprintf("%.0f %sbytes/s", rate, unit)
}
