package plmxs

import (
	"net/http"
	"strconv"

	"pcstream/log"
	"pcstream/util/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	readSuccess       = 200
	DefaultListenAddr = "0.0.0.0:6061"
)

// Monitor holds the pipeline metrics. A nil *Monitor is valid and records
// nothing.
type Monitor struct {
	ServiceName string

	reg *prometheus.Registry
	srv *http.Server
	sys timer.Ticker

	FramesCaptured *prometheus.CounterVec
	BuffersSent    *prometheus.CounterVec
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	DecodeFailures *prometheus.CounterVec
	DisplayDropped *prometheus.CounterVec
	ReceiverState  *prometheus.GaugeVec

	MemoryUseGauge *prometheus.GaugeVec
	MemoryPercent  *prometheus.GaugeVec
	CPUPercent     *prometheus.GaugeVec
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		ServiceName: namespace,
		reg:         prometheus.NewRegistry(),

		FramesCaptured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_captured_total",
				Help:      "Frames acquired by the capture loop.",
			},
			[]string{"micro_name"},
		),
		BuffersSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffers_sent_total",
				Help:      "Encoded buffers handed to the sink.",
			},
			[]string{"stream"},
		),
		BytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_sent_total",
				Help:      "Encoded bytes handed to the sink.",
			},
			[]string{"stream"},
		),
		BytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Encoded bytes pulled by receivers.",
			},
			[]string{"stream"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"stage", "stream"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Buffers that failed to decode.",
			},
			[]string{"stream"},
		),
		DisplayDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "display_dropped_total",
				Help:      "Frames dropped because the display queue was full.",
			},
			[]string{"micro_name"},
		),
		ReceiverState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "receiver_state",
				Help:      "0 idle, 1 running, 2 stopped.",
			},
			[]string{"stream"},
		),
		MemoryUseGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memory_use_gauge",
				Help: "Process memory in MB.",
			},
			[]string{"micro_name"},
		),
		MemoryPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memory_percent",
				Help: "Host memory usage percent.",
			},
			[]string{"micro_name"},
		),
		CPUPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cpu_percent",
				Help: "Host cpu usage percent.",
			},
			[]string{"micro_name"},
		),
	}

	m.reg.MustRegister(m.FramesCaptured, m.BuffersSent, m.BytesSent, m.BytesReceived,
		m.StageDuration, m.DecodeFailures, m.DisplayDropped, m.ReceiverState,
		m.MemoryUseGauge, m.MemoryPercent, m.CPUPercent)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.reg
}

// Serve exposes /metrics and /heart on addr and starts sampling the host.
func (m *Monitor) Serve(addr string) {
	if m == nil {
		return
	}

	if addr == "" {
		addr = DefaultListenAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/heart", http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(readSuccess)
	}))
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	m.srv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ListenAndServe", zap.String("data", err.Error()))
		}
	}()

	m.system()
}

func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	if m.sys != nil {
		m.sys.Stop()
	}

	if m.srv != nil {
		_ = m.srv.Close()
	}
}

func streamLabel(index int) string {
	if index < 0 {
		return "all"
	}

	return strconv.Itoa(index)
}

func (m *Monitor) IncCaptured() {
	if m == nil {
		return
	}

	m.FramesCaptured.With(prometheus.Labels{"micro_name": m.ServiceName}).Inc()
}

func (m *Monitor) AddSent(index, n int) {
	if m == nil {
		return
	}

	m.BuffersSent.With(prometheus.Labels{"stream": streamLabel(index)}).Inc()
	m.BytesSent.With(prometheus.Labels{"stream": streamLabel(index)}).Add(float64(n))
}

func (m *Monitor) AddReceived(index, n int) {
	if m == nil {
		return
	}

	m.BytesReceived.With(prometheus.Labels{"stream": streamLabel(index)}).Add(float64(n))
}

func (m *Monitor) ObserveStage(stage string, index int, seconds float64) {
	if m == nil {
		return
	}

	m.StageDuration.With(prometheus.Labels{"stage": stage, "stream": streamLabel(index)}).Observe(seconds)
}

func (m *Monitor) IncDecodeFailure(index int) {
	if m == nil {
		return
	}

	m.DecodeFailures.With(prometheus.Labels{"stream": streamLabel(index)}).Inc()
}

func (m *Monitor) IncDropped() {
	if m == nil {
		return
	}

	m.DisplayDropped.With(prometheus.Labels{"micro_name": m.ServiceName}).Inc()
}

func (m *Monitor) SetReceiverState(index int, state int) {
	if m == nil {
		return
	}

	m.ReceiverState.With(prometheus.Labels{"stream": streamLabel(index)}).Set(float64(state))
}
