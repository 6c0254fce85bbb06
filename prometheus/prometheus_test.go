package plmxs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMonitor(t *testing.T) {
	var m *Monitor

	m.IncCaptured()
	m.AddSent(0, 10)
	m.ObserveStage("encode", 0, 0.1)
	m.IncDropped()
	m.Stop()
}

func TestMonitorCounts(t *testing.T) {
	m := NewMonitor("pctest")

	m.AddSent(1, 100)
	m.AddSent(1, 50)
	m.IncCaptured()
	m.IncDropped()
	m.IncDropped()

	require.Equal(t, 150.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("1")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.BuffersSent.WithLabelValues("1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.FramesCaptured.WithLabelValues("pctest")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.DisplayDropped.WithLabelValues("pctest")))
}
