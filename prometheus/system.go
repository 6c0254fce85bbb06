package plmxs

import (
	"runtime"
	"time"

	"pcstream/log"
	"pcstream/util/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"
)

const (
	nb1024 = 1024
	nb6    = 6
)

func (m *Monitor) system() {
	m.sys = timer.NewTicker(time.Minute/nb6, m.getSys, timer.OptionWithImmediate())
}

func (m *Monitor) getSys() {
	ms := &runtime.MemStats{}
	runtime.ReadMemStats(ms)

	labels := prometheus.Labels{"micro_name": m.ServiceName}

	m.MemoryUseGauge.With(labels).Set(float64(ms.Sys) / float64(nb1024*nb1024))

	if p, err := GetMemPercent(); err == nil {
		m.MemoryPercent.With(labels).Set(p)
	} else {
		log.Debug("mem percent", zap.Error(err))
	}

	if p, err := GetCPUPercent(); err == nil {
		m.CPUPercent.With(labels).Set(p)
	} else {
		log.Debug("cpu percent", zap.Error(err))
	}
}

// GetCPUPercent is the usage since the previous call, it never sleeps.
func GetCPUPercent() (float64, error) {
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}

	if len(percent) == 0 {
		return 0, nil
	}

	return percent[0], nil
}

func GetMemPercent() (float64, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}

	return memInfo.UsedPercent, nil
}
