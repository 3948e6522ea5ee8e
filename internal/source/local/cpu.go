package local

import (
	"errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/Guliveer/databot/internal/models"
)

type cpuTimes struct {
	User, Nice, System, Idle, Iowait, Irq, Softirq, Steal float64
}

func (t cpuTimes) total() float64 {
	return t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
}

func (t cpuTimes) sub(o cpuTimes) cpuTimes {
	return cpuTimes{
		User:    t.User - o.User,
		Nice:    t.Nice - o.Nice,
		System:  t.System - o.System,
		Idle:    t.Idle - o.Idle,
		Iowait:  t.Iowait - o.Iowait,
		Irq:     t.Irq - o.Irq,
		Softirq: t.Softirq - o.Softirq,
		Steal:   t.Steal - o.Steal,
	}
}

type loadStat struct {
	Load1, Load5, Load15 float64
}

var errNoCPUTimes = errors.New("no cpu times reported")

func init() {
	register(readCPU,
		"CpuUserTime", "CpuNiceTime", "CpuKernelTime", "CpuIdleTime", "CpuIoWaitTime",
		"CpuHardwareInterruptTime", "CpuSoftwareInterruptTime", "CpuStolenTime", "CpuUsage")
	register(readLoad, "LoadAverageLastMinute", "LoadAverageLastFiveMinutes", "LoadAverageLastFifteenMinutes")
}

// readCPU reports the share of CPU time, in percent, spent in each state
// since the previous sample. The first sample covers the time since boot.
func readCPU(s *sample, id string) (models.Property, error) {
	cur, err := s.cpu.get(func() (cpuTimes, error) {
		stats, err := cpu.TimesWithContext(s.ctx, false)
		if err != nil {
			return cpuTimes{}, err
		}
		if len(stats) == 0 {
			return cpuTimes{}, errNoCPUTimes
		}
		t := stats[0]
		return cpuTimes{
			User: t.User, Nice: t.Nice, System: t.System, Idle: t.Idle,
			Iowait: t.Iowait, Irq: t.Irq, Softirq: t.Softirq, Steal: t.Steal,
		}, nil
	})
	if err != nil {
		return models.Property{}, err
	}

	delta := cur
	if prev := s.src.prevCPU; prev != nil {
		delta = cur.sub(*prev)
	}
	return models.FloatProperty(id, cpuPercent(id, delta)), nil
}

func cpuPercent(id string, d cpuTimes) float64 {
	total := d.total()
	if total <= 0 {
		return 0
	}
	var v float64
	switch id {
	case "CpuUserTime":
		v = d.User
	case "CpuNiceTime":
		v = d.Nice
	case "CpuKernelTime":
		v = d.System
	case "CpuIdleTime":
		v = d.Idle
	case "CpuIoWaitTime":
		v = d.Iowait
	case "CpuHardwareInterruptTime":
		v = d.Irq
	case "CpuSoftwareInterruptTime":
		v = d.Softirq
	case "CpuStolenTime":
		v = d.Steal
	case "CpuUsage":
		v = total - d.Idle - d.Iowait
	}
	return 100 * v / total
}

func readLoad(s *sample, id string) (models.Property, error) {
	l, err := s.load.get(func() (loadStat, error) {
		a, err := load.AvgWithContext(s.ctx)
		if err != nil {
			return loadStat{}, err
		}
		return loadStat{Load1: a.Load1, Load5: a.Load5, Load15: a.Load15}, nil
	})
	if err != nil {
		return models.Property{}, err
	}
	switch id {
	case "LoadAverageLastMinute":
		return models.FloatProperty(id, l.Load1), nil
	case "LoadAverageLastFiveMinutes":
		return models.FloatProperty(id, l.Load5), nil
	default:
		return models.FloatProperty(id, l.Load15), nil
	}
}
