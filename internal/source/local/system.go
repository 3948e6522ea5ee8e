package local

import (
	"errors"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Guliveer/databot/internal/models"
)

type netCounters struct {
	Recv, Sent uint64
}

var errNotStarted = errors.New("host information not available, source not started")

func init() {
	register(readUptime, "Uptime")
	register(readProcessCount, "ProcessCount")
	register(readNetwork, "NetworkBytesReceived", "NetworkBytesSent")
	register(readHostInfo, "Hostname", "OSName", "OSVersion", "KernelVersion")
}

func readUptime(s *sample, id string) (models.Property, error) {
	up, err := s.uptime.get(func() (uint64, error) {
		return host.UptimeWithContext(s.ctx)
	})
	if err != nil {
		return models.Property{}, err
	}
	return models.LongProperty(id, int64(up)), nil
}

func readProcessCount(s *sample, id string) (models.Property, error) {
	n, err := s.procs.get(func() (int, error) {
		pids, err := process.PidsWithContext(s.ctx)
		return len(pids), err
	})
	if err != nil {
		return models.Property{}, err
	}
	return models.IntProperty(id, n), nil
}

// readNetwork reports bytes transferred on all interfaces since the previous
// sample. The first sample establishes the baseline and reports zero.
func readNetwork(s *sample, id string) (models.Property, error) {
	cur, err := s.net.get(func() (netCounters, error) {
		counters, err := net.IOCountersWithContext(s.ctx, false)
		if err != nil {
			return netCounters{}, err
		}
		if len(counters) == 0 {
			return netCounters{}, nil
		}
		return netCounters{Recv: counters[0].BytesRecv, Sent: counters[0].BytesSent}, nil
	})
	if err != nil {
		return models.Property{}, err
	}

	var delta netCounters
	if prev := s.src.prevNet; prev != nil {
		delta = netCounters{Recv: counterDelta(cur.Recv, prev.Recv), Sent: counterDelta(cur.Sent, prev.Sent)}
	}
	if id == "NetworkBytesReceived" {
		return models.LongProperty(id, int64(delta.Recv)), nil
	}
	return models.LongProperty(id, int64(delta.Sent)), nil
}

// counterDelta tolerates counter resets.
func counterDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func readHostInfo(s *sample, id string) (models.Property, error) {
	info := s.src.info
	if info == nil {
		return models.Property{}, errNotStarted
	}
	switch id {
	case "Hostname":
		return models.StringProperty(id, info.Hostname), nil
	case "OSName":
		return models.StringProperty(id, info.Platform), nil
	case "OSVersion":
		return models.StringProperty(id, info.PlatformVersion), nil
	default:
		return models.StringProperty(id, info.KernelVersion), nil
	}
}
