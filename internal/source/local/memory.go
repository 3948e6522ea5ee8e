package local

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Guliveer/databot/internal/models"
)

type memoryStat struct {
	Total       uint64
	Free        uint64
	Used        uint64
	UsedPercent float64
}

func init() {
	register(readMemory, "PhysicalMemoryTotal", "PhysicalMemoryFree", "PhysicalMemoryUsed", "PhysicalMemoryUsedPercent")
	register(readSwap, "SwapTotal", "SwapFree", "SwapUsed", "SwapUsedPercent")
	register(readDisk, "DiskTotal", "DiskFree", "DiskUsed", "DiskUsedPercent")
}

func readMemory(s *sample, id string) (models.Property, error) {
	m, err := s.memory.get(func() (memoryStat, error) {
		v, err := mem.VirtualMemoryWithContext(s.ctx)
		if err != nil {
			return memoryStat{}, err
		}
		return memoryStat{Total: v.Total, Free: v.Available, Used: v.Used, UsedPercent: v.UsedPercent}, nil
	})
	if err != nil {
		return models.Property{}, err
	}
	return memoryProperty(id, "PhysicalMemory", m), nil
}

func readSwap(s *sample, id string) (models.Property, error) {
	m, err := s.swap.get(func() (memoryStat, error) {
		v, err := mem.SwapMemoryWithContext(s.ctx)
		if err != nil {
			return memoryStat{}, err
		}
		return memoryStat{Total: v.Total, Free: v.Free, Used: v.Used, UsedPercent: v.UsedPercent}, nil
	})
	if err != nil {
		return models.Property{}, err
	}
	return memoryProperty(id, "Swap", m), nil
}

// readDisk reports usage of the filesystem holding the OS root.
func readDisk(s *sample, id string) (models.Property, error) {
	m, err := s.disk.get(func() (memoryStat, error) {
		u, err := disk.UsageWithContext(s.ctx, rootPath())
		if err != nil {
			return memoryStat{}, err
		}
		return memoryStat{Total: u.Total, Free: u.Free, Used: u.Used, UsedPercent: u.UsedPercent}, nil
	})
	if err != nil {
		return models.Property{}, err
	}
	return memoryProperty(id, "Disk", m), nil
}

func memoryProperty(id, prefix string, m memoryStat) models.Property {
	switch id[len(prefix):] {
	case "Total":
		return models.LongProperty(id, int64(m.Total))
	case "Free":
		return models.LongProperty(id, int64(m.Free))
	case "Used":
		return models.LongProperty(id, int64(m.Used))
	default:
		return models.FloatProperty(id, m.UsedPercent)
	}
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}
