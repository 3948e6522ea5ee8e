package local

import (
	"errors"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/models"
)

// Sensor name substrings used to identify CPU temperature sensors across platforms.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

// Sensor name substrings used to identify GPU temperature sensors across platforms.
// Linux:  amdgpu_edge_input, nouveau_temp1_input
// macOS:  TG0P (GPU proximity), TG0D (GPU die)
var gpuSensorKeys = []string{
	"gpu", "nvidia", "amd", "radeon",
	"tg0p", "tg0d",
	"amdgpu", "nouveau",
}

// Readings outside (minValidTemp, maxValidTemp] °C are treated as sensor errors.
const (
	minValidTemp = 0.0
	maxValidTemp = 150.0
)

var errNoSensor = errors.New("no matching temperature sensor")

// temperatures holds the hottest valid CPU and GPU readings, nil when absent.
type temperatures struct {
	CPU *float64
	GPU *float64
}

func init() {
	register(readTemperature, "CpuTemperature", "GpuTemperature")
}

func readTemperature(s *sample, id string) (models.Property, error) {
	t, _ := s.temps.get(func() (temperatures, error) {
		stats, err := host.SensorsTemperaturesWithContext(s.ctx)
		if err != nil {
			// may still hold partial readings, and the GPU has a fallback
			s.src.logger.Debug("Temperature sensors not fully available", zap.Error(err))
		}
		return hottest(stats), nil
	})

	switch id {
	case "CpuTemperature":
		if t.CPU == nil {
			return models.Property{}, errNoSensor
		}
		return models.FloatProperty(id, *t.CPU), nil
	default:
		if t.GPU != nil {
			return models.FloatProperty(id, *t.GPU), nil
		}
		gpu, err := s.gpuTemp.get(s.platformGPUFallback)
		if err != nil {
			return models.Property{}, err
		}
		if gpu == nil {
			return models.Property{}, errNoSensor
		}
		return models.FloatProperty(id, *gpu), nil
	}
}

// hottest returns the maximum valid reading per category.
func hottest(stats []host.TemperatureStat) temperatures {
	var out temperatures
	for _, st := range stats {
		if !isValidTemperature(st.Temperature) {
			continue
		}
		name := strings.ToLower(st.SensorKey)
		v := st.Temperature
		if matchesSensor(name, cpuSensorKeys) && (out.CPU == nil || v > *out.CPU) {
			out.CPU = &v
		}
		if matchesSensor(name, gpuSensorKeys) && (out.GPU == nil || v > *out.GPU) {
			g := v
			out.GPU = &g
		}
	}
	return out
}

func (s *sample) platformGPUFallback() (*float64, error) {
	if s.src.platform == nil {
		return nil, nil
	}
	temp, err := s.src.platform.GPUTemperature(s.ctx)
	if err != nil || temp == nil {
		return nil, err
	}
	if !isValidTemperature(*temp) {
		s.src.logger.Debug("Platform GPU temperature out of valid range", zap.Float64("temp_c", *temp))
		return nil, nil
	}
	return temp, nil
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
