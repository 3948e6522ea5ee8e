package local

import (
	"context"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

type fakePlatform struct {
	temp *float64
	err  error
}

func (p fakePlatform) Name() string { return "fake" }
func (p fakePlatform) GPUTemperature(context.Context) (*float64, error) {
	return p.temp, p.err
}

func defs(ids ...string) []models.MetricDefinition {
	out := make([]models.MetricDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.MetricDefinition{ID: id, Address: address.Local()})
	}
	return out
}

func TestSupports(t *testing.T) {
	for _, id := range []string{
		"PhysicalMemoryTotal", "SwapUsed", "CpuUsage", "CpuKernelTime", "LoadAverageLastMinute",
		"Uptime", "ProcessCount", "NetworkBytesSent", "CpuTemperature", "DiskUsedPercent", "Hostname",
	} {
		assert.True(t, Supports(id), id)
	}
	assert.False(t, Supports("NoSuchMetric"))
	assert.Contains(t, MetricIDs(), "PhysicalMemoryFree")
}

func TestCollectMemory(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Started())

	props, err := s.Collect(context.Background(), defs("PhysicalMemoryTotal", "PhysicalMemoryUsedPercent", "ProcessCount"))
	require.NoError(t, err)
	require.Len(t, props, 3)

	assert.Equal(t, "PhysicalMemoryTotal", props[0].Name)
	assert.Equal(t, models.TypeLong, props[0].Type)
	assert.Greater(t, props[0].Value.(int64), int64(0))
	assert.Equal(t, models.TypeFloat, props[1].Type)
	assert.Equal(t, models.TypeInt, props[2].Type)
}

func TestCollectSkipsUnknownMetric(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))

	props, err := s.Collect(context.Background(), defs("PhysicalMemoryTotal", "NoSuchMetric"))
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "PhysicalMemoryTotal", props[0].Name)
}

func TestCollectFailsWhenNothingReadable(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	_, err := s.Collect(context.Background(), defs("NoSuchMetric", "Other"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "NoSuchMetric")
	assert.ErrorContains(t, err, "Other")
}

func TestCollectNoDefinitions(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	props, err := s.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestHostInfoRequiresStart(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	_, err := s.Collect(context.Background(), defs("Hostname"))
	assert.ErrorIs(t, err, errNotStarted)
}

func TestStopResetsBaselines(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	_, err := s.Collect(context.Background(), defs("CpuUsage", "NetworkBytesReceived"))
	require.NoError(t, err)
	assert.NotNil(t, s.prevCPU)
	assert.NotNil(t, s.prevNet)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Started())
	assert.Nil(t, s.prevCPU)
	assert.Nil(t, s.prevNet)
}

func TestCPUPercent(t *testing.T) {
	d := cpuTimes{User: 30, System: 10, Idle: 50, Iowait: 10}
	assert.InDelta(t, 30.0, cpuPercent("CpuUserTime", d), 1e-9)
	assert.InDelta(t, 10.0, cpuPercent("CpuKernelTime", d), 1e-9)
	assert.InDelta(t, 40.0, cpuPercent("CpuUsage", d), 1e-9)
	assert.Zero(t, cpuPercent("CpuUsage", cpuTimes{}))
}

func TestCPUTimesDelta(t *testing.T) {
	prev := cpuTimes{User: 100, Idle: 900}
	cur := cpuTimes{User: 150, Idle: 950}
	d := cur.sub(prev)
	assert.Equal(t, 100.0, d.total())
	assert.InDelta(t, 50.0, cpuPercent("CpuUserTime", d), 1e-9)
}

func TestMemoryProperty(t *testing.T) {
	m := memoryStat{Total: 100, Free: 40, Used: 60, UsedPercent: 60}
	assert.Equal(t, models.LongProperty("SwapTotal", 100), memoryProperty("SwapTotal", "Swap", m))
	assert.Equal(t, models.LongProperty("DiskFree", 40), memoryProperty("DiskFree", "Disk", m))
	assert.Equal(t, models.FloatProperty("PhysicalMemoryUsedPercent", 60), memoryProperty("PhysicalMemoryUsedPercent", "PhysicalMemory", m))
}

func TestCounterDelta(t *testing.T) {
	assert.Equal(t, uint64(10), counterDelta(110, 100))
	assert.Equal(t, uint64(5), counterDelta(5, 100))
}

func TestHottest(t *testing.T) {
	got := hottest([]host.TemperatureStat{
		{SensorKey: "coretemp_core_0_input", Temperature: 55},
		{SensorKey: "coretemp_core_1_input", Temperature: 61},
		{SensorKey: "amdgpu_edge_input", Temperature: 48},
		{SensorKey: "coretemp_bogus", Temperature: 400},
		{SensorKey: "nvme_composite", Temperature: 35},
	})
	require.NotNil(t, got.CPU)
	require.NotNil(t, got.GPU)
	assert.Equal(t, 61.0, *got.CPU)
	assert.Equal(t, 48.0, *got.GPU)

	assert.Nil(t, hottest(nil).CPU)
}

func TestPlatformGPUFallback(t *testing.T) {
	hot := 72.0
	s := &sample{ctx: context.Background(), src: New(fakePlatform{temp: &hot}, zaptest.NewLogger(t))}
	temp, err := s.platformGPUFallback()
	require.NoError(t, err)
	assert.Equal(t, 72.0, *temp)

	bogus := 900.0
	s = &sample{ctx: context.Background(), src: New(fakePlatform{temp: &bogus}, zaptest.NewLogger(t))}
	temp, err = s.platformGPUFallback()
	require.NoError(t, err)
	assert.Nil(t, temp)

	s = &sample{ctx: context.Background(), src: New(nil, zaptest.NewLogger(t))}
	temp, err = s.platformGPUFallback()
	require.NoError(t, err)
	assert.Nil(t, temp)
}

func TestFactoryRejectsRemoteAddress(t *testing.T) {
	f := Factory(nil)
	_, err := f(models.MetricSourceDefinition{Address: address.MustParse("jmx://h:1")}, zaptest.NewLogger(t))
	assert.Error(t, err)

	src, err := f(models.MetricSourceDefinition{Address: address.Local()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, address.Local(), src.Address())
}
