package event

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestAddSourceReadingKeepsInsertionOrder(t *testing.T) {
	ev := New()
	jmx := address.MustParse("jmx://app:9999")
	local := address.Local()

	ev.AddSourceReading(jmx, []models.Property{models.LongProperty("HeapUsed", 10)})
	ev.AddSourceReading(local, []models.Property{
		models.LongProperty("PhysicalMemoryTotal", 1024),
		models.FloatProperty("CpuUsage", 12.5),
	})

	assert.Equal(t, []address.Address{jmx, local}, ev.SourceAddresses())
	assert.Len(t, ev.PropertiesFor(local), 2)
	assert.Equal(t, 3, ev.AllPropertiesCount())
	assert.NotEmpty(t, ev.ID())
}

func TestAddSourceReadingNilIsEmpty(t *testing.T) {
	ev := New()
	a := address.MustParse("jboss://admin@srv:9990")
	ev.AddSourceReading(a, nil)

	assert.Equal(t, []address.Address{a}, ev.SourceAddresses())
	props := ev.PropertiesFor(a)
	assert.NotNil(t, props)
	assert.Empty(t, props)
	assert.Zero(t, ev.AllPropertiesCount())
}

func TestPropertiesForUnknownAddress(t *testing.T) {
	ev := New()
	props := ev.PropertiesFor(address.Local())
	assert.NotNil(t, props)
	assert.Empty(t, props)
}

func TestCollectionTimestamps(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(150 * time.Millisecond)
	ev := newWithClock(fixedClock(t0, t1))

	assert.Equal(t, t0, ev.CollectionStart())
	assert.Equal(t, t0, ev.CollectionEnd())

	ev.AddSourceReading(address.Local(), nil)
	assert.Equal(t, t0, ev.Time())
	assert.Equal(t, t1, ev.CollectionEnd())
	assert.Equal(t, 150*time.Millisecond, ev.Duration())
}

func TestSourceAddressesReturnsCopy(t *testing.T) {
	ev := New()
	ev.AddSourceReading(address.Local(), nil)
	addrs := ev.SourceAddresses()
	addrs[0] = address.MustParse("jmx://other:1")
	assert.Equal(t, address.Local(), ev.SourceAddresses()[0])
}

func TestDescribe(t *testing.T) {
	ev := New()
	ev.AddSourceReading(address.Local(), []models.Property{
		models.LongProperty("PhysicalMemoryTotal", 1024),
		models.IntProperty("ProcessCount", 3),
	})
	assert.Equal(t,
		"  0: local/PhysicalMemoryTotal(long): 1024\n  1: local/ProcessCount(int): 3",
		ev.Describe())
}

func TestSortedLiterals(t *testing.T) {
	ev := New()
	ev.AddSourceReading(address.Local(), nil)
	ev.AddSourceReading(address.MustParse("jmx://b:1"), nil)
	ev.AddSourceReading(address.MustParse("jboss://a:2"), nil)
	assert.Equal(t, []string{"jboss://a:2", "jmx://b:1", "local"}, ev.SortedLiterals())
}

func TestMarshalJSON(t *testing.T) {
	ev := New()
	ev.AddSourceReading(address.Local(), []models.Property{models.BoolProperty("Up", true)})
	ev.AddSourceReading(address.MustParse("jmx://app:9999"), nil)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded struct {
		ID      string `json:"id"`
		Sources []struct {
			Address    string `json:"address"`
			Properties []struct {
				Name  string `json:"name"`
				Type  string `json:"type"`
				Value any    `json:"value"`
			} `json:"properties"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ev.ID(), decoded.ID)
	require.Len(t, decoded.Sources, 2)
	assert.Equal(t, "local", decoded.Sources[0].Address)
	require.Len(t, decoded.Sources[0].Properties, 1)
	assert.Equal(t, "boolean", decoded.Sources[0].Properties[0].Type)
	assert.Equal(t, true, decoded.Sources[0].Properties[0].Value)
	assert.Equal(t, "jmx://app:9999", decoded.Sources[1].Address)
	assert.Empty(t, decoded.Sources[1].Properties)
}
