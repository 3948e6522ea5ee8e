package source_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
	"github.com/Guliveer/databot/internal/source"
	"github.com/Guliveer/databot/internal/source/sourcetest"
)

func defs(literals ...string) []models.MetricSourceDefinition {
	out := make([]models.MetricSourceDefinition, 0, len(literals))
	for i, l := range literals {
		a := address.MustParse(l)
		st, _ := models.SourceTypeForProtocol(a.Protocol)
		out = append(out, models.MetricSourceDefinition{Name: string(rune('a' + i)), Type: st, Address: a})
	}
	return out
}

func fakeFactories(fakes ...*sourcetest.Fake) map[models.SourceType]source.Factory {
	f := sourcetest.Factory(fakes...)
	return map[models.SourceType]source.Factory{
		models.SourceTypeLocal: f,
		models.SourceTypeJMX:   f,
		models.SourceTypeJBoss: f,
	}
}

func TestRegistryKeepsDefinitionOrder(t *testing.T) {
	r, err := source.NewRegistry(defs("jmx://b:1", "local", "jboss://a:2"), fakeFactories(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []address.Address{
		address.MustParse("jmx://b:1"), address.Local(), address.MustParse("jboss://a:2"),
	}, r.Addresses())

	h, ok := r.Get(address.Local())
	require.True(t, ok)
	assert.Equal(t, address.Local(), h.Address())

	_, ok = r.Get(address.MustParse("jmx://missing:1"))
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateAddress(t *testing.T) {
	d := defs("local", "local")
	_, err := source.NewRegistry(d, fakeFactories(), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	d := []models.MetricSourceDefinition{{Name: "x", Type: "snmp", Address: address.MustParse("snmp://h:161")}}
	_, err := source.NewRegistry(d, fakeFactories(), zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unsupported source type")
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("bad definition")
	factories := map[models.SourceType]source.Factory{
		models.SourceTypeLocal: func(models.MetricSourceDefinition, *zap.Logger) (source.Source, error) {
			return nil, boom
		},
	}
	_, err := source.NewRegistry(defs("local"), factories, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, boom)
}

func TestStartAllToleratesFailures(t *testing.T) {
	ok := sourcetest.New(address.Local())
	bad := sourcetest.New(address.MustParse("jmx://h:1")).FailStart(errors.New("refused"))

	r, err := source.NewRegistry(defs("local", "jmx://h:1"), fakeFactories(ok, bad), zaptest.NewLogger(t))
	require.NoError(t, err)

	r.StartAll(context.Background())
	assert.True(t, ok.Started())
	assert.False(t, bad.Started())

	require.NoError(t, r.StopAll(context.Background()))
	assert.Equal(t, 1, ok.Stops())
	assert.Zero(t, bad.Stops())
}

func TestHandleStartIsIdempotent(t *testing.T) {
	f := sourcetest.New(address.Local())
	h := source.NewHandle(f)

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, 1, f.Starts())
	assert.True(t, h.Started())
	assert.Same(t, f, h.Unwrap())
}

func TestHandleSerializesCalls(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	f := sourcetest.New(address.Local()).OnCollect(func([]models.MetricDefinition) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	})
	h := source.NewHandle(f)
	require.NoError(t, h.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Collect(context.Background(), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 8, f.Collects())
}
