package remote

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/databot/internal/models"
)

func TestProperty(t *testing.T) {
	tests := []struct {
		raw  string
		want models.Property
	}{
		{`42`, models.LongProperty("m", 42)},
		{`-7`, models.LongProperty("m", -7)},
		{`0.5`, models.FloatProperty("m", 0.5)},
		{`1e3`, models.FloatProperty("m", 1000)},
		{`true`, models.BoolProperty("m", true)},
		{`"RUNNING"`, models.StringProperty("m", "RUNNING")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Property("m", json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPropertyRejects(t *testing.T) {
	_, err := Property("m", json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNullValue)

	_, err = Property("m", nil)
	assert.ErrorIs(t, err, ErrNullValue)

	_, err = Property("m", json.RawMessage(`{"used":1}`))
	assert.ErrorContains(t, err, "composite")

	_, err = Property("m", json.RawMessage(`NaN`))
	assert.Error(t, err)
}
