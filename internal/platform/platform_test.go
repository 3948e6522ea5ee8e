package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubCommand(t *testing.T, out string, err error) {
	t.Helper()
	orig := runCommand
	runCommand = func(context.Context, string, ...string) ([]byte, error) {
		return []byte(out), err
	}
	t.Cleanup(func() { runCommand = orig })
}

func TestNvidiaSMITemperature(t *testing.T) {
	stubCommand(t, "61\n58\n", nil)
	temp, err := nvidiaSMITemperature(context.Background())
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.Equal(t, 61.0, *temp)
}

func TestNvidiaSMIMissing(t *testing.T) {
	stubCommand(t, "", errors.New("executable file not found in $PATH"))
	temp, err := nvidiaSMITemperature(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, temp)
}

func TestNvidiaSMIGarbage(t *testing.T) {
	stubCommand(t, "[N/A]", nil)
	temp, err := nvidiaSMITemperature(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, temp)
}

func TestNew(t *testing.T) {
	assert.NotEmpty(t, New().Name())
}
