package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneBaseline(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 32, cfg.NumInitChildren)
	assert.Equal(t, "streaming", cfg.ReplicationMode)
	assert.Equal(t, 3, cfg.HealthCheckMaxRetries)
	assert.GreaterOrEqual(t, cfg.RequestQueueSize, 10)
}

func TestBindFlagsParsesShortForms(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"-f", "/etc/sentrypool.yaml", "-n", "-D", "-d"}))

	assert.Equal(t, "/etc/sentrypool.yaml", cfg.ConfigFile)
	assert.True(t, cfg.DontDetach)
	assert.True(t, cfg.DiscardStatus)
	assert.True(t, cfg.Debug)
}

func TestDumpProducesParseableYAML(t *testing.T) {
	cfg := Default()

	out, err := cfg.Dump()

	require.NoError(t, err)
	assert.Contains(t, out, "num_init_children")
}
