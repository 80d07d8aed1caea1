package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParameters_NoFile(t *testing.T) {
	raw, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, DefaultParameters(), raw)
}

func TestLoadParameters_TOML(t *testing.T) {
	path := writeFile(t, "params.toml", `
max_active_positions = 8
profit_levels = [2.0, 4.0]
profit_percentages = [0.5, 1.0]
stale_order_threshold_seconds = 90
max_cancel_retries = 5
`)

	raw, err := LoadParameters(path)
	require.NoError(t, err)

	assert.Equal(t, 8, raw.MaxActivePositions)
	assert.Equal(t, []float64{2, 4}, raw.ProfitLevels)
	assert.Equal(t, []float64{0.5, 1.0}, raw.ProfitPercentages)
	assert.Equal(t, 90, raw.StaleOrderThresholdSeconds)
	assert.Equal(t, 5, raw.MaxCancelRetries)
	// Unset keys keep defaults.
	assert.Equal(t, DefaultParameters().MaxConcurrentCalls, raw.MaxConcurrentCalls)
}

func TestLoadParameters_YAML(t *testing.T) {
	path := writeFile(t, "params.yaml", `
max_active_positions: 3
profit_levels: [1, 2, 3]
profit_percentages: [0.1, 0.2, 0.3]
stale_order_threshold_seconds: 60
gateway_call_timeout_ms: 1500
`)

	raw, err := LoadParameters(path)
	require.NoError(t, err)

	assert.Equal(t, 3, raw.MaxActivePositions)
	assert.Equal(t, []float64{1, 2, 3}, raw.ProfitLevels)
	assert.Equal(t, 60, raw.StaleOrderThresholdSeconds)
	assert.Equal(t, 1500, raw.GatewayCallTimeoutMs)
}

func TestLoadParameters_UnknownKeysRejected(t *testing.T) {
	tomlPath := writeFile(t, "params.toml", "max_active_positons = 8\n")
	_, err := LoadParameters(tomlPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_active_positons")

	yamlPath := writeFile(t, "params.yml", "stale_threshold: 10\n")
	_, err = LoadParameters(yamlPath)
	require.Error(t, err)
}

func TestLoadParameters_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "params.json", "{}")
	_, err := LoadParameters(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported parameters file extension")
}

func TestLoadParameters_EnvOverrides(t *testing.T) {
	path := writeFile(t, "params.toml", "max_active_positions = 8\n")
	t.Setenv("RECONCILER_MAX_ACTIVE_POSITIONS", "12")
	t.Setenv("RECONCILER_PROFIT_LEVELS", "1, 2.5, 4")
	t.Setenv("RECONCILER_PROFIT_PERCENTAGES", "0.25,0.5,1")
	t.Setenv("RECONCILER_MAX_CANCEL_RETRIES", "6")

	raw, err := LoadParameters(path)
	require.NoError(t, err)

	assert.Equal(t, 12, raw.MaxActivePositions)
	assert.Equal(t, []float64{1, 2.5, 4}, raw.ProfitLevels)
	assert.Equal(t, []float64{0.25, 0.5, 1}, raw.ProfitPercentages)
	assert.Equal(t, 6, raw.MaxCancelRetries)

	_, err = Validate(raw)
	assert.NoError(t, err)
}

func TestLoadParameters_MalformedEnvOverride(t *testing.T) {
	t.Setenv("RECONCILER_STALE_ORDER_THRESHOLD_SECONDS", "two minutes")
	t.Setenv("RECONCILER_PROFIT_LEVELS", "1,x")

	_, err := LoadParameters("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECONCILER_STALE_ORDER_THRESHOLD_SECONDS")
	assert.Contains(t, err.Error(), "RECONCILER_PROFIT_LEVELS")
}
