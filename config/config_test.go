package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "fulfillment.db", cfg.DBPath)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", ":memory:")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")

	cfg, err := Load([]string{"--port", "3000", "--db", "./x.db"})
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "./x.db", cfg.DBPath)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	_, err := Load([]string{"--port", "70000"})
	assert.Error(t, err)
}
