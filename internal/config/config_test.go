package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		original, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			}
		})
	}
}

func TestLoad_DefaultsToDevelopment(t *testing.T) {
	clearEnv(t, "CORE_ENV")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Development, cfg.Env)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	os.Setenv("CORE_ENV", "bogus")
	defer os.Unsetenv("CORE_ENV")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_RequiresSecretsInProduction(t *testing.T) {
	cfg := &Config{
		Env:         Production,
		GatewayPort: 8080, UnifiedPort: 8081, AdminPort: 8082, MetricsPort: 9090,
	}
	err := cfg.Validate()
	assert.Error(t, err)

	cfg.DatabaseURL = "postgres://localhost/core"
	cfg.AccessKeySecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangePorts(t *testing.T) {
	cfg := &Config{Env: Development, GatewayPort: 80, UnifiedPort: 8081, AdminPort: 8082, MetricsPort: 9090}
	assert.Error(t, cfg.Validate())
}
