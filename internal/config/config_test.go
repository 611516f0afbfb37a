package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
)

const sampleTOML = `
[supervisor]
monitor_interval = "2s"
restart_limit = 3
stability_window = "60s"

[server]
listen = "127.0.0.1:9000"
metrics = true

[store]
dsn = "sqlite://launchpad.db"

[log]
level = "debug"
dir = "/tmp/launchpad-logs"

[[services]]
id = "redis"
label = "Redis (docker)"
command = "docker"
args = ["start", "-a", "dev-redis"]
autorestart = true
ready_address = "127.0.0.1:6379"
ready_timeout = "15s"

[[services]]
id = "backend"
command = "daphne"
args = ["app.asgi:application"]
workdir = "/srv/backend"
env = ["DJANGO_SETTINGS_MODULE=app.settings.dev"]
depends_on = ["redis"]
autorestart = true
grace_period = "2s"
dependency_timeout = "30s"

[presets]
api = ["backend"]
full = ["backend", "worker"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launchpad.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, fc.Supervisor.MonitorInterval)
	assert.Equal(t, 3, fc.Supervisor.RestartLimit)
	assert.Equal(t, "127.0.0.1:9000", fc.Server.Listen)
	assert.True(t, fc.Server.Metrics)
	assert.Equal(t, "sqlite://launchpad.db", fc.Store.DSN)
	assert.Equal(t, "debug", fc.Log.Level)
	require.Len(t, fc.Services, 2)

	reg, err := fc.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"redis", "backend"}, reg.StartOrder())

	backend, err := reg.Describe("backend")
	require.NoError(t, err)
	assert.Equal(t, "daphne", backend.Launch.Command)
	assert.Equal(t, []string{"redis"}, backend.DependsOn)
	assert.Equal(t, 2*time.Second, backend.GracePeriod)
	assert.Equal(t, 30*time.Second, backend.DependencyTimeout)

	redis, err := reg.Describe("redis")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", redis.Ready.Address)
	assert.Equal(t, 15*time.Second, redis.Ready.Timeout)
}

func TestLoadDefaultsListen(t *testing.T) {
	fc, err := Load(writeConfig(t, `
[[services]]
id = "a"
command = "sleep"
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, fc.Server.Listen)
}

func TestRegistryRejectsCycle(t *testing.T) {
	fc, err := Load(writeConfig(t, `
[[services]]
id = "a"
command = "sleep"
depends_on = ["b"]

[[services]]
id = "b"
command = "sleep"
depends_on = ["a"]
`))
	require.NoError(t, err)
	_, err = fc.Registry()
	var ce *registry.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestPresetLookup(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	ids, err := fc.Preset("api")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, ids)

	_, err = fc.Preset("nope")
	assert.Error(t, err)
}

func TestSupervisorOptionsMapping(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	opts := fc.SupervisorOptions()
	assert.Equal(t, 2*time.Second, opts.MonitorInterval)
	assert.Equal(t, 60*time.Second, opts.StabilityWindow)
	assert.Equal(t, "/tmp/launchpad-logs", opts.LogConfig.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
