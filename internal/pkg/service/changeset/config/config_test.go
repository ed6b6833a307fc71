package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/config"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
)

func envs(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestBind_Default(t *testing.T) {
	t.Parallel()

	cfg, err := config.Bind(nil, envs(nil))
	require.NoError(t, err)

	expected := config.New()
	assert.Equal(t, expected, cfg)
	assert.Equal(t, 5, cfg.Scheduler.MaxRunningPerTenant)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.LockWaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Lock.LeaseDuration)
	assert.False(t, cfg.UsesEtcd())
}

func TestBind_FlagsAndEnvs(t *testing.T) {
	t.Parallel()

	args := []string{
		"--scheduler-max-running-per-tenant", "2",
		"--lock-backend", "file",
		"--lock-file-dir", "/tmp/locks",
		"--handlers-external-to-internal-url", "https://example.com/hook",
	}
	cfg, err := config.Bind(args, envs(map[string]string{
		"CHANGESET_SCHEDULER_SCHEDULER_INTERVAL":               "30s",
		"CHANGESET_SCHEDULER_SCHEDULER_MAX_RUNNING_PER_TENANT": "3",
		"CHANGESET_SCHEDULER_LOG_FORMAT":                       "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Scheduler.MaxRunningPerTenant)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, distlock.BackendFile, cfg.Lock.Backend)
	assert.Equal(t, "/tmp/locks", cfg.Lock.FileDir)
	assert.Equal(t, "https://example.com/hook", cfg.Handlers.ExternalToInternal.URL)
	assert.Equal(t, "", cfg.Handlers.InternalToExternal.URL)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestBind_Etcd(t *testing.T) {
	t.Parallel()

	// Etcd endpoint is required by the etcd store
	_, err := config.Bind([]string{"--store-backend", "etcd"}, envs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd endpoint is not set")

	cfg, err := config.Bind([]string{"--store-backend", "etcd", "--etcd-endpoints", "localhost:2379/", "--etcd-namespace", "/changesets/"}, envs(nil))
	require.NoError(t, err)
	assert.True(t, cfg.UsesEtcd())
	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, "changesets/", cfg.Etcd.Namespace)
}

func TestBind_Invalid(t *testing.T) {
	t.Parallel()

	_, err := config.Bind([]string{"--scheduler-max-running-per-tenant", "0", "--store-backend", "foo"}, envs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"scheduler.maxRunningPerTenant" is a required field`)
	assert.Contains(t, err.Error(), `"store.backend" must be one of [sqlite etcd]`)
}

func TestBind_Help(t *testing.T) {
	t.Parallel()

	_, err := config.Bind([]string{"--help"}, envs(nil))
	require.ErrorIs(t, err, pflag.ErrHelp)
}
