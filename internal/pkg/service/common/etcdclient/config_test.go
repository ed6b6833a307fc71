package etcdclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_NormalizeValidate(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Normalize()
	if err := cfg.Validate(); assert.Error(t, err) {
		assert.Equal(t, "- etcd endpoint is not set\n- etcd namespace is not set", err.Error())
	}

	cfg.Endpoints = []string{" localhost:2379/ ", "etcd-1:2379,etcd-2:2379/", ""}
	cfg.Normalize()
	if err := cfg.Validate(); assert.Error(t, err) {
		assert.Equal(t, "etcd namespace is not set", err.Error())
	}

	cfg.Namespace = "/changeset-scheduler/"
	cfg.Normalize()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"localhost:2379", "etcd-1:2379", "etcd-2:2379"}, cfg.Endpoints)
	assert.Equal(t, "changeset-scheduler/", cfg.Namespace)

	cfg.ConnectTimeout = 0
	if err := cfg.Validate(); assert.Error(t, err) {
		assert.Equal(t, "etcd timeouts must be positive", err.Error())
	}
}
