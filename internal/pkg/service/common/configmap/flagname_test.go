package configmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldToFlagName(t *testing.T) {
	t.Parallel()

	cases := []struct{ FieldPath, ExpectedFlagName string }{
		{FieldPath: "", ExpectedFlagName: ""},
		{FieldPath: "  ", ExpectedFlagName: ""},
		{FieldPath: "foo", ExpectedFlagName: "foo"},
		{FieldPath: "Foo", ExpectedFlagName: "foo"},
		{FieldPath: "foo-bar", ExpectedFlagName: "foo-bar"},
		{FieldPath: "fooBar", ExpectedFlagName: "foo-bar"},
		{FieldPath: "FooBar", ExpectedFlagName: "foo-bar"},
		{FieldPath: "---Foo---Bar---", ExpectedFlagName: "foo-bar"},
		{FieldPath: "store.sqlitePath", ExpectedFlagName: "store-sqlite-path"},
		{FieldPath: "etcd.connectTimeout", ExpectedFlagName: "etcd-connect-timeout"},
		{FieldPath: "scheduler.maxRunningPerTenant", ExpectedFlagName: "scheduler-max-running-per-tenant"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ExpectedFlagName, fieldToFlagName(tc.FieldPath), tc.FieldPath)
	}
}

func TestFlagToEnv(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "MY_APP_SCHEDULER_INTERVAL", flagToEnv("MY_APP_", "scheduler-interval"))
	assert.Equal(t, "MY_APP_DEBUG_LOG", flagToEnv("MY_APP_", "debug-log"))
}
