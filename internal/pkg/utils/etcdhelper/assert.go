package etcdhelper

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/keboola/go-utils/pkg/wildcards"
	"github.com/stretchr/testify/assert"
	"github.com/umisama/go-regexpcache"
	etcd "go.etcd.io/etcd/client/v3"
)

type AssertOption func(*assertConfig)

type assertConfig struct {
	ignoredKeyPatterns []string
}

func WithIgnoredKeyPattern(v string) AssertOption {
	return func(c *assertConfig) {
		c.ignoredKeyPatterns = append(c.ignoredKeyPatterns, v)
	}
}

type tHelper interface {
	Helper()
}

// DumpAllKeys returns all keys from the etcd namespace, sorted.
func DumpAllKeys(ctx context.Context, client etcd.KV) ([]string, error) {
	resp, err := client.Get(ctx, "", etcd.WithFromKey(), etcd.WithKeysOnly())
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	sort.Strings(keys)
	return keys, nil
}

// AssertKeys dumps all keys from an etcd database and compares them with the expected keys.
// In the expected keys, a wildcards can be used, see the wildcards package.
func AssertKeys(t assert.TestingT, client etcd.KV, expectedKeys []string, ops ...AssertOption) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	c := assertConfig{}
	for _, o := range ops {
		o(&c)
	}

	actualKeysRaw, err := DumpAllKeys(context.Background(), client)
	if err != nil {
		t.Errorf(`cannot dump etcd keys: %s`, err)
		return false
	}

	var actualKeys []string
	for _, key := range actualKeysRaw {
		ignored := false
		for _, pattern := range c.ignoredKeyPatterns {
			if regexpcache.MustCompile(pattern).MatchString(key) {
				ignored = true
				break
			}
		}
		if !ignored {
			actualKeys = append(actualKeys, key)
		}
	}

	expectedKeys = append([]string(nil), expectedKeys...)
	sort.Strings(expectedKeys)

	matchedExpected := make(map[int]bool)
	matchedActual := make(map[int]bool)
	for e, expected := range expectedKeys {
		for a, actual := range actualKeys {
			if !matchedActual[a] && wildcards.Compare(expected, actual) == nil {
				matchedExpected[e] = true
				matchedActual[a] = true
				break
			}
		}
	}

	var unmatchedExpected []string
	for e, expected := range expectedKeys {
		if !matchedExpected[e] {
			unmatchedExpected = append(unmatchedExpected, fmt.Sprintf(`[%03d] %s`, e, expected))
		}
	}
	if len(unmatchedExpected) > 0 {
		assert.Fail(t, fmt.Sprintf("These keys are in expected but not actual etcd state:\n%s\n", strings.Join(unmatchedExpected, "\n")))
	}

	var unmatchedActual []string
	for a, actual := range actualKeys {
		if !matchedActual[a] {
			unmatchedActual = append(unmatchedActual, fmt.Sprintf(`[%03d] %s`, a, actual))
		}
	}
	if len(unmatchedActual) > 0 {
		assert.Fail(t, fmt.Sprintf("These keys are in actual but not expected etcd state:\n%s\n", strings.Join(unmatchedActual, "\n")))
	}

	return len(unmatchedExpected) == 0 && len(unmatchedActual) == 0
}
