package log

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/keboola/go-utils/pkg/wildcards"
	"github.com/stretchr/testify/assert"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type jsonRecord struct {
	line   string
	fields map[string]any
}

// CompareJSONMessages checks that the expected JSON lines appear in the actual log in the same order.
// The actual log may contain extra lines and extra fields. String values are compared using wildcards, e.g. %s.
func CompareJSONMessages(expected string, actual string) error {
	expectedRecords, err := parseJSONLines(expected)
	if err != nil {
		return errors.PrefixError(err, "invalid expected log")
	}
	actualRecords, err := parseJSONLines(actual)
	if err != nil {
		return errors.PrefixError(err, "invalid actual log")
	}

	// Each expected record consumes actual records until the first match
	next := 0
	for _, exp := range expectedRecords {
		start := next
		found := false
		for next < len(actualRecords) {
			act := actualRecords[next]
			next++
			if recordMatches(exp, act) {
				found = true
				break
			}
		}

		if !found {
			var skipped []string
			for _, r := range actualRecords[start:] {
				skipped = append(skipped, r.line)
			}
			return errors.Errorf("Expected:\n-----\n%s\n-----\nActual:\n-----\n%s", exp.line, strings.Join(skipped, "\n"))
		}
	}

	return nil
}

// AssertJSONMessages is the assertion variant of the CompareJSONMessages.
func AssertJSONMessages(t assert.TestingT, expected string, actual string, msgAndArgs ...any) bool {
	if err := CompareJSONMessages(expected, actual); err != nil {
		return assert.Fail(t, err.Error(), msgAndArgs...)
	}
	return true
}

func parseJSONLines(str string) (out []jsonRecord, err error) {
	for _, line := range strings.Split(str, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r := jsonRecord{line: line}
		if err := json.Unmarshal([]byte(line), &r.fields); err != nil {
			return nil, errors.Wrapf(err, "line is not a JSON object:\n%s", line)
		}
		out = append(out, r)
	}
	return out, nil
}

func recordMatches(expected, actual jsonRecord) bool {
	for key, expectedValue := range expected.fields {
		actualValue, ok := actual.fields[key]
		if !ok || !valueMatches(expectedValue, actualValue) {
			return false
		}
	}
	return true
}

func valueMatches(expected, actual any) bool {
	if expectedStr, ok := expected.(string); ok {
		actualStr, ok := actual.(string)
		return ok && wildcards.Compare(expectedStr, actualStr) == nil
	}
	return reflect.DeepEqual(expected, actual)
}
