package telemetry

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type lockError struct{}

func (lockError) Error() string { return "lock error" }

func (lockError) ErrorType() string { return "lock" }

func TestErrorType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		expected string
	}{
		{err: nil, expected: ""},
		{err: errors.New("some error"), expected: "other"},
		{err: errors.Errorf(`some error: %w`, context.Canceled), expected: "context_canceled"},
		{err: errors.Errorf(`some error: %w`, context.DeadlineExceeded), expected: "deadline_exceeded"},
		{err: &net.DNSError{}, expected: "net"},
		{err: &net.DNSError{IsTimeout: true}, expected: "net_timeout"},
		{err: lockError{}, expected: "lock"},
		{err: errors.PrefixError(lockError{}, "cannot claim"), expected: "lock"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, ErrorType(tc.err))
	}
}
