package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogFormat(t *testing.T) {
	t.Parallel()

	f, err := NewLogFormat("")
	require.NoError(t, err)
	assert.Equal(t, LogFormatJSON, f)

	f, err = NewLogFormat(" Console ")
	require.NoError(t, err)
	assert.Equal(t, LogFormatConsole, f)

	_, err = NewLogFormat("xml")
	if assert.Error(t, err) {
		assert.Equal(t, `unexpected log format "xml", expected one of: json, console`, err.Error())
	}
}
