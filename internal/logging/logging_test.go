package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		log, flush, err := New("debug", format)
		require.NoError(t, err, format)
		assert.True(t, log.V(1).Enabled(), "debug level should enable V(1) for %q", format)
		flush()
	}

	log, flush, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, log.Enabled())
	flush()
}

func TestNew_Errors(t *testing.T) {
	_, _, err := New("loud", "json")
	assert.Error(t, err)

	_, _, err = New("info", "xml")
	assert.ErrorContains(t, err, "unknown log format")
}
