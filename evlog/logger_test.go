package evlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLevelLogger(&buf, "info")
	require.NoError(t, err)

	SetLogger(l)
	defer SetLogger(nil)

	Debugf("hidden %d", 1)
	WithFields(Fields{"fd": 7}).Infof("ready")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "ready")
	assert.Contains(t, out, "fd=7")
}

func TestLevelLoggerBadLevel(t *testing.T) {
	_, err := NewLevelLogger(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
}
