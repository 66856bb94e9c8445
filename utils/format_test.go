package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Equal(t, "0", Count(0))
	assert.Equal(t, "999", Count(999))
	assert.Equal(t, "1,000,000", Count(1_000_000))
	assert.Equal(t, "-12,345", Count(int64(-12345)))
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger("not-a-level")
	assert.True(t, logger.Core().Enabled(0))
	assert.False(t, logger.Core().Enabled(-1))

	debug := NewLogger("debug")
	assert.True(t, debug.Core().Enabled(-1))
}

func TestR2ConfigEnabled(t *testing.T) {
	assert.False(t, R2Config{}.Enabled())
	assert.False(t, R2Config{AccountID: "acct"}.Enabled())
	assert.True(t, R2Config{AccountID: "acct", Bucket: "history"}.Enabled())
}
