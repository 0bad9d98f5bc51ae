package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewBuildsNamedLogger(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)

		entry := logger.Check(zapcore.InfoLevel, "logger construction check")
		require.NotNil(t, entry)
		assert.Equal(t, "crawlengine", entry.LoggerName)
	}
}
