package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/config"
	"github.com/reprisedb/go-reprise/internal/logging"
)

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := logging.New(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, err = logging.New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNew_negative(t *testing.T) {
	t.Parallel()

	_, err := logging.New(config.LoggingConfig{Level: "loud", Format: "json"})
	require.Error(t, err)

	_, err = logging.New(config.LoggingConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
}
