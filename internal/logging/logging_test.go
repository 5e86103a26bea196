package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/logging"
)

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger := logrus.New()

	require.NoError(t, logging.Setup(logger, logging.Config{Level: "DEBUG", Format: "json", Output: path}))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logging.Component(logger, "gateway").Info("hello")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"component":"gateway"`))
}

func TestSetup_Errors(t *testing.T) {
	logger := logrus.New()
	assert.Error(t, logging.Setup(logger, logging.Config{Level: "loud"}))
	assert.Error(t, logging.Setup(logger, logging.Config{Level: "info", Format: "xml"}))
	assert.Error(t, logging.Setup(logger, logging.Config{Level: "info", Output: filepath.Join(t.TempDir(), "missing", "x.log")}))
	assert.NoError(t, logging.Setup(logger, logging.DefaultConfig()))
}
