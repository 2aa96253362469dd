package testing

import (
	"strings"
	"testing"

	"github.com/dargueta/fatfs/file_systems/fat32"
	log "github.com/sirupsen/logrus"
)

type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger returns a logger that writes everything, debug messages
// included, to the test's log.
func NewTestLogger(t *testing.T) *log.Logger {
	logger := log.New()
	logger.SetOutput(testLogWriter{t})
	logger.SetLevel(log.DebugLevel)
	return logger
}

// NewTestConfig gives the default volume configuration with logging sent to
// the test's log.
func NewTestConfig(t *testing.T) fat32.Config {
	cfg := fat32.DefaultConfig()
	cfg.Logger = NewTestLogger(t)
	return cfg
}
