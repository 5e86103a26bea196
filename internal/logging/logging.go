// Package logging configures the process-wide logrus logger that
// components derive their loggers from.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// Config holds logging configuration
type Config struct {
	Level  string // trace, debug, info, warn, error, fatal, panic
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// DefaultConfig returns info-level text logs on stdout
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stdout"}
}

// Setup applies c to logger
func Setup(logger *logrus.Logger, c Config) error {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil {
		return errors.Wrap(err, "log level")
	}

	var formatter logrus.Formatter
	switch strings.ToLower(c.Format) {
	case "", "text", "console":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return errors.Errorf("unknown log format %q", c.Format)
	}

	var out io.Writer
	switch c.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		out = f
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)
	return nil
}

// SetupStandard applies c to logrus.StandardLogger()
func SetupStandard(c Config) error {
	return Setup(logrus.StandardLogger(), c)
}

// Component returns a logger tagged with a component name
func Component(logger *logrus.Logger, name string) logrus.FieldLogger {
	return logger.WithField("component", name)
}
