// Package logging configures logrus for the environment the requester runs
// in: console while developing, console and a rotated file while testing,
// and the rotated file alone in production.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alvmarrod/newsapi-requester/internal/config"
)

// Options controls where and how verbosely logs are written
type Options struct {
	Environment string
	AppName     string
	Dir         string
	Level       string
	MaxSizeMB   int
	MaxFiles    int
}

// OptionsFrom extracts logging options from the loaded configuration
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Environment: cfg.Environment,
		AppName:     cfg.AppName,
		Dir:         cfg.Logging.Dir,
		Level:       cfg.Logging.Level,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxFiles:    cfg.Logging.MaxFiles,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup configures the standard logger for cfg. The returned closer flushes
// and closes the log file, if any.
func Setup(cfg *config.Config) (io.Closer, error) {
	return Configure(logrus.StandardLogger(), OptionsFrom(cfg), os.Stdout)
}

// Configure applies opts to l, writing console output to console
func Configure(l *logrus.Logger, opts Options, console io.Writer) (io.Closer, error) {
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := logrus.InfoLevel
	if opts.Environment == config.EnvDevelopment {
		level = logrus.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	l.SetLevel(level)

	if opts.Environment == config.EnvDevelopment {
		l.SetOutput(console)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := opts.AppName
	if name == "" {
		name = "app"
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, name+".log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxFiles,
	}

	switch opts.Environment {
	case config.EnvProduction:
		l.SetOutput(file)
	default:
		l.SetOutput(io.MultiWriter(console, file))
	}
	return file, nil
}
