package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// Init configures the process logger: level parsed from the config value,
// output to stdout and, when path is non-empty, duplicated to an append-only
// file. Attacker-facing activity is logged with structured fields, so the
// text formatter keeps key=value quoting enabled.
func Init(level, path string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	logFile = f
	logrus.SetOutput(io.MultiWriter(os.Stdout, logFile))
	logrus.Infof("logging to file: %s", path)
	return nil
}

// Close flushes and closes the log file, if one was opened.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
