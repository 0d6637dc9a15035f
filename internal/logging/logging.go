// Package logging is a thin wrapper around gopkg.in/op/go-logging.v1
// giving every component a consistently named, leveled logger (component
// L). Severity convention follows §7's error taxonomy: fatal
// connection/room-ending errors log at ERROR, protocol-expected control
// flow (Migrate, OutOfCapacity) at DEBUG/INFO.
package logging

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

var backendInitialized bool

// Logger is the handle every component logs through.
type Logger = logging.Logger

// Init installs a formatted stderr backend at the given level. Call once
// at process startup; subsequent calls are no-ops.
func Init(levelName string) error {
	if backendInitialized {
		return nil
	}
	backendInitialized = true

	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)

	level, err := logging.LogLevel(levelName)
	if err != nil {
		return err
	}
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
	return nil
}

// New returns a module-scoped logger, e.g. New("conn") for the connection
// runtime.
func New(module string) *Logger {
	return logging.MustGetLogger(module)
}
