// Package log provides the structured logging wrapper used throughout
// the enrollment, ingestion, and certificate-lifecycle subsystem. It
// keeps boulder's audit-logger calling convention (Info/Notice/Warning/
// Audit/AuditErr) over a zerolog backend instead of a homegrown syslog
// client.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is a request- or component-scoped logger. The zero value is
// not usable; construct one with New or Get.
type Logger struct {
	z zerolog.Logger
}

var (
	mu      sync.Mutex
	global  Logger
	didInit bool
)

// Config controls the global logger's output shape.
type Config struct {
	Level      string // debug, info, warn, error
	JSONOutput bool
	Output     io.Writer
}

// Init installs the process-wide logger. Safe to call once at startup;
// subsequent calls replace the global logger (used by tests).
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	global = Logger{z: zerolog.New(output).With().Timestamp().Logger()}
	didInit = true
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger, initializing a sane default (info,
// console output to stderr) if Init was never called.
func Get() Logger {
	mu.Lock()
	defer mu.Unlock()
	if !didInit {
		global = Logger{z: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()}
		didInit = true
	}
	return global
}

// With returns a sub-logger carrying the given request-scoped fields,
// e.g. log.Get().With("certfp", fp).Info("...").
func (l Logger) With(key, value string) Logger {
	return Logger{z: l.z.With().Str(key, value).Logger()}
}

func (l Logger) Debug(msg string)           { l.z.Debug().Msg(msg) }
func (l Logger) Info(msg string)            { l.z.Info().Msg(msg) }
func (l Logger) Notice(msg string)          { l.z.Info().Bool("notice", true).Msg(msg) }
func (l Logger) Warning(msg string)         { l.z.Warn().Msg(msg) }
func (l Logger) WarningErr(err error)       { l.z.Warn().Err(err).Msg(err.Error()) }
func (l Logger) Err(msg string)             { l.z.Error().Msg(msg) }

// Audit marks a security-relevant event: enrollment issued, cert
// revoked, waiting-list approval consumed, archive rejected.
func (l Logger) Audit(msg string) { l.z.Info().Bool("audit", true).Msg(msg) }

// AuditErr is Audit for a failure path, matching boulder's
// ca.log.AuditErr(err) call sites.
func (l Logger) AuditErr(err error) {
	l.z.Error().Bool("audit", true).Err(err).Msg(err.Error())
}
