package errutil

import (
	"log/slog"
)

// LogMsg logs a recoverable error as a warning if it is not nil.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		slog.Warn(msg, withError(err, args)...)
	}
}

// ReportError logs an unexpected error.
// Every error that is swallowed instead of returned should pass through here.
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		slog.Error(msg, withError(err, args)...)
	}
}

// CloseQuietly closes c and logs a warning when that fails.
func CloseQuietly(c interface{ Close() error }, msg string, args ...any) {
	LogMsg(c.Close(), msg, args...)
}

func withError(err error, args []any) []any {
	return append([]any{"error", err}, args...)
}
