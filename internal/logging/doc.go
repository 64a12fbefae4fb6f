// Package logging provides structured logging for the terminal host.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent attributes. Every subsystem receives a child logger tagged with
// its component name, and per-terminal code adds the terminal ID:
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	flowLog := logger.WithComponent("flow")
//	flowLog.WithTerminal(id).Warn("stream suspended", "utilization", 97.5)
//
// # Crash records
//
// [CrashLog] appends recovered panics to {dir}/crash.log under an advisory
// file lock. The host records every panic it recovers at the event loop and
// command boundaries there before carrying on.
//
// # Thread Safety
//
// [Logger], [RotatingWriter] and [CrashLog] are safe for concurrent use.
package logging
