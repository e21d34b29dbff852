// Package logging provides structured logging for waterctl.
//
// This package wraps a global zap logger with convenience functions, plus a
// per-session diagnostics transcript.
//
// # Log Levels
//
//   - Debug: Frame hex dumps, timer decisions, duplicate suppression
//   - Info: Stage changes, connections, session start and end
//   - Warn: Retries, ignored out-of-phase frames
//   - Error: Classified session failures
//
// # Configuration
//
// Logging is silent unless a level is given on the command line or in
// WATERCTL_LOG_LEVEL:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Diagnostics
//
// A Diagnostics transcript records every entry of a session logger, so the
// "RXD:"/"TXD:" lines leading up to a failure can be shown to the user
// without enabling global logging:
//
//	diag := logging.NewDiagnostics(0)
//	log := logging.NewSessionLogger(diag)
//	log.Debug("RXD: FDFD09B2...")
//	fmt.Println(strings.Join(diag.Lines(), "\n"))
//
// # Thread Safety
//
// All logging functions and Diagnostics methods are safe for concurrent use.
package logging
