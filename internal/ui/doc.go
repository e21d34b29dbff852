// Package ui provides terminal UI components for the waterctl CLI.
//
// This package uses Bubble Tea and Lipgloss to render the session. There
// are two ways to show one:
//
//   - Model: the interactive screen. A spinner and stage line, the stage
//     list, the usage countdown once the water runs, and the classified
//     error box with the session transcript.
//   - Runner: plain output for pipes and dumb terminals. It prints the
//     header, one line per finished stage and a result box per outcome.
//
// Both receive session events as a session.Observer. The screen gets them
// through Events, which queues callbacks from the session goroutine and
// hands them to Bubble Tea one at a time:
//
//	events := ui.NewEvents()
//	sess := session.New(cfg, transport, oracle, session.WithObserver(events))
//	go sess.Run(ctx)
//	sess.Start()
//	err := ui.RunScreen(ctx, ui.NewModel(sess, events, ui.ScreenConfig{...}))
//
// Header, Progress, Result and DiagnosticsBox are the building blocks;
// Printer renders them for commands without a live session.
//
// # Logging Integration
//
// Logging is controlled via the WATERCTL_LOG_LEVEL environment variable or
// --log-level. When unset, zap logging is silent so the screen renders
// cleanly. Logs go to stderr.
package ui
