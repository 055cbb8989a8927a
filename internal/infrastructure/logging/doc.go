// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every long-lived component receives a named child logger so log lines
// carry a "component" field (folder, watcher, scheduler, api).
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Component("scheduler").Info("Job queued", zap.String("job", id))
package logging
