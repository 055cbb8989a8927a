// Package main is the entry point of the filer daemon.
//
// The daemon runs file operation jobs (copy, move, link, delete, trash,
// restore, rename, attribute changes and bulk renames) on a bounded worker
// pool and keeps live folder listings for any client that subscribes.
//
// Configuration:
//   - Environment variables (FILER_*)
//   - An optional preferences YAML file
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Listen on all interfaces with four workers
//	./filerd -host 0.0.0.0 -workers 4
//
//	# Development mode (console logs, debug level)
//	./filerd -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown; unfinished jobs are cancelled
package main
