// Package config provides 12-factor configuration management for the filer
// daemon.
//
// Configuration is loaded from environment variables with sensible defaults.
// User preferences may additionally come from a YAML file named by
// FILER_PREFERENCES_FILE; keys present in the file override the environment.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - Engine: worker count, copy chunk size, progress throttle, checksums
//   - Folder: watcher debounce and polling, MIME sniffing
//   - Trash: trash root (XDG default)
//   - Preferences: conflict policy, permanent delete fallback, confirmations
//   - Logging: log level and output format
//   - RateLimit: API rate limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Listening on %s\n", cfg.Addr())
//
// Environment Variables:
//   - FILER_PORT, FILER_HOST
//   - FILER_WORKERS, FILER_CHUNK_SIZE, FILER_PROGRESS_INTERVAL, FILER_VERIFY_CHECKSUMS
//   - FILER_WATCH_DEBOUNCE, FILER_WATCH_POLL, FILER_WATCH_DISABLED, FILER_DETECT_MIME
//   - FILER_TRASH_DIR
//   - FILER_CONFLICT_POLICY, FILER_PERMANENT_DELETE, FILER_PERMANENT_DELETE_PATHS
//   - FILER_LOG_LEVEL, FILER_LOG_DEV
//   - FILER_RATE_LIMIT_RPS, FILER_RATE_LIMIT_BURST, FILER_RATE_LIMIT_ENABLED
package config
