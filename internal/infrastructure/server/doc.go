// Package server assembles the filer daemon.
//
// This package orchestrates all components:
//   - Trash store, job engine and scheduler over one filesystem
//   - Folder model registry, told about every job mutation
//   - Bulk rename planner
//   - HTTP routing with Gin and WebSocket streams
//   - Middleware stack (recovery, request id, logging, metrics, CORS, rate limiting)
//
// Server Lifecycle:
//  1. Load configuration from environment and the preferences file
//  2. Initialize logger
//  3. Open the trash store
//  4. Create folder registry, engine, scheduler and planner
//  5. Setup HTTP routes and middleware
//  6. Serve until the context is cancelled
//  7. Close: cancel unfinished jobs and tear down folder models
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//		return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx)
package server
