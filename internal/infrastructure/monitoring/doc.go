/*
Package monitoring provides Prometheus metrics for the engine and the daemon.

# Overview

Metrics live on a private registry so several engines (tests, embedded
use) never collide on registration. Every recorder tolerates a nil
*Metrics.

# Metrics

- HTTP requests (count, latency) by route template
- Jobs by kind and final state, active and queued gauges, run time
- Bytes copied, per-file errors by code, conflict decisions
- Live folder models, folder events by type, watcher batches
- Trash store operations
- WebSocket connections

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "copy")
	// ... run job ...
	timer.Stop("completed")
*/
package monitoring
