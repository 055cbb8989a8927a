// Package middleware provides the HTTP middleware stack of the filer daemon.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//   - GlobalRateLimit: One token bucket shared by every client
//   - RequestID: X-Request-ID propagation into the request context
//   - Logger: Structured request logging through zap
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.Logger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.GlobalRateLimit(middleware.DefaultRateLimitConfig()))
package middleware
