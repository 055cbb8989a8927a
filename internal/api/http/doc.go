// Package http provides the REST handlers of the filer daemon.
//
// Every failure is answered with {"success": false, "code": ..., "error": ...}
// where code is the fserr code, and the status follows from it:
//
//   - NOT_FOUND: 404
//   - ALREADY_EXISTS, CANCELLED, invalid job transitions: 409
//   - PERMISSION_DENIED: 403
//   - INVALID_INPUT: 400
//   - INVALID_PLAN: 422, with the offending entries
//   - UNAVAILABLE: 503
//   - UNSUPPORTED: 501
//   - anything else: 500
//
// Endpoints:
//   - Health: /
//   - Jobs: /jobs, /jobs/:id, /jobs/:id/{cancel,pause,resume}, /jobs/:id/conflicts/:cid
//   - Folders: /folders?path=&glob=
//   - Rename: /rename/plan, /rename/apply
//   - Trash: /trash, /trash/:id/purge
//   - Clipboard: /clipboard/paste, /clipboard/format
//   - Preferences: /preferences
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Deps{Scheduler: s, Planner: p, Folders: reg, Trash: bin})
//	handlers.Register(router)
package http
