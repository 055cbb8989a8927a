// Package ws streams live folder listings and job progress over WebSocket.
//
// Streams:
//   - /ws/folders?path=DIR: a snapshot message with the entries and
//     revision current at subscription, then one event message per change,
//     in revision order
//   - /ws/jobs/:id: a snapshot of the job, then progress and conflict
//     messages, and a result message once the job finishes
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping, answered with pong
//   - refresh: Relist the folder (folder streams)
//   - resolve: Answer a conflict with conflict_id and decision (job streams)
//   - cancel, pause, resume: Control the job (job streams)
//
// Message Types (Server → Client):
//   - snapshot, event: Folder state and changes
//   - snapshot, progress, conflict, result: Job state and changes
//   - error: A command failed; carries the fserr code
//
// A job's progress and conflict channels have a single consumer, so one
// job stream per job is expected; other observers poll /jobs/:id.
//
// Example Usage:
//
//	handler := ws.NewHandler(registry, scheduler, logger, metrics)
//	handler.Register(router)
package ws
