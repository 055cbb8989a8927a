/*
Package job runs long file operations: copy, move, link, delete, trash,
restore, rename, chattr and bulk rename.

# Lifecycle

A job is prepared from a Request, which is validated and normalized up
front, and then run by Engine.Run (the scheduler) or Engine.Submit
(standalone). Its state follows an explicit transition table:

	queued -> running -> completed | completed_with_errors | failed | cancelled
	running <-> paused
	running <-> waiting_for_conflict_decision

# Phases

Tree operations scan first with an explicit stack, producing every node in
discovery order with directories visited before and after their children.
Totals stay Unknown until the scan is over. Execution then processes the
nodes in order, checking for pause and cancellation between nodes and
between copy chunks.

# Conflicts

Before replacing an existing destination the job raises a Conflict on
Handle.Conflicts and suspends until Conflict.Resolve is called. The "All"
decisions stick for the rest of the job. Directories copied onto
directories merge without asking.

# Failures

Per-file failures are collected and the job carries on, ending
CompletedWithErrors. Fatal failures (destination missing at start,
destination removed while running, trash unavailable without a permanent
delete fallback) end it Failed. Cancellation ends it Cancelled; finished
steps stay in place and no partial file is left behind.
*/
package job
