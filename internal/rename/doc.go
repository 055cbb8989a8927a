/*
Package rename builds and applies bulk rename plans.

# Patterns

A pattern is the new name without its extension. Plain text is copied, a
run of N '#' is the sequence number padded to N digits, and $1..$9 insert
groups captured by the optional filter expression. A backslash escapes
'#', '$' and itself. Files keep their extension; directories are renamed
whole.

# Validation

BuildPlan never touches the filesystem. It rejects a plan whose names are
invalid, repeat within the plan, or land on a sibling that is not itself
being renamed, and the PlanError lists every offender. Names freed by
earlier members of the same plan may be reused, so renumbering in place
is allowed.

# Applying

Planner.Apply runs the plan as one bulkRename job on the scheduler, in
plan order. OutcomeOf turns the job's result into success, partial or
total failure.
*/
package rename
