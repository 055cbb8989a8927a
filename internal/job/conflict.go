package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// Action is the answer to a conflict
type Action string

const (
	ActionOverwrite    Action = "overwrite"
	ActionOverwriteAll Action = "overwriteAll"
	ActionSkip         Action = "skip"
	ActionSkipAll      Action = "skipAll"
	ActionRename       Action = "rename"
	ActionCancel       Action = "cancel"
)

// Decision answers one conflict. NewName is only used with ActionRename.
type Decision struct {
	Action  Action `json:"action"`
	NewName string `json:"new_name,omitempty"`
}

// Validate checks the decision is well formed
func (d Decision) Validate() error {
	switch d.Action {
	case ActionOverwrite, ActionOverwriteAll, ActionSkip, ActionSkipAll, ActionCancel:
		return nil
	case ActionRename:
		return paths.ValidateName(d.NewName)
	}
	return fmt.Errorf("unknown conflict action %q", d.Action)
}

// ErrConflictResolved is returned when a conflict is answered twice
var ErrConflictResolved = errors.New("conflict already resolved")

// Conflict is raised before an existing destination would be replaced. The
// job stays suspended until Resolve is called or the job is cancelled.
type Conflict struct {
	ID          id.ConflictID `json:"id"`
	JobID       id.JobID      `json:"job_id"`
	Source      types.Entry   `json:"source"`
	Destination types.Entry   `json:"destination"`

	mu       sync.Mutex
	resolved bool
	reply    chan Decision
}

func newConflict(job id.JobID, src, dst types.Entry) *Conflict {
	return &Conflict{
		ID:          id.NewConflictID(),
		JobID:       job,
		Source:      src,
		Destination: dst,
		reply:       make(chan Decision, 1),
	}
}

// Resolve delivers the decision. Only the first valid call is accepted.
func (c *Conflict) Resolve(d Decision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return ErrConflictResolved
	}
	c.resolved = true
	c.reply <- d
	return nil
}
