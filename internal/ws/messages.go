package ws

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

var errMissingDecision = errors.New("resolve needs a decision")

func errUnknownMessage(t string) error {
	return fmt.Errorf("unknown message type %q", t)
}

// Message is sent by clients. Job streams accept resolve, cancel, pause
// and resume; folder streams accept refresh; both accept ping.
type Message struct {
	Type       string        `json:"type"`
	ConflictID id.ConflictID `json:"conflict_id,omitempty"`
	Decision   *job.Decision `json:"decision,omitempty"`
}

// FolderSnapshot is the first message of a folder stream
type FolderSnapshot struct {
	Type     string        `json:"type"`
	Path     string        `json:"path"`
	Revision uint64        `json:"revision"`
	Entries  []types.Entry `json:"entries"`
}

// FolderEvent carries one model change. Invalidated events also carry the
// listing failure.
type FolderEvent struct {
	Type  string       `json:"type"`
	Event folder.Event `json:"event"`
	Error string       `json:"error,omitempty"`
	Code  fserr.Code   `json:"code,omitempty"`
}

// JobMessage is any message of a job stream: snapshot, progress, conflict
// or result
type JobMessage struct {
	Type     string        `json:"type"`
	Job      *job.Snapshot `json:"job,omitempty"`
	Progress *job.Progress `json:"progress,omitempty"`
	Conflict *job.Conflict `json:"conflict,omitempty"`
	Result   *job.Result   `json:"result,omitempty"`
}
