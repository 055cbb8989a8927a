package job

import (
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/shared/id"
)

// Unknown is the total reported before the scan phase finishes
const Unknown int64 = -1

// FileError is a failure confined to one path; the job carries on
type FileError struct {
	Path    string     `json:"path"`
	Code    fserr.Code `json:"code"`
	Message string     `json:"message"`
}

func newFileError(path string, err error) FileError {
	return FileError{Path: path, Code: fserr.Classify(err), Message: err.Error()}
}

// Progress is a point-in-time view of a running job
type Progress struct {
	JobID      id.JobID    `json:"job_id"`
	State      State       `json:"state"`
	FilesDone  int64       `json:"files_done"`
	FilesTotal int64       `json:"files_total"`
	BytesDone  int64       `json:"bytes_done"`
	BytesTotal int64       `json:"bytes_total"`
	Current    string      `json:"current,omitempty"`
	Errors     []FileError `json:"errors,omitempty"`
}

// clone returns a copy safe to hand to readers. Errors only ever grows by
// append, so the copy shares the backing array capped at its current
// length: later appends never write into the part a reader can see.
func (p Progress) clone() Progress {
	if p.Errors != nil {
		p.Errors = p.Errors[:len(p.Errors):len(p.Errors)]
	}
	return p
}

// Result is the final outcome of a job
type Result struct {
	State    State        `json:"state"`
	Error    string       `json:"error,omitempty"`
	Errors   []FileError  `json:"errors,omitempty"`
	TrashIDs []id.TrashID `json:"trash_ids,omitempty"`

	// Bulk rename bookkeeping
	Completed []RenamePair `json:"completed,omitempty"`
	Failed    []RenamePair `json:"failed,omitempty"`
	Pending   []RenamePair `json:"pending,omitempty"`
}

// latest replaces any unread value in a one-slot channel with v. Only the
// owning job goroutine sends, so the drain-then-send never blocks.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
