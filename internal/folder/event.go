package folder

import "github.com/GriffinCanCode/filer/internal/shared/types"

// EventType is the kind of diff a model emits
type EventType string

const (
	EventInserted    EventType = "inserted"
	EventUpdated     EventType = "updated"
	EventRemoved     EventType = "removed"
	EventInvalidated EventType = "invalidated"
)

// Event is one change to a model, stamped with the revision it produced.
//
//   - Inserted: Entry is the new entry
//   - Updated: Old and Entry hold the previous and current snapshots
//   - Removed: Name (and Old) identify the entry that left
//   - Invalidated: Err holds the listing failure; the snapshot is now empty
type Event struct {
	Type     EventType   `json:"type"`
	Revision uint64      `json:"revision"`
	Name     string      `json:"name,omitempty"`
	Entry    types.Entry `json:"entry,omitempty"`
	Old      types.Entry `json:"old,omitempty"`
	Err      error       `json:"-"`
}
