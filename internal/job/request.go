package job

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Kind is the operation a job performs
type Kind string

const (
	KindCopy       Kind = "copy"
	KindMove       Kind = "move"
	KindLink       Kind = "link"
	KindDelete     Kind = "delete"
	KindTrash      Kind = "trash"
	KindRestore    Kind = "restore"
	KindRename     Kind = "rename"
	KindChattr     Kind = "chattr"
	KindBulkRename Kind = "bulkRename"
)

// Policy is the default answer to a conflict when nobody is asked
type Policy string

const (
	PolicyAsk        Policy = "ask"
	PolicyOverwrite  Policy = "overwrite"
	PolicySkip       Policy = "skip"
	PolicyAutoRename Policy = "autoRename"
)

// ParsePolicy validates a policy name. Empty means ask.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyAsk, nil
	case PolicyAsk, PolicyOverwrite, PolicySkip, PolicyAutoRename:
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// Preferences are the user settings the engine consults
type Preferences interface {
	// ConflictPolicy applies when a request carries no policy
	ConflictPolicy() Policy
	// AllowPermanentDelete reports whether a path that cannot be trashed
	// may be deleted outright instead
	AllowPermanentDelete(path string) bool
}

// Attributes is the change a chattr job applies
type Attributes struct {
	Mode      *fs.FileMode `json:"mode,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	Group     string       `json:"group,omitempty"`
	Recursive bool         `json:"recursive,omitempty"`
}

// RenamePair is one step of a bulk rename
type RenamePair struct {
	Source  string `json:"source"`
	NewName string `json:"new_name"`
}

// Target returns the path the source ends up at
func (p RenamePair) Target() string {
	return paths.Join(paths.Parent(p.Source), p.NewName)
}

// Request describes a job to run
type Request struct {
	Kind        Kind         `json:"kind"`
	Sources     []string     `json:"sources,omitempty"`
	Destination string       `json:"destination,omitempty"`
	NewName     string       `json:"new_name,omitempty"`
	TrashIDs    []id.TrashID `json:"trash_ids,omitempty"`
	FollowLinks bool         `json:"follow_links,omitempty"`
	Attributes  *Attributes  `json:"attributes,omitempty"`
	Renames     []RenamePair `json:"renames,omitempty"`
	Policy      Policy       `json:"policy,omitempty"`

	// MaxConsecutiveFailures stops a bulk rename after this many failures
	// in a row; zero never stops
	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty"`
}

func invalid(format string, args ...any) error {
	return fserr.New(fserr.InvalidInput, "submit", "", fmt.Errorf(format, args...))
}

// normalize validates the request and returns a copy with clean paths
func (r Request) normalize() (Request, error) {
	out := r
	out.Sources = make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		norm, err := paths.Normalize(s)
		if err != nil {
			return Request{}, invalid("bad source %q: %v", s, err)
		}
		out.Sources = append(out.Sources, norm)
	}
	if r.Destination != "" {
		norm, err := paths.Normalize(r.Destination)
		if err != nil {
			return Request{}, invalid("bad destination %q: %v", r.Destination, err)
		}
		out.Destination = norm
	}
	if r.Policy != "" {
		if _, err := ParsePolicy(string(r.Policy)); err != nil {
			return Request{}, invalid("%v", err)
		}
	}

	switch r.Kind {
	case KindCopy, KindMove, KindLink:
		if len(out.Sources) == 0 {
			return Request{}, invalid("%s needs at least one source", r.Kind)
		}
		if out.Destination == "" {
			return Request{}, invalid("%s needs a destination", r.Kind)
		}
		if r.Kind != KindLink {
			for _, s := range out.Sources {
				if paths.IsAncestor(s, out.Destination) || s == out.Destination {
					return Request{}, invalid("cannot %s %s into itself", r.Kind, s)
				}
			}
		}
	case KindDelete, KindTrash:
		if len(out.Sources) == 0 {
			return Request{}, invalid("%s needs at least one source", r.Kind)
		}
	case KindRestore:
		if len(r.TrashIDs) == 0 {
			return Request{}, invalid("restore needs at least one trash id")
		}
		for _, tid := range r.TrashIDs {
			if !id.HasPrefix(string(tid), id.TrashPrefix) {
				return Request{}, invalid("malformed trash id %q", tid)
			}
		}
	case KindRename:
		if len(out.Sources) != 1 {
			return Request{}, invalid("rename takes exactly one source")
		}
		if err := paths.ValidateName(r.NewName); err != nil {
			return Request{}, invalid("%v", err)
		}
	case KindChattr:
		if len(out.Sources) == 0 {
			return Request{}, invalid("chattr needs at least one source")
		}
		if r.Attributes == nil || (r.Attributes.Mode == nil && r.Attributes.Owner == "" && r.Attributes.Group == "") {
			return Request{}, invalid("chattr needs a mode, owner or group")
		}
	case KindBulkRename:
		if len(r.Renames) == 0 {
			return Request{}, invalid("bulk rename needs at least one pair")
		}
		out.Renames = make([]RenamePair, 0, len(r.Renames))
		for _, p := range r.Renames {
			norm, err := paths.Normalize(p.Source)
			if err != nil {
				return Request{}, invalid("bad source %q: %v", p.Source, err)
			}
			if err := paths.ValidateName(p.NewName); err != nil {
				return Request{}, invalid("%v", err)
			}
			out.Renames = append(out.Renames, RenamePair{Source: norm, NewName: p.NewName})
		}
		if out.MaxConsecutiveFailures < 0 {
			return Request{}, invalid("negative failure budget %d", out.MaxConsecutiveFailures)
		}
	default:
		return Request{}, invalid("unknown job kind %q", r.Kind)
	}
	return out, nil
}

// MutationOp is the kind of change a job made to one path
type MutationOp string

const (
	MutationInserted MutationOp = "inserted"
	MutationUpdated  MutationOp = "updated"
	MutationRemoved  MutationOp = "removed"
)

// Mutation reports one accepted change, in completion order
type Mutation struct {
	Op   MutationOp
	Path string
}

// Notifier receives mutations as a job makes them
type Notifier func(Mutation)

// errCancelled marks a user cancellation
var errCancelled = errors.New("job cancelled")

// fatalError aborts the job and marks it Failed
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

// IsFatal reports whether err aborted a job
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
