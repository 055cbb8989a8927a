package types

import (
	"io/fs"
	"strings"
	"time"

	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Kind classifies an entry
type Kind string

const (
	KindRegular   Kind = "regular"
	KindDirectory Kind = "directory"
	KindSymlink   Kind = "symlink"
	KindSpecial   Kind = "special"
)

// KindOf maps a file mode to its Kind
func KindOf(mode fs.FileMode) Kind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindRegular
	default:
		return KindSpecial
	}
}

// Entry is an immutable snapshot of one directory entry's metadata.
type Entry struct {
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	Kind       Kind        `json:"kind"`
	Size       int64       `json:"size"`
	ModTime    time.Time   `json:"mod_time"`
	Mode       fs.FileMode `json:"mode"`
	LinkTarget string      `json:"link_target,omitempty"`
	Hidden     bool        `json:"hidden"`
	MimeType   string      `json:"mime_type,omitempty"`
}

// NewEntry builds an Entry for dir/info.Name() from an lstat result.
// linkTarget is only kept for symlinks.
func NewEntry(dir string, info fs.FileInfo, linkTarget string) Entry {
	name := info.Name()
	e := Entry{
		Name:    name,
		Path:    paths.Join(dir, name),
		Kind:    KindOf(info.Mode()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
		Hidden:  strings.HasPrefix(name, "."),
	}
	if e.Kind == KindSymlink {
		e.LinkTarget = linkTarget
	}
	if e.Kind == KindDirectory {
		e.Size = 0
	}
	return e
}

// IsDir reports whether the entry is a directory
func (e Entry) IsDir() bool { return e.Kind == KindDirectory }

// Equal compares every metadata field. Reconciliation uses it to skip
// applying a state the model already holds.
func (e Entry) Equal(o Entry) bool {
	return e.Name == o.Name &&
		e.Path == o.Path &&
		e.Kind == o.Kind &&
		e.Size == o.Size &&
		e.ModTime.Equal(o.ModTime) &&
		e.Mode == o.Mode &&
		e.LinkTarget == o.LinkTarget &&
		e.Hidden == o.Hidden &&
		e.MimeType == o.MimeType
}

// WithMimeType returns a copy carrying the detected content type
func (e Entry) WithMimeType(mime string) Entry {
	e.MimeType = mime
	return e
}
