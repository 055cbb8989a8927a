// Package fsys is the storage surface every engine component goes through.
//
// Three implementations are provided: OS (the real local filesystem), Billy
// (any go-billy filesystem, in-memory ones included) and Mounts, which
// composes several filesystems into one namespace. A rename between two
// mounts fails with fserr.ErrCrossDevice exactly like a rename between two
// real devices, so callers only ever handle one fallback path.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// File is an open file handle
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Name() string
}

// WalkFunc visits one node of a walk. Implementations may call it from
// several goroutines at once.
type WalkFunc func(path string, info fs.FileInfo, err error) error

// FS is the filesystem abstraction. Paths are normalized absolute paths.
type FS interface {
	Lstat(name string) (fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	// ReadDir lists a directory using lstat semantics, sorted by name.
	ReadDir(name string) ([]fs.FileInfo, error)
	Open(name string) (File, error)
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	Mkdir(name string, perm fs.FileMode) error
	MkdirAll(name string, perm fs.FileMode) error
	Remove(name string) error
	// Rename is atomic within one device. Across devices it fails with an
	// error matching fserr.ErrCrossDevice.
	Rename(oldpath, newpath string) error
	Symlink(target, link string) error
	Readlink(name string) (string, error)
	Chmod(name string, mode fs.FileMode) error
	Chtimes(name string, atime, mtime time.Time) error
	Lchown(name string, uid, gid int) error
	// Device identifies the storage device holding name.
	Device(name string) (uint64, error)
	// Writable returns nil when the caller may create entries in dir.
	Writable(dir string) error
	Walk(root string, fn WalkFunc) error
}

// Notifiable is implemented by filesystems whose paths can be handed to the
// OS notification facility.
type Notifiable interface {
	NativePath(name string) (string, bool)
}

// NativePath returns the OS path backing name, if any.
func NativePath(fsys FS, name string) (string, bool) {
	if n, ok := fsys.(Notifiable); ok {
		return n.NativePath(name)
	}
	return "", false
}

// Exists reports whether name exists (without following symlinks).
func Exists(fsys FS, name string) (bool, error) {
	_, err := fsys.Lstat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ReadFile reads the whole file.
func ReadFile(fsys FS, name string) ([]byte, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

const (
	tempSuffix    = ".part"
	tempRandomLen = 10
)

// TempName returns a hidden, unique sibling name for staging writes into dir.
func TempName(dir, base string) string {
	suffix := strings.ToLower(id.Default().GenerateString()[26-tempRandomLen:])
	return paths.Join(dir, fmt.Sprintf(".%s.%s%s", base, suffix, tempSuffix))
}

// IsTempName reports whether name has the shape TempName produces. Views
// hide such names: they exist only while a write or rename is staged.
func IsTempName(name string) bool {
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempSuffix) {
		return false
	}
	rest := strings.TrimSuffix(name, tempSuffix)
	dot := len(rest) - tempRandomLen - 1
	if dot < 2 || rest[dot] != '.' {
		return false
	}
	for _, c := range rest[dot+1:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

// WriteFileAtomic writes data to a temporary sibling and renames it over
// name, so readers observe either the old or the new content.
func WriteFileAtomic(fsys FS, name string, data []byte, perm fs.FileMode) error {
	tmp := TempName(paths.Parent(name), paths.Base(name))

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fsys.Rename(tmp, name); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// RemoveAll removes name and everything below it, children before parents.
// Symlinks are removed, never followed. A missing name is not an error.
func RemoveAll(fsys FS, name string) error {
	info, err := fsys.Lstat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fsys.Remove(name)
	}

	type frame struct {
		path     string
		expanded bool
	}
	stack := []frame{{path: name}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.expanded {
			p := top.path
			stack = stack[:len(stack)-1]
			if err := fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			continue
		}

		top.expanded = true
		dir := top.path
		children, err := fsys.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		for _, child := range children {
			p := paths.Join(dir, child.Name())
			if child.IsDir() {
				stack = append(stack, frame{path: p})
				continue
			}
			if err := fsys.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}
