package fsys

import (
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Synthetic device numbers for billy filesystems start far above anything a
// kernel hands out, so they never collide with a real device id.
var nextDevice atomic.Uint64

func init() {
	nextDevice.Store(1 << 48)
}

// Billy adapts a go-billy filesystem. Each instance is its own device.
type Billy struct {
	fs  billy.Filesystem
	dev uint64
}

// NewBilly wraps bfs
func NewBilly(bfs billy.Filesystem) *Billy {
	return &Billy{fs: bfs, dev: nextDevice.Add(1)}
}

// NewMemory returns an empty in-memory filesystem
func NewMemory() *Billy {
	return NewBilly(memfs.New())
}

func (b *Billy) Lstat(name string) (fs.FileInfo, error) {
	if s, ok := b.fs.(billy.Symlink); ok {
		return s.Lstat(name)
	}
	return b.fs.Stat(name)
}

func (b *Billy) Stat(name string) (fs.FileInfo, error) { return b.fs.Stat(name) }

func (b *Billy) ReadDir(name string) ([]fs.FileInfo, error) {
	infos, err := b.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	out := make([]fs.FileInfo, len(infos))
	copy(out, infos)
	return out, nil
}

func (b *Billy) Open(name string) (File, error) {
	return b.fs.Open(name)
}

func (b *Billy) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	return b.fs.OpenFile(name, flag, perm)
}

// Mkdir creates a single directory. billy only offers MkdirAll, so the
// existence and parent checks are done here.
func (b *Billy) Mkdir(name string, perm fs.FileMode) error {
	if _, err := b.Lstat(name); err == nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
	}
	parent, err := b.Stat(paths.Parent(name))
	if err != nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrNotExist}
	}
	if !parent.IsDir() {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fmt.Errorf("parent is not a directory")}
	}
	return b.fs.MkdirAll(name, perm)
}

func (b *Billy) MkdirAll(name string, perm fs.FileMode) error { return b.fs.MkdirAll(name, perm) }
func (b *Billy) Remove(name string) error                     { return b.fs.Remove(name) }
func (b *Billy) Rename(oldpath, newpath string) error         { return b.fs.Rename(oldpath, newpath) }

func (b *Billy) Symlink(target, link string) error {
	s, ok := b.fs.(billy.Symlink)
	if !ok {
		return &fs.PathError{Op: "symlink", Path: link, Err: fserr.ErrUnsupported}
	}
	return s.Symlink(target, link)
}

func (b *Billy) Readlink(name string) (string, error) {
	s, ok := b.fs.(billy.Symlink)
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fserr.ErrUnsupported}
	}
	return s.Readlink(name)
}

func (b *Billy) change(op, name string) (billy.Change, error) {
	c, ok := b.fs.(billy.Change)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fserr.ErrUnsupported}
	}
	return c, nil
}

func (b *Billy) Chmod(name string, mode fs.FileMode) error {
	c, err := b.change("chmod", name)
	if err != nil {
		return err
	}
	return c.Chmod(name, mode)
}

func (b *Billy) Chtimes(name string, atime, mtime time.Time) error {
	c, err := b.change("chtimes", name)
	if err != nil {
		return err
	}
	return c.Chtimes(name, atime, mtime)
}

func (b *Billy) Lchown(name string, uid, gid int) error {
	c, err := b.change("lchown", name)
	if err != nil {
		return err
	}
	return c.Lchown(name, uid, gid)
}

func (b *Billy) Device(name string) (uint64, error) {
	if _, err := b.Lstat(name); err != nil {
		return 0, err
	}
	return b.dev, nil
}

// Writable only checks that dir is an existing directory; billy has no
// permission model.
func (b *Billy) Writable(dir string) error {
	info, err := b.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "access", Path: dir, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

func (b *Billy) Walk(root string, fn WalkFunc) error {
	return util.Walk(b.fs, root, func(path string, info os.FileInfo, err error) error {
		return fn(path, info, err)
	})
}
