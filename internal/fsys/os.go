package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/filer/internal/fserr"
)

// OS is the local filesystem
type OS struct {
	walkConf *fastwalk.Config
}

// NewOS creates the local filesystem. Walks never follow symlinks.
func NewOS() *OS {
	return &OS{
		walkConf: &fastwalk.Config{Follow: false},
	}
}

func (o *OS) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }
func (o *OS) Stat(name string) (fs.FileInfo, error)  { return os.Stat(name) }

// ReadDir lists name. Entries that vanish between listing and lstat are skipped.
func (o *OS) ReadDir(name string) ([]fs.FileInfo, error) {
	dirents, err := os.ReadDir(name)
	if err != nil {
		return nil, err
	}
	infos := make([]fs.FileInfo, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (o *OS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (o *OS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (o *OS) Mkdir(name string, perm fs.FileMode) error    { return os.Mkdir(name, perm) }
func (o *OS) MkdirAll(name string, perm fs.FileMode) error { return os.MkdirAll(name, perm) }
func (o *OS) Remove(name string) error                     { return os.Remove(name) }

// Rename maps EXDEV onto fserr.ErrCrossDevice.
func (o *OS) Rename(oldpath, newpath string) error {
	err := os.Rename(oldpath, newpath)
	if err != nil && isCrossDevice(err) {
		return fmt.Errorf("rename %s %s: %w", oldpath, newpath, fserr.ErrCrossDevice)
	}
	return err
}

func (o *OS) Symlink(target, link string) error          { return os.Symlink(target, link) }
func (o *OS) Readlink(name string) (string, error)       { return os.Readlink(name) }
func (o *OS) Chmod(name string, mode fs.FileMode) error  { return os.Chmod(name, mode) }
func (o *OS) Lchown(name string, uid, gid int) error     { return os.Lchown(name, uid, gid) }
func (o *OS) Device(name string) (uint64, error)         { return deviceOf(name) }
func (o *OS) Writable(dir string) error                  { return writable(dir) }
func (o *OS) NativePath(name string) (string, bool)      { return name, true }
func (o *OS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

// Walk visits root and everything below it using fastwalk. fn runs
// concurrently across directories.
func (o *OS) Walk(root string, fn WalkFunc) error {
	return fastwalk.Walk(o.walkConf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fn(path, nil, err)
		}
		info, err := d.Info()
		return fn(path, info, err)
	})
}
