package fsys

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"time"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// Mount attaches FS at Point. Paths below Point are handed to FS rebased on
// Root ("/" when empty).
type Mount struct {
	Point string
	FS    FS
	Root  string
}

type mount struct {
	point string
	root  string
	fs    FS
}

// Mounts routes each path to the mount with the longest matching point.
// Paths outside every mount go to the root filesystem unchanged.
type Mounts struct {
	root   FS
	mounts []mount
}

// NewMounts creates a router over root and the given mounts.
func NewMounts(root FS, mounts ...Mount) (*Mounts, error) {
	m := &Mounts{root: root}
	for _, mt := range mounts {
		point, err := paths.Normalize(mt.Point)
		if err != nil {
			return nil, fmt.Errorf("invalid mount point %q: %w", mt.Point, err)
		}
		if mt.FS == nil {
			return nil, fmt.Errorf("mount %s has no filesystem", point)
		}
		r := mt.Root
		if r == "" {
			r = paths.Separator
		}
		for _, existing := range m.mounts {
			if existing.point == point {
				return nil, fmt.Errorf("duplicate mount point %s", point)
			}
		}
		m.mounts = append(m.mounts, mount{point: point, root: path.Clean(r), fs: mt.FS})
	}
	sort.Slice(m.mounts, func(i, j int) bool {
		return len(m.mounts[i].point) > len(m.mounts[j].point)
	})
	return m, nil
}

// resolve returns the mount index (-1 for root), the backing FS and the
// path inside it.
func (m *Mounts) resolve(name string) (int, FS, string) {
	for i, mt := range m.mounts {
		if rel, ok := paths.Rel(mt.point, name); ok {
			return i, mt.fs, path.Join(mt.root, rel)
		}
	}
	return -1, m.root, name
}

// outer maps an inner path of mount idx back into the router namespace.
func (m *Mounts) outer(idx int, inner string) string {
	if idx < 0 {
		return inner
	}
	mt := m.mounts[idx]
	rel, ok := paths.Rel(mt.root, inner)
	if !ok {
		return inner
	}
	return path.Join(mt.point, rel)
}

func (m *Mounts) Lstat(name string) (fs.FileInfo, error) {
	_, f, p := m.resolve(name)
	return f.Lstat(p)
}

func (m *Mounts) Stat(name string) (fs.FileInfo, error) {
	_, f, p := m.resolve(name)
	return f.Stat(p)
}

func (m *Mounts) ReadDir(name string) ([]fs.FileInfo, error) {
	_, f, p := m.resolve(name)
	return f.ReadDir(p)
}

func (m *Mounts) Open(name string) (File, error) {
	_, f, p := m.resolve(name)
	return f.Open(p)
}

func (m *Mounts) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	_, f, p := m.resolve(name)
	return f.OpenFile(p, flag, perm)
}

func (m *Mounts) Mkdir(name string, perm fs.FileMode) error {
	_, f, p := m.resolve(name)
	return f.Mkdir(p, perm)
}

func (m *Mounts) MkdirAll(name string, perm fs.FileMode) error {
	_, f, p := m.resolve(name)
	return f.MkdirAll(p, perm)
}

func (m *Mounts) Remove(name string) error {
	_, f, p := m.resolve(name)
	return f.Remove(p)
}

// Rename fails with fserr.ErrCrossDevice when the paths live on different mounts.
func (m *Mounts) Rename(oldpath, newpath string) error {
	i, f, op := m.resolve(oldpath)
	j, _, np := m.resolve(newpath)
	if i != j {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fserr.ErrCrossDevice}
	}
	return f.Rename(op, np)
}

func (m *Mounts) Symlink(target, link string) error {
	_, f, p := m.resolve(link)
	return f.Symlink(target, p)
}

func (m *Mounts) Readlink(name string) (string, error) {
	_, f, p := m.resolve(name)
	return f.Readlink(p)
}

func (m *Mounts) Chmod(name string, mode fs.FileMode) error {
	_, f, p := m.resolve(name)
	return f.Chmod(p, mode)
}

func (m *Mounts) Chtimes(name string, atime, mtime time.Time) error {
	_, f, p := m.resolve(name)
	return f.Chtimes(p, atime, mtime)
}

func (m *Mounts) Lchown(name string, uid, gid int) error {
	_, f, p := m.resolve(name)
	return f.Lchown(p, uid, gid)
}

// Device folds the mount index into the backing device id so two mounts
// never report the same device.
func (m *Mounts) Device(name string) (uint64, error) {
	i, f, p := m.resolve(name)
	dev, err := f.Device(p)
	if err != nil {
		return 0, err
	}
	return uint64(i+1)<<56 ^ dev, nil
}

func (m *Mounts) Writable(dir string) error {
	_, f, p := m.resolve(dir)
	return f.Writable(p)
}

// Walk stays on the mount that holds root.
func (m *Mounts) Walk(root string, fn WalkFunc) error {
	i, f, p := m.resolve(root)
	return f.Walk(p, func(inner string, info fs.FileInfo, err error) error {
		return fn(m.outer(i, inner), info, err)
	})
}

func (m *Mounts) NativePath(name string) (string, bool) {
	_, f, p := m.resolve(name)
	return NativePath(f, p)
}

// MountPoint returns the mount point holding name, or "/" for the root.
func (m *Mounts) MountPoint(name string) string {
	i, _, _ := m.resolve(name)
	if i < 0 {
		return paths.Separator
	}
	return m.mounts[i].point
}
