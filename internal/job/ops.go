package job

import (
	"errors"
	"fmt"
	"io/fs"
	"os/user"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

func (x *execution) runCopy() error {
	if err := x.checkDestination(); err != nil {
		return err
	}
	trees, err := x.scan(x.req.Sources, x.req.FollowLinks)
	if err != nil {
		return err
	}
	x.setTotals(trees, 0)

	for _, t := range trees {
		dest := paths.Join(x.req.Destination, paths.Base(t.root))
		if err := x.copyTree(t, dest, false, false); err != nil {
			return err
		}
	}
	return nil
}

// runMove renames each source root in one step when it can. A root that
// merges into an existing directory is moved file by file, still by rename
// on the same device; a rename that crosses devices falls back to copy,
// verify, delete.
func (x *execution) runMove() error {
	if err := x.checkDestination(); err != nil {
		return err
	}
	trees, err := x.scan(x.req.Sources, false)
	if err != nil {
		return err
	}
	x.setTotals(trees, 0)

	for _, t := range trees {
		if err := x.checkpoint(); err != nil {
			return err
		}
		x.current(t.root)

		dest := paths.Join(x.req.Destination, paths.Base(t.root))
		if dest == t.root {
			x.advance(t.files, t.bytes)
			continue
		}

		out := writeNew
		existing, err := x.fs.Lstat(dest)
		switch {
		case err == nil && existing.IsDir() && t.info.IsDir():
			x.leafRename = true
			if err := x.copyTree(t, dest, true, true); err != nil {
				return err
			}
			continue
		case err == nil:
			var target string
			target, out, err = x.resolve(t.root, t.info, dest, existing)
			if err != nil {
				return err
			}
			if out == skipIt {
				x.advance(t.files, t.bytes)
				continue
			}
			if out == writeOver && kindMismatch(t.info, existing) {
				x.fail(t.root, errKindMismatch(dest))
				continue
			}
			dest = target
		case !errors.Is(err, fs.ErrNotExist):
			if err := x.failWrite(dest, fserr.Wrap("move", dest, err)); err != nil {
				return err
			}
			continue
		}

		err = x.fs.Rename(t.root, dest)
		switch {
		case err == nil:
			x.advance(t.files, t.bytes)
			x.mutated(MutationRemoved, t.root)
			if out == writeOver {
				x.mutated(MutationUpdated, dest)
			} else {
				x.mutated(MutationInserted, dest)
			}
		case fserr.Is(err, fserr.CrossDeviceMove):
			x.logger.Debug("Cross-device move, copying", zap.String("source", t.root), zap.String("destination", dest))
			x.leafRename = false
			if err := x.copyTree(t, dest, true, true); err != nil {
				return err
			}
		default:
			if err := x.failWrite(t.root, fserr.Wrap("move", t.root, err)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *execution) runLink() error {
	if err := x.checkDestination(); err != nil {
		return err
	}
	x.setTotals(nil, int64(len(x.req.Sources)))

	for _, src := range x.req.Sources {
		if err := x.checkpoint(); err != nil {
			return err
		}
		x.current(src)

		info, err := x.fs.Lstat(src)
		if err != nil {
			x.fail(src, fserr.Wrap("link", src, err))
			continue
		}
		dest := paths.Join(x.req.Destination, paths.Base(src))
		out := writeNew
		if existing, err := x.fs.Lstat(dest); err == nil {
			var target string
			target, out, err = x.resolve(src, info, dest, existing)
			if err != nil {
				return err
			}
			if out == skipIt {
				x.advance(1, 0)
				continue
			}
			if out == writeOver {
				if existing.IsDir() {
					x.fail(src, errKindMismatch(dest))
					continue
				}
				if err := x.fs.Remove(dest); err != nil {
					x.fail(dest, fserr.Wrap("link", dest, err))
					continue
				}
			}
			dest = target
		}

		if err := x.fs.Symlink(src, dest); err != nil {
			if err := x.failWrite(dest, fserr.Wrap("link", dest, err)); err != nil {
				return err
			}
			continue
		}
		if out == writeOver {
			x.mutated(MutationUpdated, dest)
		} else {
			x.mutated(MutationInserted, dest)
		}
		x.advance(1, 0)
	}
	return nil
}

func (x *execution) runDelete(sources []string) error {
	trees, err := x.scan(sources, false)
	if err != nil {
		return err
	}
	x.setTotals(trees, 0)
	return x.deleteTrees(trees)
}

// deleteTrees removes children before parents. A directory whose children
// could not all be removed is left in place.
func (x *execution) deleteTrees(trees []tree) error {
	for _, t := range trees {
		blocked := make(map[string]bool)
		for _, n := range t.nodes {
			if err := x.checkpoint(); err != nil {
				return err
			}
			if n.info.IsDir() && !n.post {
				continue
			}
			if n.post && blocked[n.path] {
				blocked[paths.Parent(n.path)] = true
				continue
			}

			x.current(n.path)
			if err := x.fs.Remove(n.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				x.fail(n.path, fserr.Wrap("delete", n.path, err))
				blocked[paths.Parent(n.path)] = true
				continue
			}
			x.mutated(MutationRemoved, n.path)
			if !n.info.IsDir() {
				size := int64(0)
				if n.info.Mode().IsRegular() {
					size = n.info.Size()
				}
				x.advance(1, size)
			}
		}
	}
	return nil
}

// runTrash moves sources into the trash. Every source is checked first:
// one that cannot be trashed fails the job before anything moves, unless
// the preferences allow deleting it outright.
func (x *execution) runTrash() error {
	bin := x.engine.opts.Trash
	prefs := x.engine.opts.Preferences

	var toTrash, toDelete []string
	for _, src := range x.req.Sources {
		var err error = fserr.New(fserr.Unavailable, "trash", src, errors.New("no trash configured"))
		if bin != nil {
			err = bin.Available(src)
		}
		switch {
		case err == nil:
			toTrash = append(toTrash, src)
		case prefs != nil && prefs.AllowPermanentDelete(src):
			x.logger.Info("Trash unavailable, deleting permanently", zap.String("path", src), zap.Error(err))
			toDelete = append(toDelete, src)
		default:
			return fatal(fmt.Errorf("cannot trash %s: %w", src, err))
		}
	}

	trees, err := x.scan(toDelete, false)
	if err != nil {
		return err
	}
	x.setTotals(trees, int64(len(toTrash)))

	for _, src := range toTrash {
		if err := x.checkpoint(); err != nil {
			return err
		}
		x.current(src)
		tid, err := bin.Put(x.ctx, src)
		if err != nil {
			if x.ctx.Err() != nil {
				return errCancelled
			}
			x.fail(src, err)
			continue
		}
		x.result.TrashIDs = append(x.result.TrashIDs, tid)
		x.mutated(MutationRemoved, src)
		x.advance(1, 0)
	}
	return x.deleteTrees(trees)
}

// trashedInfo presents a trash record as file metadata for conflicts
type trashedInfo struct {
	name    string
	mode    fs.FileMode
	modTime time.Time
}

func (t trashedInfo) Name() string       { return t.name }
func (t trashedInfo) Size() int64        { return 0 }
func (t trashedInfo) Mode() fs.FileMode  { return t.mode }
func (t trashedInfo) ModTime() time.Time { return t.modTime }
func (t trashedInfo) IsDir() bool        { return t.mode.IsDir() }
func (t trashedInfo) Sys() any           { return nil }

func (x *execution) runRestore() error {
	bin := x.engine.opts.Trash
	if bin == nil {
		return fatal(fserr.New(fserr.Unavailable, "restore", "", errors.New("no trash configured")))
	}
	x.setTotals(nil, int64(len(x.req.TrashIDs)))

	for _, tid := range x.req.TrashIDs {
		if err := x.checkpoint(); err != nil {
			return err
		}
		if err := x.restoreOne(tid); err != nil {
			return err
		}
		x.advance(1, 0)
	}
	return nil
}

func (x *execution) restoreOne(tid id.TrashID) error {
	bin := x.engine.opts.Trash
	rec, err := bin.Info(tid)
	if err != nil {
		x.fail(string(tid), err)
		return nil
	}
	x.current(rec.Path)

	mode := rec.Mode
	switch rec.Kind {
	case types.KindDirectory:
		mode |= fs.ModeDir
	case types.KindSymlink:
		mode |= fs.ModeSymlink
	}
	info := trashedInfo{name: paths.Base(rec.Path), mode: mode, modTime: rec.DeletionDate}

	dest := rec.Path
	out := writeNew
	existing, err := x.fs.Lstat(dest)
	switch {
	case err == nil:
		var target string
		target, out, err = x.resolve(rec.Path, info, dest, existing)
		if err != nil {
			return err
		}
		if out == skipIt {
			return nil
		}
		if out == writeOver {
			if kindMismatch(info, existing) {
				x.fail(dest, errKindMismatch(dest))
				return nil
			}
			if err := fsys.RemoveAll(x.fs, dest); err != nil {
				x.fail(dest, fserr.Wrap("restore", dest, err))
				return nil
			}
		}
		dest = target
	case !errors.Is(err, fs.ErrNotExist):
		x.fail(dest, fserr.Wrap("restore", dest, err))
		return nil
	}

	if err := bin.RestoreTo(x.ctx, tid, dest); err != nil {
		x.fail(dest, err)
		return nil
	}
	if out == writeOver {
		x.mutated(MutationUpdated, dest)
	} else {
		x.mutated(MutationInserted, dest)
	}
	return nil
}

func (x *execution) runRename() error {
	src := x.req.Sources[0]
	x.setTotals(nil, 1)
	x.current(src)

	info, err := x.fs.Lstat(src)
	if err != nil {
		x.fail(src, fserr.Wrap("rename", src, err))
		return nil
	}
	dest := paths.Join(paths.Parent(src), x.req.NewName)
	if dest == src {
		x.advance(1, 0)
		return nil
	}

	out := writeNew
	if existing, err := x.fs.Lstat(dest); err == nil {
		var target string
		target, out, err = x.resolve(src, info, dest, existing)
		if err != nil {
			return err
		}
		if out == skipIt {
			x.advance(1, 0)
			return nil
		}
		if out == writeOver && (existing.IsDir() || info.IsDir()) {
			x.fail(src, errKindMismatch(dest))
			return nil
		}
		dest = target
	}

	if err := x.fs.Rename(src, dest); err != nil {
		x.fail(src, fserr.Wrap("rename", src, err))
		return nil
	}
	x.mutated(MutationRemoved, src)
	if out == writeOver {
		x.mutated(MutationUpdated, dest)
	} else {
		x.mutated(MutationInserted, dest)
	}
	x.advance(1, 0)
	return nil
}

func (x *execution) runChattr() error {
	attrs := x.req.Attributes
	uid, gid := -1, -1
	if attrs.Owner != "" {
		n, err := lookupUser(attrs.Owner)
		if err != nil {
			return fatal(fserr.New(fserr.InvalidInput, "chattr", "", err))
		}
		uid = n
	}
	if attrs.Group != "" {
		n, err := lookupGroup(attrs.Group)
		if err != nil {
			return fatal(fserr.New(fserr.InvalidInput, "chattr", "", err))
		}
		gid = n
	}

	var trees []tree
	if attrs.Recursive {
		var err error
		if trees, err = x.scan(x.req.Sources, false); err != nil {
			return err
		}
	} else {
		for _, src := range x.req.Sources {
			info, err := x.fs.Lstat(src)
			if err != nil {
				x.fail(src, fserr.Wrap("chattr", src, err))
				continue
			}
			trees = append(trees, tree{root: src, info: info, nodes: []node{{path: src, info: info}}, files: 1})
		}
	}
	x.setTotals(trees, 0)

	for _, t := range trees {
		for _, n := range t.nodes {
			if n.post {
				continue
			}
			if err := x.checkpoint(); err != nil {
				return err
			}
			x.current(n.path)
			if x.chattrOne(n, uid, gid) {
				x.mutated(MutationUpdated, n.path)
			}
			if !n.info.IsDir() {
				x.advance(1, 0)
			}
		}
	}
	return nil
}

func (x *execution) chattrOne(n node, uid, gid int) bool {
	attrs := x.req.Attributes
	if attrs.Mode != nil && n.info.Mode()&fs.ModeSymlink == 0 {
		if err := x.fs.Chmod(n.path, attrs.Mode.Perm()); err != nil {
			x.fail(n.path, fserr.Wrap("chmod", n.path, err))
			return false
		}
	}
	if uid != -1 || gid != -1 {
		if err := x.fs.Lchown(n.path, uid, gid); err != nil {
			x.fail(n.path, fserr.Wrap("chown", n.path, err))
			return false
		}
	}
	return true
}

// lookupUser accepts a user name or a numeric uid
func lookupUser(name string) (int, error) {
	if n, err := strconv.Atoi(name); err == nil && n >= 0 {
		return n, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown user %q: %w", name, err)
	}
	return strconv.Atoi(u.Uid)
}

// lookupGroup accepts a group name or a numeric gid
func lookupGroup(name string) (int, error) {
	if n, err := strconv.Atoi(name); err == nil && n >= 0 {
		return n, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}
