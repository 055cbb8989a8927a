package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// execution is the state of one job run. It is owned by the goroutine
// running the job.
type execution struct {
	engine *Engine
	fs     fsys.FS
	h      *Handle
	req    Request
	ctx    context.Context
	logger *zap.Logger

	policy Policy
	sticky Action

	// destOf maps a source directory to the directory its children land in
	destOf map[string]string
	// created holds destination directories this job made
	created map[string]bool
	// leafRename lets a moving copyTree rename files into place instead of
	// copying them; cleared once a rename crosses devices
	leafRename bool

	errors []FileError
	result Result
}

func (x *execution) run() error {
	switch x.req.Kind {
	case KindCopy:
		return x.runCopy()
	case KindMove:
		return x.runMove()
	case KindLink:
		return x.runLink()
	case KindDelete:
		return x.runDelete(x.req.Sources)
	case KindTrash:
		return x.runTrash()
	case KindRestore:
		return x.runRestore()
	case KindRename:
		return x.runRename()
	case KindChattr:
		return x.runChattr()
	case KindBulkRename:
		return x.runBulkRename()
	}
	return fatal(fmt.Errorf("unknown job kind %q", x.req.Kind))
}

func (x *execution) checkpoint() error {
	return x.h.checkpoint(x.ctx)
}

// fail records a per-file error
func (x *execution) fail(path string, err error) {
	fe := newFileError(path, err)
	x.errors = append(x.errors, fe)
	x.engine.metrics.RecordFileError(string(fe.Code))
	x.logger.Debug("File error", zap.String("path", path), zap.Error(err))
	x.h.update(func(p *Progress) {
		p.Errors = append(p.Errors, fe)
	})
}

// failWrite records a failed write into the destination. When the
// destination root itself has gone away the rest of the job cannot
// succeed, so that is fatal.
func (x *execution) failWrite(path string, err error) error {
	if errors.Is(err, errCancelled) {
		return err
	}
	if x.req.Destination != "" && fserr.Is(err, fserr.NotFound) {
		if ok, _ := fsys.Exists(x.fs, x.req.Destination); !ok {
			return fatal(fserr.New(fserr.NotFound, x.req.Kind.String(), x.req.Destination, errors.New("destination removed while the job was running")))
		}
	}
	x.fail(path, err)
	return nil
}

func (x *execution) mutated(op MutationOp, path string) {
	x.h.report(Mutation{Op: op, Path: path})
}

func (x *execution) advance(files, bytes int64) {
	x.h.update(func(p *Progress) {
		p.FilesDone += files
		p.BytesDone += bytes
	})
}

func (x *execution) current(path string) {
	x.h.update(func(p *Progress) { p.Current = path })
}

// checkDestination fails the job before any mutation when the destination
// directory is missing or unwritable.
func (x *execution) checkDestination() error {
	info, err := x.fs.Stat(x.req.Destination)
	if err != nil {
		return fatal(fserr.Wrap(x.req.Kind.String(), x.req.Destination, err))
	}
	if !info.IsDir() {
		return fatal(fserr.New(fserr.InvalidInput, x.req.Kind.String(), x.req.Destination, errors.New("destination is not a directory")))
	}
	if err := x.fs.Writable(x.req.Destination); err != nil {
		return fatal(fserr.Wrap(x.req.Kind.String(), x.req.Destination, err))
	}
	return nil
}

// String returns the kind name
func (k Kind) String() string { return string(k) }

type outcome int

const (
	writeNew outcome = iota
	writeOver
	skipIt
)

// resolve decides what happens when dest already exists. It returns the
// path to write to and whether that path is free or gets replaced.
func (x *execution) resolve(srcPath string, srcInfo fs.FileInfo, dest string, existing fs.FileInfo) (string, outcome, error) {
	for {
		action := x.sticky
		if action == "" {
			switch x.policy {
			case PolicyOverwrite:
				action = ActionOverwrite
			case PolicySkip:
				action = ActionSkip
			case PolicyAutoRename:
				free, err := UniqueName(x.fs, paths.Parent(dest), paths.Base(dest), srcInfo.IsDir())
				if err != nil {
					return "", skipIt, err
				}
				return free, writeNew, nil
			}
		}

		var newName string
		if action == "" {
			c := newConflict(x.h.id,
				types.NewEntry(paths.Parent(srcPath), srcInfo, ""),
				types.NewEntry(paths.Parent(dest), existing, ""))
			d, err := x.h.ask(x.ctx, c)
			if err != nil {
				return "", skipIt, err
			}
			x.engine.metrics.RecordConflict(string(d.Action))
			action, newName = d.Action, d.NewName
		}

		switch action {
		case ActionOverwriteAll:
			x.sticky = ActionOverwriteAll
			return dest, writeOver, nil
		case ActionOverwrite:
			return dest, writeOver, nil
		case ActionSkipAll:
			x.sticky = ActionSkipAll
			return "", skipIt, nil
		case ActionSkip:
			return "", skipIt, nil
		case ActionCancel:
			return "", skipIt, errCancelled
		case ActionRename:
			target := paths.Join(paths.Parent(dest), newName)
			info, err := x.fs.Lstat(target)
			if errors.Is(err, fs.ErrNotExist) {
				return target, writeNew, nil
			}
			if err != nil {
				return "", skipIt, fserr.Wrap("rename", target, err)
			}
			// the new name is taken too: ask again about that one
			dest, existing = target, info
		default:
			return "", skipIt, fmt.Errorf("unknown conflict action %q", action)
		}
	}
}

// kindMismatch reports overwriting a directory with a non-directory or
// the other way round
func kindMismatch(src, dst fs.FileInfo) bool {
	return src.IsDir() != dst.IsDir()
}

func errKindMismatch(dest string) error {
	return fserr.New(fserr.AlreadyExists, "overwrite", dest, errors.New("cannot replace between a directory and a non-directory"))
}

// copyTree copies (or, with move set, moves node by node) one scanned tree
// so that its root lands at rootDest. When rootDecided is set the root's
// conflict has already been settled by the caller.
func (x *execution) copyTree(t tree, rootDest string, move, rootDecided bool) error {
	skipped := make(map[string]bool)

	for _, n := range t.nodes {
		if err := x.checkpoint(); err != nil {
			return err
		}

		parent := paths.Parent(n.path)
		if n.path != t.root && skipped[parent] {
			if n.info.IsDir() {
				skipped[n.path] = true
			}
			continue
		}
		if n.post {
			x.finishDir(n, move)
			continue
		}

		dest := rootDest
		if n.path != t.root {
			dest = paths.Join(x.destOf[parent], paths.Base(n.path))
		}
		decided := rootDecided && n.path == t.root

		x.current(n.path)
		var err error
		if n.info.IsDir() {
			err = x.copyDir(n, dest, decided, skipped)
		} else {
			err = x.copyLeaf(n, dest, move, decided)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) copyDir(n node, dest string, decided bool, skipped map[string]bool) error {
	if dest == n.path {
		free, err := UniqueName(x.fs, paths.Parent(dest), paths.Base(dest), true)
		if err != nil {
			skipped[n.path] = true
			return x.failWrite(dest, err)
		}
		dest = free
	}

	existing, err := x.fs.Lstat(dest)
	switch {
	case err == nil && existing.IsDir():
		// directories merge without asking
		x.destOf[n.path] = dest
		return nil
	case err == nil && !decided:
		target, out, err := x.resolve(n.path, n.info, dest, existing)
		if err != nil {
			return err
		}
		switch out {
		case skipIt:
			skipped[n.path] = true
			return nil
		case writeOver:
			skipped[n.path] = true
			x.fail(n.path, errKindMismatch(dest))
			return nil
		}
		dest = target
	case err == nil:
		skipped[n.path] = true
		x.fail(n.path, errKindMismatch(dest))
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		skipped[n.path] = true
		return x.failWrite(dest, fserr.Wrap("copy", dest, err))
	}

	if err := x.fs.Mkdir(dest, n.info.Mode().Perm()|0o700); err != nil {
		skipped[n.path] = true
		return x.failWrite(dest, fserr.Wrap("copy", dest, err))
	}
	x.destOf[n.path] = dest
	if x.created == nil {
		x.created = make(map[string]bool)
	}
	x.created[dest] = true
	x.mutated(MutationInserted, dest)
	return nil
}

// finishDir applies a copied directory's metadata once its children are in
// place, and removes an emptied source directory when moving.
func (x *execution) finishDir(n node, move bool) {
	dest, ok := x.destOf[n.path]
	if !ok {
		return
	}
	if x.created[dest] {
		if err := x.fs.Chmod(dest, n.info.Mode().Perm()); err != nil && !fserr.Is(err, fserr.Unsupported) {
			x.fail(dest, fserr.Wrap("chmod", dest, err))
		}
		mt := n.info.ModTime()
		if err := x.fs.Chtimes(dest, mt, mt); err != nil && !fserr.Is(err, fserr.Unsupported) {
			x.logger.Debug("Failed to preserve times", zap.String("path", dest), zap.Error(err))
		}
	}
	if !move {
		return
	}
	children, err := x.fs.ReadDir(n.path)
	if err != nil || len(children) > 0 {
		// something below was skipped or failed; keep the source
		return
	}
	if err := x.fs.Remove(n.path); err != nil {
		x.fail(n.path, fserr.Wrap("move", n.path, err))
		return
	}
	x.mutated(MutationRemoved, n.path)
}

func (x *execution) copyLeaf(n node, dest string, move, decided bool) error {
	if dest == n.path {
		if move {
			x.advance(1, n.info.Size())
			return nil
		}
		free, err := UniqueName(x.fs, paths.Parent(dest), paths.Base(dest), false)
		if err != nil {
			return x.failWrite(dest, err)
		}
		dest = free
	}

	out := writeNew
	existing, err := x.fs.Lstat(dest)
	switch {
	case err == nil && decided:
		out = writeOver
	case err == nil:
		var target string
		target, out, err = x.resolve(n.path, n.info, dest, existing)
		if err != nil {
			return err
		}
		if out == skipIt {
			x.advance(1, n.info.Size())
			return nil
		}
		dest = target
	case !errors.Is(err, fs.ErrNotExist):
		return x.failWrite(dest, fserr.Wrap("copy", dest, err))
	}
	if out == writeOver && existing.IsDir() {
		x.fail(n.path, errKindMismatch(dest))
		return nil
	}

	if move && x.leafRename {
		err := x.fs.Rename(n.path, dest)
		if err == nil {
			x.advance(1, n.info.Size())
			x.mutated(MutationRemoved, n.path)
			if out == writeOver {
				x.mutated(MutationUpdated, dest)
			} else {
				x.mutated(MutationInserted, dest)
			}
			return nil
		}
		if !fserr.Is(err, fserr.CrossDeviceMove) {
			return x.failWrite(n.path, fserr.Wrap("move", n.path, err))
		}
		// a mount point sits inside the destination: copy from here on
		x.leafRename = false
	}

	switch {
	case n.info.Mode().IsRegular():
		if _, err := x.copyFile(n.path, dest, n.info); err != nil {
			return x.failWrite(n.path, err)
		}
	case n.info.Mode()&fs.ModeSymlink != 0:
		target, err := x.fs.Readlink(n.path)
		if err != nil {
			x.fail(n.path, fserr.Wrap("readlink", n.path, err))
			return nil
		}
		if out == writeOver {
			if err := x.fs.Remove(dest); err != nil {
				return x.failWrite(dest, fserr.Wrap("overwrite", dest, err))
			}
		}
		if err := x.fs.Symlink(target, dest); err != nil {
			return x.failWrite(dest, fserr.Wrap("symlink", dest, err))
		}
		x.advance(1, 0)
	default:
		x.fail(n.path, fserr.New(fserr.Unsupported, "copy", n.path, errors.New("special files cannot be copied")))
		return nil
	}

	if out == writeOver {
		x.mutated(MutationUpdated, dest)
	} else {
		x.mutated(MutationInserted, dest)
	}

	if move {
		if err := x.verify(n.path, dest, n.info); err != nil {
			x.fail(n.path, err)
			return nil
		}
		if err := x.fs.Remove(n.path); err != nil {
			x.fail(n.path, fserr.Wrap("move", n.path, err))
			return nil
		}
		x.mutated(MutationRemoved, n.path)
	}
	return nil
}

// copyFile streams src into a temporary sibling of dst and renames it into
// place. A failed or cancelled copy leaves no partial file behind.
func (x *execution) copyFile(src, dst string, info fs.FileInfo) (written int64, err error) {
	in, err := x.fs.Open(src)
	if err != nil {
		return 0, fserr.Wrap("copy", src, err)
	}
	defer in.Close()

	tmp := fsys.TempName(paths.Parent(dst), paths.Base(dst))
	out, err := x.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|0o600)
	if err != nil {
		return 0, fserr.Wrap("copy", dst, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			x.fs.Remove(tmp)
		}
	}()

	buf := make([]byte, x.engine.opts.ChunkSize)
	for {
		if err = x.checkpoint(); err != nil {
			return written, err
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, err = out.Write(buf[:n]); err != nil {
				return written, fserr.Wrap("copy", dst, err)
			}
			written += int64(n)
			x.advance(0, int64(n))
			x.engine.metrics.AddBytesCopied(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			err = fserr.Wrap("copy", src, rerr)
			return written, err
		}
	}

	if err = out.Close(); err != nil {
		err = fserr.Wrap("copy", dst, err)
		return written, err
	}
	if err = x.fs.Rename(tmp, dst); err != nil {
		err = fserr.Wrap("copy", dst, err)
		return written, err
	}

	if cerr := x.fs.Chmod(dst, info.Mode().Perm()); cerr != nil && !fserr.Is(cerr, fserr.Unsupported) {
		x.logger.Debug("Failed to preserve mode", zap.String("path", dst), zap.Error(cerr))
	}
	mt := info.ModTime()
	if cerr := x.fs.Chtimes(dst, mt, mt); cerr != nil && !fserr.Is(cerr, fserr.Unsupported) {
		x.logger.Debug("Failed to preserve times", zap.String("path", dst), zap.Error(cerr))
	}
	x.advance(1, 0)
	return written, nil
}

// verify confirms a copied file matches its source before the source is
// deleted
func (x *execution) verify(src, dst string, info fs.FileInfo) error {
	got, err := x.fs.Lstat(dst)
	if err != nil {
		return fserr.Wrap("verify", dst, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if got.Size() != info.Size() {
		return fserr.New(fserr.IOError, "verify", dst, fmt.Errorf("size mismatch: copied %d of %d bytes", got.Size(), info.Size()))
	}
	if !x.engine.opts.VerifyChecksums {
		return nil
	}
	a, err := x.digest(src)
	if err != nil {
		return err
	}
	b, err := x.digest(dst)
	if err != nil {
		return err
	}
	if a != b {
		return fserr.New(fserr.IOError, "verify", dst, errors.New("checksum mismatch"))
	}
	return nil
}

func (x *execution) digest(p string) (string, error) {
	f, err := x.fs.Open(p)
	if err != nil {
		return "", fserr.Wrap("verify", p, err)
	}
	defer f.Close()
	sum, err := x.engine.hasher.HashReader(f)
	if err != nil {
		return "", fserr.Wrap("verify", p, err)
	}
	return sum, nil
}
