package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

const maxUniqueAttempts = 10000

// UniqueName returns dir/name, or the first free "stem (N).ext" variant
// when that is taken. Directories keep dots in their name intact.
func UniqueName(f fsys.FS, dir, name string, isDir bool) (string, error) {
	candidate := paths.Join(dir, name)
	stem, ext := name, ""
	if !isDir {
		stem, ext = paths.SplitExt(name)
	}
	for n := 2; n < maxUniqueAttempts; n++ {
		exists, err := fsys.Exists(f, candidate)
		if err != nil {
			return "", fserr.Wrap("unique name", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = paths.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return "", fserr.New(fserr.AlreadyExists, "unique name", paths.Join(dir, name), errors.New("no free name"))
}

// Create makes a new empty file or directory in dir. A taken name gets a
// numbered variant.
func (e *Engine) Create(ctx context.Context, dir, name string, isDir bool) (types.Entry, error) {
	if err := paths.ValidateName(name); err != nil {
		return types.Entry{}, fserr.New(fserr.InvalidInput, "create", name, err)
	}
	norm, err := paths.Normalize(dir)
	if err != nil {
		return types.Entry{}, fserr.New(fserr.InvalidInput, "create", dir, err)
	}
	if err := e.fs.Writable(norm); err != nil {
		return types.Entry{}, fserr.Wrap("create", norm, err)
	}

	// another writer may take the name between the check and the create
	for attempt := 0; attempt < 5; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.Entry{}, err
		}
		p, err := UniqueName(e.fs, norm, name, isDir)
		if err != nil {
			return types.Entry{}, err
		}

		if isDir {
			err = e.fs.Mkdir(p, 0o755)
		} else {
			var f fsys.File
			if f, err = e.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644); err == nil {
				err = f.Close()
			}
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return types.Entry{}, fserr.Wrap("create", p, err)
		}

		info, err := e.fs.Lstat(p)
		if err != nil {
			return types.Entry{}, fserr.Wrap("create", p, err)
		}
		if e.opts.Notifier != nil {
			e.opts.Notifier(Mutation{Op: MutationInserted, Path: p})
		}
		return types.NewEntry(norm, info, ""), nil
	}
	return types.Entry{}, fserr.New(fserr.AlreadyExists, "create", paths.Join(norm, name), fs.ErrExist)
}

// Count totals a set of trees
type Count struct {
	Files  int64 `json:"files"`
	Dirs   int64 `json:"dirs"`
	Bytes  int64 `json:"bytes"`
	Errors int64 `json:"errors"`
}

// DeepCount walks every root (without following symlinks) and totals what
// it finds. Unreadable entries are counted as errors, not returned.
func (e *Engine) DeepCount(ctx context.Context, roots []string) (Count, error) {
	var files, dirs, bytes, errs atomic.Int64
	for _, root := range roots {
		norm, err := paths.Normalize(root)
		if err != nil {
			return Count{}, fserr.New(fserr.InvalidInput, "count", root, err)
		}
		if _, err := e.fs.Lstat(norm); err != nil {
			return Count{}, fserr.Wrap("count", norm, err)
		}
		err = e.fs.Walk(norm, func(p string, info fs.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				errs.Add(1)
				return nil
			}
			switch {
			case info.IsDir():
				dirs.Add(1)
			case info.Mode().IsRegular():
				files.Add(1)
				bytes.Add(info.Size())
			default:
				files.Add(1)
			}
			return nil
		})
		if err != nil {
			return Count{}, fserr.Wrap("count", norm, err)
		}
	}
	return Count{
		Files:  files.Load(),
		Dirs:   dirs.Load(),
		Bytes:  bytes.Load(),
		Errors: errs.Load(),
	}, nil
}
