package job

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// runBulkRename applies rename pairs strictly in plan order. When a target
// is still occupied by a later member of the same plan, that member is
// first parked under a temporary name so renumbering chains like
// 2->3, 1->2 or swaps work deterministically.
func (x *execution) runBulkRename() error {
	pairs := x.req.Renames
	x.setTotals(nil, int64(len(pairs)))

	// loc is where each member currently lives; at is the reverse index
	// for members that have not been renamed yet
	loc := make([]string, len(pairs))
	at := make(map[string]int, len(pairs))
	for i, p := range pairs {
		loc[i] = p.Source
		at[p.Source] = i
	}
	done := make([]bool, len(pairs))

	defer x.unpark(pairs, loc, done)

	consecutive := 0
	for i, p := range pairs {
		if err := x.checkpoint(); err != nil {
			x.result.Pending = append(x.result.Pending, pairs[i:]...)
			return err
		}
		if limit := x.req.MaxConsecutiveFailures; limit > 0 && consecutive >= limit {
			x.result.Pending = append(x.result.Pending, pairs[i:]...)
			return fatal(fmt.Errorf("bulk rename stopped after %d consecutive failures", consecutive))
		}
		x.current(p.Source)

		if err := x.renameStep(i, p.Target(), loc, at); err != nil {
			x.fail(p.Source, err)
			x.result.Failed = append(x.result.Failed, p)
			consecutive++
			continue
		}
		consecutive = 0
		done[i] = true
		x.result.Completed = append(x.result.Completed, p)
		if p.Source != p.Target() {
			x.mutated(MutationRemoved, p.Source)
			x.mutated(MutationInserted, p.Target())
		}
		x.advance(1, 0)
	}
	return nil
}

func (x *execution) renameStep(i int, target string, loc []string, at map[string]int) error {
	src := loc[i]
	if src == target {
		delete(at, src)
		return nil
	}

	if j, ok := at[target]; ok && j > i {
		aside := fsys.TempName(paths.Parent(target), paths.Base(target))
		if err := x.fs.Rename(target, aside); err != nil {
			return fserr.Wrap("rename", target, err)
		}
		delete(at, target)
		at[aside] = j
		loc[j] = aside
	} else {
		_, err := x.fs.Lstat(target)
		switch {
		case err == nil:
			return fserr.New(fserr.AlreadyExists, "rename", target, fs.ErrExist)
		case !errors.Is(err, fs.ErrNotExist):
			return fserr.Wrap("rename", target, err)
		}
	}

	if err := x.fs.Rename(src, target); err != nil {
		return fserr.Wrap("rename", src, err)
	}
	delete(at, src)
	loc[i] = target
	return nil
}

// unpark moves members left under a temporary name back to their original
// path when that path is still free
func (x *execution) unpark(pairs []RenamePair, loc []string, done []bool) {
	for j, p := range pairs {
		if done[j] || loc[j] == p.Source {
			continue
		}
		if ok, _ := fsys.Exists(x.fs, p.Source); !ok {
			if err := x.fs.Rename(loc[j], p.Source); err == nil {
				loc[j] = p.Source
				continue
			}
		}
		x.logger.Warn("Bulk rename left an entry under a temporary name",
			zap.String("source", p.Source), zap.String("parked", loc[j]))
		x.fail(p.Source, fserr.New(fserr.AlreadyExists, "rename", p.Source, fmt.Errorf("entry parked at %s", loc[j])))
	}
}
