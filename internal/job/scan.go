package job

import (
	"fmt"
	"io/fs"
	"path"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
)

// node is one step of a tree walk. Directories appear twice: once before
// their children (post == false) and once after (post == true).
type node struct {
	path string
	info fs.FileInfo
	post bool
}

// tree is the scan of one source root, in discovery order
type tree struct {
	root  string
	info  fs.FileInfo
	nodes []node
	files int64
	bytes int64
}

// chain is the set of resolved directory paths from the root to a node,
// used to refuse walking into a followed link that points back up.
type chain struct {
	path string
	next *chain
}

func (c *chain) contains(p string) bool {
	for ; c != nil; c = c.next {
		if c.path == p {
			return true
		}
	}
	return false
}

type frame struct {
	path     string
	info     fs.FileInfo
	resolved string
	chain    *chain
	post     bool
}

// scan walks every root with an explicit stack. Unreadable entries are
// recorded as per-file errors and the walk goes on; only cancellation
// stops it.
func (x *execution) scan(roots []string, follow bool) ([]tree, error) {
	trees := make([]tree, 0, len(roots))

	for _, root := range roots {
		info, err := x.fs.Lstat(root)
		if err != nil {
			x.fail(root, err)
			continue
		}
		if follow && info.Mode()&fs.ModeSymlink != 0 {
			if st, err := x.fs.Stat(root); err == nil {
				info = st
			}
		}

		t := tree{root: root, info: info}
		stack := []frame{{path: root, info: info, resolved: root}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if f.post {
				t.nodes = append(t.nodes, node{path: f.path, info: f.info, post: true})
				continue
			}
			if err := x.checkpoint(); err != nil {
				return nil, err
			}
			if !f.info.IsDir() {
				t.nodes = append(t.nodes, node{path: f.path, info: f.info})
				t.files++
				if f.info.Mode().IsRegular() {
					t.bytes += f.info.Size()
				}
				continue
			}
			if f.chain.contains(f.resolved) {
				x.fail(f.path, fserr.New(fserr.InvalidInput, "scan", f.path, fmt.Errorf("symlink loop to %s", f.resolved)))
				continue
			}

			t.nodes = append(t.nodes, node{path: f.path, info: f.info})
			stack = append(stack, frame{path: f.path, info: f.info, post: true})

			children, err := x.fs.ReadDir(f.path)
			if err != nil {
				x.fail(f.path, fserr.Wrap("scan", f.path, err))
				continue
			}
			ch := &chain{path: f.resolved, next: f.chain}
			for i := len(children) - 1; i >= 0; i-- {
				c := children[i]
				p := paths.Join(f.path, c.Name())
				next := frame{path: p, info: c, resolved: paths.Join(f.resolved, c.Name()), chain: ch}
				if follow && c.Mode()&fs.ModeSymlink != 0 {
					x.followLink(&next, f.resolved)
				}
				stack = append(stack, next)
			}
		}

		trees = append(trees, t)
	}
	return trees, nil
}

// setTotals publishes the job's totals once scanning is over. extra counts
// items handled without a scan.
func (x *execution) setTotals(trees []tree, extra int64) {
	files, bytes := extra, int64(0)
	for _, t := range trees {
		files += t.files
		bytes += t.bytes
	}
	x.h.update(func(p *Progress) {
		p.FilesTotal = files
		p.BytesTotal = bytes
	})
}

// followLink replaces a symlink frame with its target's metadata. Broken
// links stay links.
func (x *execution) followLink(f *frame, parentResolved string) {
	st, err := x.fs.Stat(f.path)
	if err != nil {
		return
	}
	target, err := x.fs.Readlink(f.path)
	if err != nil {
		return
	}
	if !path.IsAbs(target) {
		target = paths.Join(parentResolved, target)
	}
	f.info = st
	f.resolved = path.Clean(target)
}
