package job

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// ============================================================================
// Helpers
// ============================================================================

type recorder struct {
	mu   sync.Mutex
	muts []Mutation
}

func (r *recorder) notify(m Mutation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muts = append(r.muts, m)
}

func (r *recorder) paths(op MutationOp) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.muts {
		if m.Op == op {
			out = append(out, m.Path)
		}
	}
	return out
}

func entryFixture(name string) types.Entry {
	return types.Entry{Name: name, Path: "/" + name, Kind: types.KindRegular}
}

func writeFile(t *testing.T, f fsys.FS, name, content string) {
	t.Helper()
	require.NoError(t, f.MkdirAll(filepath.Dir(name), 0o755))
	fh, err := f.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = fh.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, fh.Close())
}

func readFile(t *testing.T, f fsys.FS, name string) string {
	t.Helper()
	data, err := fsys.ReadFile(f, name)
	require.NoError(t, err)
	return string(data)
}

func exists(t *testing.T, f fsys.FS, name string) bool {
	t.Helper()
	ok, err := fsys.Exists(f, name)
	require.NoError(t, err)
	return ok
}

func newEngine(t *testing.T, f fsys.FS, opts Options) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Notifier = rec.notify
	opts.Logger = zaptest.NewLogger(t)
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = time.Millisecond
	}
	return NewEngine(f, opts), rec
}

// run submits req and answers every conflict with answer
func run(t *testing.T, e *Engine, req Request, answer func(*Conflict) Decision) (*Handle, Result) {
	t.Helper()
	h, err := e.Submit(req)
	require.NoError(t, err)

	go func() {
		for c := range h.Conflicts() {
			if answer != nil {
				c.Resolve(answer(c))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	require.NoError(t, err, "job did not finish")
	return h, r
}

// ============================================================================
// Copy
// ============================================================================

func TestCopyTree(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/proj/readme.md", "hello")
	writeFile(t, mem, "/src/proj/lib/util.go", "package lib")
	require.NoError(t, mem.MkdirAll("/src/proj/empty", 0o755))
	require.NoError(t, mem.Symlink("readme.md", "/src/proj/link"))
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	e, rec := newEngine(t, mem, Options{ChunkSize: 2})
	h, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/proj"}, Destination: "/dst"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "hello", readFile(t, mem, "/dst/proj/readme.md"))
	assert.Equal(t, "package lib", readFile(t, mem, "/dst/proj/lib/util.go"))
	assert.True(t, exists(t, mem, "/dst/proj/empty"))

	target, err := mem.Readlink("/dst/proj/link")
	require.NoError(t, err)
	assert.Equal(t, "readme.md", target)

	// sources untouched
	assert.Equal(t, "hello", readFile(t, mem, "/src/proj/readme.md"))

	inserted := rec.paths(MutationInserted)
	assert.Equal(t, "/dst/proj", inserted[0], "parent reported before children")
	assert.Contains(t, inserted, "/dst/proj/lib/util.go")

	snap := h.Snapshot()
	assert.Equal(t, int64(3), snap.Progress.FilesTotal)
	assert.Equal(t, int64(3), snap.Progress.FilesDone)
	assert.Equal(t, int64(len("hello")+len("package lib")), snap.Progress.BytesDone)
	assert.Equal(t, snap.Progress.BytesTotal, snap.Progress.BytesDone)
}

func TestCopyIntoSameDirectoryPicksNewName(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/report.txt", "r")
	writeFile(t, mem, "/d/report (2).txt", "r2")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/d/report.txt"}, Destination: "/d"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "r", readFile(t, mem, "/d/report (3).txt"))
	assert.Equal(t, "r2", readFile(t, mem, "/d/report (2).txt"))
}

func TestCopyMergesDirectories(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/photos/new.jpg", "new")
	writeFile(t, mem, "/dst/photos/old.jpg", "old")

	e, _ := newEngine(t, mem, Options{})
	conflicts := 0
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/photos"}, Destination: "/dst"},
		func(*Conflict) Decision { conflicts++; return Decision{Action: ActionSkip} })

	assert.Equal(t, StateCompleted, r.State)
	assert.Zero(t, conflicts)
	assert.Equal(t, "old", readFile(t, mem, "/dst/photos/old.jpg"))
	assert.Equal(t, "new", readFile(t, mem, "/dst/photos/new.jpg"))
}

func TestCopyDestinationMissingIsFatal(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/a", "a")

	e, rec := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/a"}, Destination: "/nowhere"}, nil)

	assert.Equal(t, StateFailed, r.State)
	assert.NotEmpty(t, r.Error)
	assert.Empty(t, rec.paths(MutationInserted))
}

func TestCopyMissingSourceIsPerFile(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/a", "a")
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/missing", "/src/a"}, Destination: "/dst"}, nil)

	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, fserr.NotFound, r.Errors[0].Code)
	assert.Equal(t, "a", readFile(t, mem, "/dst/a"))
}

func TestCopyDestinationRemovedMidRunIsFatal(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	osfs := fsys.NewOS()
	writeFile(t, osfs, filepath.Join(src, "a"), "a")
	writeFile(t, osfs, filepath.Join(src, "b"), "b")
	writeFile(t, osfs, filepath.Join(src, "c"), "c")
	require.NoError(t, os.Mkdir(dst, 0o755))

	var once sync.Once
	e := NewEngine(osfs, Options{
		Logger: zaptest.NewLogger(t),
		Notifier: func(m Mutation) {
			if strings.HasSuffix(m.Path, "/a") {
				once.Do(func() { os.RemoveAll(dst) })
			}
		},
	})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{src}, Destination: dst}, nil)

	assert.Equal(t, StateFailed, r.State)
	assert.Contains(t, r.Error, "destination removed")
}

func TestCopySymlinkLoopWithFollowLinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "f"), []byte("f"), 0o644))
	require.NoError(t, os.Symlink("..", filepath.Join(src, "a", "up")))
	require.NoError(t, os.Mkdir(dst, 0o755))

	e, _ := newEngine(t, fsys.NewOS(), Options{})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{src}, Destination: dst, FollowLinks: true}, nil)

	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.NotEmpty(t, r.Errors)
	assert.Contains(t, r.Errors[0].Message, "symlink loop")

	data, err := os.ReadFile(filepath.Join(dst, "src", "a", "f"))
	require.NoError(t, err)
	assert.Equal(t, "f", string(data))
}

// ============================================================================
// Conflicts
// ============================================================================

func setupFiveConflicts(t *testing.T) fsys.FS {
	mem := fsys.NewMemory()
	for _, n := range []string{"f1", "f2", "f3", "f4", "f5"} {
		writeFile(t, mem, "/src/"+n, "new "+n)
		writeFile(t, mem, "/dst/"+n, "old")
	}
	return mem
}

func fiveSources() []string {
	return []string{"/src/f1", "/src/f2", "/src/f3", "/src/f4", "/src/f5"}
}

func TestOverwriteAllOnThirdConflict(t *testing.T) {
	mem := setupFiveConflicts(t)
	e, rec := newEngine(t, mem, Options{})

	var asked []string
	_, r := run(t, e, Request{Kind: KindCopy, Sources: fiveSources(), Destination: "/dst"},
		func(c *Conflict) Decision {
			asked = append(asked, c.Destination.Name)
			if len(asked) == 3 {
				return Decision{Action: ActionOverwriteAll}
			}
			return Decision{Action: ActionSkip}
		})

	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, []string{"f1", "f2", "f3"}, asked)
	assert.Equal(t, "old", readFile(t, mem, "/dst/f1"))
	assert.Equal(t, "old", readFile(t, mem, "/dst/f2"))
	assert.Equal(t, "new f3", readFile(t, mem, "/dst/f3"))
	assert.Equal(t, "new f4", readFile(t, mem, "/dst/f4"))
	assert.Equal(t, "new f5", readFile(t, mem, "/dst/f5"))
	assert.Len(t, rec.paths(MutationUpdated), 3)
}

func TestSkipAllAndCancel(t *testing.T) {
	mem := setupFiveConflicts(t)
	e, _ := newEngine(t, mem, Options{})

	asked := 0
	_, r := run(t, e, Request{Kind: KindCopy, Sources: fiveSources(), Destination: "/dst"},
		func(*Conflict) Decision { asked++; return Decision{Action: ActionSkipAll} })
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, 1, asked)
	assert.Equal(t, "old", readFile(t, mem, "/dst/f5"))

	_, r = run(t, e, Request{Kind: KindCopy, Sources: fiveSources(), Destination: "/dst"},
		func(*Conflict) Decision { return Decision{Action: ActionCancel} })
	assert.Equal(t, StateCancelled, r.State)
	assert.Equal(t, "old", readFile(t, mem, "/dst/f1"))
}

func TestRenameDecisionIsRevalidated(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/doc", "new")
	writeFile(t, mem, "/dst/doc", "old")
	writeFile(t, mem, "/dst/taken", "taken")

	e, _ := newEngine(t, mem, Options{})
	var asked []string
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/doc"}, Destination: "/dst"},
		func(c *Conflict) Decision {
			asked = append(asked, c.Destination.Path)
			if len(asked) == 1 {
				return Decision{Action: ActionRename, NewName: "taken"}
			}
			return Decision{Action: ActionRename, NewName: "doc-copy"}
		})

	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, []string{"/dst/doc", "/dst/taken"}, asked)
	assert.Equal(t, "new", readFile(t, mem, "/dst/doc-copy"))
	assert.Equal(t, "old", readFile(t, mem, "/dst/doc"))
	assert.Equal(t, "taken", readFile(t, mem, "/dst/taken"))
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		check  func(t *testing.T, f fsys.FS)
	}{
		{"overwrite", PolicyOverwrite, func(t *testing.T, f fsys.FS) {
			assert.Equal(t, "new f1", readFile(t, f, "/dst/f1"))
		}},
		{"skip", PolicySkip, func(t *testing.T, f fsys.FS) {
			assert.Equal(t, "old", readFile(t, f, "/dst/f1"))
		}},
		{"autoRename", PolicyAutoRename, func(t *testing.T, f fsys.FS) {
			assert.Equal(t, "old", readFile(t, f, "/dst/f1"))
			assert.Equal(t, "new f1", readFile(t, f, "/dst/f1 (2)"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := setupFiveConflicts(t)
			e, _ := newEngine(t, mem, Options{})
			_, r := run(t, e, Request{Kind: KindCopy, Sources: fiveSources(), Destination: "/dst", Policy: tt.policy},
				func(*Conflict) Decision { t.Error("unexpected conflict"); return Decision{Action: ActionCancel} })
			assert.Equal(t, StateCompleted, r.State)
			tt.check(t, mem)
		})
	}
}

type stubPrefs struct {
	policy    Policy
	permanent bool
}

func (p stubPrefs) ConflictPolicy() Policy           { return p.policy }
func (p stubPrefs) AllowPermanentDelete(string) bool { return p.permanent }

func TestPreferencePolicyApplies(t *testing.T) {
	mem := setupFiveConflicts(t)
	e, _ := newEngine(t, mem, Options{Preferences: stubPrefs{policy: PolicySkip}})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: fiveSources(), Destination: "/dst"}, nil)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "old", readFile(t, mem, "/dst/f3"))
}

func TestFileOverDirectoryIsPerFileError(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/thing", "file")
	require.NoError(t, mem.MkdirAll("/dst/thing", 0o755))

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindCopy, Sources: []string{"/src/thing"}, Destination: "/dst", Policy: PolicyOverwrite}, nil)

	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, fserr.AlreadyExists, r.Errors[0].Code)
	info, err := mem.Lstat("/dst/thing")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConflictStateAndSnapshot(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/a", "new")
	writeFile(t, mem, "/dst/a", "old")

	e, _ := newEngine(t, mem, Options{})
	h, err := e.Submit(Request{Kind: KindCopy, Sources: []string{"/src/a"}, Destination: "/dst"})
	require.NoError(t, err)

	var c *Conflict
	select {
	case c = <-h.Conflicts():
	case <-time.After(5 * time.Second):
		t.Fatal("no conflict raised")
	}
	assert.Equal(t, StateWaitingForConflictDecision, h.State())
	assert.Same(t, c, h.PendingConflict())
	assert.Equal(t, c.ID, h.Snapshot().Conflict.ID)
	assert.Error(t, h.Pause(), "cannot pause while waiting for a decision")

	require.NoError(t, c.Resolve(Decision{Action: ActionOverwrite}))
	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State)
	assert.Nil(t, h.PendingConflict())
	assert.Equal(t, "new", readFile(t, mem, "/dst/a"))
}

func TestCancelWhileWaitingForDecision(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/a", "new")
	writeFile(t, mem, "/dst/a", "old")

	e, _ := newEngine(t, mem, Options{})
	h, err := e.Submit(Request{Kind: KindCopy, Sources: []string{"/src/a"}, Destination: "/dst"})
	require.NoError(t, err)
	<-h.Conflicts()

	h.Cancel()
	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, r.State)
	assert.Equal(t, "old", readFile(t, mem, "/dst/a"))
}

// ============================================================================
// Cancellation and pause
// ============================================================================

func TestCancelledCopyLeavesOnlyCompleteFiles(t *testing.T) {
	mem := fsys.NewMemory()
	content := strings.Repeat("x", 4096)
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, n := range names {
		writeFile(t, mem, "/src/"+n, content)
	}
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	var h *Handle
	var once sync.Once
	started := make(chan struct{})
	e := NewEngine(mem, Options{
		ChunkSize: 16,
		Logger:    zaptest.NewLogger(t),
		Notifier: func(m Mutation) {
			if m.Path == "/dst/src/b" {
				once.Do(func() { <-started; h.Cancel() })
			}
		},
	})

	var err error
	h, err = e.Prepare(Request{Kind: KindCopy, Sources: []string{"/src"}, Destination: "/dst"})
	require.NoError(t, err)
	close(started)
	go e.Run(context.Background(), h)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, r.State)

	infos, err := mem.ReadDir("/dst/src")
	require.NoError(t, err)
	assert.Less(t, len(infos), len(names), "strict subset")
	for _, info := range infos {
		assert.False(t, strings.HasSuffix(info.Name(), ".part"), "partial file %s left behind", info.Name())
		assert.Equal(t, content, readFile(t, mem, "/dst/src/"+info.Name()))
	}
}

func TestQueuedCancelNeverRuns(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/a", "a")

	e, rec := newEngine(t, mem, Options{})
	h, err := e.Prepare(Request{Kind: KindDelete, Sources: []string{"/a"}})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, h.State())

	h.Cancel()
	assert.Equal(t, StateCancelled, h.State())
	<-h.Done()

	e.Run(context.Background(), h)
	assert.True(t, exists(t, mem, "/a"))
	assert.Empty(t, rec.paths(MutationRemoved))

	r, ok := h.Result()
	assert.True(t, ok)
	assert.Equal(t, StateCancelled, r.State)
}

func TestPauseAndResume(t *testing.T) {
	mem := fsys.NewMemory()
	for _, n := range []string{"a", "b", "c"} {
		writeFile(t, mem, "/src/"+n, n)
	}
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	var h *Handle
	paused := make(chan struct{})
	var once sync.Once
	e := NewEngine(mem, Options{
		Logger: zaptest.NewLogger(t),
		Notifier: func(m Mutation) {
			once.Do(func() {
				assert.NoError(t, h.Pause())
				close(paused)
			})
		},
	})
	h, err := e.Prepare(Request{Kind: KindCopy, Sources: []string{"/src/a", "/src/b", "/src/c"}, Destination: "/dst"})
	require.NoError(t, err)
	go e.Run(context.Background(), h)

	<-paused
	assert.Equal(t, StatePaused, h.State())
	assert.Error(t, h.Pause())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, exists(t, mem, "/dst/c"), "paused job must not progress")

	require.NoError(t, h.Resume())
	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State)
	assert.True(t, exists(t, mem, "/dst/c"))
	assert.Error(t, h.Resume())
}

func TestProgressStreamEndsWithFinalSnapshot(t *testing.T) {
	mem := fsys.NewMemory()
	for _, n := range []string{"a", "b", "c", "d"} {
		writeFile(t, mem, "/src/"+n, strings.Repeat(n, 100))
	}
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	e := NewEngine(mem, Options{ChunkSize: 10, ProgressInterval: time.Hour})
	h, err := e.Submit(Request{Kind: KindCopy, Sources: []string{"/src"}, Destination: "/dst"})
	require.NoError(t, err)

	var last Progress
	for p := range h.Progress() {
		assert.Equal(t, h.ID(), p.JobID)
		last = p
	}
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, int64(4), last.FilesDone)
	assert.Equal(t, int64(400), last.BytesDone)
	assert.Equal(t, last.BytesTotal, last.BytesDone)
}

// ============================================================================
// Move
// ============================================================================

func TestMoveSameDevice(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/dir/f", "f")
	require.NoError(t, mem.MkdirAll("/dst", 0o755))

	e, rec := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindMove, Sources: []string{"/src/dir"}, Destination: "/dst"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.False(t, exists(t, mem, "/src/dir"))
	assert.Equal(t, "f", readFile(t, mem, "/dst/dir/f"))
	assert.Equal(t, []string{"/src/dir"}, rec.paths(MutationRemoved))
	assert.Equal(t, []string{"/dst/dir"}, rec.paths(MutationInserted))
}

func TestMoveCrossDeviceCopiesThenDeletes(t *testing.T) {
	m, err := fsys.NewMounts(fsys.NewMemory(), fsys.Mount{Point: "/media/usb", FS: fsys.NewMemory()})
	require.NoError(t, err)
	writeFile(t, m, "/home/u/album/one.jpg", "one")
	writeFile(t, m, "/home/u/album/sub/two.jpg", "two")
	require.NoError(t, m.MkdirAll("/media/usb/backup", 0o755))

	e, rec := newEngine(t, m, Options{VerifyChecksums: true})
	_, r := run(t, e, Request{Kind: KindMove, Sources: []string{"/home/u/album"}, Destination: "/media/usb/backup"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "one", readFile(t, m, "/media/usb/backup/album/one.jpg"))
	assert.Equal(t, "two", readFile(t, m, "/media/usb/backup/album/sub/two.jpg"))
	assert.False(t, exists(t, m, "/home/u/album"))

	removed := rec.paths(MutationRemoved)
	assert.Equal(t, "/home/u/album", removed[len(removed)-1], "source root removed last")
}

func TestMoveMergeRenamesFilesOnSameDevice(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/src/photos/new.jpg", "new")
	writeFile(t, mem, "/src/photos/dup.jpg", "fresh")
	writeFile(t, mem, "/src/photos/raw/deep.cr2", "raw")
	writeFile(t, mem, "/dst/photos/old.jpg", "old")
	writeFile(t, mem, "/dst/photos/dup.jpg", "stale")

	metrics := monitoring.NewMetrics()
	e, rec := newEngine(t, mem, Options{Metrics: metrics})
	_, r := run(t, e, Request{Kind: KindMove, Sources: []string{"/src/photos"}, Destination: "/dst"},
		func(*Conflict) Decision { return Decision{Action: ActionOverwrite} })

	assert.Equal(t, StateCompleted, r.State)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "new", readFile(t, mem, "/dst/photos/new.jpg"))
	assert.Equal(t, "fresh", readFile(t, mem, "/dst/photos/dup.jpg"))
	assert.Equal(t, "raw", readFile(t, mem, "/dst/photos/raw/deep.cr2"))
	assert.Equal(t, "old", readFile(t, mem, "/dst/photos/old.jpg"))
	assert.False(t, exists(t, mem, "/src/photos"))

	assert.Zero(t, metrics.Snapshot().BytesCopied, "files were renamed, not copied")
	assert.Contains(t, rec.paths(MutationUpdated), "/dst/photos/dup.jpg")
	assert.Contains(t, rec.paths(MutationRemoved), "/src/photos/new.jpg")
}

func TestMoveMergeAcrossDevicesCopies(t *testing.T) {
	m, err := fsys.NewMounts(fsys.NewMemory(), fsys.Mount{Point: "/media/usb", FS: fsys.NewMemory()})
	require.NoError(t, err)
	writeFile(t, m, "/home/u/album/one.jpg", "one")
	writeFile(t, m, "/home/u/album/two.jpg", "two")
	writeFile(t, m, "/media/usb/backup/album/old.jpg", "old")

	metrics := monitoring.NewMetrics()
	e, _ := newEngine(t, m, Options{Metrics: metrics})
	_, r := run(t, e, Request{Kind: KindMove, Sources: []string{"/home/u/album"}, Destination: "/media/usb/backup"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "one", readFile(t, m, "/media/usb/backup/album/one.jpg"))
	assert.Equal(t, "two", readFile(t, m, "/media/usb/backup/album/two.jpg"))
	assert.Equal(t, "old", readFile(t, m, "/media/usb/backup/album/old.jpg"))
	assert.False(t, exists(t, m, "/home/u/album"))
	assert.EqualValues(t, 6, metrics.Snapshot().BytesCopied)
}

// lyingFS reports a wrong size for everything under prefix
type lyingFS struct {
	fsys.FS
	prefix string
}

type shrunk struct{ fs.FileInfo }

func (s shrunk) Size() int64 { return s.FileInfo.Size() - 1 }

func (l lyingFS) Lstat(name string) (fs.FileInfo, error) {
	info, err := l.FS.Lstat(name)
	if err == nil && strings.HasPrefix(name, l.prefix) && info.Mode().IsRegular() {
		return shrunk{info}, nil
	}
	return info, err
}

func TestMoveKeepsSourceWhenVerificationFails(t *testing.T) {
	m, err := fsys.NewMounts(fsys.NewMemory(), fsys.Mount{Point: "/media/usb", FS: fsys.NewMemory()})
	require.NoError(t, err)
	writeFile(t, m, "/home/u/a.bin", "payload")
	require.NoError(t, m.MkdirAll("/media/usb/in", 0o755))

	f := lyingFS{FS: m, prefix: "/media/usb/"}
	e, rec := newEngine(t, f, Options{})
	_, r := run(t, e, Request{Kind: KindMove, Sources: []string{"/home/u/a.bin"}, Destination: "/media/usb/in"}, nil)

	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, "size mismatch")
	assert.Equal(t, "payload", readFile(t, m, "/home/u/a.bin"))
	assert.Empty(t, rec.paths(MutationRemoved))
}

// ============================================================================
// Delete, link, rename, chattr
// ============================================================================

func TestDeleteChildrenBeforeParents(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/t/a/b/c.txt", "c")
	writeFile(t, mem, "/t/a/d.txt", "d")

	e, rec := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindDelete, Sources: []string{"/t/a"}}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.False(t, exists(t, mem, "/t/a"))

	removed := rec.paths(MutationRemoved)
	index := func(p string) int {
		for i, r := range removed {
			if r == p {
				return i
			}
		}
		t.Fatalf("%s not removed", p)
		return -1
	}
	assert.Less(t, index("/t/a/b/c.txt"), index("/t/a/b"))
	assert.Less(t, index("/t/a/b"), index("/t/a"))
	assert.Less(t, index("/t/a/d.txt"), index("/t/a"))
}

func TestLink(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/data/big.iso", "iso")
	require.NoError(t, mem.MkdirAll("/desk", 0o755))

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindLink, Sources: []string{"/data/big.iso"}, Destination: "/desk"}, nil)

	assert.Equal(t, StateCompleted, r.State)
	target, err := mem.Readlink("/desk/big.iso")
	require.NoError(t, err)
	assert.Equal(t, "/data/big.iso", target)
}

func TestRename(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/draft.txt", "text")
	writeFile(t, mem, "/d/other.txt", "other")

	e, rec := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindRename, Sources: []string{"/d/draft.txt"}, NewName: "final.txt"}, nil)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "text", readFile(t, mem, "/d/final.txt"))
	assert.Equal(t, []string{"/d/draft.txt"}, rec.paths(MutationRemoved))

	_, r = run(t, e, Request{Kind: KindRename, Sources: []string{"/d/final.txt"}, NewName: "other.txt"},
		func(*Conflict) Decision { return Decision{Action: ActionSkip} })
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "other", readFile(t, mem, "/d/other.txt"))

	_, err := e.Prepare(Request{Kind: KindRename, Sources: []string{"/d/final.txt"}, NewName: ""})
	assert.True(t, fserr.Is(err, fserr.InvalidInput))
}

func TestChattrRecursive(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f"), []byte("f"), 0o644))

	mode := fs.FileMode(0o700)
	e, rec := newEngine(t, fsys.NewOS(), Options{})
	_, r := run(t, e, Request{
		Kind:       KindChattr,
		Sources:    []string{dir},
		Attributes: &Attributes{Mode: &mode, Owner: strconv.Itoa(os.Getuid()), Recursive: true},
	}, nil)

	assert.Equal(t, StateCompleted, r.State)
	for _, p := range []string{dir, filepath.Join(dir, "sub"), filepath.Join(dir, "sub", "f")} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, mode, info.Mode().Perm(), p)
	}
	assert.Len(t, rec.paths(MutationUpdated), 3)
}

func TestChattrUnknownOwnerIsFatal(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/a", "a")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{
		Kind:       KindChattr,
		Sources:    []string{"/a"},
		Attributes: &Attributes{Owner: "no-such-user-anywhere"},
	}, nil)
	assert.Equal(t, StateFailed, r.State)
}

// ============================================================================
// Create and count
// ============================================================================

func TestCreateUniqueNames(t *testing.T) {
	mem := fsys.NewMemory()
	require.NoError(t, mem.MkdirAll("/d", 0o755))
	e, rec := newEngine(t, mem, Options{})
	ctx := context.Background()

	first, err := e.Create(ctx, "/d", "Untitled.txt", false)
	require.NoError(t, err)
	assert.Equal(t, "Untitled.txt", first.Name)

	second, err := e.Create(ctx, "/d", "Untitled.txt", false)
	require.NoError(t, err)
	assert.Equal(t, "Untitled (2).txt", second.Name)

	dir, err := e.Create(ctx, "/d", "New.Folder", true)
	require.NoError(t, err)
	assert.Equal(t, types.KindDirectory, dir.Kind)

	dir2, err := e.Create(ctx, "/d", "New.Folder", true)
	require.NoError(t, err)
	assert.Equal(t, "New.Folder (2)", dir2.Name)

	assert.Len(t, rec.paths(MutationInserted), 4)

	_, err = e.Create(ctx, "/d", "a/b", false)
	assert.True(t, fserr.Is(err, fserr.InvalidInput))
}

func TestDeepCount(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "x"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "y"), []byte("123"), 0o644))

	e := NewEngine(fsys.NewOS(), Options{})
	c, err := e.DeepCount(context.Background(), []string{filepath.Join(root, "a")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Files)
	assert.Equal(t, int64(2), c.Dirs)
	assert.Equal(t, int64(8), c.Bytes)

	_, err = e.DeepCount(context.Background(), []string{filepath.Join(root, "missing")})
	assert.True(t, fserr.Is(err, fserr.NotFound))
}
