package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/trash"
)

type mockBin struct {
	mock.Mock
}

func (m *mockBin) Put(ctx context.Context, path string) (id.TrashID, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(id.TrashID), args.Error(1)
}

func (m *mockBin) Restore(ctx context.Context, tid id.TrashID) (string, error) {
	args := m.Called(ctx, tid)
	return args.String(0), args.Error(1)
}

func (m *mockBin) RestoreTo(ctx context.Context, tid id.TrashID, dest string) error {
	return m.Called(ctx, tid, dest).Error(0)
}

func (m *mockBin) Purge(ctx context.Context, tid id.TrashID) error {
	return m.Called(ctx, tid).Error(0)
}

func (m *mockBin) Info(tid id.TrashID) (trash.Record, error) {
	args := m.Called(tid)
	return args.Get(0).(trash.Record), args.Error(1)
}

func (m *mockBin) List(ctx context.Context) ([]trash.Record, error) {
	args := m.Called(ctx)
	return args.Get(0).([]trash.Record), args.Error(1)
}

func (m *mockBin) Available(path string) error {
	return m.Called(path).Error(0)
}

func (m *mockBin) Usage(ctx context.Context) (int64, int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func newTrashEngine(t *testing.T) (fsys.FS, *Engine, *trash.Store) {
	t.Helper()
	mem := fsys.NewMemory()
	store, err := trash.NewStore(mem, "/home/u/.local/share/Trash", trash.Options{})
	require.NoError(t, err)
	e, _ := newEngine(t, mem, Options{Trash: store})
	return mem, e, store
}

func TestTrashAndRestoreRoundTrip(t *testing.T) {
	mem, e, store := newTrashEngine(t)
	writeFile(t, mem, "/home/u/docs/notes.txt", "notes")
	writeFile(t, mem, "/home/u/docs/old/draft.md", "draft")

	_, r := run(t, e, Request{Kind: KindTrash, Sources: []string{"/home/u/docs/notes.txt", "/home/u/docs/old"}}, nil)
	require.Equal(t, StateCompleted, r.State)
	require.Len(t, r.TrashIDs, 2)
	assert.False(t, exists(t, mem, "/home/u/docs/notes.txt"))
	assert.False(t, exists(t, mem, "/home/u/docs/old"))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, r = run(t, e, Request{Kind: KindRestore, TrashIDs: r.TrashIDs}, nil)
	require.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "notes", readFile(t, mem, "/home/u/docs/notes.txt"))
	assert.Equal(t, "draft", readFile(t, mem, "/home/u/docs/old/draft.md"))

	records, err = store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRestoreConflictAutoRename(t *testing.T) {
	mem, e, _ := newTrashEngine(t)
	writeFile(t, mem, "/home/u/a.txt", "original")

	_, r := run(t, e, Request{Kind: KindTrash, Sources: []string{"/home/u/a.txt"}}, nil)
	require.Len(t, r.TrashIDs, 1)
	writeFile(t, mem, "/home/u/a.txt", "replacement")

	_, r = run(t, e, Request{Kind: KindRestore, TrashIDs: r.TrashIDs, Policy: PolicyAutoRename}, nil)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "replacement", readFile(t, mem, "/home/u/a.txt"))
	assert.Equal(t, "original", readFile(t, mem, "/home/u/a (2).txt"))
}

func TestRestoreUnknownRecordIsPerItem(t *testing.T) {
	_, e, _ := newTrashEngine(t)
	_, r := run(t, e, Request{Kind: KindRestore, TrashIDs: []id.TrashID{id.NewTrashID()}}, nil)
	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, fserr.NotFound, r.Errors[0].Code)
}

func TestTrashUnavailableIsFatal(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/media/usb/a", "a")
	writeFile(t, mem, "/media/usb/b", "b")

	bin := &mockBin{}
	unavailable := fserr.New(fserr.Unavailable, "trash", "/media/usb/b", errors.New("no trash on this device"))
	bin.On("Available", "/media/usb/a").Return(nil)
	bin.On("Available", "/media/usb/b").Return(unavailable)

	e, rec := newEngine(t, mem, Options{Trash: bin})
	_, r := run(t, e, Request{Kind: KindTrash, Sources: []string{"/media/usb/a", "/media/usb/b"}}, nil)

	assert.Equal(t, StateFailed, r.State)
	assert.Contains(t, r.Error, "/media/usb/b")
	assert.True(t, exists(t, mem, "/media/usb/a"), "nothing moves when any source cannot be trashed")
	assert.Empty(t, rec.paths(MutationRemoved))
	bin.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestTrashUnavailableFallsBackToDelete(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/media/usb/dir/f", "f")

	bin := &mockBin{}
	bin.On("Available", "/media/usb/dir").Return(fserr.New(fserr.Unavailable, "trash", "/media/usb/dir", fserr.ErrCrossDevice))

	e, rec := newEngine(t, mem, Options{Trash: bin, Preferences: stubPrefs{permanent: true}})
	_, r := run(t, e, Request{Kind: KindTrash, Sources: []string{"/media/usb/dir"}}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Empty(t, r.TrashIDs)
	assert.False(t, exists(t, mem, "/media/usb/dir"))
	assert.Equal(t, []string{"/media/usb/dir/f", "/media/usb/dir"}, rec.paths(MutationRemoved))
	bin.AssertExpectations(t)
}

// ============================================================================
// Bulk rename
// ============================================================================

func TestBulkRenameChain(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/1", "one")
	writeFile(t, mem, "/d/2", "two")
	writeFile(t, mem, "/d/3", "three")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindBulkRename, Renames: []RenamePair{
		{Source: "/d/1", NewName: "2"},
		{Source: "/d/2", NewName: "3"},
		{Source: "/d/3", NewName: "4"},
	}}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Len(t, r.Completed, 3)
	assert.False(t, exists(t, mem, "/d/1"))
	assert.Equal(t, "one", readFile(t, mem, "/d/2"))
	assert.Equal(t, "two", readFile(t, mem, "/d/3"))
	assert.Equal(t, "three", readFile(t, mem, "/d/4"))
}

func TestBulkRenameSwap(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/left", "L")
	writeFile(t, mem, "/d/right", "R")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindBulkRename, Renames: []RenamePair{
		{Source: "/d/left", NewName: "right"},
		{Source: "/d/right", NewName: "left"},
	}}, nil)

	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, "L", readFile(t, mem, "/d/right"))
	assert.Equal(t, "R", readFile(t, mem, "/d/left"))

	infos, err := mem.ReadDir("/d")
	require.NoError(t, err)
	assert.Len(t, infos, 2, "no parked entries left behind")
}

func TestBulkRenameOccupiedTargetFails(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/x", "x")
	writeFile(t, mem, "/d/y", "y")
	writeFile(t, mem, "/d/taken", "taken")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{Kind: KindBulkRename, Renames: []RenamePair{
		{Source: "/d/x", NewName: "taken"},
		{Source: "/d/y", NewName: "z"},
	}}, nil)

	assert.Equal(t, StateCompletedWithErrors, r.State)
	require.Len(t, r.Failed, 1)
	assert.Equal(t, "/d/x", r.Failed[0].Source)
	assert.Equal(t, fserr.AlreadyExists, r.Errors[0].Code)
	assert.Equal(t, "y", readFile(t, mem, "/d/z"))
	assert.Equal(t, "taken", readFile(t, mem, "/d/taken"))
}

func TestBulkRenameStopsAfterConsecutiveFailures(t *testing.T) {
	mem := fsys.NewMemory()
	writeFile(t, mem, "/d/c", "c")

	e, _ := newEngine(t, mem, Options{})
	_, r := run(t, e, Request{
		Kind: KindBulkRename,
		Renames: []RenamePair{
			{Source: "/d/gone1", NewName: "n1"},
			{Source: "/d/gone2", NewName: "n2"},
			{Source: "/d/c", NewName: "n3"},
			{Source: "/d/gone4", NewName: "n4"},
		},
		MaxConsecutiveFailures: 2,
	}, nil)

	assert.Equal(t, StateFailed, r.State)
	assert.Len(t, r.Failed, 2)
	assert.Empty(t, r.Completed)
	require.Len(t, r.Pending, 2)
	assert.Equal(t, "/d/c", r.Pending[0].Source)
	assert.True(t, exists(t, mem, "/d/c"))
}

func TestPathSetIncludesRestoreTargets(t *testing.T) {
	mem, e, store := newTrashEngine(t)
	writeFile(t, mem, "/home/u/x", "x")
	tid, err := store.Put(context.Background(), "/home/u/x")
	require.NoError(t, err)

	set := e.PathSet(Request{Kind: KindRestore, TrashIDs: []id.TrashID{tid}})
	assert.Contains(t, set, "/home/u/x")

	set = e.PathSet(Request{Kind: KindCopy, Sources: []string{"/a"}, Destination: "/b"})
	assert.ElementsMatch(t, []string{"/a", "/b"}, set)
}
