package folder

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/filer/internal/shared/types"
	"github.com/GriffinCanCode/filer/internal/watcher"
)

func newTestRegistry(t *testing.T, watch bool) *Registry {
	t.Helper()
	reg := NewRegistry(fsys.NewOS(), Options{
		DisableWatch: !watch,
		Watch:        watcher.Options{Debounce: 20 * time.Millisecond},
		Logger:       zaptest.NewLogger(t),
	})
	t.Cleanup(reg.Close)
	return reg
}

func waitLoaded(t *testing.T, m *Model) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitLoaded(ctx))
}

// drain reads events until n have arrived.
func drain(t *testing.T, h *Handle, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-h.Events():
			require.True(t, ok)
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("got %d of %d events: %+v", len(out), n, out)
		}
	}
	return out
}

// quiet asserts no further event arrives within d.
func quiet(t *testing.T, h *Handle, d time.Duration) {
	t.Helper()
	select {
	case ev := <-h.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(d):
	}
}

func names(entries []types.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSubscribeSharesIdentity(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()

	h1, err := reg.Subscribe(dir)
	require.NoError(t, err)
	h2, err := reg.Subscribe(dir + "/./")
	require.NoError(t, err)

	assert.Same(t, h1.Model(), h2.Model())
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, 1, reg.Len())

	h1.Close()
	assert.Equal(t, 1, reg.Len(), "model survives while one subscriber remains")

	h2.Close()
	assert.Equal(t, 0, reg.Len())

	_, ok := reg.Lookup(dir)
	assert.False(t, ok)
}

func TestInitialLoadEmitsInserts(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "bb")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()

	events := drain(t, h, 3)
	for i, ev := range events {
		assert.Equal(t, EventInserted, ev.Type)
		assert.Equal(t, uint64(i+1), ev.Revision)
	}

	m := h.Model()
	waitLoaded(t, m)
	assert.False(t, m.Loading())
	assert.NoError(t, m.Err())
	assert.Equal(t, []string{"a.txt", "b.txt", "sub"}, names(m.Entries()))

	sub, ok := m.Entry("sub")
	require.True(t, ok)
	assert.Equal(t, types.KindDirectory, sub.Kind)
}

func TestRefreshEmitsDiff(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep"), "k")
	writeFile(t, filepath.Join(dir, "change"), "c")
	writeFile(t, filepath.Join(dir, "drop"), "d")

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	drain(t, h, 3)
	waitLoaded(t, h.Model())

	writeFile(t, filepath.Join(dir, "change"), "changed content")
	require.NoError(t, os.Remove(filepath.Join(dir, "drop")))
	writeFile(t, filepath.Join(dir, "added"), "new")

	require.NoError(t, h.Model().Refresh(context.Background()))

	byType := map[EventType][]string{}
	for _, ev := range drain(t, h, 3) {
		byType[ev.Type] = append(byType[ev.Type], ev.Name)
	}
	assert.Equal(t, []string{"drop"}, byType[EventRemoved])
	assert.Equal(t, []string{"change"}, byType[EventUpdated])
	assert.Equal(t, []string{"added"}, byType[EventInserted])

	// insertion order: survivors keep their slot, newcomers append
	assert.Equal(t, []string{"change", "keep", "added"}, names(h.Model().Entries()))
	assert.Equal(t, uint64(6), h.Model().Revision())

	// nothing changed: no events
	require.NoError(t, h.Model().Refresh(context.Background()))
	quiet(t, h, 100*time.Millisecond)
}

func TestNotifyIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	waitLoaded(t, h.Model())

	writeFile(t, filepath.Join(dir, "x"), "x")
	reg.Notify(dir, "x")
	reg.Notify(dir, "x")

	events := drain(t, h, 1)
	assert.Equal(t, EventInserted, events[0].Type)
	assert.Equal(t, "x", events[0].Entry.Name)
	quiet(t, h, 100*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "x")))
	reg.NotifyPath(filepath.Join(dir, "x"))
	reg.NotifyPath(filepath.Join(dir, "x"))

	events = drain(t, h, 1)
	assert.Equal(t, EventRemoved, events[0].Type)
	quiet(t, h, 100*time.Millisecond)

	// unknown directories are ignored
	reg.Notify("/definitely/not/live", "x")
}

func TestListingFailureInvalidates(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := filepath.Join(t.TempDir(), "vanishing")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeFile(t, filepath.Join(dir, "f"), "f")

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	drain(t, h, 1)
	waitLoaded(t, h.Model())

	require.NoError(t, os.RemoveAll(dir))
	err = h.Model().Refresh(context.Background())
	require.Error(t, err)

	events := drain(t, h, 1)
	assert.Equal(t, EventInvalidated, events[0].Type)
	assert.Error(t, events[0].Err)
	assert.Empty(t, h.Model().Entries())
	assert.Error(t, h.Model().Err())

	// repeated failure does not spam
	assert.Error(t, h.Model().Refresh(context.Background()))
	quiet(t, h, 100*time.Millisecond)

	// recovery
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeFile(t, filepath.Join(dir, "g"), "g")
	require.NoError(t, h.Model().Refresh(context.Background()))

	events = drain(t, h, 1)
	assert.Equal(t, EventInserted, events[0].Type)
	assert.Equal(t, "g", events[0].Name)
	assert.NoError(t, h.Model().Err())
}

func TestSubscribeMissingDirectory(t *testing.T) {
	reg := newTestRegistry(t, false)

	h, err := reg.Subscribe(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	defer h.Close()

	events := drain(t, h, 1)
	assert.Equal(t, EventInvalidated, events[0].Type)
	waitLoaded(t, h.Model())
	assert.False(t, h.Model().Loading())
}

func TestLateSubscriberGetsSnapshot(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "a")

	h1, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h1.Close()
	drain(t, h1, 1)
	waitLoaded(t, h1.Model())

	h2, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h2.Close()

	initial, rev := h2.Initial()
	assert.Equal(t, []string{"a"}, names(initial))
	assert.Equal(t, uint64(1), rev)

	writeFile(t, filepath.Join(dir, "b"), "b")
	reg.Notify(dir, "b")

	ev1 := drain(t, h1, 1)[0]
	ev2 := drain(t, h2, 1)[0]
	assert.Equal(t, ev1.Revision, ev2.Revision)
	assert.Greater(t, ev2.Revision, rev)
}

func TestHandleCloseClosesEvents(t *testing.T) {
	reg := newTestRegistry(t, false)
	h, err := reg.Subscribe(t.TempDir())
	require.NoError(t, err)

	h.Close()
	h.Close()

	for range h.Events() {
	}
}

func TestSelect(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()
	for _, n := range []string{"a.jpg", "b.png", "c.jpg", "notes.txt"} {
		writeFile(t, filepath.Join(dir, n), n)
	}

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	drain(t, h, 4)

	got, err := h.Model().Select("*.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, names(got))

	got, err = h.Model().Select("*.{png,txt}")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "notes.txt"}, names(got))

	_, err = h.Model().Select("[")
	assert.Error(t, err)
}

func TestMimeDetection(t *testing.T) {
	reg := NewRegistry(fsys.NewOS(), Options{DisableWatch: true, DetectMime: true})
	defer reg.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme"), "plain text content\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	drain(t, h, 2)

	readme, ok := h.Model().Entry("readme")
	require.True(t, ok)
	assert.Contains(t, readme.MimeType, "text/plain")

	d, ok := h.Model().Entry("d")
	require.True(t, ok)
	assert.Equal(t, "inode/directory", d.MimeType)
}

// Random external mutations with the watcher running must converge to an
// independent listing of the directory.
func TestWatcherEventualConsistency(t *testing.T) {
	reg := newTestRegistry(t, true)
	dir := t.TempDir()

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	waitLoaded(t, h.Model())

	go func() {
		for range h.Events() {
		}
	}()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 60; i++ {
		name := filepath.Join(dir, fmt.Sprintf("f%02d", rng.Intn(12)))
		switch rng.Intn(3) {
		case 0:
			writeFile(t, name, "created")
		case 1:
			writeFile(t, name, fmt.Sprintf("modified %d", i))
		case 2:
			os.Remove(name)
		}
	}

	expected := func() []string {
		dirents, err := os.ReadDir(dir)
		require.NoError(t, err)
		out := make([]string, 0, len(dirents))
		for _, d := range dirents {
			out = append(out, d.Name())
		}
		return out
	}

	require.Eventually(t, func() bool {
		got := names(h.Model().Entries())
		sort.Strings(got)
		want := expected()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
			e, _ := h.Model().Entry(got[i])
			info, err := os.Lstat(filepath.Join(dir, got[i]))
			if err != nil || info.Size() != e.Size {
				return false
			}
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)
}

func TestMissingFoldersKeepNativeWatching(t *testing.T) {
	reg := NewRegistry(fsys.NewOS(), Options{
		// polling this slowly would miss the change below
		Watch:  watcher.Options{Debounce: 20 * time.Millisecond, PollInterval: time.Hour},
		Logger: zaptest.NewLogger(t),
	})
	t.Cleanup(reg.Close)

	root := t.TempDir()
	for i := 0; i < 5; i++ {
		h, err := reg.Subscribe(filepath.Join(root, fmt.Sprintf("missing%d", i)))
		require.NoError(t, err)
		events := drain(t, h, 1)
		require.Equal(t, EventInvalidated, events[0].Type)
		h.Close()
	}
	assert.Equal(t, resilience.StateClosed, reg.watchOpts.Breaker.State())

	dir := filepath.Join(root, "present")
	require.NoError(t, os.Mkdir(dir, 0o755))
	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	waitLoaded(t, h.Model())

	writeFile(t, filepath.Join(dir, "new.txt"), "hello")

	events := drain(t, h, 1)
	assert.Equal(t, EventInserted, events[0].Type)
	assert.Equal(t, "new.txt", events[0].Entry.Name)
}

func TestStagingFilesStayHidden(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	staged := filepath.Base(fsys.TempName(dir, "b.txt"))
	writeFile(t, filepath.Join(dir, staged), "partial")

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()

	events := drain(t, h, 1)
	assert.Equal(t, "a.txt", events[0].Name)
	waitLoaded(t, h.Model())
	assert.Equal(t, []string{"a.txt"}, names(h.Model().Entries()))

	reg.Notify(dir, staged)
	quiet(t, h, 100*time.Millisecond)

	// the staged write lands under its real name
	require.NoError(t, os.Rename(filepath.Join(dir, staged), filepath.Join(dir, "b.txt")))
	reg.Notify(dir, staged)
	reg.Notify(dir, "b.txt")
	events = drain(t, h, 1)
	assert.Equal(t, EventInserted, events[0].Type)
	assert.Equal(t, "b.txt", events[0].Name)
	quiet(t, h, 100*time.Millisecond)
}

func TestRemovalsKeepInsertionOrder(t *testing.T) {
	reg := newTestRegistry(t, false)
	dir := t.TempDir()

	h, err := reg.Subscribe(dir)
	require.NoError(t, err)
	defer h.Close()
	waitLoaded(t, h.Model())

	var all []string
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("f%02d", i)
		writeFile(t, filepath.Join(dir, name), name)
		reg.Notify(dir, name)
		all = append(all, name)
	}
	require.Equal(t, all, names(h.Model().Entries()))

	// drop every other file, then most of the rest, so slots are reused
	// across compactions
	var want []string
	for i, name := range all {
		if i%2 == 1 || i < 30 {
			require.NoError(t, os.Remove(filepath.Join(dir, name)))
			reg.Notify(dir, name)
			continue
		}
		want = append(want, name)
	}
	assert.Equal(t, want, names(h.Model().Entries()))

	writeFile(t, filepath.Join(dir, "f01"), "back")
	reg.Notify(dir, "f01")
	want = append(want, "f01")
	assert.Equal(t, want, names(h.Model().Entries()))

	matched, err := h.Model().Select("f0*")
	require.NoError(t, err)
	assert.Equal(t, []string{"f01"}, names(matched))

	require.NoError(t, h.Model().Refresh(context.Background()))
	assert.Equal(t, want, names(h.Model().Entries()))
}
