package folder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
	"github.com/GriffinCanCode/filer/internal/watcher"
)

// Model is the live listing of one directory. All mutations go through
// ioMu (one writer at a time, I/O included); readers take mu.
type Model struct {
	path   string
	reg    *Registry
	logger *zap.Logger

	ioMu    sync.Mutex
	watch   watcher.Watcher
	closed  bool
	watchWg sync.WaitGroup

	mu       sync.RWMutex
	// order holds names in insertion order; "" marks a removed slot until
	// the next compaction. pos indexes the live slots.
	order    []string
	pos      map[string]int
	dead     int
	entries  map[string]types.Entry
	revision uint64
	loading  bool
	err      error
	subs     map[string]*Handle

	// refs is guarded by reg.mu
	refs int

	ctx          context.Context
	cancel       context.CancelFunc
	loaded       chan struct{}
	loadOnce     sync.Once
	shutdownOnce sync.Once
}

func newModel(reg *Registry, path string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		path:    path,
		reg:     reg,
		logger:  reg.logger.With(zap.String("dir", path)),
		entries: make(map[string]types.Entry),
		pos:     make(map[string]int),
		loading: true,
		subs:    make(map[string]*Handle),
		ctx:     ctx,
		cancel:  cancel,
		loaded:  make(chan struct{}),
	}
}

// Path returns the normalized directory path
func (m *Model) Path() string { return m.path }

// Entries returns the current entries in insertion order
func (m *Model) Entries() []types.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Model) snapshotLocked() []types.Entry {
	out := make([]types.Entry, 0, len(m.entries))
	for _, name := range m.order {
		if name != "" {
			out = append(out, m.entries[name])
		}
	}
	return out
}

func (m *Model) appendLocked(name string) {
	m.pos[name] = len(m.order)
	m.order = append(m.order, name)
}

// dropLocked frees name's slot without shifting the rest; removing every
// entry one by one stays linear overall.
func (m *Model) dropLocked(name string) {
	i, ok := m.pos[name]
	if !ok {
		return
	}
	m.order[i] = ""
	delete(m.pos, name)
	m.dead++
	if m.dead > len(m.order)/2 {
		m.compactLocked()
	}
}

func (m *Model) compactLocked() {
	kept := m.order[:0]
	for _, name := range m.order {
		if name != "" {
			m.pos[name] = len(kept)
			kept = append(kept, name)
		}
	}
	clear(m.order[len(kept):])
	m.order = kept
	m.dead = 0
}

// Entry looks up one entry by name
func (m *Model) Entry(name string) (types.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return e, ok
}

// Revision returns the number of accepted changes so far
func (m *Model) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Loading reports whether the initial listing is still running
func (m *Model) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Err returns the last listing error, nil after a successful listing
func (m *Model) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Loaded is closed once the first listing attempt has finished
func (m *Model) Loaded() <-chan struct{} { return m.loaded }

// WaitLoaded blocks until the first listing attempt has finished
func (m *Model) WaitLoaded(ctx context.Context) error {
	select {
	case <-m.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select returns the entries whose name matches a doublestar pattern
func (m *Model) Select(pattern string) ([]types.Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Entry
	for _, name := range m.order {
		if name == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			out = append(out, m.entries[name])
		}
	}
	return out, nil
}

// start runs the initial listing and watch setup off the caller's goroutine
func (m *Model) start() {
	go func() {
		m.ioMu.Lock()
		defer m.ioMu.Unlock()
		if m.closed {
			m.markLoaded()
			return
		}
		m.ensureWatchLocked()
		m.refreshLocked(m.ctx)
	}()
}

func (m *Model) markLoaded() {
	m.loadOnce.Do(func() { close(m.loaded) })
}

// Refresh re-lists the directory and emits one event per difference.
func (m *Model) Refresh(ctx context.Context) error {
	m.ioMu.Lock()
	defer m.ioMu.Unlock()
	if m.closed {
		return errors.New("folder model closed")
	}
	m.ensureWatchLocked()
	return m.refreshLocked(ctx)
}

func (m *Model) refreshLocked(ctx context.Context) error {
	defer m.markLoaded()

	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := m.reg.fs.ReadDir(m.path)
	if err != nil {
		m.invalidateLocked(err)
		return fmt.Errorf("failed to list %s: %w", m.path, err)
	}

	fresh := make(map[string]types.Entry, len(infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fsys.IsTempName(info.Name()) {
			continue
		}
		fresh[info.Name()] = m.entryFor(info)
		names = append(names, info.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.loading = false
	m.err = nil

	removed := false
	for i, name := range m.order {
		if name == "" {
			continue
		}
		if _, ok := fresh[name]; !ok {
			old := m.entries[name]
			delete(m.entries, name)
			delete(m.pos, name)
			m.order[i] = ""
			removed = true
			m.emitLocked(Event{Type: EventRemoved, Name: name, Old: old})
		}
	}
	if removed || m.dead > 0 {
		m.compactLocked()
	}

	for _, name := range names {
		e := fresh[name]
		old, ok := m.entries[name]
		switch {
		case !ok:
			m.entries[name] = e
			m.appendLocked(name)
			m.emitLocked(Event{Type: EventInserted, Name: name, Entry: e})
		case !old.Equal(e):
			m.entries[name] = e
			m.emitLocked(Event{Type: EventUpdated, Name: name, Entry: e, Old: old})
		}
	}
	return nil
}

// invalidateLocked clears the snapshot after a listing failure. The model
// stays subscribable and recovers on the next successful refresh.
func (m *Model) invalidateLocked(err error) {
	m.logger.Debug("Listing failed", zap.Error(err))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.loading = false
	wasValid := m.err == nil
	m.err = err
	if !wasValid && len(m.entries) == 0 {
		return
	}
	m.order = nil
	m.pos = make(map[string]int)
	m.dead = 0
	m.entries = make(map[string]types.Entry)
	m.emitLocked(Event{Type: EventInvalidated, Err: err})
}

// reconcile re-reads one name and applies the difference, if any. Applying
// the state the model already holds emits nothing.
func (m *Model) reconcile(name string) {
	if fsys.IsTempName(name) {
		return
	}
	m.ioMu.Lock()
	defer m.ioMu.Unlock()
	if m.closed {
		return
	}

	m.mu.RLock()
	invalid := m.err != nil
	m.mu.RUnlock()
	if invalid {
		m.ensureWatchLocked()
		m.refreshLocked(m.ctx)
		return
	}

	p := paths.Join(m.path, name)
	info, err := m.reg.fs.Lstat(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Debug("Reconcile stat failed", zap.String("name", name), zap.Error(err))
		return
	}
	var e types.Entry
	if err == nil {
		e = m.entryFor(info)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, present := m.entries[name]
	if err != nil {
		if !present {
			return
		}
		delete(m.entries, name)
		m.dropLocked(name)
		m.emitLocked(Event{Type: EventRemoved, Name: name, Old: old})
		return
	}

	switch {
	case !present:
		m.entries[name] = e
		m.appendLocked(name)
		m.emitLocked(Event{Type: EventInserted, Name: name, Entry: e})
	case !old.Equal(e):
		m.entries[name] = e
		m.emitLocked(Event{Type: EventUpdated, Name: name, Entry: e, Old: old})
	}
}

func (m *Model) entryFor(info fs.FileInfo) types.Entry {
	p := paths.Join(m.path, info.Name())
	var target string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, _ = m.reg.fs.Readlink(p)
	}
	e := types.NewEntry(m.path, info, target)
	if m.reg.detectMime {
		e = e.WithMimeType(m.detectMime(e))
	}
	return e
}

func (m *Model) detectMime(e types.Entry) string {
	switch e.Kind {
	case types.KindDirectory:
		return "inode/directory"
	case types.KindSymlink:
		return "inode/symlink"
	case types.KindSpecial:
		return "inode/special"
	}

	f, err := m.reg.fs.Open(e.Path)
	if err != nil {
		return ""
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return ""
	}
	return mt.String()
}

// emitLocked bumps the revision and queues ev for every subscriber.
// Caller holds mu for writing.
func (m *Model) emitLocked(ev Event) {
	m.revision++
	ev.Revision = m.revision
	for _, h := range m.subs {
		h.enqueue(ev)
	}
	m.reg.metrics.RecordFolderEvent(string(ev.Type))
}

// ensureWatchLocked starts the watcher if none is running. Caller holds ioMu.
func (m *Model) ensureWatchLocked() {
	if m.watch != nil || m.reg.disableWatch {
		return
	}
	w, err := watcher.New(m.reg.fs, m.path, m.reg.watchOpts)
	if err != nil {
		m.logger.Debug("Watch unavailable", zap.Error(err))
		return
	}
	m.watch = w
	m.watchWg.Add(1)
	go m.consume(w)
}

// consume applies watcher batches until the watcher closes.
func (m *Model) consume(w watcher.Watcher) {
	defer m.watchWg.Done()

	errs := w.Errors()
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			m.reg.metrics.RecordWatcherBatch()
			m.applyBatch(w, batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Debug("Watcher error", zap.Error(err))
		}
	}
}

func (m *Model) applyBatch(w watcher.Watcher, batch []watcher.Event) {
	for _, ev := range batch {
		if ev.Op == watcher.OpRescan {
			m.ioMu.Lock()
			if !m.closed {
				err := m.refreshLocked(m.ctx)
				// the directory itself is gone: drop the dead watch so
				// a later refresh can establish a new one
				if err != nil && m.watch == w {
					m.watch = nil
					go w.Close()
				}
			}
			m.ioMu.Unlock()
			return
		}
	}
	for _, ev := range batch {
		m.reconcile(ev.Name)
	}
}

// shutdown stops the watcher and releases resources once the last
// subscriber is gone or the registry closes.
func (m *Model) shutdown() {
	m.shutdownOnce.Do(m.doShutdown)
}

func (m *Model) doShutdown() {
	m.cancel()

	m.ioMu.Lock()
	m.closed = true
	w := m.watch
	m.watch = nil
	m.ioMu.Unlock()

	if w != nil {
		w.Close()
	}
	m.watchWg.Wait()
	m.markLoaded()
}
