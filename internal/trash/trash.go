// Package trash implements a recoverable trash store.
//
// Layout under the store root:
//
//	files/<id>            the trashed entry, moved here by rename
//	info/<id>.trashinfo   a TOML record describing where it came from
//
// Records are written before the payload moves and removed after it moves
// back, so a crash never leaves a payload without a record. Entries can
// only be trashed from the store's own device; callers check Available
// first and fall back to permanent deletion when policy allows.
package trash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

const infoExt = ".trashinfo"

// Record describes one trashed entry
type Record struct {
	ID           id.TrashID  `toml:"-" json:"id"`
	Path         string      `toml:"Path" json:"path"`
	DeletionDate time.Time   `toml:"DeletionDate" json:"deletion_date"`
	Mode         fs.FileMode `toml:"Mode" json:"mode"`
	Kind         types.Kind  `toml:"Kind" json:"kind"`
}

type infoFile struct {
	Info Record `toml:"Trash Info"`
}

// Bin is the trash contract the job engine depends on
type Bin interface {
	Put(ctx context.Context, path string) (id.TrashID, error)
	Restore(ctx context.Context, tid id.TrashID) (string, error)
	RestoreTo(ctx context.Context, tid id.TrashID, dest string) error
	Purge(ctx context.Context, tid id.TrashID) error
	Info(tid id.TrashID) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Available(path string) error
	Usage(ctx context.Context) (files, bytes int64, err error)
}

// Options configures a Store
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Store is a Bin over an fsys.FS
type Store struct {
	fs      fsys.FS
	root    string
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

var _ Bin = (*Store)(nil)

// NewStore opens (creating if needed) a store rooted at root
func NewStore(f fsys.FS, root string, opts Options) (*Store, error) {
	norm, err := paths.Normalize(root)
	if err != nil {
		return nil, fmt.Errorf("invalid trash root: %w", err)
	}
	for _, dir := range []string{"files", "info"} {
		if err := f.MkdirAll(paths.Join(norm, dir), 0o700); err != nil {
			return nil, fserr.Wrap("trash init", norm, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:      f,
		root:    norm,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Root returns the store directory
func (s *Store) Root() string { return s.root }

func (s *Store) payloadPath(tid id.TrashID) string {
	return paths.Join(s.root, "files", string(tid))
}

func (s *Store) infoPath(tid id.TrashID) string {
	return paths.Join(s.root, "info", string(tid)+infoExt)
}

// Available returns nil when path can be moved into the store by rename.
func (s *Store) Available(path string) error {
	norm, err := paths.Normalize(path)
	if err != nil {
		return fserr.New(fserr.InvalidInput, "trash", path, err)
	}
	if norm == s.root || paths.IsAncestor(norm, s.root) || paths.IsAncestor(s.root, norm) {
		return fserr.New(fserr.InvalidInput, "trash", norm, errors.New("path overlaps the trash store"))
	}

	srcDev, err := s.fs.Device(paths.Parent(norm))
	if err != nil {
		return fserr.Wrap("trash", norm, err)
	}
	dstDev, err := s.fs.Device(s.root)
	if err != nil {
		return fserr.Wrap("trash", s.root, err)
	}
	if srcDev != dstDev {
		return fserr.New(fserr.Unavailable, "trash", norm, fserr.ErrCrossDevice)
	}
	return nil
}

// Put moves path into the store and returns its trash id
func (s *Store) Put(ctx context.Context, path string) (tid id.TrashID, err error) {
	defer func() { s.metrics.RecordTrashOp("put", err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.Available(path); err != nil {
		return "", err
	}
	norm := paths.MustNormalize(path)

	info, err := s.fs.Lstat(norm)
	if err != nil {
		return "", fserr.Wrap("trash", norm, err)
	}

	tid = id.NewTrashID()
	rec := Record{
		ID:           tid,
		Path:         norm,
		DeletionDate: s.now().UTC().Truncate(time.Second),
		Mode:         info.Mode().Perm(),
		Kind:         types.KindOf(info.Mode()),
	}
	if err := s.writeRecord(rec); err != nil {
		return "", err
	}
	if err := s.fs.Rename(norm, s.payloadPath(tid)); err != nil {
		s.fs.Remove(s.infoPath(tid))
		return "", fserr.Wrap("trash", norm, err)
	}

	s.logger.Debug("Trashed entry", zap.String("path", norm), zap.String("id", string(tid)))
	return tid, nil
}

// Restore moves a trashed entry back to its original path
func (s *Store) Restore(ctx context.Context, tid id.TrashID) (string, error) {
	rec, err := s.Info(tid)
	if err != nil {
		return "", err
	}
	if err := s.RestoreTo(ctx, tid, rec.Path); err != nil {
		return "", err
	}
	return rec.Path, nil
}

// RestoreTo moves a trashed entry to dest. It fails with AlreadyExists if
// dest is taken; the caller decides how to resolve that.
func (s *Store) RestoreTo(ctx context.Context, tid id.TrashID, dest string) (err error) {
	defer func() { s.metrics.RecordTrashOp("restore", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := s.Info(tid)
	if err != nil {
		return err
	}
	norm, err := paths.Normalize(dest)
	if err != nil {
		return fserr.New(fserr.InvalidInput, "restore", dest, err)
	}

	exists, err := fsys.Exists(s.fs, norm)
	if err != nil {
		return fserr.Wrap("restore", norm, err)
	}
	if exists {
		return fserr.New(fserr.AlreadyExists, "restore", norm, fs.ErrExist)
	}
	if err := s.fs.MkdirAll(paths.Parent(norm), 0o755); err != nil {
		return fserr.Wrap("restore", paths.Parent(norm), err)
	}
	if err := s.fs.Rename(s.payloadPath(tid), norm); err != nil {
		return fserr.Wrap("restore", norm, err)
	}
	if rec.Kind != types.KindSymlink {
		if err := s.fs.Chmod(norm, rec.Mode); err != nil && !fserr.Is(err, fserr.Unsupported) {
			s.logger.Warn("Failed to restore permissions", zap.String("path", norm), zap.Error(err))
		}
	}
	if err := s.fs.Remove(s.infoPath(tid)); err != nil {
		s.logger.Warn("Failed to remove trash record", zap.String("id", string(tid)), zap.Error(err))
	}

	s.logger.Debug("Restored entry", zap.String("path", norm), zap.String("id", string(tid)))
	return nil
}

// Purge permanently deletes a trashed entry and its record
func (s *Store) Purge(ctx context.Context, tid id.TrashID) (err error) {
	defer func() { s.metrics.RecordTrashOp("purge", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.Info(tid); err != nil {
		return err
	}
	if err := fsys.RemoveAll(s.fs, s.payloadPath(tid)); err != nil {
		return fserr.Wrap("purge", s.payloadPath(tid), err)
	}
	if err := s.fs.Remove(s.infoPath(tid)); err != nil {
		return fserr.Wrap("purge", s.infoPath(tid), err)
	}
	return nil
}

// Info reads the record for tid
func (s *Store) Info(tid id.TrashID) (Record, error) {
	if !id.HasPrefix(string(tid), id.TrashPrefix) {
		return Record{}, fserr.New(fserr.InvalidInput, "trash info", string(tid), errors.New("malformed trash id"))
	}
	data, err := fsys.ReadFile(s.fs, s.infoPath(tid))
	if err != nil {
		return Record{}, fserr.Wrap("trash info", string(tid), err)
	}
	var f infoFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Record{}, fserr.New(fserr.IOError, "trash info", string(tid), fmt.Errorf("corrupt record: %w", err))
	}
	f.Info.ID = tid
	return f.Info, nil
}

// List returns every readable record, oldest first. Corrupt records are
// logged and skipped.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	infos, err := s.fs.ReadDir(paths.Join(s.root, "info"))
	if err != nil {
		return nil, fserr.Wrap("trash list", s.root, err)
	}

	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := strings.CutSuffix(info.Name(), infoExt)
		if !ok || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := s.Info(id.TrashID(name))
		if err != nil {
			s.logger.Warn("Skipping trash record", zap.String("id", name), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].DeletionDate.Equal(records[j].DeletionDate) {
			return records[i].DeletionDate.Before(records[j].DeletionDate)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Usage totals the files and bytes held by the store
func (s *Store) Usage(ctx context.Context) (files, bytes int64, err error) {
	var nFiles, nBytes atomic.Int64
	root := paths.Join(s.root, "files")
	err = s.fs.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			// purged while walking
			if errors.Is(err, fs.ErrNotExist) && p != root {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == root || info.IsDir() {
			return nil
		}
		nFiles.Add(1)
		nBytes.Add(info.Size())
		return nil
	})
	if err != nil {
		return 0, 0, fserr.Wrap("trash usage", root, err)
	}
	return nFiles.Load(), nBytes.Load(), nil
}

func (s *Store) writeRecord(rec Record) error {
	data, err := toml.Marshal(infoFile{Info: rec})
	if err != nil {
		return fserr.New(fserr.Internal, "trash", rec.Path, fmt.Errorf("failed to encode record: %w", err))
	}
	if err := fsys.WriteFileAtomic(s.fs, s.infoPath(rec.ID), data, 0o600); err != nil {
		return fserr.Wrap("trash", rec.Path, err)
	}
	return nil
}
