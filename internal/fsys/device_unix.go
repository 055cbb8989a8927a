//go:build unix

package fsys

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

func deviceOf(name string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		return 0, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return uint64(st.Dev), nil
}

func writable(dir string) error {
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return &fs.PathError{Op: "access", Path: dir, Err: err}
	}
	return nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
