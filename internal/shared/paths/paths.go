package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Separator is the path separator used by every normalized location.
const Separator = "/"

// schemeSep splits a remote location into scheme and remainder.
const schemeSep = "://"

// Location is a normalized path split into its scheme prefix and path part.
// Local paths have an empty Scheme.
type Location struct {
	Scheme string // "sftp", "smb", ... (empty for local)
	Host   string // authority for remote locations
	Path   string // absolute, cleaned path
}

// String renders the location back into its normalized string form
func (l Location) String() string {
	if l.Scheme == "" {
		return l.Path
	}
	return l.Scheme + schemeSep + l.Host + l.Path
}

// Parse splits a raw location into a normalized Location.
func Parse(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("empty path")
	}

	if i := strings.Index(raw, schemeSep); i > 0 {
		scheme := strings.ToLower(raw[:i])
		rest := raw[i+len(schemeSep):]
		host, p := rest, Separator
		if j := strings.Index(rest, Separator); j >= 0 {
			host, p = rest[:j], rest[j:]
		}
		if scheme == "file" {
			if host != "" && host != "localhost" {
				return Location{}, fmt.Errorf("file location with remote host %q", host)
			}
			return Location{Path: path.Clean(p)}, nil
		}
		return Location{Scheme: scheme, Host: host, Path: path.Clean(p)}, nil
	}

	p := filepath.ToSlash(raw)
	if !path.IsAbs(p) {
		return Location{}, fmt.Errorf("path %q is not absolute", raw)
	}
	return Location{Path: path.Clean(p)}, nil
}

// Normalize returns the canonical string form of a location.
// Trailing separators, duplicate separators, "." and ".." segments are folded
// so that two spellings of the same directory compare equal.
func Normalize(raw string) (string, error) {
	loc, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// MustNormalize is Normalize for callers holding a known-good path.
func MustNormalize(raw string) string {
	p, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Parent returns the normalized parent directory. The root is its own parent.
func Parent(p string) string {
	loc, err := Parse(p)
	if err != nil {
		return p
	}
	loc.Path = path.Dir(loc.Path)
	return loc.String()
}

// Base returns the last element of the path
func Base(p string) string {
	loc, err := Parse(p)
	if err != nil {
		return path.Base(p)
	}
	return path.Base(loc.Path)
}

// Join appends name elements to a normalized directory.
func Join(dir string, elem ...string) string {
	loc, err := Parse(dir)
	if err != nil {
		return path.Join(append([]string{dir}, elem...)...)
	}
	loc.Path = path.Join(append([]string{loc.Path}, elem...)...)
	return loc.String()
}

// IsAncestor reports whether ancestor is a strict ancestor of p.
func IsAncestor(ancestor, p string) bool {
	a, err := Parse(ancestor)
	if err != nil {
		return false
	}
	b, err := Parse(p)
	if err != nil {
		return false
	}
	if a.Scheme != b.Scheme || a.Host != b.Host || a.Path == b.Path {
		return false
	}
	if a.Path == Separator {
		return true
	}
	return strings.HasPrefix(b.Path, a.Path+Separator)
}

// Overlaps reports whether two paths are identical or one contains the other.
func Overlaps(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb || IsAncestor(na, nb) || IsAncestor(nb, na)
}

// Rel returns p relative to base, or false when p is not inside base.
func Rel(base, p string) (string, bool) {
	if b, err := Normalize(base); err == nil {
		if q, err := Normalize(p); err == nil {
			if b == q {
				return ".", true
			}
			if IsAncestor(b, q) {
				prefix := b
				if !strings.HasSuffix(prefix, Separator) {
					prefix += Separator
				}
				return strings.TrimPrefix(q, prefix), true
			}
		}
	}
	return "", false
}

// ValidateName checks that name is usable as a single directory entry name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is reserved", name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("name %q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name contains a NUL byte")
	}
	return nil
}

// SplitExt splits a file name into stem and extension ("a.tar" -> "a", ".tar").
// Dotfiles without a further dot have no extension.
func SplitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
