// Package paths normalizes file manager locations.
//
// A location is either a local absolute path ("/home/u/docs") or a
// scheme-prefixed remote path ("sftp://host/srv/data"). Every component keys
// its state by the normalized form, so two spellings of the same directory
// always resolve to the same folder model and the same overlap checks.
//
// # Usage
//
//	dir, err := paths.Normalize("/home/u//docs/")  // "/home/u/docs"
//	paths.Parent(dir)                                // "/home/u"
//	paths.Overlaps("/a", "/a/x")                     // true
package paths
