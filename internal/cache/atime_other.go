//go:build !linux && !darwin

package cache

import (
	"io/fs"
	"time"
)

// Lookup and Store touch mtime together with atime, so mtime is a usable
// recency signal where atime is not exposed.
func accessTime(fi fs.FileInfo) time.Time {
	return fi.ModTime()
}
