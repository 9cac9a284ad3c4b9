// Package mount resolves paths to their mount points and reports filesystem usage.
package mount

import (
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IsMount reports whether path is the root of a mounted filesystem: its parent
// lives on another device, or path and parent are the same inode (the root).
func IsMount(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false, nil
	}

	var parent unix.Stat_t
	if err := unix.Lstat(filepath.Join(path, ".."), &parent); err != nil {
		return false, errors.Wrapf(err, "failed to stat parent of %s", path)
	}

	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}

// FindMountPoint walks up from path until it reaches a mount point. The
// filesystem root always is one, so the walk terminates.
func FindMountPoint(path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve path")
	}

	for {
		mounted, err := IsMount(path)
		if err != nil {
			return "", err
		}
		if mounted {
			return path, nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return path, nil
		}
		path = parent
	}
}
