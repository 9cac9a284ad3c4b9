package mount

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Usage describes the capacity of the filesystem holding a path, in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// DiskUsage reports the usage of the filesystem that holds path. Free is the
// space available to unprivileged users.
func DiskUsage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, errors.Wrapf(err, "failed to statfs %s", path)
	}

	bsize := uint64(st.Bsize) //nolint:unconvert
	return Usage{
		Total: st.Blocks * bsize,
		Used:  (st.Blocks - st.Bfree) * bsize,
		Free:  st.Bavail * bsize,
	}, nil
}

// UsedBytes sums the used space of the filesystems holding paths. A filesystem
// named twice (e.g. /boot living on the root filesystem) is counted once.
func UsedBytes(paths ...string) (int64, error) {
	var total uint64
	seen := make(map[uint64]bool)

	for _, p := range paths {
		var st unix.Stat_t
		if err := unix.Stat(p, &st); err != nil {
			return 0, errors.Wrapf(err, "failed to stat %s", p)
		}
		dev := uint64(st.Dev) //nolint:unconvert
		if seen[dev] {
			log.Debug().Str("path", p).Msg("filesystem already counted")
			continue
		}
		seen[dev] = true

		usage, err := DiskUsage(p)
		if err != nil {
			return 0, err
		}
		total += usage.Used
	}
	return int64(total), nil
}
