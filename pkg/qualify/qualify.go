// Package qualify decides whether a directory can receive an image of the boot device.
//
// Qualification reads live system state (block device topology, mounts, free
// space) and holds no locks; a destination that passed may still fail later, so
// callers re-validate right before starting a backup and treat I/O errors as the
// final word.
package qualify

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/image-backup/pkg/blockdev"
	"github.com/gentoomaniac/image-backup/pkg/mount"
)

type Kind int

const (
	KindNotDirectory Kind = iota + 1
	KindEnumerationFailed
	KindSameDevice
	KindUnsupportedFilesystem
	KindInsufficientSpace
)

func (k Kind) String() string {
	switch k {
	case KindNotDirectory:
		return "not-a-directory"
	case KindEnumerationFailed:
		return "device-enumeration-failed"
	case KindSameDevice:
		return "destination-is-source-device"
	case KindUnsupportedFilesystem:
		return "filesystem-type-unsupported"
	case KindInsufficientSpace:
		return "insufficient-space"
	}
	return "unknown"
}

// Rejection explains why a destination was refused.
type Rejection struct {
	Kind Kind
	Path string

	// set for KindUnsupportedFilesystem
	FSType string
	// set for KindInsufficientSpace
	Required  uint64
	Available uint64

	Err error
}

func (r *Rejection) Error() string {
	var msg string
	switch r.Kind {
	case KindNotDirectory:
		msg = fmt.Sprintf("'%s' is not a directory", r.Path)
	case KindEnumerationFailed:
		msg = "failed to enumerate block devices"
	case KindSameDevice:
		msg = fmt.Sprintf("destination device is the same as the source device or can't be inspected; can't back up to %s", r.Path)
	case KindUnsupportedFilesystem:
		msg = fmt.Sprintf("'%s' is type %s and cannot hold files larger than 4 GiB; use a filesystem without that limit such as exfat or ext4", r.Path, r.FSType)
	case KindInsufficientSpace:
		msg = fmt.Sprintf("not enough space available on '%s'", r.Path)
		if r.Err == nil {
			msg += fmt.Sprintf(" (need more than %s, have %s)", humanize.IBytes(r.Required), humanize.IBytes(r.Available))
		}
	default:
		msg = fmt.Sprintf("'%s' rejected", r.Path)
	}

	if r.Err != nil {
		return msg + ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Result is the verdict of Validate. Reason is empty when OK.
type Result struct {
	OK     bool
	Reason string
}

// DeviceLister enumerates the current block device tree.
type DeviceLister interface {
	List(ctx context.Context) ([]blockdev.Device, error)
}

type Qualifier struct {
	Devices DeviceLister
	// SourceDevice is the name of the disk being imaged, e.g. "mmcblk0".
	SourceDevice string
	// SourceMounts are the filesystems whose used space will be copied.
	SourceMounts []string

	MountPoint func(path string) (string, error)
	DiskUsage  func(path string) (mount.Usage, error)
	UsedBytes  func(paths ...string) (int64, error)
}

// New returns a Qualifier backed by the host's mounts and filesystems.
func New(devices DeviceLister, sourceDevice string, sourceMounts ...string) *Qualifier {
	return &Qualifier{
		Devices:      devices,
		SourceDevice: sourceDevice,
		SourceMounts: sourceMounts,
		MountPoint:   mount.FindMountPoint,
		DiskUsage:    mount.DiskUsage,
		UsedBytes:    mount.UsedBytes,
	}
}

// Validate reports whether path may receive the backup and, if not, why.
func (q *Qualifier) Validate(ctx context.Context, path string) Result {
	if err := q.Check(ctx, path); err != nil {
		return Result{OK: false, Reason: err.Error()}
	}
	return Result{OK: true}
}

// Check returns nil when path qualifies and a *Rejection otherwise.
func (q *Qualifier) Check(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return &Rejection{Kind: KindNotDirectory, Path: path}
	}

	mp, err := q.MountPoint(path)
	if err != nil {
		return &Rejection{Kind: KindSameDevice, Path: path, Err: err}
	}
	log.Debug().Str("path", path).Str("mountpoint", mp).Msg("destination mount resolved")

	devices, err := q.Devices.List(ctx)
	if err != nil {
		return &Rejection{Kind: KindEnumerationFailed, Path: path, Err: err}
	}

	part, found := q.findPartition(devices, mp)
	if !found {
		return &Rejection{Kind: KindSameDevice, Path: mp}
	}
	if IsLegacyFAT(part.FSType) {
		return &Rejection{Kind: KindUnsupportedFilesystem, Path: mp, FSType: part.FSType}
	}

	return q.checkSpace(path)
}

func (q *Qualifier) findPartition(devices []blockdev.Device, mountPoint string) (blockdev.Device, bool) {
	for _, dev := range devices {
		if dev.Name == q.SourceDevice {
			log.Debug().Str("device", dev.Name).Msg("skipping source device")
			continue
		}
		for _, part := range dev.Partitions() {
			if part.MountPoint == mountPoint {
				log.Debug().Str("device", dev.Name).Str("partition", part.Name).Str("fstype", part.FSType).Msg("destination partition found")
				return part, true
			}
		}
	}
	return blockdev.Device{}, false
}

func (q *Qualifier) checkSpace(path string) error {
	usage, err := q.DiskUsage(path)
	if err != nil {
		return &Rejection{Kind: KindInsufficientSpace, Path: path, Err: err}
	}
	used, err := q.UsedBytes(q.SourceMounts...)
	if err != nil {
		return &Rejection{Kind: KindInsufficientSpace, Path: path, Err: err}
	}

	if usage.Free <= uint64(used) {
		return &Rejection{Kind: KindInsufficientSpace, Path: path, Required: uint64(used), Available: usage.Free}
	}
	return nil
}

// IsLegacyFAT reports whether fstype names a FAT variant limited to 4 GiB files.
// exFAT has no such limit.
func IsLegacyFAT(fstype string) bool {
	switch strings.ToLower(fstype) {
	case "vfat", "msdos", "fat", "fat12", "fat16", "fat32":
		return true
	}
	return false
}
