package qualify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentoomaniac/image-backup/pkg/blockdev"
	"github.com/gentoomaniac/image-backup/pkg/mount"
)

const gib = uint64(1) << 30

type staticDevices struct {
	devices []blockdev.Device
	err     error
	calls   int
}

func (s *staticDevices) List(context.Context) ([]blockdev.Device, error) {
	s.calls++
	return s.devices, s.err
}

func piDevices(usbFSType string) []blockdev.Device {
	return []blockdev.Device{
		{Name: "mmcblk0", Children: []blockdev.Device{
			{Name: "mmcblk0p1", FSType: "vfat", MountPoint: "/boot"},
			{Name: "mmcblk0p2", FSType: "ext4", MountPoint: "/"},
		}},
		{Name: "sda", Children: []blockdev.Device{
			{Name: "sda1", FSType: usbFSType, MountPoint: "/media/usb"},
		}},
	}
}

func newQualifier(devices *staticDevices, mountPoint string, free uint64, used int64) *Qualifier {
	return &Qualifier{
		Devices:      devices,
		SourceDevice: "mmcblk0",
		SourceMounts: []string{"/", "/boot"},
		MountPoint:   func(string) (string, error) { return mountPoint, nil },
		DiskUsage: func(string) (mount.Usage, error) {
			return mount.Usage{Total: 2 * free, Used: free, Free: free}, nil
		},
		UsedBytes: func(paths ...string) (int64, error) { return used, nil },
	}
}

func requireKind(t *testing.T, err error, kind Kind) *Rejection {
	t.Helper()

	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected a rejection, got %v", err)
	require.Equal(t, kind, rej.Kind, rej.Error())
	return rej
}

func TestAcceptsQualifyingDestination(t *testing.T) {
	q := newQualifier(&staticDevices{devices: piDevices("exfat")}, "/media/usb", 64*gib, 8*int64(gib))

	res := q.Validate(context.Background(), t.TempDir())
	assert.True(t, res.OK)
	assert.Empty(t, res.Reason)
}

func TestRejectsLegacyFATRegardlessOfSpace(t *testing.T) {
	for _, fstype := range []string{"vfat", "VFAT", "msdos", "fat32"} {
		q := newQualifier(&staticDevices{devices: piDevices(fstype)}, "/media/usb", 1<<20*gib, 1)

		err := q.Check(context.Background(), t.TempDir())
		rej := requireKind(t, err, KindUnsupportedFilesystem)
		assert.Contains(t, rej.Error(), "4 GiB")

		res := q.Validate(context.Background(), t.TempDir())
		assert.False(t, res.OK)
		assert.Equal(t, err.Error(), res.Reason)
	}
}

func TestRejectsSourceDevice(t *testing.T) {
	// "/" lives on mmcblk0, which is skipped as the source
	q := newQualifier(&staticDevices{devices: piDevices("ext4")}, "/", 1<<20*gib, 1)

	err := q.Check(context.Background(), t.TempDir())
	rej := requireKind(t, err, KindSameDevice)
	assert.Contains(t, rej.Error(), "same as the source device")
}

func TestRejectsUnknownMount(t *testing.T) {
	q := newQualifier(&staticDevices{devices: piDevices("ext4")}, "/mnt/nowhere", 64*gib, 1)

	requireKind(t, q.Check(context.Background(), t.TempDir()), KindSameDevice)
}

func TestRejectsInsufficientSpace(t *testing.T) {
	cases := []struct {
		name string
		free uint64
		used int64
	}{
		{"equal", 8 * gib, 8 * int64(gib)},
		{"less", 4 * gib, 8 * int64(gib)},
		{"empty", 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := newQualifier(&staticDevices{devices: piDevices("ext4")}, "/media/usb", tc.free, tc.used)

			rej := requireKind(t, q.Check(context.Background(), t.TempDir()), KindInsufficientSpace)
			assert.Equal(t, uint64(tc.used), rej.Required)
			assert.Equal(t, tc.free, rej.Available)
			assert.Contains(t, rej.Error(), "not enough space available")
		})
	}
}

func TestSpaceJustAboveRequirement(t *testing.T) {
	q := newQualifier(&staticDevices{devices: piDevices("ext4")}, "/media/usb", 8*gib+1, 8*int64(gib))

	assert.NoError(t, q.Check(context.Background(), t.TempDir()))
}

func TestRejectsNonDirectory(t *testing.T) {
	devices := &staticDevices{devices: piDevices("ext4")}
	q := newQualifier(devices, "/media/usb", 64*gib, 1)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for _, p := range []string{file, filepath.Join(t.TempDir(), "missing")} {
		rej := requireKind(t, q.Check(context.Background(), p), KindNotDirectory)
		assert.Contains(t, rej.Error(), "is not a directory")
	}
	assert.Zero(t, devices.calls)
}

func TestEnumerationFailure(t *testing.T) {
	q := newQualifier(&staticDevices{err: errors.New("lsblk: exit status 32")}, "/media/usb", 64*gib, 1)

	rej := requireKind(t, q.Check(context.Background(), t.TempDir()), KindEnumerationFailed)
	assert.Contains(t, rej.Error(), "exit status 32")
}

func TestDeviceWithoutPartitions(t *testing.T) {
	devices := &staticDevices{devices: []blockdev.Device{
		{Name: "mmcblk0", Children: []blockdev.Device{{Name: "mmcblk0p2", MountPoint: "/"}}},
		{Name: "sdb", FSType: "ext4", MountPoint: "/mnt/flat"},
	}}
	q := newQualifier(devices, "/mnt/flat", 64*gib, 1)

	assert.NoError(t, q.Check(context.Background(), t.TempDir()))
}

func TestFirstMatchingPartitionWins(t *testing.T) {
	devices := &staticDevices{devices: []blockdev.Device{
		{Name: "sda", Children: []blockdev.Device{{Name: "sda1", FSType: "vfat", MountPoint: "/media/usb"}}},
		{Name: "sdb", Children: []blockdev.Device{{Name: "sdb1", FSType: "ext4", MountPoint: "/media/usb"}}},
	}}
	q := newQualifier(devices, "/media/usb", 64*gib, 1)

	requireKind(t, q.Check(context.Background(), t.TempDir()), KindUnsupportedFilesystem)
}

func TestEnumeratesOnEveryCall(t *testing.T) {
	devices := &staticDevices{devices: piDevices("ext4")}
	q := newQualifier(devices, "/media/usb", 64*gib, 1)
	dir := t.TempDir()

	require.NoError(t, q.Check(context.Background(), dir))
	require.NoError(t, q.Check(context.Background(), dir))
	assert.Equal(t, 2, devices.calls)
}

func TestUsageFailure(t *testing.T) {
	q := newQualifier(&staticDevices{devices: piDevices("ext4")}, "/media/usb", 64*gib, 1)
	q.UsedBytes = func(...string) (int64, error) { return 0, errors.New("no such file or directory") }

	rej := requireKind(t, q.Check(context.Background(), t.TempDir()), KindInsufficientSpace)
	assert.Contains(t, rej.Error(), "no such file or directory")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "insufficient-space", KindInsufficientSpace.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
