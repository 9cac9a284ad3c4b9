package cli

import (
	"errors"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"

	"github.com/gentoomaniac/image-backup/pkg/blockdev"
)

func TestCandidates(t *testing.T) {
	devices := []blockdev.Device{
		{Name: "mmcblk0", Children: []blockdev.Device{
			{Name: "mmcblk0p1", MountPoint: "/boot"},
			{Name: "mmcblk0p2", MountPoint: "/"},
		}},
		{Name: "sdb", Path: "/dev/sdb", FSType: "ext4", MountPoint: "/mnt/flat", Size: 8_000_000_000},
		{Name: "sda", Children: []blockdev.Device{
			{Name: "sda1", Path: "/dev/sda1", FSType: "exfat", MountPoint: "/media/usb", Size: 64_000_000_000},
			{Name: "sda2", MountPoint: "[SWAP]"},
			{Name: "sda3"},
		}},
	}

	got := Candidates(devices, "mmcblk0")
	assert.Equal(t, []Candidate{
		{MountPoint: "/media/usb", Device: "/dev/sda1", FSType: "exfat", Size: "64 GB"},
		{MountPoint: "/mnt/flat", Device: "/dev/sdb", FSType: "ext4", Size: "8.0 GB"},
	}, got)
}

func TestPathValidator(t *testing.T) {
	var checked []string
	validate := pathValidator(func(path string) error {
		checked = append(checked, path)
		if path != "/media/usb/backups" {
			return errors.New("rejected")
		}
		return nil
	})

	assert.Error(t, validate(""))
	assert.Error(t, validate("   "))
	assert.Error(t, validate("media/usb"))
	assert.Empty(t, checked)

	assert.NoError(t, validate("/media/usb/backups/"))
	assert.NoError(t, validate(" /media/usb//backups "))
	assert.Error(t, validate("/media/usb"))
	assert.Equal(t, []string{"/media/usb/backups", "/media/usb/backups", "/media/usb"}, checked)
}

func TestPathValidatorWithoutCheck(t *testing.T) {
	assert.NoError(t, pathValidator(nil)("/anywhere"))
}

func TestAbortOr(t *testing.T) {
	assert.ErrorIs(t, abortOr(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, abortOr(promptui.ErrEOF), ErrAborted)
	assert.ErrorIs(t, abortOr(promptui.ErrAbort), ErrAborted)

	other := assert.AnError
	assert.Equal(t, other, abortOr(other))
}
