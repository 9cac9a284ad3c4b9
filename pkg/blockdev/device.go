package blockdev

// Device is one entry of the block device tree as reported by lsblk.
type Device struct {
	Name       string
	Path       string
	Type       string
	FSType     string
	MountPoint string
	Size       int64
	Children   []Device
}

// Partitions returns the devices that may carry a filesystem, in enumeration order.
// A device without children is treated as its own single partition; holders stacked
// on a partition (dm-crypt, lvm) follow their parent.
func (d Device) Partitions() []Device {
	if len(d.Children) == 0 {
		return []Device{d}
	}

	var parts []Device
	for _, child := range d.Children {
		parts = append(parts, child.flatten()...)
	}
	return parts
}

func (d Device) flatten() []Device {
	out := []Device{d}
	for _, child := range d.Children {
		out = append(out, child.flatten()...)
	}
	return out
}

// MountPoints lists every mounted partition below d.
func (d Device) MountPoints() []string {
	var mounts []string
	for _, p := range d.Partitions() {
		if p.MountPoint != "" {
			mounts = append(mounts, p.MountPoint)
		}
	}
	return mounts
}
