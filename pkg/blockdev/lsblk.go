package blockdev

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

var (
	ErrNotFound  = errors.New("block device not found")
	ErrMalformed = errors.New("malformed lsblk output")
)

const lsblkColumns = "NAME,PATH,TYPE,SIZE,FSTYPE,MOUNTPOINT"

// Lister enumerates block devices.
type Lister struct {
	Runner Runner
}

// NewLister returns a Lister that runs lsblk on the host.
func NewLister() *Lister {
	return &Lister{Runner: ExecRunner{}}
}

// List returns the current block device tree. Nothing is cached between calls.
func (l *Lister) List(ctx context.Context) ([]Device, error) {
	raw, err := l.Runner.Run(ctx, "lsblk", "-J", "-b", "-o", lsblkColumns)
	if err != nil {
		return nil, errors.Wrap(err, "failed enumerating block devices")
	}
	return ParseLsblk(raw)
}

// ParseLsblk decodes the JSON document printed by `lsblk -J`.
func ParseLsblk(raw []byte) ([]Device, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}

	root := gjson.GetBytes(raw, "blockdevices")
	if !root.IsArray() {
		return nil, errors.Wrap(ErrMalformed, "missing blockdevices array")
	}

	var devices []Device
	for _, entry := range root.Array() {
		devices = append(devices, parseDevice(entry))
	}
	log.Debug().Int("count", len(devices)).Msg("block devices enumerated")
	return devices, nil
}

func parseDevice(entry gjson.Result) Device {
	dev := Device{
		Name:       entry.Get("name").String(),
		Path:       entry.Get("path").String(),
		Type:       entry.Get("type").String(),
		FSType:     entry.Get("fstype").String(),
		MountPoint: entry.Get("mountpoint").String(),
		Size:       entry.Get("size").Int(),
	}

	// util-linux >= 2.37 may report every mount of a device in "mountpoints"
	if dev.MountPoint == "" {
		for _, m := range entry.Get("mountpoints").Array() {
			if m.Type == gjson.String && m.String() != "" {
				dev.MountPoint = m.String()
				break
			}
		}
	}
	if dev.Path == "" && dev.Name != "" {
		dev.Path = filepath.Join("/dev", dev.Name)
	}

	for _, child := range entry.Get("children").Array() {
		dev.Children = append(dev.Children, parseDevice(child))
	}
	return dev
}

// SourceDevice returns the name of the disk (e.g. "mmcblk0") that holds the
// filesystem mounted at mountPoint.
func SourceDevice(ctx context.Context, runner Runner, mountPoint string) (string, error) {
	out, err := runner.Run(ctx, "findmnt", mountPoint, "-o", "SOURCE", "-n")
	if err != nil {
		return "", errors.Wrapf(err, "failed resolving source of %s", mountPoint)
	}
	partition := strings.TrimSpace(string(out))
	if partition == "" {
		return "", errors.Wrapf(ErrNotFound, "nothing mounted at %s", mountPoint)
	}

	out, err = runner.Run(ctx, "lsblk", "-no", "PKNAME", partition)
	if err != nil {
		return "", errors.Wrapf(err, "failed resolving parent of %s", partition)
	}
	// lsblk prints one line per node, holders included; the first one is the partition itself
	name := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if name == "" {
		return "", errors.Wrapf(ErrNotFound, "%s has no parent disk", partition)
	}

	log.Debug().Str("partition", partition).Str("disk", name).Msg("source device resolved")
	return name, nil
}
