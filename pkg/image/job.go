package image

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/gentoomaniac/image-backup/pkg/mount"
	"github.com/gentoomaniac/image-backup/pkg/output/local"
)

const timestampLayout = "20060102T150405"

// Job describes one imaging run: which device to read, how many bytes of it,
// and where to put the archive.
type Job struct {
	Source      string
	Destination string
	TotalBytes  int64
	Hostname    string
}

// NewJob sizes a job by the space currently used on sourceMounts rather than
// the raw device capacity, which is almost always larger than the data on it.
func NewJob(source, destination string, sourceMounts ...string) (*Job, error) {
	total, err := mount.UsedBytes(sourceMounts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed sizing source filesystems")
	}
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "failed reading hostname")
	}

	return &Job{
		Source:      source,
		Destination: destination,
		TotalBytes:  total,
		Hostname:    hostname,
	}, nil
}

// FileName returns "{hostname}_{size}GB_{timestamp}.gz". Size is in decimal
// gigabytes, rounded half to even.
func FileName(hostname string, totalBytes int64, started time.Time) string {
	gb := int64(math.RoundToEven(float64(totalBytes) / 1e9))
	return fmt.Sprintf("%s_%dGB_%s%s", hostname, gb, started.Format(timestampLayout), local.Extension)
}
