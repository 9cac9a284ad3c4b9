// Package image streams a block device into a compressed archive.
package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/image-backup/pkg/output/local"
)

const DefaultBlockSize = 1 << 20

var ErrCanceled = errors.New("backup canceled")

type archive interface {
	io.Writer
	Close() error
}

var createArchive = func(path string, opts local.Options) (archive, error) {
	w, err := local.Create(path, opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ProgressFunc receives the bytes copied so far and the job total. It runs on
// the copy loop after every block and must return quickly.
type ProgressFunc func(copied, total int64)

type Options struct {
	// BlockSize is the read size per iteration and bounds cancellation latency.
	BlockSize   int
	Compression local.Options
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is returned by Run in every case. Elapsed is only meaningful when
// Run returns a nil error.
type Result struct {
	Path    string
	Copied  int64
	Elapsed time.Duration
}

// Run copies the first job.TotalBytes bytes of job.Source into a new archive
// in job.Destination. ctx is polled once per block; when it is done the loop
// stops, the partial archive is deleted and the error wraps ErrCanceled. A read
// or write failure returns immediately and leaves the partial archive on disk.
func Run(ctx context.Context, job *Job, progress ProgressFunc, opts Options) (Result, error) {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	started := now()
	res := Result{Path: filepath.Join(job.Destination, FileName(job.Hostname, job.TotalBytes, started))}

	src, err := os.Open(job.Source)
	if err != nil {
		return res, errors.Wrap(err, "failed opening source device")
	}
	defer src.Close()

	out, err := createArchive(res.Path, opts.Compression)
	if err != nil {
		return res, err
	}

	log.Debug().
		Str("source", job.Source).
		Str("archive", res.Path).
		Str("size", humanize.Bytes(uint64(job.TotalBytes))).
		Int("block_size", blockSize).
		Msg("copy started")

	res.Copied, err = copyBlocks(ctx, out, src, job.TotalBytes, blockSize, progress)
	if err != nil {
		if closeErr := out.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("closing partial archive")
		}
		return res, err
	}

	if ctx.Err() != nil {
		if closeErr := out.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("closing canceled archive")
		}
		if rmErr := local.Remove(res.Path); rmErr != nil {
			log.Warn().Err(rmErr).Str("archive", res.Path).Msg("partial archive left behind")
		}
		return res, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}

	if err := out.Close(); err != nil {
		return res, err
	}

	res.Elapsed = now().Sub(started)
	log.Debug().Int64("copied", res.Copied).Dur("elapsed", res.Elapsed).Msg("copy finished")
	return res, nil
}

func copyBlocks(ctx context.Context, dst io.Writer, src io.Reader, total int64, blockSize int, progress ProgressFunc) (int64, error) {
	buf := make([]byte, blockSize)
	var copied int64

	for ctx.Err() == nil && copied < total {
		want := int64(blockSize)
		if remaining := total - copied; remaining < want {
			want = remaining
		}

		n, err := io.ReadFull(src, buf[:want])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return copied, errors.Wrap(werr, "failed writing archive")
			}
			copied += int64(n)
			if progress != nil {
				progress(clamp(copied, total), total)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			log.Debug().Int64("copied", copied).Msg("source exhausted before total")
			return copied, nil
		default:
			return copied, errors.Wrap(err, "failed reading source device")
		}
	}
	return copied, nil
}

func clamp(copied, total int64) int64 {
	return min(max(copied, 0), total)
}
