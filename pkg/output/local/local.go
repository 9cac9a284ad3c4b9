package local

import (
	"os"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Extension is appended to every archive written by this package.
const Extension = ".gz"

// compressBlockSize is the amount of data pgzip compresses per worker.
const compressBlockSize = 1 << 20

type Options struct {
	// Level is a gzip compression level; pgzip.DefaultCompression when zero.
	Level int
	// Blocks is the number of blocks compressed in parallel; the library default when zero.
	Blocks int
}

// Writer streams data through a block-parallel gzip compressor into a file.
type Writer struct {
	path string
	file *os.File
	gz   *pgzip.Writer
}

// Create creates path exclusively and returns a compressing writer for it.
func Create(path string, opts Options) (*Writer, error) {
	level := opts.Level
	if level == 0 {
		level = pgzip.DefaultCompression
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating archive")
	}

	gz, err := pgzip.NewWriterLevel(file, level)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "failed creating compressor")
	}
	if opts.Blocks > 0 {
		if err := gz.SetConcurrency(compressBlockSize, opts.Blocks); err != nil {
			file.Close()
			os.Remove(path)
			return nil, errors.Wrap(err, "failed configuring compressor")
		}
	}

	log.Debug().Str("path", path).Int("level", level).Int("blocks", opts.Blocks).Msg("archive created")
	return &Writer{path: path, file: file, gz: gz}, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

// Close flushes the compressor, syncs the file and closes it. The first error wins.
func (w *Writer) Close() error {
	err := w.gz.Close()
	if err != nil {
		err = errors.Wrap(err, "failed flushing compressor")
	}
	if syncErr := w.file.Sync(); syncErr != nil && err == nil {
		err = errors.Wrap(syncErr, "failed syncing archive")
	}
	if closeErr := w.file.Close(); closeErr != nil && err == nil {
		err = errors.Wrap(closeErr, "failed closing archive")
	}
	return err
}

// Remove deletes a partial archive. A missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	switch {
	case err == nil:
		log.Debug().Str("path", path).Msg("partial archive removed")
	case !os.IsNotExist(err):
		return errors.Wrap(err, "failed removing partial archive")
	}
	return nil
}
