package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/gentoomaniac/image-backup/pkg/blockdev"
	clitools "github.com/gentoomaniac/image-backup/pkg/cli"
	"github.com/gentoomaniac/image-backup/pkg/db"
	"github.com/gentoomaniac/image-backup/pkg/image"
	"github.com/gentoomaniac/image-backup/pkg/output/local"
	"github.com/gentoomaniac/image-backup/pkg/progress"
	"github.com/gentoomaniac/image-backup/pkg/qualify"
)

const progressWidth = 30

type BackupArgs struct {
	Destination string   `arg:"" optional:"" help:"Directory to write the archive to. Prompts for one when omitted." type:"path"`
	BlockSize   ByteSize `short:"b" help:"Amount of data read and written per iteration." default:"1MiB"`
	Level       int      `short:"l" help:"gzip compression level, 1 (fastest) to 9 (best)." default:"6"`
	Concurrency int      `help:"Blocks compressed in parallel, 0 for one per CPU." default:"0"`
	SourceMount []string `help:"Filesystems whose used space is imaged." default:"/,/boot"`
	Device      string   `help:"Device to image instead of the disk holding the first source mount. Requires --bytes." type:"path"`
	Bytes       ByteSize `help:"Amount of data to image instead of the used space of the source mounts."`
	HistoryDB   string   `short:"d" help:"sqlite database recording backup runs." type:"path" env:"IMAGE_BACKUP_HISTORY"`
	LockFile    string   `help:"Lock held while a backup runs." default:"/run/image-backup.lock" type:"path"`
	Yes         bool     `short:"y" help:"Start without asking for confirmation in interactive mode."`
}

func (params *BackupArgs) validate() error {
	if params.BlockSize <= 0 || int64(params.BlockSize) > math.MaxInt {
		return fmt.Errorf("invalid block size %d", params.BlockSize)
	}
	if params.Bytes < 0 {
		return fmt.Errorf("invalid byte count %d", params.Bytes)
	}
	if len(params.SourceMount) == 0 {
		return errors.New("at least one source mount is required")
	}
	// the used space of the source mounts says nothing about another device
	if params.Device != "" && params.Bytes == 0 {
		return errors.New("--device requires --bytes")
	}
	return nil
}

type reporter interface {
	Update(copied, total int64)
	Done()
}

func backup(params *BackupArgs) error {
	if err := params.validate(); err != nil {
		return err
	}
	if unix.Geteuid() != 0 {
		return errors.New("this application must be run with root privileges")
	}

	lock := flock.New(params.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrapf(err, "failed acquiring lock %s", params.LockFile)
	}
	if !locked {
		return fmt.Errorf("another backup is already running (lock %s is held)", params.LockFile)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceName, devicePath, err := resolveSource(ctx, params)
	if err != nil {
		return err
	}
	log.Debug().Str("device", devicePath).Msg("source device")

	lister := blockdev.NewLister()
	qualifier := qualify.New(lister, sourceName, params.SourceMount...)
	if params.Bytes > 0 {
		qualifier.UsedBytes = func(...string) (int64, error) { return int64(params.Bytes), nil }
	}

	destination := params.Destination
	if destination == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("must supply a destination when not running interactively")
		}
		destination, err = pickDestination(ctx, qualifier, lister, devicePath, params.Yes)
		if err != nil {
			return err
		}
	} else if err := qualifier.Check(ctx, destination); err != nil {
		return err
	}

	job, err := image.NewJob(devicePath, destination, params.SourceMount...)
	if err != nil {
		return err
	}
	if params.Bytes > 0 {
		job.TotalBytes = int64(params.Bytes)
	}

	var report reporter = progress.NewLogger(10)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		report = progress.NewBar(os.Stdout, progressWidth)
	}

	log.Info().
		Str("source", devicePath).
		Str("destination", destination).
		Str("size", humanize.Bytes(uint64(job.TotalBytes))).
		Msgf("Backing up %s to %s...", devicePath, destination)

	started := time.Now()
	res, err := image.Run(ctx, job, report.Update, image.Options{
		BlockSize: int(params.BlockSize),
		Compression: local.Options{
			Level:  params.Level,
			Blocks: params.Concurrency,
		},
	})
	report.Done()

	if params.HistoryDB != "" {
		recordRun(params.HistoryDB, newRun(job, res, int(params.BlockSize), started, err))
	}

	if errors.Is(err, image.ErrCanceled) {
		return errors.Wrap(err, "backup aborted")
	}
	if err != nil {
		log.Warn().Str("archive", res.Path).Msg("partial archive left in place")
		return errors.Wrap(err, "backup failed")
	}

	log.Info().
		Str("archive", res.Path).
		Str("elapsed", formatElapsed(res.Elapsed)).
		Msgf("Backup to %s completed in %s", res.Path, formatElapsed(res.Elapsed))
	return nil
}

// resolveSource returns the disk name and device path to image.
func resolveSource(ctx context.Context, params *BackupArgs) (string, string, error) {
	devicePath := params.Device
	if devicePath == "" {
		name, err := blockdev.SourceDevice(ctx, blockdev.ExecRunner{}, params.SourceMount[0])
		if err != nil {
			return "", "", err
		}
		devicePath = filepath.Join("/dev", name)
	}

	// lsblk reports kernel names, so /dev/disk/by-id and /dev/mapper links are resolved first
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return "", "", errors.Wrapf(err, "can't resolve %s", devicePath)
	}
	if resolved != devicePath {
		log.Debug().Str("device", devicePath).Str("resolved", resolved).Msg("source device link resolved")
	}
	devicePath = resolved

	if err := checkBlockDevice(devicePath); err != nil {
		return "", "", err
	}
	return filepath.Base(devicePath), devicePath, nil
}

var checkBlockDevice = func(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return errors.Wrapf(err, "can't status %s; this application only works on Linux systems", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("%s is not a block device", path)
	}
	return nil
}

// pickDestination prompts until the user selects a destination that qualifies,
// asks for confirmation and re-validates right before returning it.
func pickDestination(ctx context.Context, q *qualify.Qualifier, lister *blockdev.Lister, source string, yes bool) (string, error) {
	for {
		devices, err := lister.List(ctx)
		if err != nil {
			return "", err
		}

		check := func(path string) error { return q.Check(ctx, path) }
		destination, err := clitools.PromptDestination(clitools.Candidates(devices, q.SourceDevice), check)
		if err != nil {
			return "", err
		}
		if err := q.Check(ctx, destination); err != nil {
			log.Warn().Msg(err.Error())
			continue
		}

		if !yes {
			if err := clitools.ConfirmStart(source, destination); err != nil {
				return "", err
			}
			if err := q.Check(ctx, destination); err != nil {
				log.Warn().Msg(err.Error())
				continue
			}
		}
		return destination, nil
	}
}

func newRun(job *image.Job, res image.Result, blockSize int, started time.Time, runErr error) *db.Run {
	run := &db.Run{
		Hostname:    job.Hostname,
		Source:      job.Source,
		Archive:     res.Path,
		TotalBytes:  job.TotalBytes,
		CopiedBytes: res.Copied,
		BlockSize:   blockSize,
		Started:     started,
		Elapsed:     res.Elapsed,
		Status:      db.StatusCompleted,
	}
	switch {
	case errors.Is(runErr, image.ErrCanceled):
		run.Status = db.StatusCanceled
	case runErr != nil:
		run.Status = db.StatusFailed
		run.Error = runErr.Error()
	}
	return run
}

// recordRun appends run to the history ledger. A broken ledger never fails a backup.
func recordRun(dbpath string, run *db.Run) {
	database, err := openHistory(dbpath)
	if err != nil {
		log.Warn().Err(err).Msg("failed opening history database")
		return
	}
	defer database.Close()

	if _, err := database.AddRun(run); err != nil {
		log.Warn().Err(err).Msg("failed recording run")
	}
}

func openHistory(dbpath string) (db.DB, error) {
	database, err := db.NewSQLLite(dbpath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func formatElapsed(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}
