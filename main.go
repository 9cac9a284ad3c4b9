package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/gentoomaniac/logging"
	"github.com/rs/zerolog/log"

	clitools "github.com/gentoomaniac/image-backup/pkg/cli"
)

var (
	version = "unset"
	commit  = "unset"
	binName = "image-backup"
	builtBy = "manual"
	date    = "unset"
)

var cli struct {
	logging.LoggingConfig

	Backup BackupArgs `cmd:"" default:"withargs" help:"Image the boot device into a compressed archive (default)."`

	History HistoryArgs `cmd:"" help:"List previous backup runs."`

	Version kong.VersionFlag `help:"Display version."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(binName),
		kong.Description("Image the device holding / and /boot into a single gzip archive."),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
			"commit":  commit,
			"binName": binName,
			"builtBy": builtBy,
			"date":    date,
		})
	logging.Setup(&cli.LoggingConfig)

	err := dispatch(ctx.Command())
	if errors.Is(err, clitools.ErrAborted) {
		log.Info().Msg("Aborted, nothing written")
		ctx.Exit(0)
	}
	if err != nil {
		log.Error().Err(err).Msg("")
		ctx.Exit(1)
	}
	ctx.Exit(0)
}

func dispatch(command string) error {
	name, _, _ := strings.Cut(command, " ")
	switch name {
	case "backup":
		return backup(&cli.Backup)
	case "history":
		return history(&cli.History)
	}
	return fmt.Errorf("unknown command %q", command)
}
