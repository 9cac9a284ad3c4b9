package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/image-backup/pkg/db"
)

type HistoryArgs struct {
	DBPath string `arg:"" help:"sqlite database recording backup runs." type:"existingfile"`
	ID     int64  `short:"i" help:"ID of a single run to show."`
}

func history(params *HistoryArgs) error {
	log.Debug().Str("db", params.DBPath).Msg("history called")
	database, err := openHistory(params.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	var runs []*db.Run
	if params.ID > 0 {
		run, err := database.GetRunByID(params.ID)
		if err != nil {
			return errors.Wrap(err, "failed getting run")
		}
		if run == nil {
			return fmt.Errorf("no run with id %d", params.ID)
		}
		runs = append(runs, run)
	} else {
		runs, err = database.GetRuns()
		if err != nil {
			return errors.Wrap(err, "failed getting runs")
		}
	}

	printRuns(runs)
	return nil
}

func printRuns(runs []*db.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tCOPIED\tELAPSED\tARCHIVE")
	for _, run := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s / %s\t%s\t%s\n",
			run.ID,
			run.Started.Format("2006-01-02 15:04:05"),
			run.Status,
			humanize.Bytes(uint64(run.CopiedBytes)),
			humanize.Bytes(uint64(run.TotalBytes)),
			formatElapsed(run.Elapsed),
			run.Archive)
	}
}
