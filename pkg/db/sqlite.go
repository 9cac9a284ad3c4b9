package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func NewSQLLite(dbpath string) (*SQLLiteDB, error) {
	rawDB, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, errors.Wrap(err, "failed opening history database")
	}
	return &SQLLiteDB{rawDB: rawDB}, nil
}

type SQLLiteDB struct {
	rawDB *sql.DB
}

func (db *SQLLiteDB) runStatement(sql string) (sql.Result, error) {
	statement, err := db.rawDB.Prepare(sql)
	if err != nil {
		return nil, err
	}
	defer statement.Close()

	return statement.Exec()
}

func (db *SQLLiteDB) Init() (err error) {
	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS runs (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"hostname TEXT, " +
			"source TEXT, " +
			"archive TEXT, " +
			"total INTEGER, " +
			"copied INTEGER, " +
			"blocksize INTEGER, " +
			"started INTEGER, " +
			"elapsed INTEGER, " +
			"status TEXT, " +
			"error TEXT" +
			")")
	if err != nil {
		return errors.Wrap(err, "failed creating runs table")
	}
	log.Debug().Msg("Created runs table")

	_, err = db.runStatement("CREATE INDEX IF NOT EXISTS runs_started ON runs (started)")
	return err
}

func (db *SQLLiteDB) AddRun(run *Run) (int64, error) {
	result, err := db.rawDB.Exec("INSERT INTO runs (hostname, source, archive, total, copied, blocksize, started, elapsed, status, error) "+
		"VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.Hostname, run.Source, run.Archive, run.TotalBytes, run.CopiedBytes, run.BlockSize,
		run.Started.Unix(), int64(run.Elapsed/time.Second), string(run.Status), run.Error)
	if err != nil {
		return -1, errors.Wrap(err, "failed recording run")
	}

	run.ID, err = result.LastInsertId()
	log.Debug().Int64("id", run.ID).Str("status", string(run.Status)).Msg("run recorded")
	return run.ID, err
}

const runColumns = "id, hostname, source, archive, total, copied, blocksize, started, elapsed, status, error"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var started, elapsed int64
	var status string

	err := row.Scan(&run.ID, &run.Hostname, &run.Source, &run.Archive, &run.TotalBytes, &run.CopiedBytes,
		&run.BlockSize, &started, &elapsed, &status, &run.Error)
	if err != nil {
		return nil, err
	}

	run.Started = time.Unix(started, 0)
	run.Elapsed = time.Duration(elapsed) * time.Second
	run.Status = Status(status)
	return run, nil
}

func (db *SQLLiteDB) GetRunByID(ID int64) (*Run, error) {
	row := db.rawDB.QueryRow("SELECT "+runColumns+" FROM runs WHERE id=?", ID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (db *SQLLiteDB) GetRuns() (runs []*Run, err error) {
	rows, err := db.rawDB.Query("SELECT " + runColumns + " FROM runs ORDER BY started DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Int64("id", run.ID).
			Str("archive", run.Archive).
			Msg("run found")
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (db *SQLLiteDB) Close() error {
	return db.rawDB.Close()
}
