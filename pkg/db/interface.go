package db

type DB interface {
	Init() error
	AddRun(run *Run) (int64, error)
	GetRuns() ([]*Run, error)
	GetRunByID(ID int64) (*Run, error)
	Close() error
}
