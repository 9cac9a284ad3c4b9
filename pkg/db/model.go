package db

import "time"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one imaging attempt as recorded in the history ledger.
type Run struct {
	ID          int64
	Hostname    string
	Source      string
	Archive     string
	TotalBytes  int64
	CopiedBytes int64
	BlockSize   int
	Started     time.Time
	Elapsed     time.Duration
	Status      Status
	Error       string
}
