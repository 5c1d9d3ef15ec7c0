package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrJobFinished is returned when a mutation targets a job that already
// reached complete or failed.
var ErrJobFinished = errors.New("job already finished")

// Job statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Job is one report run. RequestJSON holds the creative.RunRequest the
// worker executes; ReportJSON is empty until the job completes.
type Job struct {
	ID              string
	Label           string
	BatchID         string
	Status          string
	RequestJSON     string
	ProgressCurrent int
	ProgressTotal   int
	ProgressMessage string
	ReportJSON      string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Finished reports whether the job is in a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// JobFilter narrows ListJobs. Zero values mean no filter; Limit defaults to 50.
type JobFilter struct {
	Status string
	Limit  int
	Offset int
}

// Batch is a stored set of ad records that runs can reference by ID.
type Batch struct {
	ID        string
	Label     string
	AdsJSON   string // JSON array of creative.AdRecord
	AdCount   int
	CreatedAt time.Time
}
