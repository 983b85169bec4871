// Package store defines the persistence contract for apply runs.
package store

import (
	"errors"

	"github.com/openapply/openapply/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// RunStore persists apply runs and their progress events.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns(sandboxID string) ([]*model.Run, error)
	UpdateRun(run *model.Run) error

	AddEvent(event *model.RunEvent) error
	GetEvents(runID string, afterID int64) ([]*model.RunEvent, error)

	Close() error
}
