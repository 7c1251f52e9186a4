package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies one CLI invocation. Its ID is stamped on every log
// line so the lines of concurrent processes sharing ftrack.log can be told
// apart.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// NewOperation starts an operation named after the CLI command being run.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Name:      name,
		StartedAt: now.UTC(),
	}
}

// Elapsed reports how long the operation has been running.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
