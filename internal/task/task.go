package task

import (
	"errors"
	"time"

	"muse/internal/generator"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned for task ids the registry never issued or has
	// evicted. Callers must treat it as "not found", never as "still pending".
	ErrNotFound = errors.New("task not found")

	// ErrStaleTransition is returned when a transition is rejected: either the
	// record is already terminal or the requested edge is not in the lifecycle
	// graph. It indicates a duplicate or racing update and is never surfaced
	// to clients.
	ErrStaleTransition = errors.New("stale task transition")
)

// Record is the unit of asynchronous generation work. The registry owns
// records for their full lifecycle; all mutation funnels through
// Registry.Transition.
type Record struct {
	ID          string              `json:"id"`
	Type        generator.MediaType `json:"type"`
	Status      Status              `json:"status"`
	Progress    int                 `json:"progress"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      *generator.Envelope `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot of registry contents.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
