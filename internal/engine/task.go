package engine

import (
	"github.com/google/uuid"

	"github.com/bamsammich/ferry/internal/backend"
	"github.com/bamsammich/ferry/internal/uri"
)

// Action is what the executor does with a task.
type Action int

const (
	ActionCopy Action = iota + 1
	ActionResume
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCopy:
		return "copy"
	case ActionResume:
		return "resume"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// TransferTask moves one source entry to one destination. Tasks are created
// by the planner and consumed exactly once by the executor.
type TransferTask struct {
	ID           string
	Source       backend.FileEntry
	Destination  uri.URI
	Action       Action
	ResumeOffset uint64
}

func newTask(src backend.FileEntry, dst uri.URI, action Action, offset uint64) TransferTask {
	return TransferTask{
		ID:           uuid.NewString(),
		Source:       src,
		Destination:  dst,
		Action:       action,
		ResumeOffset: offset,
	}
}
