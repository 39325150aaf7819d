package scheduler

import (
	"context"
	"time"
)

// RunRecord is one outcome as persisted by a RunRecorder.
type RunRecord struct {
	RunID       string
	RuleID      string
	RuleName    string
	Kind        TaskKind
	Status      Status
	Detail      string
	ExitCode    int
	Output      string
	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

type RunRecorder interface {
	Record(ctx context.Context, rec RunRecord) error
}
