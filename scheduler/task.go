package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"al.essio.dev/pkg/shellescape"
)

type TaskKind string

const (
	KindCommand TaskKind = "command"
	KindFunc    TaskKind = "job"
	KindQueue   TaskKind = "queue"
	KindExec    TaskKind = "exec"
)

// Task is what a rule runs. The set of implementations is closed:
// CommandTask, FuncTask, QueueTask and ExecTask.
type Task interface {
	Kind() TaskKind
	String() string
	isTask()
}

// CommandTask runs a console command registered in a CommandRegistry.
type CommandTask struct {
	Name string
	Args []string
}

func (CommandTask) Kind() TaskKind { return KindCommand }
func (CommandTask) isTask()        {}
func (t CommandTask) String() string {
	return strings.TrimSpace(t.Name + " " + strings.Join(t.Args, " "))
}

// FuncTask runs an in-process callable.
type FuncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (FuncTask) Kind() TaskKind    { return KindFunc }
func (FuncTask) isTask()           {}
func (t FuncTask) String() string { return t.Name }

// QueueTask pushes a job onto the external queue. Success means enqueued.
type QueueTask struct {
	Job   string
	Queue string
	Args  []any
}

func (QueueTask) Kind() TaskKind { return KindQueue }
func (QueueTask) isTask()        {}
func (t QueueTask) String() string {
	if len(t.Args) == 0 {
		return t.Job
	}
	return fmt.Sprintf("%s %v", t.Job, t.Args)
}

// ExecTask runs an external program without a shell.
type ExecTask struct {
	Argv    []string
	Timeout time.Duration
}

func (ExecTask) Kind() TaskKind    { return KindExec }
func (ExecTask) isTask()           {}
func (t ExecTask) String() string { return shellescape.QuoteCommand(t.Argv) }

type Status string

const (
	StatusIdle        Status = "idle"
	StatusDispatched  Status = "dispatched"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// Output is where an exec rule writes its captured output.
type Output struct {
	Path   string
	Append bool
}

// Rule is a compiled schedule entry. Its configuration is fixed once built;
// only the bookkeeping behind State changes.
type Rule struct {
	ID             string
	Name           string
	Task           Task
	Frequency      *Frequency
	Location       *time.Location
	PreventOverlap bool
	OverlapExpiry  time.Duration
	OnOneServer    bool
	Output         Output

	filters []func(ctx context.Context) bool
	rejects []func(ctx context.Context) bool
	before  []func(ctx context.Context)
	after   []func(ctx context.Context, res Result)

	running  atomic.Bool
	inflight atomic.Int32

	mu         sync.Mutex
	lastRunAt  time.Time
	lastStatus Status
	lastDetail string
}

// RuleState is a point-in-time copy of a rule's bookkeeping.
type RuleState struct {
	LastRunAt  time.Time
	LastStatus Status
	Detail     string
	Running    bool
}

// IsDue reports whether the rule fires in the minute containing now.
func IsDue(r *Rule, now time.Time) bool {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return r.Frequency.Match(now.In(loc))
}

func (r *Rule) IsDue(now time.Time) bool { return IsDue(r, now) }

func (r *Rule) State() RuleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := r.lastStatus
	if status == "" {
		status = StatusIdle
	}
	return RuleState{
		LastRunAt:  r.lastRunAt,
		LastStatus: status,
		Detail:     r.lastDetail,
		Running:    r.inflight.Load() > 0,
	}
}

func (r *Rule) record(at time.Time, status Status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !at.IsZero() {
		r.lastRunAt = at
	}
	r.lastStatus = status
	r.lastDetail = detail
}

// tryAcquire claims the in-flight flag. It fails while a previous run of
// the same rule holds it.
func (r *Rule) tryAcquire() bool {
	return r.running.CompareAndSwap(false, true)
}

func (r *Rule) release() {
	r.running.Store(false)
}

func (r *Rule) passesFilters(ctx context.Context) bool {
	for _, fn := range r.filters {
		if !fn(ctx) {
			return false
		}
	}
	for _, fn := range r.rejects {
		if fn(ctx) {
			return false
		}
	}
	return true
}
