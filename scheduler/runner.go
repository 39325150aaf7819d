package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultExecTimeout = 10 * time.Minute

// CommandFunc is a console command that rules can schedule by name.
type CommandFunc func(ctx context.Context, args []string) error

type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]CommandFunc)}
}

func (c *CommandRegistry) Register(name string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[name] = fn
}

func (c *CommandRegistry) Lookup(name string) (CommandFunc, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.commands[name]
	return fn, ok
}

func (c *CommandRegistry) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enqueuer hands a job to an external queue and returns its handle.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, job string, args ...any) (string, error)
}

// Result describes one invocation.
type Result struct {
	RunID      string
	Status     Status
	Detail     string
	Output     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

func (r Result) Success() bool { return r.Status == StatusSucceeded }

func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Invoker runs a rule's task. Failures are caught, recorded on the rule
// and returned in the Result; Invoke itself never panics.
type Invoker struct {
	Commands       *CommandRegistry
	Queue          Enqueuer
	Shell          ShellRunner
	Logger         *zap.SugaredLogger
	DefaultTimeout time.Duration

	now     func() time.Time
	outputs outputFiles
}

func NewInvoker(commands *CommandRegistry, queue Enqueuer, shell ShellRunner, logger *zap.SugaredLogger) *Invoker {
	if commands == nil {
		commands = NewCommandRegistry()
	}
	if shell == nil {
		shell = &ExecRunner{}
	}
	return &Invoker{
		Commands:       commands,
		Queue:          queue,
		Shell:          shell,
		Logger:         logger,
		DefaultTimeout: defaultExecTimeout,
		now:            time.Now,
	}
}

// Check reports configuration problems that would make every run of r
// fail, so they can be rejected at startup.
func (i *Invoker) Check(r *Rule) error {
	switch t := r.Task.(type) {
	case CommandTask:
		if _, ok := i.Commands.Lookup(t.Name); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, t.Name)
		}
	case QueueTask:
		if i.Queue == nil {
			return ErrNoQueue
		}
	}
	return nil
}

func (i *Invoker) Invoke(ctx context.Context, r *Rule) Result {
	res := Result{RunID: uuid.NewString(), StartedAt: i.now()}
	for _, fn := range r.before {
		i.safeHook(r, func() { fn(ctx) })
	}

	err := i.run(ctx, r, &res)
	res.FinishedAt = i.now()
	if err != nil {
		res.Status = StatusFailed
		res.Err = &InvocationError{Rule: r.Name, ExitCode: res.ExitCode, Err: err}
		res.Detail = err.Error()
		i.Logger.Errorw("scheduled task failed",
			"rule", r.Name,
			"kind", r.Task.Kind(),
			"run_id", res.RunID,
			"error", err,
		)
	} else {
		res.Status = StatusSucceeded
		i.Logger.Infow("scheduled task finished",
			"rule", r.Name,
			"kind", r.Task.Kind(),
			"run_id", res.RunID,
			"duration", res.Duration().String(),
		)
	}
	r.record(res.StartedAt, res.Status, res.Detail)

	for _, fn := range r.after {
		i.safeHook(r, func() { fn(ctx, res) })
	}
	return res
}

func (i *Invoker) run(ctx context.Context, r *Rule, res *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	switch t := r.Task.(type) {
	case CommandTask:
		fn, ok := i.Commands.Lookup(t.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, t.Name)
		}
		return fn(ctx, t.Args)
	case FuncTask:
		return t.Fn(ctx)
	case QueueTask:
		if i.Queue == nil {
			return ErrNoQueue
		}
		handle, err := i.Queue.Enqueue(ctx, t.Queue, t.Job, t.Args...)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", t.Job, err)
		}
		res.Detail = "enqueued " + handle
		return nil
	case ExecTask:
		return i.runExec(ctx, r, t, res)
	default:
		return fmt.Errorf("unsupported task %T", t)
	}
}

func (i *Invoker) runExec(ctx context.Context, r *Rule, t ExecTask, res *Result) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = i.DefaultTimeout
	}
	out, err := i.Shell.Run(ctx, t.Argv, timeout)
	res.Output = out.Output
	res.ExitCode = out.ExitCode
	if r.Output.Path != "" {
		if werr := i.outputs.write(r.Output, out.Output); werr != nil {
			i.Logger.Warnf("write output for %s failed: %v", r.Name, werr)
		}
	}
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("exit status %d", out.ExitCode)
	}
	res.Detail = "exit status 0"
	return nil
}

// Close releases the output files opened by exec rules. Later runs
// reopen them as needed.
func (i *Invoker) Close() error {
	return i.outputs.close()
}

func (i *Invoker) safeHook(r *Rule, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			i.Logger.Errorf("hook for %s panicked: %v", r.Name, p)
		}
	}()
	fn()
}
