package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

const defaultOverlapExpiry = 24 * time.Hour

// Characters that are never accepted in an exec line.
const shellMetaChars = ";&|`$()<>\n\r"

// Schedule collects rule definitions before the scheduler starts. It is
// built once by the kernel and compiled with Rules.
type Schedule struct {
	loc     *time.Location
	allowed map[string]struct{}
	events  []*Event
}

// NewSchedule returns an empty schedule whose rules default to loc.
func NewSchedule(loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{loc: loc}
}

// AllowCommands restricts Exec to the given programs, matched exactly
// against the first word of the command line. Calling it with
// no names leaves exec unrestricted.
func (s *Schedule) AllowCommands(names ...string) *Schedule {
	if len(names) == 0 {
		return s
	}
	if s.allowed == nil {
		s.allowed = make(map[string]struct{}, len(names))
	}
	for _, name := range names {
		s.allowed[name] = struct{}{}
	}
	return s
}

func (s *Schedule) Command(name string, args ...string) *Event {
	return s.add(CommandTask{Name: name, Args: args})
}

func (s *Schedule) Job(name string, fn func(ctx context.Context) error) *Event {
	e := s.add(FuncTask{Name: name, Fn: fn})
	if fn == nil {
		e.err = errors.New("job function is nil")
	}
	return e
}

func (s *Schedule) Queue(job string, args ...any) *Event {
	e := s.add(QueueTask{Job: job, Args: args})
	if strings.TrimSpace(job) == "" {
		e.err = errors.New("job reference is empty")
	}
	return e
}

// Exec schedules an external command. The line is split into words and
// run without a shell.
func (s *Schedule) Exec(line string) *Event {
	argv, err := s.parseExec(line)
	e := s.add(ExecTask{Argv: argv})
	if err != nil {
		e.name = line
		e.err = err
	}
	return e
}

func (s *Schedule) parseExec(line string) ([]string, error) {
	if strings.ContainsAny(line, shellMetaChars) {
		return nil, errors.New("command contains shell metacharacters")
	}
	argv, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}
	// The program must be listed exactly as written; "echo" does not
	// admit "/tmp/echo".
	if s.allowed != nil {
		if _, ok := s.allowed[argv[0]]; !ok {
			return nil, fmt.Errorf("command %q is not in allowed commands list", argv[0])
		}
	}
	return argv, nil
}

func (s *Schedule) add(task Task) *Event {
	e := &Event{
		id:   fmt.Sprintf("%s_%d", task.Kind(), len(s.events)),
		task: task,
	}
	s.events = append(s.events, e)
	return e
}

func (s *Schedule) Len() int { return len(s.events) }

// Rules compiles every event. Events that fail to compile are left out and
// reported together as InvalidScheduleErrors; the rest are still returned.
func (s *Schedule) Rules() ([]*Rule, error) {
	rules := make([]*Rule, 0, len(s.events))
	var errs []error
	for _, e := range s.events {
		r, err := e.compile(s.loc)
		if err != nil {
			errs = append(errs, &InvalidScheduleError{Rule: e.displayName(), Err: err})
			continue
		}
		rules = append(rules, r)
	}
	return rules, errors.Join(errs...)
}

// Event is a rule under construction. Frequency methods replace the
// current expression; modifiers may be chained in any order.
type Event struct {
	id        string
	name      string
	task      Task
	expr      string
	tz        string
	overlap   bool
	expiry    time.Duration
	oneServer bool
	output    Output
	timeout   time.Duration
	queue     string
	filters   []func(ctx context.Context) bool
	rejects   []func(ctx context.Context) bool
	before    []func(ctx context.Context)
	after     []func(ctx context.Context, res Result)
	err       error
}

func (e *Event) displayName() string {
	if e.name != "" {
		return e.name
	}
	if name := e.task.String(); name != "" {
		return name
	}
	return e.id
}

func (e *Event) fail(err error) *Event {
	if e.err == nil {
		e.err = err
	}
	return e
}

func (e *Event) Cron(expr string) *Event {
	e.expr = expr
	return e
}

func (e *Event) EveryMinute() *Event         { return e.Cron("* * * * *") }
func (e *Event) EveryTwoMinutes() *Event     { return e.Cron("*/2 * * * *") }
func (e *Event) EveryFiveMinutes() *Event    { return e.Cron("*/5 * * * *") }
func (e *Event) EveryTenMinutes() *Event     { return e.Cron("*/10 * * * *") }
func (e *Event) EveryFifteenMinutes() *Event { return e.Cron("*/15 * * * *") }
func (e *Event) EveryThirtyMinutes() *Event  { return e.Cron("0,30 * * * *") }
func (e *Event) Hourly() *Event              { return e.Cron("0 * * * *") }
func (e *Event) Daily() *Event               { return e.Cron("0 0 * * *") }
func (e *Event) Weekly() *Event              { return e.Cron("0 0 * * 0") }
func (e *Event) Monthly() *Event             { return e.Cron("0 0 1 * *") }
func (e *Event) Quarterly() *Event           { return e.Cron("0 0 1 1-12/3 *") }
func (e *Event) Yearly() *Event              { return e.Cron("0 0 1 1 *") }

func (e *Event) HourlyAt(minute int) *Event {
	if minute < 0 || minute > 59 {
		return e.fail(fmt.Errorf("minute %d out of range", minute))
	}
	return e.Cron(fmt.Sprintf("%d * * * *", minute))
}

// DailyAt runs once a day at the given "HH:MM".
func (e *Event) DailyAt(at string) *Event {
	hour, minute, err := parseClock(at)
	if err != nil {
		return e.fail(err)
	}
	return e.Cron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// TwiceDaily runs at minute 0 of both hours.
func (e *Event) TwiceDaily(first, second int) *Event {
	for _, h := range []int{first, second} {
		if h < 0 || h > 23 {
			return e.fail(fmt.Errorf("hour %d out of range", h))
		}
	}
	return e.Cron(fmt.Sprintf("0 %d,%d * * *", first, second))
}

func (e *Event) WeeklyOn(day time.Weekday, at string) *Event {
	hour, minute, err := parseClock(at)
	if err != nil {
		return e.fail(err)
	}
	if day < time.Sunday || day > time.Saturday {
		return e.fail(fmt.Errorf("weekday %d out of range", day))
	}
	return e.Cron(fmt.Sprintf("%d %d * * %d", minute, hour, day))
}

func (e *Event) MonthlyOn(day int, at string) *Event {
	hour, minute, err := parseClock(at)
	if err != nil {
		return e.fail(err)
	}
	if day < 1 || day > 31 {
		return e.fail(fmt.Errorf("day %d out of range", day))
	}
	return e.Cron(fmt.Sprintf("%d %d %d * *", minute, hour, day))
}

func (e *Event) Name(name string) *Event {
	e.name = name
	return e
}

// Timezone evaluates the frequency in an IANA zone instead of the
// schedule default.
func (e *Event) Timezone(tz string) *Event {
	e.tz = tz
	return e
}

// WithoutOverlapping skips a tick while the previous run of this rule is
// still going. expiry bounds the shared mutex for OnOneServer rules and
// defaults to 24h.
func (e *Event) WithoutOverlapping(expiry ...time.Duration) *Event {
	e.overlap = true
	if len(expiry) > 0 && expiry[0] > 0 {
		e.expiry = expiry[0]
	}
	return e
}

func (e *Event) OnOneServer() *Event {
	e.oneServer = true
	return e
}

// OnQueue selects the queue a Queue rule pushes to.
func (e *Event) OnQueue(queue string) *Event {
	e.queue = queue
	return e
}

// Timeout bounds an Exec rule's run time.
func (e *Event) Timeout(d time.Duration) *Event {
	e.timeout = d
	return e
}

func (e *Event) When(fn func(ctx context.Context) bool) *Event {
	e.filters = append(e.filters, fn)
	return e
}

func (e *Event) Skip(fn func(ctx context.Context) bool) *Event {
	e.rejects = append(e.rejects, fn)
	return e
}

func (e *Event) Before(fn func(ctx context.Context)) *Event {
	e.before = append(e.before, fn)
	return e
}

func (e *Event) After(fn func(ctx context.Context, res Result)) *Event {
	e.after = append(e.after, fn)
	return e
}

func (e *Event) AppendOutputTo(path string) *Event {
	e.output = Output{Path: path, Append: true}
	return e
}

func (e *Event) SendOutputTo(path string) *Event {
	e.output = Output{Path: path}
	return e
}

func (e *Event) compile(defaultLoc *time.Location) (*Rule, error) {
	if e.err != nil {
		return nil, e.err
	}
	freq, err := ParseFrequency(e.expr)
	if err != nil {
		return nil, err
	}
	loc := defaultLoc
	if e.tz != "" {
		loc, err = time.LoadLocation(e.tz)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}
	task := e.task
	switch t := task.(type) {
	case QueueTask:
		if e.queue != "" {
			t.Queue = e.queue
		}
		task = t
	case ExecTask:
		t.Timeout = e.timeout
		task = t
	}
	expiry := e.expiry
	if expiry <= 0 {
		expiry = defaultOverlapExpiry
	}
	return &Rule{
		ID:             e.id,
		Name:           e.displayName(),
		Task:           task,
		Frequency:      freq,
		Location:       loc,
		PreventOverlap: e.overlap,
		OverlapExpiry:  expiry,
		OnOneServer:    e.oneServer,
		Output:         e.output,
		filters:        e.filters,
		rejects:        e.rejects,
		before:         e.before,
		after:          e.after,
	}, nil
}

func parseClock(at string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(at), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", at)
	}
	return hour, minute, nil
}
