package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"taskkernel/config/configor"
	"taskkernel/config/viper"
	"taskkernel/history"
	"taskkernel/queue"
	"taskkernel/scheduler"
)

// Deps are the collaborators the application schedule may use. History
// and Queue are nil when their backends are not configured.
type Deps struct {
	Config  *configor.Config
	Logger  *zap.SugaredLogger
	History *history.Store
	Queue   *queue.RedisQueue
}

// Kernel is the compiled schedule together with the invoker that runs it.
type Kernel struct {
	Rules    []*scheduler.Rule
	Commands *scheduler.CommandRegistry
	Invoker  *scheduler.Invoker
}

// Define declares the application's scheduled work.
func Define(s *scheduler.Schedule, deps Deps) {
	s.Job("heartbeat", heartbeat(deps.Logger)).
		EveryFiveMinutes()

	if deps.History != nil {
		s.Command("history:prune", strconv.Itoa(deps.Config.Scheduler.HistoryDays)).
			DailyAt("03:00").
			WithoutOverlapping().
			OnOneServer()
	}
}

// RegisterCommands adds the console commands that rules can run by name.
func RegisterCommands(commands *scheduler.CommandRegistry, deps Deps) {
	if deps.History != nil {
		commands.Register("history:prune", pruneHistory(deps.History, deps.Logger))
	}
}

// Boot compiles Define and the schedule file into rules. Invalid rules are
// logged and left out; only errors that make the whole configuration
// unusable are returned.
func Boot(deps Deps) (*Kernel, error) {
	cfg := deps.Config
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app timezone: %w", err)
	}

	s := scheduler.NewSchedule(loc).AllowCommands(cfg.Scheduler.AllowedCommands...)
	commands := scheduler.NewCommandRegistry()
	RegisterCommands(commands, deps)
	Define(s, deps)

	if path := cfg.Scheduler.ScheduleFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			entries, err := viper.LoadSchedule(path)
			if err != nil && entries == nil {
				return nil, err
			}
			logJoined(deps.Logger, err)
			Apply(s, entries)
		}
	}

	var enqueuer scheduler.Enqueuer
	if deps.Queue != nil {
		enqueuer = deps.Queue
	}
	invoker := scheduler.NewInvoker(commands, enqueuer, &scheduler.ExecRunner{}, deps.Logger)
	invoker.DefaultTimeout = cfg.ExecTimeout()

	rules, err := s.Rules()
	logJoined(deps.Logger, err)
	valid := rules[:0]
	for _, r := range rules {
		if err := invoker.Check(r); err != nil {
			deps.Logger.Errorf("%v", &scheduler.InvalidScheduleError{Rule: r.Name, Err: err})
			continue
		}
		valid = append(valid, r)
	}
	deps.Logger.Infof("loaded %d scheduled rule(s)", len(valid))
	return &Kernel{Rules: valid, Commands: commands, Invoker: invoker}, nil
}

// Apply registers schedule file entries on s.
func Apply(s *scheduler.Schedule, entries []viper.Entry) {
	for _, e := range entries {
		var ev *scheduler.Event
		switch {
		case e.Command != "":
			ev = s.Command(e.Command, e.Args...)
		case e.Exec != "":
			ev = s.Exec(e.Exec).Timeout(e.Timeout)
		default:
			ev = s.Queue(e.Job, e.JobArgs...).OnQueue(e.Queue)
		}
		ev.Name(e.Name).Cron(e.Cron)
		if e.Timezone != "" {
			ev.Timezone(e.Timezone)
		}
		if e.WithoutOverlapping {
			ev.WithoutOverlapping(e.OverlapExpiry)
		}
		if e.OnOneServer {
			ev.OnOneServer()
		}
		switch {
		case e.AppendOutputTo != "":
			ev.AppendOutputTo(e.AppendOutputTo)
		case e.SendOutputTo != "":
			ev.SendOutputTo(e.SendOutputTo)
		}
	}
}

func logJoined(logger *zap.SugaredLogger, err error) {
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			logger.Errorf("%v", e)
		}
		return
	}
	logger.Errorf("%v", err)
}

func heartbeat(logger *zap.SugaredLogger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Infof("scheduler heartbeat")
		return nil
	}
}

func pruneHistory(store *history.Store, logger *zap.SugaredLogger) scheduler.CommandFunc {
	return func(ctx context.Context, args []string) error {
		days := 30
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return errors.New("history:prune expects a positive number of days")
			}
			days = n
		}
		deleted, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		logger.Infof("pruned %d run(s) older than %d days", deleted, days)
		return nil
	}
}
