package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultGracePeriod = 30 * time.Second
	tickLockTTL        = time.Hour
	recordTimeout      = 5 * time.Second
	lockKeyPrefix      = "taskkernel:schedule:"
)

type Option func(*Scheduler)

// WithGracePeriod bounds how long Run waits for in-flight runs after its
// context is cancelled.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithRecorder(rec RunRecorder) Option {
	return func(s *Scheduler) { s.recorder = rec }
}

// WithServerMutex sets the mutex shared between scheduler processes for
// OnOneServer rules.
func WithServerMutex(m ServerMutex) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.mutex = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler evaluates its rules once per wall-clock minute and runs each
// due rule in its own goroutine.
type Scheduler struct {
	rules    []*Rule
	invoker  *Invoker
	logger   *zap.SugaredLogger
	recorder RunRecorder
	mutex    ServerMutex
	grace    time.Duration
	now      func() time.Time

	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
	abandoned  atomic.Bool
	lastTick   time.Time
}

func NewScheduler(rules []*Rule, invoker *Invoker, logger *zap.SugaredLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		rules:   rules,
		invoker: invoker,
		logger:  logger,
		grace:   defaultGracePeriod,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mutex == nil {
		s.mutex = newTaskLock(s.now)
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	return s
}

func (s *Scheduler) Rules() []*Rule {
	return s.rules
}

// Run blocks until ctx is cancelled, then waits up to the grace period for
// in-flight runs. Runs still going after that are cancelled and recorded
// as interrupted, and ErrShutdownInterrupted is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infof("scheduler started with %d rules", len(s.rules))
	s.loop(ctx)
	s.logger.Infof("scheduler stopping, waiting up to %s for running tasks", s.grace)
	err := s.Shutdown(s.grace)
	if cerr := s.invoker.Close(); cerr != nil {
		s.logger.Warnf("close task output files: %v", cerr)
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.untilNextMinute())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Missed minutes (suspend, clock jump) are not replayed.
			tick := s.now().Truncate(time.Minute)
			if tick.After(s.lastTick) {
				s.lastTick = tick
				s.RunDue(ctx, tick)
			}
			timer.Reset(s.untilNextMinute())
		}
	}
}

func (s *Scheduler) untilNextMinute() time.Duration {
	now := s.now()
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}

// RunDue performs one evaluation pass for the minute containing now and
// returns how many rules were dispatched.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	dispatched := 0
	for _, r := range s.rules {
		if !r.IsDue(now) {
			continue
		}
		if !s.filter(ctx, r) {
			s.logger.Debugf("rule %s filtered out at %s", r.Name, now.Format(time.RFC3339))
			continue
		}
		if s.dispatch(ctx, r, now) {
			dispatched++
		}
	}
	return dispatched
}

func (s *Scheduler) filter(ctx context.Context, r *Rule) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Errorf("filter for %s panicked: %v", r.Name, p)
			ok = false
		}
	}()
	return r.passesFilters(ctx)
}

func (s *Scheduler) dispatch(ctx context.Context, r *Rule, now time.Time) bool {
	if r.PreventOverlap && !r.tryAcquire() {
		s.skip(r, now, "overlap", ErrOverlapSkipped)
		return false
	}
	overlapKey := ""
	if r.OnOneServer {
		held, key, err := s.lockServer(ctx, r, now)
		if err != nil || !held {
			if r.PreventOverlap {
				r.release()
			}
			detail := "another server"
			if err != nil {
				detail = fmt.Sprintf("server mutex: %v", err)
			}
			s.skip(r, now, detail, err)
			return false
		}
		overlapKey = key
	}

	r.inflight.Add(1)
	r.record(time.Time{}, StatusDispatched, "")
	s.wg.Add(1)
	go s.execute(r, now, overlapKey)
	return true
}

// lockServer claims the rule's tick across servers and, for rules that
// also prevent overlap, the shared overlap key.
func (s *Scheduler) lockServer(ctx context.Context, r *Rule, now time.Time) (bool, string, error) {
	tickKey := lockKeyPrefix + r.ID + ":" + now.UTC().Format("200601021504")
	ok, err := s.mutex.TryLock(ctx, tickKey, tickLockTTL)
	if err != nil || !ok {
		return false, "", err
	}
	if !r.PreventOverlap {
		return true, "", nil
	}
	overlapKey := lockKeyPrefix + "overlap:" + r.ID
	ok, err = s.mutex.TryLock(ctx, overlapKey, r.OverlapExpiry)
	if err != nil || !ok {
		return false, "", err
	}
	return true, overlapKey, nil
}

func (s *Scheduler) execute(r *Rule, scheduledAt time.Time, overlapKey string) {
	defer s.wg.Done()
	defer r.inflight.Add(-1)
	defer func() {
		if overlapKey != "" {
			if err := s.mutex.Unlock(context.Background(), overlapKey); err != nil {
				s.logger.Warnf("release overlap lock for %s failed: %v", r.Name, err)
			}
		}
		if r.PreventOverlap {
			r.release()
		}
	}()

	res := s.invoker.Invoke(s.runCtx, r)
	if s.abandoned.Load() {
		res.Status = StatusInterrupted
		res.Detail = ErrShutdownInterrupted.Error()
		r.record(res.StartedAt, res.Status, res.Detail)
	}
	s.recordRun(r, scheduledAt, res)
}

func (s *Scheduler) skip(r *Rule, now time.Time, detail string, err error) {
	r.record(time.Time{}, StatusSkipped, detail)
	if err != nil {
		s.logger.Warnf("rule %s skipped at %s: %v", r.Name, now.Format(time.RFC3339), err)
	} else {
		s.logger.Infof("rule %s skipped at %s: %s", r.Name, now.Format(time.RFC3339), detail)
	}
	s.recordRun(r, now, Result{
		RunID:     uuid.NewString(),
		Status:    StatusSkipped,
		Detail:    detail,
		StartedAt: now,
		Err:       err,
	})
}

func (s *Scheduler) recordRun(r *Rule, scheduledAt time.Time, res Result) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := s.recorder.Record(ctx, RunRecord{
		RunID:       res.RunID,
		RuleID:      r.ID,
		RuleName:    r.Name,
		Kind:        r.Task.Kind(),
		Status:      res.Status,
		Detail:      res.Detail,
		ExitCode:    res.ExitCode,
		Output:      res.Output,
		ScheduledAt: scheduledAt,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	})
	if err != nil {
		s.logger.Errorf("record run of %s failed: %v", r.Name, err)
	}
}

// Shutdown waits up to grace for in-flight runs. It is called by Run; call
// it directly only when driving RunDue by hand.
func (s *Scheduler) Shutdown(grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Infof("scheduler stopped")
		return nil
	case <-timer.C:
	}

	s.abandoned.Store(true)
	s.cancelRuns()
	var names []string
	for _, r := range s.rules {
		if r.inflight.Load() > 0 {
			r.record(time.Time{}, StatusInterrupted, ErrShutdownInterrupted.Error())
			names = append(names, r.Name)
		}
	}
	s.logger.Warnf("grace period expired, abandoned %d running task(s): %s", len(names), strings.Join(names, ", "))
	return fmt.Errorf("%w: %s", ErrShutdownInterrupted, strings.Join(names, ", "))
}

// FindRule looks a rule up by ID or name.
func FindRule(rules []*Rule, key string) (*Rule, bool) {
	for _, r := range rules {
		if r.ID == key || r.Name == key {
			return r, true
		}
	}
	return nil, false
}
