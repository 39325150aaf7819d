package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

func (m *memoryRecorder) Record(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) statuses(rule string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Status
	for _, rec := range m.records {
		if rec.RuleName == rule {
			out = append(out, rec.Status)
		}
	}
	return out
}

func newTestScheduler(t *testing.T, s *Schedule, opts ...Option) *Scheduler {
	t.Helper()
	rules, err := s.Rules()
	require.NoError(t, err)
	return NewScheduler(rules, newTestInvoker(nil, nil), zap.NewNop().Sugar(), opts...)
}

func counting(counter *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		counter.Add(1)
		return nil
	}
}

func TestRunDueDispatchesDueRules(t *testing.T) {
	var a, b atomic.Int32
	s := NewSchedule(time.UTC)
	s.Job("A", counting(&a)).EveryMinute()
	s.Job("B", counting(&b)).DailyAt("00:00")
	sched := newTestScheduler(t, s)

	assert.Equal(t, 2, sched.RunDue(context.Background(), at("2024-01-01T00:00:00Z")))
	assert.Equal(t, 1, sched.RunDue(context.Background(), at("2024-01-01T00:01:00Z")))
	require.NoError(t, sched.Shutdown(time.Second))

	assert.Equal(t, int32(2), a.Load())
	assert.Equal(t, int32(1), b.Load())
	for _, r := range sched.Rules() {
		assert.Equal(t, StatusSucceeded, r.State().LastStatus, r.Name)
	}
}

func TestPreventOverlapSkipsWhileRunning(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})
	s := NewSchedule(time.UTC)
	s.Job("slow", func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}).EveryMinute().WithoutOverlapping()
	rec := &memoryRecorder{}
	sched := newTestScheduler(t, s, WithRecorder(rec))
	rule := sched.Rules()[0]

	require.Equal(t, 1, sched.RunDue(context.Background(), at("2024-01-01T00:00:00Z")))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, sched.RunDue(context.Background(), at("2024-01-01T00:01:00Z")))
	state := rule.State()
	assert.Equal(t, StatusSkipped, state.LastStatus)
	assert.Equal(t, "overlap", state.Detail)
	assert.True(t, state.Running)

	close(release)
	require.NoError(t, sched.Shutdown(time.Second))
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, StatusSucceeded, rule.State().LastStatus)
	assert.Equal(t, []Status{StatusSkipped, StatusSucceeded}, rec.statuses("slow"))

	// The flag is free again once the run finished.
	assert.Equal(t, 1, sched.RunDue(context.Background(), at("2024-01-01T00:02:00Z")))
	require.NoError(t, sched.Shutdown(time.Second))
	assert.Equal(t, int32(2), started.Load())
}

func TestOverlapAllowedByDefault(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})
	s := NewSchedule(time.UTC)
	s.Job("slow", func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}).EveryMinute()
	sched := newTestScheduler(t, s)

	sched.RunDue(context.Background(), at("2024-01-01T00:00:00Z"))
	sched.RunDue(context.Background(), at("2024-01-01T00:01:00Z"))
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, sched.Shutdown(time.Second))
}

func TestInFlightFlagIsClaimedOnce(t *testing.T) {
	r := &Rule{}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.tryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestFailingRuleDoesNotAffectOthers(t *testing.T) {
	var good atomic.Int32
	s := NewSchedule(time.UTC)
	s.Job("failing", func(context.Context) error { return errors.New("boom") }).EveryMinute()
	s.Job("panicking", func(context.Context) error { panic("kaboom") }).EveryMinute()
	s.Job("good", counting(&good)).EveryMinute()
	sched := newTestScheduler(t, s)

	for i := 0; i < 3; i++ {
		ts := at("2024-01-01T00:00:00Z").Add(time.Duration(i) * time.Minute)
		assert.Equal(t, 3, sched.RunDue(context.Background(), ts))
		require.NoError(t, sched.Shutdown(time.Second))
	}

	assert.Equal(t, int32(3), good.Load())
	rules := sched.Rules()
	assert.Equal(t, StatusFailed, rules[0].State().LastStatus)
	assert.Equal(t, StatusFailed, rules[1].State().LastStatus)
	assert.Equal(t, StatusSucceeded, rules[2].State().LastStatus)
}

func TestFiltersGateDispatch(t *testing.T) {
	var ran atomic.Int32
	s := NewSchedule(time.UTC)
	s.Job("when-false", counting(&ran)).EveryMinute().When(func(context.Context) bool { return false })
	s.Job("skip-true", counting(&ran)).EveryMinute().Skip(func(context.Context) bool { return true })
	s.Job("filter-panics", counting(&ran)).EveryMinute().When(func(context.Context) bool { panic("x") })
	s.Job("passes", counting(&ran)).EveryMinute().
		When(func(context.Context) bool { return true }).
		Skip(func(context.Context) bool { return false })
	sched := newTestScheduler(t, s)

	assert.Equal(t, 1, sched.RunDue(context.Background(), at("2024-01-01T00:00:00Z")))
	require.NoError(t, sched.Shutdown(time.Second))
	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, StatusIdle, sched.Rules()[0].State().LastStatus)
}

func TestOnOneServerRunsOnceAcrossSchedulers(t *testing.T) {
	shared := newTaskLock(time.Now)
	var ran atomic.Int32
	build := func() *Scheduler {
		s := NewSchedule(time.UTC)
		s.Job("report", counting(&ran)).EveryMinute().OnOneServer()
		return newTestScheduler(t, s, WithServerMutex(shared))
	}
	first, second := build(), build()
	tick := at("2024-01-01T00:00:00Z")

	assert.Equal(t, 1, first.RunDue(context.Background(), tick))
	assert.Equal(t, 0, second.RunDue(context.Background(), tick))
	assert.Equal(t, "another server", second.Rules()[0].State().Detail)

	// The next minute is a new tick and may run anywhere.
	assert.Equal(t, 1, second.RunDue(context.Background(), tick.Add(time.Minute)))
	require.NoError(t, first.Shutdown(time.Second))
	require.NoError(t, second.Shutdown(time.Second))
	assert.Equal(t, int32(2), ran.Load())
}

func TestOnOneServerWithoutOverlappingHoldsSharedLock(t *testing.T) {
	shared := newTaskLock(time.Now)
	release := make(chan struct{})
	build := func() *Scheduler {
		s := NewSchedule(time.UTC)
		s.Job("sync", func(context.Context) error {
			<-release
			return nil
		}).EveryMinute().OnOneServer().WithoutOverlapping(time.Hour)
		return newTestScheduler(t, s, WithServerMutex(shared))
	}
	first, second := build(), build()

	assert.Equal(t, 1, first.RunDue(context.Background(), at("2024-01-01T00:00:00Z")))
	// Another process, next minute: the overlap key is still held.
	assert.Equal(t, 0, second.RunDue(context.Background(), at("2024-01-01T00:01:00Z")))
	assert.False(t, second.Rules()[0].State().Running)

	close(release)
	require.NoError(t, first.Shutdown(time.Second))
	assert.Equal(t, 1, second.RunDue(context.Background(), at("2024-01-01T00:02:00Z")))
	require.NoError(t, second.Shutdown(time.Second))
}

func TestShutdownInterruptsRunsPastGrace(t *testing.T) {
	s := NewSchedule(time.UTC)
	s.Job("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}).EveryMinute()
	s.Job("quick", noop).EveryMinute()
	rec := &memoryRecorder{}
	sched := newTestScheduler(t, s, WithRecorder(rec))

	sched.RunDue(context.Background(), at("2024-01-01T00:00:00Z"))
	err := sched.Shutdown(50 * time.Millisecond)

	require.ErrorIs(t, err, ErrShutdownInterrupted)
	assert.Contains(t, err.Error(), "stuck")
	stuck := sched.Rules()[0]
	assert.Eventually(t, func() bool {
		st := stuck.State()
		return !st.Running && st.LastStatus == StatusInterrupted
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(rec.statuses("stuck")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusInterrupted}, rec.statuses("stuck"))
	assert.Equal(t, StatusSucceeded, sched.Rules()[1].State().LastStatus)
}

func TestRunStopsOnCancelAndEvaluatesEachMinuteOnce(t *testing.T) {
	var ran atomic.Int32
	// A frozen clock just before a boundary makes the timer fire repeatedly
	// for the same minute.
	frozen := at("2024-01-01T00:00:59.990Z")
	s := NewSchedule(time.UTC)
	s.Job("tick", counting(&ran)).EveryMinute()
	sched := newTestScheduler(t, s, WithClock(func() time.Time { return frozen }), WithGracePeriod(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return ran.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), ran.Load())
}

func TestUntilNextMinuteAlignsToBoundary(t *testing.T) {
	now := at("2024-01-01T10:15:42.5Z")
	sched := NewScheduler(nil, newTestInvoker(nil, nil), zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))
	assert.Equal(t, 17500*time.Millisecond, sched.untilNextMinute())
}

func TestFindRule(t *testing.T) {
	s := NewSchedule(time.UTC)
	s.Job("report", noop).Daily()
	rules, err := s.Rules()
	require.NoError(t, err)

	r, ok := FindRule(rules, "report")
	require.True(t, ok)
	assert.Same(t, rules[0], r)
	_, ok = FindRule(rules, "job_0")
	assert.True(t, ok)
	_, ok = FindRule(rules, "nope")
	assert.False(t, ok)
}
