package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskkernel/config/configor"
	"taskkernel/history"
	"taskkernel/queue"
	"taskkernel/scheduler"
)

const scheduleYAML = `
schedules:
  - name: greet
    exec: echo hello
    cron: "*/10 * * * *"
  - name: fetch
    exec: curl http://example.com
    cron: "* * * * *"
  - name: report
    job: reports:daily
    queue: reports
    cron: "0 9 * * *"
  - name: unknown-command
    command: cache:clear
    cron: "0 * * * *"
  - name: bad-cron
    exec: echo hi
    cron: "61 * * * *"
`

func testConfig(t *testing.T) *configor.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.yml")
	require.NoError(t, os.WriteFile(path, []byte(scheduleYAML), 0o644))
	cfg := &configor.Config{}
	cfg.App.Timezone = "UTC"
	cfg.Scheduler.ScheduleFile = path
	cfg.Scheduler.ExecTimeoutSecond = 60
	cfg.Scheduler.HistoryDays = 30
	cfg.Scheduler.AllowedCommands = []string{"echo"}
	return cfg
}

func names(rules []*scheduler.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Name)
	}
	return out
}

func TestBootDropsRulesThatCannotRun(t *testing.T) {
	k, err := Boot(Deps{Config: testConfig(t), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	assert.Equal(t, []string{"heartbeat", "greet"}, names(k.Rules))
	assert.Equal(t, time.Minute, k.Invoker.DefaultTimeout)
	assert.Empty(t, k.Commands.Names())
}

func TestBootWithQueueAndHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := history.NewStore(db)
	require.NoError(t, store.Migrate(context.Background()))

	k, err := Boot(Deps{
		Config:  testConfig(t),
		Logger:  zap.NewNop().Sugar(),
		History: store,
		Queue:   queue.NewRedisQueue(client, "", ""),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"heartbeat", "history:prune", "greet", "report"}, names(k.Rules))
	assert.Equal(t, []string{"history:prune"}, k.Commands.Names())

	report, ok := scheduler.FindRule(k.Rules, "report")
	require.True(t, ok)
	res := k.Invoker.Invoke(context.Background(), report)
	require.True(t, res.Success(), res.Detail)
	n, err := client.LLen(context.Background(), "queues:reports").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old := scheduler.RunRecord{RunID: "old", RuleID: "job_0", RuleName: "heartbeat", Kind: scheduler.KindFunc,
		Status: scheduler.StatusSucceeded, ScheduledAt: time.Now().AddDate(0, 0, -40)}
	require.NoError(t, store.Record(context.Background(), old))
	prune, ok := scheduler.FindRule(k.Rules, "history:prune")
	require.True(t, ok)
	res = k.Invoker.Invoke(context.Background(), prune)
	require.True(t, res.Success(), res.Detail)
	left, err := store.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestBootRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.Timezone = "Mars/Olympus"
	_, err := Boot(Deps{Config: cfg, Logger: zap.NewNop().Sugar()})
	assert.Error(t, err)
}

func TestPruneHistoryRejectsBadArgument(t *testing.T) {
	fn := pruneHistory(nil, zap.NewNop().Sugar())
	assert.Error(t, fn(context.Background(), []string{"-1"}))
	assert.Error(t, fn(context.Background(), []string{"x"}))
}
