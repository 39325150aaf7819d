package commands

import (
	"context"

	"go.uber.org/zap"

	"taskkernel/config/configor"
	"taskkernel/di"
	"taskkernel/history"
	"taskkernel/kernel"
	"taskkernel/mutex"
	"taskkernel/queue"
	"taskkernel/scheduler"
)

type app struct {
	cfg     *configor.Config
	logger  *zap.SugaredLogger
	history *history.Store
	mutex   scheduler.ServerMutex
	kernel  *kernel.Kernel
}

// boot wires the configured backends and compiles the schedule. Missing
// database or redis configuration disables the features that need them.
func boot(ctx context.Context) *app {
	cfg := di.Config()
	logger := di.Zap()
	a := &app{cfg: cfg, logger: logger}
	deps := kernel.Deps{Config: cfg, Logger: logger}

	if cfg.Database.DSN != "" {
		store := history.NewStore(di.Gorm())
		if err := store.Migrate(ctx); err != nil {
			logger.Fatalf("migrate run history: %v", err)
		}
		a.history = store
		deps.History = store
	}
	if cfg.Redis.Addr != "" {
		client := di.Redis()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		deps.Queue = queue.NewRedisQueue(client, cfg.Redis.QueuePrefix, cfg.Redis.Queue)
		a.mutex = mutex.NewRedisMutex(client)
	}

	k, err := kernel.Boot(deps)
	if err != nil {
		logger.Fatalf("boot schedule: %v", err)
	}
	a.kernel = k
	return a
}

func (a *app) schedulerOptions() []scheduler.Option {
	opts := []scheduler.Option{
		scheduler.WithGracePeriod(a.cfg.GracePeriod()),
		scheduler.WithServerMutex(a.mutex),
	}
	if a.history != nil {
		opts = append(opts, scheduler.WithRecorder(a.history))
	}
	return opts
}
