package configor

import (
	"fmt"
	"os"
	"time"

	"github.com/jinzhu/configor"
)

const DefaultFile = "conf/config.yml"

type Config struct {
	App       AppConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
}

type AppConfig struct {
	Name     string `default:"taskkernel"`
	Timezone string `default:"UTC" env:"APP_TIMEZONE"`
}

type LogConfig struct {
	Path       string `default:"logs/taskkernel.log" env:"LOG_PATH"`
	Level      string `default:"info" env:"LOG_LEVEL"`
	MaxSize    int    `default:"100"`
	MaxBackups int    `default:"7"`
}

type SchedulerConfig struct {
	ScheduleFile      string   `default:"conf/schedule.yml" env:"SCHEDULE_FILE"`
	GraceSecond       int      `default:"30" env:"SCHEDULE_GRACE_SECOND"`
	ExecTimeoutSecond int      `default:"600" env:"SCHEDULE_EXEC_TIMEOUT_SECOND"`
	HistoryDays       int      `default:"30" env:"SCHEDULE_HISTORY_DAYS"`
	AllowedCommands   []string `yaml:"allowed_commands"`
}

type DatabaseConfig struct {
	DSN string `env:"DATABASE_DSN"`
}

type RedisConfig struct {
	Addr        string `env:"REDIS_ADDR"`
	Password    string `env:"REDIS_PASSWORD"`
	DB          int    `env:"REDIS_DB"`
	QueuePrefix string `default:"queues:" env:"REDIS_QUEUE_PREFIX"`
	Queue       string `default:"default" env:"REDIS_QUEUE"`
}

// Load reads the given YAML files (missing ones are ignored), then applies
// defaults and environment overrides.
func Load(files ...string) (*Config, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	cfg := &Config{}
	if err := configor.New(&configor.Config{ENVPrefix: "APP"}).Load(cfg, existing...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Scheduler.GraceSecond) * time.Second
}

func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Scheduler.ExecTimeoutSecond) * time.Second
}
