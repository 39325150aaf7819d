package viper

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Entry is one rule declared in the schedule file. Exactly one of Command,
// Exec and Job must be set.
type Entry struct {
	Name               string        `mapstructure:"name" validate:"required"`
	Command            string        `mapstructure:"command" validate:"required_without_all=Exec Job,excluded_with=Exec Job"`
	Args               []string      `mapstructure:"args"`
	Exec               string        `mapstructure:"exec" validate:"required_without_all=Command Job,excluded_with=Command Job"`
	Job                string        `mapstructure:"job" validate:"required_without_all=Command Exec,excluded_with=Command Exec"`
	JobArgs            []any         `mapstructure:"job_args"`
	Queue              string        `mapstructure:"queue"`
	Cron               string        `mapstructure:"cron" validate:"required"`
	Timezone           string        `mapstructure:"timezone" validate:"omitempty,timezone"`
	WithoutOverlapping bool          `mapstructure:"without_overlapping"`
	OverlapExpiry      time.Duration `mapstructure:"overlap_expiry" validate:"gte=0"`
	OnOneServer        bool          `mapstructure:"on_one_server"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gte=0"`
	AppendOutputTo     string        `mapstructure:"append_output_to"`
	SendOutputTo       string        `mapstructure:"send_output_to" validate:"excluded_with=AppendOutputTo"`
}

type scheduleFile struct {
	Schedules []Entry `mapstructure:"schedules"`
}

// LoadSchedule reads a YAML schedule file. An entry that fails validation
// is left out and reported in the joined error; a file that cannot be read
// returns no entries.
func LoadSchedule(path string) ([]Entry, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	var file scheduleFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode schedule file: %w", err)
	}

	validate := validator.New()
	entries := make([]Entry, 0, len(file.Schedules))
	var errs []error
	for i, e := range file.Schedules {
		if err := validate.Struct(e); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] %q: %w", i, e.Name, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}
