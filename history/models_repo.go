package history

import (
	"context"
	"time"

	"gorm.io/gorm"

	"taskkernel/scheduler"
)

const maxStoredOutput = 64 << 10

// Store keeps scheduled run outcomes in the schedule_runs table.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

type runModel struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string     `gorm:"column:run_id;size:36;index"`
	RuleID      string     `gorm:"column:rule_id;size:64;index"`
	RuleName    string     `gorm:"column:rule_name;size:255"`
	Kind        string     `gorm:"column:kind;size:16"`
	Status      string     `gorm:"column:status;size:16;index"`
	Detail      string     `gorm:"column:detail;type:text"`
	ExitCode    int        `gorm:"column:exit_code"`
	Output      string     `gorm:"column:output;type:text"`
	ScheduledAt time.Time  `gorm:"column:scheduled_at;index"`
	StartedAt   time.Time  `gorm:"column:started_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
}

func (runModel) TableName() string {
	return "schedule_runs"
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(&runModel{})
}

func (s *Store) Record(ctx context.Context, rec scheduler.RunRecord) error {
	m := runModel{
		RunID:       rec.RunID,
		RuleID:      rec.RuleID,
		RuleName:    rec.RuleName,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Detail:      rec.Detail,
		ExitCode:    rec.ExitCode,
		Output:      truncate(rec.Output, maxStoredOutput),
		ScheduledAt: rec.ScheduledAt,
		StartedAt:   rec.StartedAt,
	}
	if !rec.FinishedAt.IsZero() {
		finished := rec.FinishedAt
		m.FinishedAt = &finished
	}
	return s.DB.WithContext(ctx).Create(&m).Error
}

// Recent returns the newest runs first. An empty rule matches every rule.
func (s *Store) Recent(ctx context.Context, rule string, limit int) ([]scheduler.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Order("id DESC").Limit(limit)
	if rule != "" {
		q = q.Where("rule_id = ? OR rule_name = ?", rule, rule)
	}
	var models []runModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]scheduler.RunRecord, 0, len(models))
	for _, m := range models {
		rec := scheduler.RunRecord{
			RunID:       m.RunID,
			RuleID:      m.RuleID,
			RuleName:    m.RuleName,
			Kind:        scheduler.TaskKind(m.Kind),
			Status:      scheduler.Status(m.Status),
			Detail:      m.Detail,
			ExitCode:    m.ExitCode,
			Output:      m.Output,
			ScheduledAt: m.ScheduledAt,
			StartedAt:   m.StartedAt,
		}
		if m.FinishedAt != nil {
			rec.FinishedAt = *m.FinishedAt
		}
		records = append(records, rec)
	}
	return records, nil
}

// Prune deletes runs scheduled before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("scheduled_at < ?", cutoff).Delete(&runModel{})
	return res.RowsAffected, res.Error
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
