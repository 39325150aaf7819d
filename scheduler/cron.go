package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyFrequency is returned when a rule has no frequency at all.
var ErrEmptyFrequency = errors.New("frequency is empty")

// Frequency is a normalized recurrence rule: one matcher per cron field.
// A field written as "*" matches every value. The remaining fields must all
// match for a minute to be due.
type Frequency struct {
	expr     string
	minutes  [60]bool
	hours    [24]bool
	days     [32]bool
	months   [13]bool
	weekdays [7]bool
}

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseFrequency compiles a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) or one of the @descriptors.
func ParseFrequency(expr string) (*Frequency, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyFrequency
	}
	if strings.HasPrefix(expr, "@") {
		normalized, ok := descriptors[strings.ToLower(expr)]
		if !ok {
			return nil, fmt.Errorf("unknown descriptor %q", expr)
		}
		expr = normalized
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression should have 5 fields, got %d", len(fields))
	}
	f := &Frequency{expr: strings.Join(fields, " ")}
	if err := fillBoolField(fields[0], 0, 59, nil, f.minutes[:]); err != nil {
		return nil, fmt.Errorf("minute: %w", err)
	}
	if err := fillBoolField(fields[1], 0, 23, nil, f.hours[:]); err != nil {
		return nil, fmt.Errorf("hour: %w", err)
	}
	if err := fillBoolField(fields[2], 1, 31, nil, f.days[:]); err != nil {
		return nil, fmt.Errorf("day: %w", err)
	}
	if err := fillBoolField(fields[3], 1, 12, monthNames, f.months[:]); err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	if err := fillWeekdays(f, fields[4]); err != nil {
		return nil, fmt.Errorf("weekday: %w", err)
	}
	return f, nil
}

// MustParseFrequency is like ParseFrequency but panics on error.
func MustParseFrequency(expr string) *Frequency {
	f, err := ParseFrequency(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether t falls on a due minute. t is read in its own
// location; seconds and below are ignored.
func (f *Frequency) Match(t time.Time) bool {
	if f == nil {
		return false
	}
	if !f.months[int(t.Month())] {
		return false
	}
	if !f.days[t.Day()] {
		return false
	}
	if !f.weekdays[int(t.Weekday())] {
		return false
	}
	return f.hours[t.Hour()] && f.minutes[t.Minute()]
}

func (f *Frequency) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

func fillWeekdays(f *Frequency, field string) error {
	// 0-7 with both 0 and 7 meaning Sunday.
	var week [8]bool
	if err := fillBoolField(field, 0, 7, weekdayNames, week[:]); err != nil {
		return err
	}
	for i := 0; i < 7; i++ {
		f.weekdays[i] = week[i]
	}
	if week[7] {
		f.weekdays[0] = true
	}
	return nil
}

func fillBoolField(field string, min, max int, names map[string]int, target []bool) error {
	values, any, err := parseField(field, min, max, names)
	if err != nil {
		return err
	}
	if any {
		for i := min; i <= max; i++ {
			target[i] = true
		}
		return nil
	}
	for _, v := range values {
		target[v] = true
	}
	return nil
}

func parseField(field string, min, max int, names map[string]int) ([]int, bool, error) {
	field = strings.TrimSpace(field)
	if field == "*" || field == "?" {
		return nil, true, nil
	}
	if field == "" {
		return nil, false, errors.New("empty field")
	}
	var result []int
	for _, token := range strings.Split(field, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, false, fmt.Errorf("empty list item in '%s'", field)
		}
		step := 1
		stepped := strings.Contains(token, "/")
		if stepped {
			parts := strings.SplitN(token, "/", 2)
			s, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, false, fmt.Errorf("invalid step expression: %s", token)
			}
			if s <= 0 {
				return nil, false, fmt.Errorf("step must be >0")
			}
			step = s
			token = parts[0]
		}
		start, end, err := parseRange(token, min, max, names, stepped)
		if err != nil {
			return nil, false, err
		}
		for v := start; v <= end; v += step {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil, false, fmt.Errorf("no valid values in field '%s'", field)
	}
	return result, false, nil
}

// parseRange resolves "*", "N", "N-M" into bounds. A lone N followed by a
// step runs to the field maximum.
func parseRange(token string, min, max int, names map[string]int, stepped bool) (int, int, error) {
	if token == "*" {
		return min, max, nil
	}
	if strings.Contains(token, "-") {
		parts := strings.SplitN(token, "-", 2)
		start, err := parseValue(parts[0], names)
		if err != nil {
			return 0, 0, err
		}
		end, err := parseValue(parts[1], names)
		if err != nil {
			return 0, 0, err
		}
		if start > end {
			return 0, 0, fmt.Errorf("invalid range %d-%d", start, end)
		}
		if start < min || end > max {
			return 0, 0, fmt.Errorf("range %d-%d out of bounds", start, end)
		}
		return start, end, nil
	}
	value, err := parseValue(token, names)
	if err != nil {
		return 0, 0, err
	}
	if value < min || value > max {
		return 0, 0, fmt.Errorf("value %d out of range", value)
	}
	if stepped {
		return value, max, nil
	}
	return value, value, nil
}

func parseValue(token string, names map[string]int) (int, error) {
	if v, ok := names[strings.ToLower(token)]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", token)
	}
	return v, nil
}
