package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"taskkernel/scheduler"
	"taskkernel/web"
)

type ListCommand struct{}

func (t *ListCommand) Main() {
	a := boot(context.Background())
	rules := a.kernel.Rules
	if len(rules) == 0 {
		fmt.Println("No scheduled tasks found.")
		return
	}

	now := time.Now()
	last := map[string]scheduler.RunRecord{}
	if a.history != nil {
		last = lastRuns(context.Background(), a.history, rules, a.logger)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tTASK\tCRON\tTIMEZONE\tNO-OVERLAP\tNEXT DUE\tLAST STATUS")
	for _, r := range rules {
		next := "never"
		if at, ok := scheduler.NextDue(r, now); ok {
			next = fmt.Sprintf("%s (%s)", at.Format("2006-01-02 15:04"), humanize.Time(at))
		}
		status := "-"
		if rec, ok := last[r.ID]; ok {
			status = fmt.Sprintf("%s %s", rec.Status, humanize.Time(rec.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.Name, r.Task.Kind(), r.Task.String(), r.Frequency, r.Location, r.PreventOverlap, next, status)
	}
	_ = w.Flush()
}

// lastRuns returns the newest run of each rule, keyed by rule id.
func lastRuns(ctx context.Context, runs web.RunLister, rules []*scheduler.Rule, logger *zap.SugaredLogger) map[string]scheduler.RunRecord {
	last := make(map[string]scheduler.RunRecord, len(rules))
	for _, r := range rules {
		records, err := runs.Recent(ctx, r.ID, 1)
		if err != nil {
			logger.Warnf("read run history of %s: %v", r.Name, err)
			continue
		}
		if len(records) > 0 {
			last[r.ID] = records[0]
		}
	}
	return last
}
