package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskkernel/scheduler"
)

const timeLayout = "2006-01-02 15:04:05"

// RunLister reads run history; history.Store implements it.
type RunLister interface {
	Recent(ctx context.Context, rule string, limit int) ([]scheduler.RunRecord, error)
}

// StatusServer exposes the live rule registry and run history as JSON.
type StatusServer struct {
	rules  []*scheduler.Rule
	runs   RunLister
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewStatusServer(rules []*scheduler.Rule, runs RunLister, logger *zap.SugaredLogger) *StatusServer {
	return &StatusServer{rules: rules, runs: runs, logger: logger, now: time.Now}
}

func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{rule}/runs", s.handleListRuns)
		r.Get("/runs", s.handleListRuns)
	})
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Infof("status server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

type listResponse struct {
	Code  int         `json:"code"`
	Msg   string      `json:"msg"`
	Count int         `json:"count"`
	Data  interface{} `json:"data"`
}

type ruleEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Task           string `json:"task"`
	Expression     string `json:"expression"`
	Timezone       string `json:"timezone"`
	PreventOverlap bool   `json:"prevent_overlap"`
	OnOneServer    bool   `json:"on_one_server"`
	Running        bool   `json:"running"`
	LastStatus     string `json:"last_status"`
	LastDetail     string `json:"last_detail"`
	LastRunAt      string `json:"last_run_at"`
	NextDueAt      string `json:"next_due_at"`
}

type runEntry struct {
	RunID       string `json:"run_id"`
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Detail      string `json:"detail"`
	ExitCode    int    `json:"exit_code"`
	ScheduledAt string `json:"scheduled_at"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
}

func (s *StatusServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	entries := make([]ruleEntry, 0, len(s.rules))
	for _, rule := range s.rules {
		entries = append(entries, toRuleEntry(rule, now))
	}
	s.writeJSON(w, http.StatusOK, listResponse{Count: len(entries), Data: entries})
}

func (s *StatusServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"code": 1,
			"msg":  "run history is not configured",
		})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"code": 1,
				"msg":  "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}
	records, err := s.runs.Recent(r.Context(), chi.URLParam(r, "rule"), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	entries := make([]runEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toRunEntry(rec))
	}
	s.writeJSON(w, http.StatusOK, listResponse{Count: len(entries), Data: entries})
}

func toRuleEntry(r *scheduler.Rule, now time.Time) ruleEntry {
	state := r.State()
	entry := ruleEntry{
		ID:             r.ID,
		Name:           r.Name,
		Kind:           string(r.Task.Kind()),
		Task:           r.Task.String(),
		Expression:     r.Frequency.String(),
		Timezone:       r.Location.String(),
		PreventOverlap: r.PreventOverlap,
		OnOneServer:    r.OnOneServer,
		Running:        state.Running,
		LastStatus:     string(state.LastStatus),
		LastDetail:     state.Detail,
		LastRunAt:      formatTime(state.LastRunAt),
	}
	if next, ok := scheduler.NextDue(r, now); ok {
		entry.NextDueAt = formatTime(next)
	}
	return entry
}

func toRunEntry(rec scheduler.RunRecord) runEntry {
	return runEntry{
		RunID:       rec.RunID,
		RuleID:      rec.RuleID,
		RuleName:    rec.RuleName,
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Detail:      rec.Detail,
		ExitCode:    rec.ExitCode,
		ScheduledAt: formatTime(rec.ScheduledAt),
		StartedAt:   formatTime(rec.StartedAt),
		FinishedAt:  formatTime(rec.FinishedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Errorf("write json error: %v", err)
	}
}

func (s *StatusServer) writeJSONError(w http.ResponseWriter, status int, err error) {
	s.logger.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"code": 1,
		"msg":  msg,
	})
}
