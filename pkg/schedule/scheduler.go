// Package schedule fires proactive synthetic checks into the pipeline and
// posts periodic stats reports.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/pipeline"
)

// cronParser accepts standard 5-field expressions, optional leading seconds,
// and descriptors like @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// reportTimeout bounds one stats collection plus its Slack post.
const reportTimeout = 30 * time.Second

// Submitter routes synthetic check alerts; the concrete implementation is
// the pipeline.
type Submitter interface {
	Submit(alert models.Alert) error
}

// StatsSource aggregates the remembered incident population for reports.
type StatsSource interface {
	Stats(ctx context.Context) (*models.MemoryStats, error)
}

// Reporter posts scheduled summaries. A nil *slack.Service satisfies it
// with no-ops when Slack is disabled.
type Reporter interface {
	PostStatsReport(ctx context.Context, title string, stats *models.MemoryStats)
}

// Scheduler owns the cron runner. Jobs are registered once in New so a bad
// expression fails startup, not a 3 AM tick.
type Scheduler struct {
	submitter Submitter
	stats     StatsSource
	reporter  Reporter
	logger    *slog.Logger
	cron      *cron.Cron
}

// New registers every configured job. A disabled schedule yields a
// scheduler with no jobs, so callers wire it unconditionally.
func New(submitter Submitter, stats StatsSource, reporter Reporter, cfg *config.ScheduleConfig) (*Scheduler, error) {
	s := &Scheduler{
		submitter: submitter,
		stats:     stats,
		reporter:  reporter,
		logger:    slog.Default().With("component", "scheduler"),
		cron:      cron.New(cron.WithParser(cronParser)),
	}
	if !cfg.Enabled {
		s.logger.Info("Scheduler disabled by config")
		return s, nil
	}

	for i, check := range cfg.Checks {
		if err := s.addCheck(check); err != nil {
			return nil, fmt.Errorf("schedule.checks[%d] %q: %w", i, check.Name, err)
		}
	}
	if cfg.DailyReport != "" {
		if _, err := s.cron.AddFunc(cfg.DailyReport, func() { s.report("Daily incident report") }); err != nil {
			return nil, fmt.Errorf("schedule.daily_report: %w", err)
		}
	}
	if cfg.WeeklyReport != "" {
		if _, err := s.cron.AddFunc(cfg.WeeklyReport, func() { s.report("Weekly incident report") }); err != nil {
			return nil, fmt.Errorf("schedule.weekly_report: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) addCheck(check config.CheckConfig) error {
	job := func() { s.runCheck(check) }
	switch {
	case check.Every > 0:
		s.cron.Schedule(cron.Every(check.Every), cron.FuncJob(job))
		return nil
	case check.Cron != "":
		_, err := s.cron.AddFunc(check.Cron, job)
		return err
	default:
		return errors.New("one of every or cron is required")
	}
}

// Start begins firing jobs on their schedules.
func (s *Scheduler) Start() {
	if s.Jobs() == 0 {
		s.logger.Info("Scheduler has no jobs, not starting")
		return
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", s.Jobs())
}

// Stop halts scheduling and waits for any running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Jobs returns the number of registered cron entries.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// runCheck submits one synthetic alert. A full queue is not an error:
// checks are periodic and the next tick tries again.
func (s *Scheduler) runCheck(check config.CheckConfig) {
	alert := checkAlert(check, time.Now().UTC())
	err := s.submitter.Submit(alert)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		s.logger.Warn("Queue full, skipping scheduled check", "check", check.Name)
	case err != nil:
		s.logger.Error("Failed to submit scheduled check", "check", check.Name, "error", err)
	default:
		s.logger.Info("Scheduled check submitted", "check", check.Name, "fingerprint", alert.Fingerprint)
	}
}

// report collects memory stats and posts them. Runs on its own context;
// cron jobs have none.
func (s *Scheduler) report(title string) {
	if s.stats == nil {
		s.logger.Warn("Stats report scheduled but memory is disabled", "title", title)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.logger.Error("Failed to collect stats for report", "title", title, "error", err)
		return
	}
	s.reporter.PostStatsReport(ctx, title, stats)
	s.logger.Info("Stats report posted", "title", title, "incidents", stats.Count)
}

// checkAlert renders one check run as an alert. The fingerprint carries the
// tick timestamp so consecutive runs are distinct incidents rather than
// dedup merges.
func checkAlert(check config.CheckConfig, now time.Time) models.Alert {
	labels := make(map[string]string, len(check.Labels)+2)
	for k, v := range check.Labels {
		labels[k] = v
	}
	if _, ok := labels["alertname"]; !ok {
		labels["alertname"] = check.Name
	}
	labels["source"] = "scheduled-check"

	severity := check.Severity
	if severity == "" {
		severity = "info"
	}

	return models.Alert{
		Fingerprint: fmt.Sprintf("check-%s-%d", check.Name, now.Unix()),
		Status:      models.AlertFiring,
		Severity:    severity,
		Labels:      labels,
		StartsAt:    now,
	}
}
