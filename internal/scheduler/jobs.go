package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/boss/internal/store"
	"github.com/basket/boss/internal/taxonomy"
)

// RegisterDefaultJobs wires up the nine named jobs from spec.md §4.9 onto
// the scheduler, using the given IANA location for the "local morning" /
// "local evening" cadences.
func RegisterDefaultJobs(s *Scheduler, st *store.Store, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	jobs := []Job{
		{Name: "daily_standup", CronExpr: "0 9 * * *", Loc: loc, Run: dailyStandupJob(st)},
		{Name: "eod_reminder", CronExpr: "0 18 * * *", Loc: loc, Run: eodReminderJob(st)},
		{Name: "weekly_report", CronExpr: "0 9 * * 1", Loc: loc, Run: weeklyReportJob(st)},
		{Name: "monthly_report", CronExpr: "0 9 1 * *", Loc: loc, Run: monthlyReportJob(st)},
		{Name: "deadline_reminder", CronExpr: "*/15 * * * *", Run: deadlineReminderJob(st)},
		{Name: "overdue_alert", CronExpr: "0 9,17 * * *", Loc: loc, Run: overdueAlertJob(st)},
		{Name: "recurring_expansion", CronExpr: "*/5 * * * *", Run: recurringExpansionJob(st)},
		{Name: "archive_old_completed", CronExpr: "0 3 * * 0", Loc: loc, Run: archiveOldCompletedJob(st)},
		{Name: "message_queue_drain", Interval: 15 * time.Second, LogOnly: true, Run: messageQueueDrainJob(st)},
	}
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}

func notifyBoss(ctx context.Context, st *store.Store, idempotencyKey, text string) error {
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return err
	}
	_, err = st.EnqueueOutbox(ctx, "telegram", payload, idempotencyKey, 5)
	if err != nil && !taxonomy.IsDuplicate(err) {
		return err
	}
	return nil
}

func dailyStandupJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		pending, err := st.ListTasksByStatus(ctx, store.StatusInProgress, store.ListFilter{Limit: 1000})
		if err != nil {
			return fmt.Errorf("daily_standup: list in-progress: %w", err)
		}
		text := fmt.Sprintf("Good morning. %d task(s) in progress.", len(pending))
		key := fmt.Sprintf("standup:%s", time.Now().UTC().Format("2006-01-02"))
		return notifyBoss(ctx, st, key, text)
	}
}

func eodReminderJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		overdue, err := st.ListOverdue(ctx, time.Now().UTC(), store.ListFilter{Limit: 1000})
		if err != nil {
			return fmt.Errorf("eod_reminder: list overdue: %w", err)
		}
		text := fmt.Sprintf("End of day. %d task(s) overdue.", len(overdue))
		key := fmt.Sprintf("eod:%s", time.Now().UTC().Format("2006-01-02"))
		return notifyBoss(ctx, st, key, text)
	}
}

func weeklyReportJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		completed, err := st.ListTasksByStatus(ctx, store.StatusCompleted, store.ListFilter{Limit: 1000})
		if err != nil {
			return fmt.Errorf("weekly_report: list completed: %w", err)
		}
		text := fmt.Sprintf("Weekly report: %d task(s) completed so far.", len(completed))
		year, week := time.Now().UTC().ISOWeek()
		key := fmt.Sprintf("weekly-report:%d-%d", year, week)
		return notifyBoss(ctx, st, key, text)
	}
}

func monthlyReportJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		completed, err := st.ListTasksByStatus(ctx, store.StatusCompleted, store.ListFilter{Limit: 1000})
		if err != nil {
			return fmt.Errorf("monthly_report: list completed: %w", err)
		}
		text := fmt.Sprintf("Monthly report: %d task(s) completed.", len(completed))
		key := fmt.Sprintf("monthly-report:%s", time.Now().UTC().Format("2006-01"))
		return notifyBoss(ctx, st, key, text)
	}
}

// deadlineReminderJob walks tasks due within 2h, 1h, and 30m windows and
// sends at most one reminder per (task, bucket) via the ReminderLedger
// (spec.md §4.9 "Reminder deduplication").
func deadlineReminderJob(st *store.Store) func(context.Context) error {
	windows := []struct {
		bucket store.IntervalBucket
		within time.Duration
	}{
		{store.Bucket2Hour, 2 * time.Hour},
		{store.Bucket1Hour, 1 * time.Hour},
		{store.Bucket30Min, 30 * time.Minute},
	}
	return func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, w := range windows {
			tasks, err := st.ListDueSoon(ctx, now, w.within, store.ListFilter{Limit: 1000})
			if err != nil {
				return fmt.Errorf("deadline_reminder: list due soon (%s): %w", w.bucket, err)
			}
			for _, t := range tasks {
				claimed, err := st.ClaimReminder(ctx, t.TaskID, w.bucket)
				if err != nil {
					return fmt.Errorf("deadline_reminder: claim %s/%s: %w", t.TaskID, w.bucket, err)
				}
				if !claimed {
					continue
				}
				text := fmt.Sprintf("Reminder: %s (%s) is due within %s.", t.TaskID, t.Title, w.bucket)
				key := fmt.Sprintf("deadline-reminder:%s:%s", t.TaskID, w.bucket)
				if err := notifyBoss(ctx, st, key, text); err != nil {
					return fmt.Errorf("deadline_reminder: notify %s/%s: %w", t.TaskID, w.bucket, err)
				}
			}
		}
		return nil
	}
}

func overdueAlertJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		now := time.Now().UTC()
		n, err := st.ApplyOverdue(ctx, now)
		if err != nil {
			return fmt.Errorf("overdue_alert: apply overdue: %w", err)
		}
		if n == 0 {
			return nil
		}
		text := fmt.Sprintf("%d task(s) just flipped to overdue.", n)
		key := fmt.Sprintf("overdue-alert:%s", now.Format("2006-01-02T15"))
		return notifyBoss(ctx, st, key, text)
	}
}

// recurringExpansionJob materializes a concrete Task from each due
// recurring template and advances its schedule (spec.md §4.9).
func recurringExpansionJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		now := time.Now().UTC()
		due, err := st.ListDueRecurringTasks(ctx, now)
		if err != nil {
			return fmt.Errorf("recurring_expansion: list due: %w", err)
		}
		for _, rt := range due {
			var template store.Task
			if err := json.Unmarshal(rt.Template, &template); err != nil {
				return fmt.Errorf("recurring_expansion: decode template %d: %w", rt.ID, err)
			}
			fresh := store.NewTask(template.Title)
			fresh.Description = template.Description
			fresh.AssigneeName = template.AssigneeName
			if template.Priority != "" {
				fresh.Priority = template.Priority
			}
			fresh.Tags = template.Tags
			fresh.AcceptanceCriteria = template.AcceptanceCriteria
			fresh.EstimatedMinutes = template.EstimatedMinutes
			if _, err := st.CreateTask(ctx, fresh, "scheduler"); err != nil {
				return fmt.Errorf("recurring_expansion: create task from template %d: %w", rt.ID, err)
			}
			next, err := NextRunTime(rt.CronExpr, now)
			if err != nil {
				return fmt.Errorf("recurring_expansion: compute next run for template %d: %w", rt.ID, err)
			}
			if err := st.MarkRecurringTaskRun(ctx, rt.ID, now, next); err != nil {
				return fmt.Errorf("recurring_expansion: mark run for template %d: %w", rt.ID, err)
			}
		}
		return nil
	}
}

// archiveOldCompletedJob soft-deletes completed/cancelled tasks untouched
// for 30 days, keeping the live table from accumulating stale rows.
func archiveOldCompletedJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
		ids, err := st.ArchiveCompletedOlderThan(ctx, cutoff, "scheduler")
		if err != nil {
			return fmt.Errorf("archive_old_completed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return nil
	}
}

// messageQueueDrainJob is a health sweep over the outbox, not the
// delivery path itself (that belongs to internal/outbox's dedicated
// worker pool, which polls far more often than every 15s). It exists to
// surface a growing dead-letter pile; failures here are log-only per
// spec.md §4.9's table, since notifying the boss over the very channel
// that may be failing to deliver would be circular.
func messageQueueDrainJob(st *store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := st.ListDeadLettered(ctx)
		if err != nil {
			return fmt.Errorf("message_queue_drain: list dead-lettered: %w", err)
		}
		return nil
	}
}

// NextRunTime parses a cron expression and returns its next fire time
// after the given instant.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
