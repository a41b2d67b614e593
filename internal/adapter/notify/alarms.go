package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"deskbridge/internal/domain"
	"deskbridge/internal/usecase/scheduling"
)

const (
	alarmJobPrefix = "alarm:"
	// maxOccurrences bounds the search for the next repeat occurrence.
	maxOccurrences = 100000
)

// JobScheduler is the part of scheduling.Scheduler the alarm scheduler
// needs.
type JobScheduler interface {
	Add(job scheduling.Job) error
	Remove(id string) bool
}

// SessionKeys looks up the stored session key of a push identifier.
type SessionKeys interface {
	PushIdentifierSessionKey(ctx context.Context, pushIdentifierID string) (string, error)
}

// AlarmScheduler turns alarm notifications into scheduled jobs that show a
// notification when they fire. It implements domain.AlarmScheduler.
type AlarmScheduler struct {
	jobs     JobScheduler
	notifier *Notifier
	keys     SessionKeys
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewAlarmScheduler creates an alarm scheduler. keys and bus may be nil;
// without keys, alarms are scheduled without checking their session key.
func NewAlarmScheduler(jobs JobScheduler, notifier *Notifier, keys SessionKeys, bus domain.EventBus, logger *slog.Logger) *AlarmScheduler {
	return &AlarmScheduler{jobs: jobs, notifier: notifier, keys: keys, bus: bus, logger: logger, now: time.Now}
}

// HandleAlarmNotification schedules or cancels one alarm.
func (a *AlarmScheduler) HandleAlarmNotification(ctx context.Context, alarm domain.AlarmNotification) error {
	if alarm.AlarmID == "" {
		return fmt.Errorf("%w: alarm identifier is required", domain.ErrInvalidInput)
	}
	id := alarmJobPrefix + alarm.AlarmID

	switch alarm.Operation {
	case domain.AlarmDelete:
		if a.jobs.Remove(id) {
			a.logger.Debug("alarm cancelled", "alarm", alarm.AlarmID)
		}
		return nil
	case domain.AlarmCreate:
	default:
		return fmt.Errorf("%w: unknown alarm operation %q", domain.ErrInvalidInput, alarm.Operation)
	}

	if alarm.PushIdentifierID != "" && a.keys != nil {
		if _, err := a.keys.PushIdentifierSessionKey(ctx, alarm.PushIdentifierID); err != nil {
			return fmt.Errorf("alarm %s: %w", alarm.AlarmID, err)
		}
	}

	offset, err := ParseTrigger(alarm.Trigger)
	if err != nil {
		return err
	}
	sched, err := alarmSchedule(alarm, offset)
	if err != nil {
		return err
	}
	next := sched.Next(a.now())
	if next.IsZero() {
		a.logger.Debug("alarm lies in the past, not scheduling", "alarm", alarm.AlarmID)
		a.jobs.Remove(id)
		return nil
	}

	err = a.jobs.Add(scheduling.Job{
		ID:       id,
		Schedule: sched,
		OneShot:  alarm.RepeatRule == nil,
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			return a.fire(ctx, alarm)
		},
	})
	if err != nil {
		return fmt.Errorf("schedule alarm %s: %w", alarm.AlarmID, err)
	}
	a.logger.Info("alarm scheduled", "alarm", alarm.AlarmID, "next", next)
	if a.bus != nil {
		a.bus.Publish(ctx, domain.NewEvent(domain.EventAlarmScheduled, 0, map[string]any{
			"alarmIdentifier": alarm.AlarmID,
			"next":            next.UTC().Format(time.RFC3339),
		}))
	}
	return nil
}

func (a *AlarmScheduler) fire(ctx context.Context, alarm domain.AlarmNotification) error {
	body := alarm.EventStart.Local().Format("Mon Jan 2 15:04")
	if _, err := a.notifier.Show(ctx, alarm.UserID, alarm.Summary, body); err != nil {
		return err
	}
	if a.bus != nil {
		a.bus.Publish(ctx, domain.NewEvent(domain.EventAlarmFired, 0, map[string]string{
			"alarmIdentifier": alarm.AlarmID,
			"user":            alarm.UserID,
		}))
	}
	return nil
}

// ParseTrigger parses an alarm trigger such as "5M", "1H", "2D" or "1W", or
// a Go duration string, into the offset before the event start.
func ParseTrigger(trigger string) (time.Duration, error) {
	t := strings.TrimSpace(trigger)
	if t == "" {
		return 0, fmt.Errorf("%w: empty alarm trigger", domain.ErrInvalidInput)
	}
	units := map[byte]time.Duration{
		'M': time.Minute,
		'H': time.Hour,
		'D': 24 * time.Hour,
		'W': 7 * 24 * time.Hour,
	}
	if unit, ok := units[t[len(t)-1]]; ok {
		if n, err := strconv.Atoi(t[:len(t)-1]); err == nil && n >= 0 {
			return time.Duration(n) * unit, nil
		}
	}
	d, err := time.ParseDuration(t)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: alarm trigger %q", domain.ErrInvalidInput, trigger)
	}
	return d, nil
}

func alarmSchedule(alarm domain.AlarmNotification, offset time.Duration) (cron.Schedule, error) {
	if alarm.EventStart.IsZero() {
		return nil, fmt.Errorf("%w: alarm %s has no event start", domain.ErrInvalidInput, alarm.AlarmID)
	}
	if alarm.RepeatRule == nil {
		return scheduling.At(alarm.EventStart.Add(-offset)), nil
	}
	rule := alarm.RepeatRule
	interval := rule.Interval
	if interval <= 0 {
		interval = 1
	}
	var step func(t time.Time, k int) time.Time
	switch strings.ToUpper(rule.Frequency) {
	case "DAILY":
		step = func(t time.Time, k int) time.Time { return t.AddDate(0, 0, k*interval) }
	case "WEEKLY":
		step = func(t time.Time, k int) time.Time { return t.AddDate(0, 0, 7*k*interval) }
	case "MONTHLY":
		step = func(t time.Time, k int) time.Time { return t.AddDate(0, k*interval, 0) }
	case "ANNUALLY", "YEARLY":
		step = func(t time.Time, k int) time.Time { return t.AddDate(k*interval, 0, 0) }
	default:
		return nil, fmt.Errorf("%w: repeat frequency %q", domain.ErrInvalidInput, rule.Frequency)
	}
	return repeatSchedule{start: alarm.EventStart, offset: offset, step: step, end: rule.EndTime}, nil
}

// repeatSchedule fires offset before each occurrence of a repeating event.
type repeatSchedule struct {
	start  time.Time
	offset time.Duration
	step   func(t time.Time, k int) time.Time
	end    *time.Time
}

func (r repeatSchedule) Next(now time.Time) time.Time {
	for k := 0; k < maxOccurrences; k++ {
		occurrence := r.step(r.start, k)
		if r.end != nil && !occurrence.Before(*r.end) {
			return time.Time{}
		}
		if trigger := occurrence.Add(-r.offset); trigger.After(now) {
			return trigger
		}
	}
	return time.Time{}
}
