// Package scheduler runs the periodic jobs: the daily watering reminder
// sweep, the midnight reminder-flag reset, and the conversation session
// purge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/logging"
	"tg_plant_care_bot/internal/store"
)

const (
	sweepTimeout = 2 * time.Minute
	purgeEvery   = time.Hour
)

type plantSource interface {
	All(ctx context.Context) ([]store.ChatPlants, error)
	Set(ctx context.Context, chatID int64, plants []domain.Plant) error
	ClearReminderFlags(ctx context.Context) error
}

type notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type sessionPurger interface {
	PurgeStale() int
}

// Scheduler owns the gocron instance and the sweep logic. It runs on its own
// timers, independent of the update-handling path.
type Scheduler struct {
	scheduler gocron.Scheduler
	plants    plantSource
	notifier  notifier
	sessions  sessionPurger
	logger    *logrus.Entry
	now       func() time.Time
}

// New builds the scheduler with the reminder sweep at reminderHour local
// time, the flag reset at midnight, and the hourly session purge.
func New(reminderHour int, location *time.Location, plants plantSource, notify notifier, sessions sessionPurger, logger *logrus.Entry) (*Scheduler, error) {
	if plants == nil {
		return nil, errors.New("plant source is required")
	}
	if notify == nil {
		return nil, errors.New("notifier is required")
	}
	if reminderHour < 0 || reminderHour > 23 {
		return nil, fmt.Errorf("reminder hour %d out of range", reminderHour)
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = logging.Logger()
	}

	inner, err := gocron.NewScheduler(gocron.WithLocation(location))
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: inner,
		plants:    plants,
		notifier:  notify,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
	}

	if _, err := inner.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(reminderHour), 0, 0))),
		gocron.NewTask(s.runReminderJob),
	); err != nil {
		return nil, fmt.Errorf("register reminder job: %w", err)
	}

	if _, err := inner.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(s.runFlagResetJob),
	); err != nil {
		return nil, fmt.Errorf("register flag reset job: %w", err)
	}

	if sessions != nil {
		if _, err := inner.NewJob(
			gocron.DurationJob(purgeEvery),
			gocron.NewTask(s.runSessionPurgeJob),
		); err != nil {
			return nil, fmt.Errorf("register session purge job: %w", err)
		}
	}

	return s, nil
}

// Start launches the timer goroutines.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.WithField("event", "scheduler_started").Info("scheduler started")
}

// Shutdown stops the timers and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	if s == nil || s.scheduler == nil {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}

	s.logger.WithField("event", "scheduler_stopped").Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runReminderJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	s.RunReminderSweep(ctx)
}

func (s *Scheduler) runFlagResetJob() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if err := s.plants.ClearReminderFlags(ctx); err != nil {
		s.logger.WithField("event", "flag_reset_error").WithError(err).Error("failed to reset reminder flags")
		return
	}

	s.logger.WithField("event", "flag_reset").Info("cleared reminder flags")
}

func (s *Scheduler) runSessionPurgeJob() {
	removed := s.sessions.PurgeStale()
	if removed > 0 {
		s.logger.WithFields(logging.Fields{
			"event":   "session_purge",
			"removed": removed,
		}).Info("purged stale conversations")
	}
}

// RunReminderSweep walks every chat's plant list and notifies about plants
// that are due and not yet reminded today. Each chat is an isolated unit of
// work: a failure there is logged and the sweep moves on.
func (s *Scheduler) RunReminderSweep(ctx context.Context) {
	chats, err := s.plants.All(ctx)
	if err != nil {
		s.logger.WithField("event", "sweep_error").WithError(err).Error("failed to load chats for reminder sweep")
		return
	}

	now := s.now()
	notified := 0
	for _, chat := range chats {
		notified += s.sweepChat(ctx, chat, now)
	}

	s.logger.WithFields(logging.Fields{
		"event":    "sweep_done",
		"chats":    len(chats),
		"notified": notified,
	}).Info("reminder sweep finished")
}

func (s *Scheduler) sweepChat(ctx context.Context, chat store.ChatPlants, now time.Time) int {
	plants := chat.Plants
	changed := false
	notified := 0

	for i := range plants {
		needs, err := plants[i].NeedsWater(now)
		if err != nil {
			s.logger.WithFields(logging.Fields{
				"event":    "sweep_skip_plant",
				"chat_id":  chat.ChatID,
				"nickname": plants[i].Nickname,
			}).WithError(err).Warn("skipping plant with unreadable schedule")
			continue
		}
		if !needs || plants[i].ReminderSent {
			continue
		}

		if err := s.notifier.Notify(ctx, chat.ChatID, reminderText(plants[i])); err != nil {
			// The user may have blocked the bot; the flag stays unset so the
			// next sweep tries again.
			s.logger.WithFields(logging.Fields{
				"event":    "sweep_notify_error",
				"chat_id":  chat.ChatID,
				"nickname": plants[i].Nickname,
			}).WithError(err).Warn("failed to deliver reminder")
			continue
		}

		plants[i].ReminderSent = true
		changed = true
		notified++
	}

	if changed {
		if err := s.plants.Set(ctx, chat.ChatID, plants); err != nil {
			s.logger.WithFields(logging.Fields{
				"event":   "sweep_persist_error",
				"chat_id": chat.ChatID,
			}).WithError(err).Error("failed to persist reminder flags")
		}
	}

	return notified
}

func reminderText(plant domain.Plant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *Lembrete de Rega*\nSua planta *%s* precisa de água hoje!\n", plant.Nickname)
	if last, err := plant.LastWateredAt(); err == nil {
		fmt.Fprintf(&b, "Última rega: %s\n", last.Format("02/01/2006"))
	}
	fmt.Fprintf(&b, "Intervalo: %s dia(s)\n", strconv.FormatFloat(plant.IntervalDays, 'f', -1, 64))
	b.WriteString("Status: ❌ Atrasada ou no prazo de hoje.")
	return b.String()
}
