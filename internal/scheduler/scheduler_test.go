package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/store"
)

type fakeSource struct {
	chats map[int64][]domain.Plant
	order []int64

	allErr       error
	setErr       error
	clearCalled  bool
	setsByChatID map[int64]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chats:        make(map[int64][]domain.Plant),
		setsByChatID: make(map[int64]int),
	}
}

func (f *fakeSource) seed(chatID int64, plants ...domain.Plant) {
	if _, ok := f.chats[chatID]; !ok {
		f.order = append(f.order, chatID)
	}
	f.chats[chatID] = plants
}

func (f *fakeSource) All(context.Context) ([]store.ChatPlants, error) {
	if f.allErr != nil {
		return nil, f.allErr
	}
	out := make([]store.ChatPlants, 0, len(f.order))
	for _, chatID := range f.order {
		out = append(out, store.ChatPlants{
			ChatID: chatID,
			Plants: append([]domain.Plant(nil), f.chats[chatID]...),
		})
	}
	return out, nil
}

func (f *fakeSource) Set(_ context.Context, chatID int64, plants []domain.Plant) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.chats[chatID] = plants
	f.setsByChatID[chatID]++
	return nil
}

func (f *fakeSource) ClearReminderFlags(context.Context) error {
	f.clearCalled = true
	for chatID, plants := range f.chats {
		for i := range plants {
			plants[i].ReminderSent = false
		}
		f.chats[chatID] = plants
	}
	return nil
}

type notification struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	sent    []notification
	failFor map[int64]error
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	if err, ok := f.failFor[chatID]; ok {
		return err
	}
	f.sent = append(f.sent, notification{chatID: chatID, text: text})
	return nil
}

type fakePurger struct {
	removed int
	calls   int
}

func (f *fakePurger) PurgeStale() int {
	f.calls++
	return f.removed
}

var sweepNow = time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSource, *fakeNotifier) {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	source := newFakeSource()
	notify := &fakeNotifier{failFor: make(map[int64]error)}

	s, err := New(6, time.UTC, source, notify, &fakePurger{}, logrus.NewEntry(hookLogger))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	s.now = func() time.Time { return sweepNow }
	return s, source, notify
}

func duePlant(nickname string) domain.Plant {
	return domain.Plant{
		Nickname:       nickname,
		ScientificName: "Rosa sp.",
		IntervalDays:   2,
		LastWatered:    "2024-05-01T00:00:00Z", // due 2024-05-03, long past
	}
}

func freshPlant(nickname string) domain.Plant {
	return domain.Plant{
		Nickname:       nickname,
		ScientificName: "Rosa sp.",
		IntervalDays:   30,
		LastWatered:    "2024-05-09T00:00:00Z",
	}
}

func TestSweepNotifiesOnlyDuePlants(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.seed(1, duePlant("Rose"))
	source.seed(2, freshPlant("Cacto"))

	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notify.sent))
	}
	if notify.sent[0].chatID != 1 {
		t.Fatalf("expected the overdue chat to be notified, got %d", notify.sent[0].chatID)
	}
	if !strings.Contains(notify.sent[0].text, "*Rose*") {
		t.Fatalf("expected reminder to name the plant, got %q", notify.sent[0].text)
	}

	if !source.chats[1][0].ReminderSent {
		t.Fatalf("expected reminder flag set after delivery")
	}
	if source.setsByChatID[2] != 0 {
		t.Fatalf("expected no write for the chat with nothing due")
	}
}

func TestSweepFiresOncePerDueDay(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.seed(1, duePlant("Rose"))

	s.RunReminderSweep(context.Background())
	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 1 {
		t.Fatalf("expected the flag to suppress the second notification, got %d", len(notify.sent))
	}
}

func TestSweepNotifiesAgainAfterFlagReset(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.seed(1, duePlant("Rose"))

	s.RunReminderSweep(context.Background())
	s.runFlagResetJob()
	s.RunReminderSweep(context.Background())

	if !source.clearCalled {
		t.Fatalf("expected the reset job to clear flags")
	}
	if len(notify.sent) != 2 {
		t.Fatalf("expected a fresh reminder after the reset, got %d", len(notify.sent))
	}
}

func TestSweepLeavesFlagUnsetWhenDeliveryFails(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.seed(1, duePlant("Rose"))
	notify.failFor[1] = errors.New("blocked by user")

	s.RunReminderSweep(context.Background())

	if source.chats[1][0].ReminderSent {
		t.Fatalf("expected flag to stay unset so the next sweep retries")
	}

	delete(notify.failFor, 1)
	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 1 {
		t.Fatalf("expected the retry sweep to deliver, got %d", len(notify.sent))
	}
}

func TestSweepIsolatesPerChatFailures(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.seed(1, duePlant("Rose"))
	source.seed(2, duePlant("Cacto"))
	notify.failFor[1] = errors.New("blocked by user")

	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 1 || notify.sent[0].chatID != 2 {
		t.Fatalf("expected the second chat to be notified despite the first failing, got %+v", notify.sent)
	}
}

func TestSweepSkipsPlantWithCorruptTimestamp(t *testing.T) {
	s, source, notify := newTestScheduler(t)

	corrupt := duePlant("Rose")
	corrupt.LastWatered = "ontem"
	source.seed(1, corrupt, duePlant("Cacto"))

	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 1 || !strings.Contains(notify.sent[0].text, "*Cacto*") {
		t.Fatalf("expected the healthy plant to still be notified, got %+v", notify.sent)
	}
}

func TestSweepSurvivesSourceError(t *testing.T) {
	s, source, notify := newTestScheduler(t)
	source.allErr = errors.New("mongo down")

	s.RunReminderSweep(context.Background())

	if len(notify.sent) != 0 {
		t.Fatalf("expected no notifications when the source fails, got %+v", notify.sent)
	}
}

func TestSessionPurgeJobReportsRemovals(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	source := newFakeSource()
	notify := &fakeNotifier{}
	purger := &fakePurger{removed: 3}

	s, err := New(6, time.UTC, source, notify, purger, logrus.NewEntry(hookLogger))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	s.runSessionPurgeJob()

	if purger.calls != 1 {
		t.Fatalf("expected the purge job to call the session store, got %d", purger.calls)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(hookLogger)

	if _, err := New(24, time.UTC, newFakeSource(), &fakeNotifier{}, &fakePurger{}, entry); err == nil {
		t.Fatalf("expected out-of-range hour to error")
	}
	if _, err := New(6, time.UTC, nil, &fakeNotifier{}, &fakePurger{}, entry); err == nil {
		t.Fatalf("expected missing plant source to error")
	}
	if _, err := New(6, time.UTC, newFakeSource(), nil, &fakePurger{}, entry); err == nil {
		t.Fatalf("expected missing notifier to error")
	}
}
