package conversation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tg_plant_care_bot/internal/domain"
	"tg_plant_care_bot/internal/logging"
)

const (
	registerTrigger = "cadastrar"
	wateredKeyword  = "regada"
	todayKeyword    = "hoje"
)

type plantRepository interface {
	Get(ctx context.Context, chatID int64) ([]domain.Plant, error)
	Set(ctx context.Context, chatID int64, plants []domain.Plant) error
	Append(ctx context.Context, chatID int64, plant domain.Plant) ([]domain.Plant, error)
}

// Engine drives the linear registration state machine and the stateless
// "regada" re-watering command. One instance serves every chat; per-chat
// state lives in the injected session store.
type Engine struct {
	sessions *SessionStore
	plants   plantRepository
	logger   *logrus.Entry
	now      func() time.Time
}

// NewEngine constructs the conversation engine.
func NewEngine(sessions *SessionStore, plants plantRepository, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Engine{
		sessions: sessions,
		plants:   plants,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleText processes one inbound text message for the chat. photoRef
// carries the file id of an attached photo, when present. The returned bool
// reports whether the message belonged to this engine; unhandled messages
// get no reply at all.
func (e *Engine) HandleText(ctx context.Context, chatID int64, text, photoRef string) (string, bool) {
	msg := strings.TrimSpace(text)
	lower := strings.ToLower(msg)

	if strings.HasSuffix(lower, wateredKeyword) || strings.HasSuffix(lower, wateredKeyword+"!") {
		return e.waterByNickname(ctx, chatID, msg), true
	}

	sess, active := e.sessions.Get(chatID)
	if !active {
		if !strings.HasPrefix(lower, registerTrigger) {
			return "", false
		}
		return e.startRegistration(chatID, msg), true
	}

	return e.advance(ctx, chatID, sess, msg, lower, photoRef), true
}

func (e *Engine) startRegistration(chatID int64, msg string) string {
	parts := strings.Fields(msg)
	if len(parts) < 2 {
		return msgUsage
	}

	defaultName := strings.Join(parts[1:], " ")
	e.sessions.Put(chatID, &Session{
		Step:        StepNickname,
		DefaultName: defaultName,
	})

	e.logger.WithFields(logging.Fields{
		"event":   "registration_started",
		"chat_id": chatID,
	}).Info("started plant registration")

	return fmt.Sprintf(msgAskNickname, defaultName)
}

func (e *Engine) advance(ctx context.Context, chatID int64, sess *Session, msg, lower, photoRef string) string {
	switch sess.Step {
	case StepNickname:
		nickname := msg
		if isNegative(lower) {
			nickname = sess.DefaultName
		}
		// A photo-only message arrives with empty text; an empty nickname
		// would fail validation only at the end of the flow.
		if strings.TrimSpace(nickname) == "" {
			return msgEmptyAnswer
		}
		sess.Draft.Nickname = nickname
		sess.Step = StepScientificName
		e.sessions.Put(chatID, sess)
		return fmt.Sprintf(msgAskScientific, nickname)

	case StepScientificName:
		if strings.TrimSpace(msg) == "" {
			return msgEmptyAnswer
		}
		sess.Draft.ScientificName = msg
		sess.Step = StepInterval
		e.sessions.Put(chatID, sess)
		return fmt.Sprintf(msgAskInterval, sess.Draft.Nickname)

	case StepInterval:
		// ParseFloat accepts "NaN" and "Inf"; neither trips interval <= 0.
		interval, err := strconv.ParseFloat(msg, 64)
		if err != nil || math.IsNaN(interval) || math.IsInf(interval, 0) || interval <= 0 {
			return msgBadInterval
		}
		sess.Draft.IntervalDays = interval
		sess.Step = StepLastWatered
		e.sessions.Put(chatID, sess)
		return fmt.Sprintf(msgAskWatered, sess.Draft.Nickname)

	case StepLastWatered:
		watered, reply := e.parseLastWatered(msg, lower)
		if reply != "" {
			return reply
		}
		sess.Draft.LastWatered = watered.UTC().Format(time.RFC3339)
		sess.Step = StepPhoto
		e.sessions.Put(chatID, sess)
		return fmt.Sprintf(msgAskPhoto, sess.Draft.Nickname)

	case StepPhoto:
		return e.finishRegistration(ctx, chatID, sess, msg, lower, photoRef)

	default:
		// Anything else is corrupted state; never leave it to loop.
		e.sessions.Delete(chatID)
		e.logger.WithFields(logging.Fields{
			"event":   "session_corrupted",
			"chat_id": chatID,
			"step":    string(sess.Step),
		}).Warn("cleared conversation with unknown step")
		return msgFlowError
	}
}

// parseLastWatered accepts the literal "hoje" or a DD/MM/YYYY date. The
// second return value is the re-prompt text when the input is rejected.
func (e *Engine) parseLastWatered(msg, lower string) (time.Time, string) {
	if lower == todayKeyword {
		return e.now(), ""
	}

	parts := strings.Split(msg, "/")
	if len(parts) != 3 {
		return time.Time{}, msgBadDateFormat
	}

	day, errDay := strconv.Atoi(strings.TrimSpace(parts[0]))
	month, errMonth := strconv.Atoi(strings.TrimSpace(parts[1]))
	year, errYear := strconv.Atoi(strings.TrimSpace(parts[2]))
	if errDay != nil || errMonth != nil || errYear != nil {
		return time.Time{}, msgBadDate
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31/02 becomes 02/03); a round-trip
	// mismatch means the calendar date never existed.
	if date.Day() != day || int(date.Month()) != month || date.Year() != year {
		return time.Time{}, msgBadDate
	}

	return date, ""
}

func (e *Engine) finishRegistration(ctx context.Context, chatID int64, sess *Session, msg, lower, photoRef string) string {
	switch {
	case isNegative(lower):
		sess.Draft.Photo = ""
	case photoRef != "":
		sess.Draft.Photo = photoRef
	default:
		sess.Draft.Photo = msg
	}

	plant := sess.Draft
	if err := plant.Validate(); err != nil {
		// An invalid draft cannot become valid by retrying the photo answer;
		// keeping the session would strand the user.
		e.sessions.Delete(chatID)
		e.logger.WithFields(logging.Fields{
			"event":   "registration_invalid_draft",
			"chat_id": chatID,
		}).WithError(err).Warn("discarding invalid registration draft")
		return msgFlowError
	}

	if _, err := e.plants.Append(ctx, chatID, plant); err != nil {
		e.logger.WithFields(logging.Fields{
			"event":   "plant_store_error",
			"chat_id": chatID,
		}).WithError(err).Error("failed to persist registered plant")
		// Session stays at the photo step so the user can answer again.
		return msgStoreError
	}

	e.sessions.Delete(chatID)

	days, err := plant.DaysUntil(e.now())
	if err != nil {
		// The record validated on append; an unparsable timestamp here would
		// be a programming error, but never crash the reply path.
		e.logger.WithError(err).Error("failed to compute days until due for fresh record")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎉 *%s* cadastrada com sucesso!\n", plant.Nickname)
	fmt.Fprintf(&b, "🔬 Nome científico: %s\n", plant.ScientificName)
	fmt.Fprintf(&b, "⏰ Intervalo de rega: %s dia(s)\n", formatInterval(plant.IntervalDays))
	fmt.Fprintf(&b, "🕒 Última rega: %s\n", formatStoredInstant(plant.LastWatered))
	if plant.Photo != "" {
		fmt.Fprintf(&b, "📸 Foto: %s\n", plant.Photo)
	}
	fmt.Fprintf(&b, "➡️ Próxima rega em: %d dia(s)", days)

	return b.String()
}

func (e *Engine) waterByNickname(ctx context.Context, chatID int64, msg string) string {
	lower := strings.ToLower(strings.TrimSpace(msg))
	lower = strings.TrimSuffix(lower, "!")
	nickname := strings.TrimSpace(strings.TrimSuffix(lower, wateredKeyword))

	plants, err := e.plants.Get(ctx, chatID)
	if err != nil {
		e.logger.WithFields(logging.Fields{
			"event":   "plant_store_error",
			"chat_id": chatID,
		}).WithError(err).Error("failed to load plants for watering")
		return msgStoreError
	}
	if len(plants) == 0 {
		return msgNoPlants
	}

	index := -1
	for i, plant := range plants {
		if plant.HasNickname(nickname) {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Sprintf(msgNotFound, nickname)
	}

	now := e.now()
	plants[index].MarkWatered(now)
	if err := e.plants.Set(ctx, chatID, plants); err != nil {
		e.logger.WithFields(logging.Fields{
			"event":   "plant_store_error",
			"chat_id": chatID,
		}).WithError(err).Error("failed to persist watering")
		return msgStoreError
	}

	days, err := plants[index].DaysUntil(now)
	if err != nil {
		e.logger.WithError(err).Error("failed to compute days until due after watering")
	}

	return fmt.Sprintf(msgWateredNow, plants[index].Nickname, days)
}

func isNegative(lower string) bool {
	return lower == "não" || lower == "nao"
}

func formatInterval(days float64) string {
	return strconv.FormatFloat(days, 'f', -1, 64)
}

func formatStoredInstant(stored string) string {
	ts, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		return stored
	}
	return ts.Format("02/01/2006 15:04")
}
