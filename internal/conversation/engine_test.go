package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_plant_care_bot/internal/domain"
)

type fakeRepo struct {
	plants map[int64][]domain.Plant

	getErr    error
	setErr    error
	appendErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{plants: make(map[int64][]domain.Plant)}
}

func (f *fakeRepo) Get(_ context.Context, chatID int64) ([]domain.Plant, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append([]domain.Plant(nil), f.plants[chatID]...), nil
}

func (f *fakeRepo) Set(_ context.Context, chatID int64, plants []domain.Plant) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.plants[chatID] = plants
	return nil
}

func (f *fakeRepo) Append(_ context.Context, chatID int64, plant domain.Plant) ([]domain.Plant, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if err := plant.Validate(); err != nil {
		return nil, err
	}
	f.plants[chatID] = append(f.plants[chatID], plant)
	return f.plants[chatID], nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRepo, *SessionStore) {
	t.Helper()
	hookLogger, _ := logtest.NewNullLogger()
	sessions := NewSessionStore(DefaultSessionTTL)
	repo := newFakeRepo()
	engine := NewEngine(sessions, repo, logrus.NewEntry(hookLogger))
	engine.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return engine, repo, sessions
}

const testChat = int64(42)

func send(t *testing.T, e *Engine, text string) string {
	t.Helper()
	reply, handled := e.HandleText(context.Background(), testChat, text, "")
	if !handled {
		t.Fatalf("expected %q to be handled", text)
	}
	return reply
}

func TestRegistrationFullFlowWithDefaults(t *testing.T) {
	engine, repo, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")
	send(t, engine, "não")
	send(t, engine, "Rosa sp.")
	send(t, engine, "2")
	send(t, engine, "hoje")
	reply := send(t, engine, "não")

	plants := repo.plants[testChat]
	if len(plants) != 1 {
		t.Fatalf("expected one stored plant, got %d", len(plants))
	}

	stored := plants[0]
	if stored.Nickname != "Rose" {
		t.Fatalf("expected default name kept as nickname, got %q", stored.Nickname)
	}
	if stored.ScientificName != "Rosa sp." {
		t.Fatalf("expected scientific name, got %q", stored.ScientificName)
	}
	if stored.IntervalDays != 2 {
		t.Fatalf("expected interval 2, got %v", stored.IntervalDays)
	}
	if stored.Photo != "" {
		t.Fatalf("expected no photo, got %q", stored.Photo)
	}
	if stored.LastWatered != "2024-05-01T12:00:00Z" {
		t.Fatalf("expected last watered now, got %q", stored.LastWatered)
	}

	if _, active := sessions.Get(testChat); active {
		t.Fatalf("expected session cleared after completion")
	}

	if !strings.Contains(reply, "cadastrada com sucesso") {
		t.Fatalf("expected confirmation, got %q", reply)
	}
	if !strings.Contains(reply, "Próxima rega em: 2 dia(s)") {
		t.Fatalf("expected computed days until due, got %q", reply)
	}
}

func TestRegistrationWithCustomNicknameAndPhotoURL(t *testing.T) {
	engine, repo, _ := newTestEngine(t)

	send(t, engine, "cadastrar pimenteira")
	send(t, engine, "Pimentinha")
	send(t, engine, "Capsicum annuum")
	send(t, engine, "3")
	send(t, engine, "hoje")
	reply := send(t, engine, "https://example.com/pimenta.jpg")

	stored := repo.plants[testChat][0]
	if stored.Nickname != "Pimentinha" {
		t.Fatalf("expected custom nickname, got %q", stored.Nickname)
	}
	if stored.Photo != "https://example.com/pimenta.jpg" {
		t.Fatalf("expected photo reference stored, got %q", stored.Photo)
	}
	if !strings.Contains(reply, "📸 Foto:") {
		t.Fatalf("expected confirmation to mention the photo, got %q", reply)
	}
}

func TestRegistrationAcceptsPhotoAttachment(t *testing.T) {
	engine, repo, _ := newTestEngine(t)

	send(t, engine, "cadastrar samambaia")
	send(t, engine, "não")
	send(t, engine, "Nephrolepis exaltata")
	send(t, engine, "4")
	send(t, engine, "hoje")

	reply, handled := engine.HandleText(context.Background(), testChat, "", "AgACAgIAAxkBAAIB")
	if !handled {
		t.Fatalf("expected photo message to be handled")
	}
	if !strings.Contains(reply, "cadastrada com sucesso") {
		t.Fatalf("expected confirmation, got %q", reply)
	}

	if repo.plants[testChat][0].Photo != "AgACAgIAAxkBAAIB" {
		t.Fatalf("expected attachment file id stored, got %q", repo.plants[testChat][0].Photo)
	}
}

func TestRegistrationRequiresNameArgument(t *testing.T) {
	engine, _, sessions := newTestEngine(t)

	reply := send(t, engine, "cadastrar")
	if reply != msgUsage {
		t.Fatalf("expected usage error, got %q", reply)
	}
	if _, active := sessions.Get(testChat); active {
		t.Fatalf("expected no session for a missing argument")
	}
}

func TestInvalidIntervalRepromptsWithoutAdvancing(t *testing.T) {
	engine, repo, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")
	send(t, engine, "não")
	send(t, engine, "Rosa sp.")

	for _, input := range []string{"abc", "0", "-3", "NaN", "Inf", "-Inf"} {
		reply := send(t, engine, input)
		if reply != msgBadInterval {
			t.Fatalf("expected interval re-prompt for %q, got %q", input, reply)
		}
	}

	sess, active := sessions.Get(testChat)
	if !active || sess.Step != StepInterval {
		t.Fatalf("expected state to stay at the interval step, got %+v", sess)
	}
	if len(repo.plants[testChat]) != 0 {
		t.Fatalf("expected nothing stored while mid-flow")
	}

	// A valid answer still advances afterwards.
	reply := send(t, engine, "2")
	if !strings.Contains(reply, "última rega") {
		t.Fatalf("expected the next prompt after a valid interval, got %q", reply)
	}
}

func TestLastWateredValidation(t *testing.T) {
	engine, _, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")
	send(t, engine, "não")
	send(t, engine, "Rosa sp.")
	send(t, engine, "2")

	if reply := send(t, engine, "anteontem"); reply != msgBadDateFormat {
		t.Fatalf("expected format re-prompt, got %q", reply)
	}
	if reply := send(t, engine, "31/02/2024"); reply != msgBadDate {
		t.Fatalf("expected invalid calendar date re-prompt, got %q", reply)
	}
	if reply := send(t, engine, "aa/bb/cccc"); reply != msgBadDate {
		t.Fatalf("expected non-numeric date re-prompt, got %q", reply)
	}

	sess, active := sessions.Get(testChat)
	if !active || sess.Step != StepLastWatered {
		t.Fatalf("expected state to stay at the last-watered step, got %+v", sess)
	}

	reply := send(t, engine, "15/04/2024")
	if !strings.Contains(reply, "foto") {
		t.Fatalf("expected the photo prompt after a valid date, got %q", reply)
	}

	sess, _ = sessions.Get(testChat)
	if sess.Draft.LastWatered != "2024-04-15T00:00:00Z" {
		t.Fatalf("expected parsed date stored in the draft, got %q", sess.Draft.LastWatered)
	}
}

func TestEmptyNicknameAnswerReprompts(t *testing.T) {
	engine, repo, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")

	// A photo-only message arrives with empty text.
	reply, handled := engine.HandleText(context.Background(), testChat, "", "AgACAgIAAxkBAAIB")
	if !handled || reply != msgEmptyAnswer {
		t.Fatalf("expected empty-answer re-prompt, got %q (handled=%v)", reply, handled)
	}

	sess, active := sessions.Get(testChat)
	if !active || sess.Step != StepNickname {
		t.Fatalf("expected state to stay at the nickname step, got %+v", sess)
	}

	// The flow still completes after a real answer.
	send(t, engine, "não")
	send(t, engine, "Rosa sp.")
	send(t, engine, "2")
	send(t, engine, "hoje")
	if reply := send(t, engine, "não"); !strings.Contains(reply, "cadastrada com sucesso") {
		t.Fatalf("expected completion after the re-prompt, got %q", reply)
	}
	if len(repo.plants[testChat]) != 1 {
		t.Fatalf("expected one stored plant, got %d", len(repo.plants[testChat]))
	}
}

func TestEmptyScientificNameReprompts(t *testing.T) {
	engine, _, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")
	send(t, engine, "não")

	reply, handled := engine.HandleText(context.Background(), testChat, "   ", "")
	if !handled || reply != msgEmptyAnswer {
		t.Fatalf("expected empty-answer re-prompt, got %q (handled=%v)", reply, handled)
	}

	sess, active := sessions.Get(testChat)
	if !active || sess.Step != StepScientificName {
		t.Fatalf("expected state to stay at the scientific-name step, got %+v", sess)
	}
}

func TestInvalidDraftAtCompletionClearsSession(t *testing.T) {
	engine, repo, sessions := newTestEngine(t)

	// A draft missing its nickname can never validate; retrying the photo
	// answer must not loop forever.
	sessions.Put(testChat, &Session{
		Step: StepPhoto,
		Draft: domain.Plant{
			ScientificName: "Rosa sp.",
			IntervalDays:   2,
			LastWatered:    "2024-05-01T12:00:00Z",
		},
	})

	reply := send(t, engine, "não")
	if reply != msgFlowError {
		t.Fatalf("expected flow error for an invalid draft, got %q", reply)
	}
	if _, active := sessions.Get(testChat); active {
		t.Fatalf("expected invalid-draft session to be cleared")
	}
	if len(repo.plants[testChat]) != 0 {
		t.Fatalf("expected nothing stored from an invalid draft")
	}
}

func TestCorruptedStepClearsSession(t *testing.T) {
	engine, _, sessions := newTestEngine(t)

	sessions.Put(testChat, &Session{Step: Step("ask_humor")})

	reply := send(t, engine, "qualquer coisa")
	if reply != msgFlowError {
		t.Fatalf("expected flow error, got %q", reply)
	}
	if _, active := sessions.Get(testChat); active {
		t.Fatalf("expected corrupted session to be cleared")
	}
}

func TestStoreFailureOnCompletionKeepsSession(t *testing.T) {
	engine, repo, sessions := newTestEngine(t)

	send(t, engine, "cadastrar Rose")
	send(t, engine, "não")
	send(t, engine, "Rosa sp.")
	send(t, engine, "2")
	send(t, engine, "hoje")

	repo.appendErr = errors.New("mongo down")
	reply := send(t, engine, "não")
	if reply != msgStoreError {
		t.Fatalf("expected store error reply, got %q", reply)
	}

	sess, active := sessions.Get(testChat)
	if !active || sess.Step != StepPhoto {
		t.Fatalf("expected session kept at the photo step for a retry, got %+v", sess)
	}

	repo.appendErr = nil
	if reply := send(t, engine, "não"); !strings.Contains(reply, "cadastrada com sucesso") {
		t.Fatalf("expected retry to succeed, got %q", reply)
	}
}

func TestUnrelatedTextIsNotHandled(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if _, handled := engine.HandleText(context.Background(), testChat, "bom dia", ""); handled {
		t.Fatalf("expected unrelated text to pass through unhandled")
	}
}

func TestWaterByNicknameOnEmptyList(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	reply := send(t, engine, "pimenteira regada")
	if reply != msgNoPlants {
		t.Fatalf("expected empty-state message, got %q", reply)
	}
}

func TestWaterByNicknameNotFoundNamesQuery(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	repo.plants[testChat] = []domain.Plant{{
		Nickname:       "Rose",
		ScientificName: "Rosa sp.",
		IntervalDays:   2,
		LastWatered:    "2024-04-01T00:00:00Z",
	}}

	reply := send(t, engine, "cacto regada!")
	if reply != fmt.Sprintf(msgNotFound, "cacto") {
		t.Fatalf("expected not-found naming the nickname, got %q", reply)
	}
}

func TestWaterByNicknameUpdatesCaseInsensitively(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	repo.plants[testChat] = []domain.Plant{{
		Nickname:       "Pimentinha",
		ScientificName: "Capsicum annuum",
		IntervalDays:   3,
		LastWatered:    "2024-04-01T00:00:00Z",
	}}

	reply := send(t, engine, "PIMENTINHA regada")

	stored := repo.plants[testChat][0]
	if stored.LastWatered != "2024-05-01T12:00:00Z" {
		t.Fatalf("expected last watered moved to now, got %q", stored.LastWatered)
	}
	if len(stored.History) != 1 {
		t.Fatalf("expected watering appended to history, got %v", stored.History)
	}
	if !strings.Contains(reply, "*Pimentinha* atualizada") {
		t.Fatalf("expected confirmation with stored nickname, got %q", reply)
	}
	if !strings.Contains(reply, "Próxima rega em: 3 dia(s)") {
		t.Fatalf("expected recomputed days until due, got %q", reply)
	}
}

func TestWaterByNicknameSurfacesStoreErrors(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	repo.getErr = errors.New("mongo down")

	reply := send(t, engine, "rose regada")
	if reply != msgStoreError {
		t.Fatalf("expected store error reply, got %q", reply)
	}
}
