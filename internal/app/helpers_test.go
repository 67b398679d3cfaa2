package app_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/infra/memory"
)

// answerEvaluator scores an answer by parsing it as a number, so tests can
// pick each player's round score. Tags are the answer's words.
type answerEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (e *answerEvaluator) Judge(_ context.Context, req app.JudgeRequest) (app.Verdict, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	score, err := strconv.ParseFloat(req.Answer, 64)
	if err != nil {
		score = 80
	}
	return app.Verdict{Score: &score, Feedback: "ok", Tags: []string{req.Instruction}}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTimer records armed callbacks; tests fire them explicitly.
type manualTimer struct {
	mu    sync.Mutex
	fire  map[string]func()
	after map[string]time.Duration
}

func newManualTimer() *manualTimer {
	return &manualTimer{fire: map[string]func(){}, after: map[string]time.Duration{}}
}

func (t *manualTimer) Arm(code string, _ int, after time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fire[code] = fire
	t.after[code] = after
}

func (t *manualTimer) Disarm(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fire, code)
	delete(t.after, code)
}

func (t *manualTimer) Fire(code string) bool {
	t.mu.Lock()
	fire, ok := t.fire[code]
	delete(t.fire, code)
	t.mu.Unlock()
	if ok {
		fire()
	}
	return ok
}

func (t *manualTimer) Armed(code string) bool {
	_, ok := t.ArmedFor(code)
	return ok
}

// ArmedFor returns the delay of the pending timer for code.
func (t *manualTimer) ArmedFor(code string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fire[code]; !ok {
		return 0, false
	}
	return t.after[code], true
}

type harness struct {
	service   *app.GameService
	store     *memory.GameStore
	clock     *fakeClock
	timer     *manualTimer
	evaluator *answerEvaluator
	panel     *app.Panel
	banks     app.BankRepository
}

var (
	host  = domain.Identity{ID: "host", Name: "Teacher"}
	alice = domain.Identity{ID: "alice", Name: "Alice"}
	bob   = domain.Identity{ID: "bob", Name: "Bob"}
	carol = domain.Identity{ID: "carol", Name: "Carol"}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	panel, err := app.NewPanel([]app.Judge{
		{Name: "Professor", Role: "Lead", Instruction: "rigor"},
		{Name: "Assistant", Role: "Helper", Instruction: "clarity"},
	})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	h := &harness{
		store:     memory.NewGameStore(),
		clock:     newFakeClock(),
		timer:     newManualTimer(),
		evaluator: &answerEvaluator{},
		panel:     panel,
		banks:     memory.NewBankRepository(memory.NewStaticBankLoader(testBank(3)), time.Minute),
	}
	h.store.WithClock(h.clock.Now)
	h.service = h.restartWith(h.store, h.banks, h.timer)
	return h
}

// restart builds a second service over the harness store, as a process
// restart would.
func (h *harness) restart(timer *manualTimer) *app.GameService {
	return h.restartWith(h.store, h.banks, timer)
}

func (h *harness) restartWith(store app.GameStore, banks app.BankRepository, timer *manualTimer) *app.GameService {
	return app.NewGameService(
		store,
		banks,
		app.NewDispatcher(h.panel, h.evaluator, time.Second),
		app.NewReportBuilder(nil),
		app.WithClock(h.clock.Now),
		app.WithTimer(timer),
		app.WithDefaultBank("basics"),
		app.WithRoundDuration(5*time.Minute),
	)
}

// racingStore runs before ahead of the first Update.
type racingStore struct {
	app.GameStore
	once   sync.Once
	before func()
}

func (s *racingStore) Update(ctx context.Context, code string, u domain.Update) error {
	s.once.Do(s.before)
	return s.GameStore.Update(ctx, code, u)
}

type failingBanks struct{}

func (failingBanks) GetBank(context.Context, string) (domain.QuestionBank, error) {
	return domain.QuestionBank{}, errors.New("bank store unavailable")
}

// startedGame creates a game, joins the given players and opens round 1.
func (h *harness) startedGame(t *testing.T, players ...domain.Identity) string {
	t.Helper()
	ctx := context.Background()
	g, err := h.service.CreateGame(ctx, host, "")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	for _, p := range players {
		h.clock.Advance(time.Second)
		if _, err := h.service.Join(ctx, g.Code, p); err != nil {
			t.Fatalf("join %s: %v", p.ID, err)
		}
	}
	if _, err := h.service.Start(ctx, g.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	return g.Code
}

func (h *harness) submit(t *testing.T, code string, round int, who domain.Identity, answer string) domain.EvaluationResult {
	t.Helper()
	res, err := h.service.SubmitAnswer(context.Background(), code, round, who, answer)
	if err != nil {
		t.Fatalf("submit %s round %d: %v", who.ID, round, err)
	}
	return res
}

func (h *harness) game(t *testing.T, code string) domain.Game {
	t.Helper()
	g, err := h.service.Game(context.Background(), code)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	return g
}

func testBank(n int) domain.QuestionBank {
	bank := domain.QuestionBank{ID: "basics", Title: "Basics"}
	categories := []string{"A", "B", "C", "D"}
	for i := 1; i <= n; i++ {
		bank.Questions = append(bank.Questions, domain.Question{
			ID:              i,
			Category:        categories[(i-1)%len(categories)],
			Text:            "Question " + strconv.Itoa(i),
			ReferenceAnswer: "Reference " + strconv.Itoa(i),
		})
	}
	return bank
}
