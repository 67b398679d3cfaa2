package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/metrics"
)

// GameStore is the external document store: one document per game code,
// guarded multi-field writes over dotted paths, and change subscription.
type GameStore interface {
	Create(ctx context.Context, game domain.Game) error
	Get(ctx context.Context, code string) (domain.Game, error)
	Exists(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, code string, u domain.Update) error
	Subscribe(ctx context.Context, code string) (<-chan domain.Game, func(), error)
}

// BankRepository loads question banks (from cache/backing store).
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

const (
	// DefaultRoundDuration is the answer window when none is configured.
	DefaultRoundDuration = 5 * time.Minute

	createAttempts     = 8
	evaluationAttempts = 3
)

// GameService owns the session lifecycle. It keeps no game state in memory:
// every operation reads the document, validates, and issues one guarded write.
type GameService struct {
	games         GameStore
	banks         BankRepository
	dispatcher    *Dispatcher
	reports       *ReportBuilder
	timer         RoundTimer
	now           func() time.Time
	newCode       func() string
	defaultBank   string
	roundDuration time.Duration
	retryDelay    time.Duration
}

// Option customises a GameService.
type Option func(*GameService)

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

func WithTimer(t RoundTimer) Option {
	return func(s *GameService) { s.timer = t }
}

func WithCodeGenerator(gen func() string) Option {
	return func(s *GameService) { s.newCode = gen }
}

func WithRoundDuration(d time.Duration) Option {
	return func(s *GameService) { s.roundDuration = d }
}

func WithDefaultBank(bankID string) Option {
	return func(s *GameService) { s.defaultBank = bankID }
}

func NewGameService(games GameStore, banks BankRepository, dispatcher *Dispatcher, reports *ReportBuilder, opts ...Option) *GameService {
	s := &GameService{
		games:         games,
		banks:         banks,
		dispatcher:    dispatcher,
		reports:       reports,
		timer:         noopTimer{},
		now:           time.Now,
		newCode:       NewGameCode,
		defaultBank:   "default",
		roundDuration: DefaultRoundDuration,
		retryDelay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGame seeds a new lobby hosted by host. totalRounds is the bank size.
func (s *GameService) CreateGame(ctx context.Context, host domain.Identity, bankID string) (domain.Game, error) {
	if !domain.ValidKey(host.ID) {
		return domain.Game{}, domain.ErrInvalidIdentity
	}
	if bankID == "" {
		bankID = s.defaultBank
	}
	bank, err := s.banks.GetBank(ctx, bankID)
	if err != nil {
		return domain.Game{}, err
	}
	if len(bank.Questions) == 0 {
		return domain.Game{}, fmt.Errorf("bank %s: %w", bankID, domain.ErrQuestionNotFound)
	}

	now := s.now()
	name := strings.TrimSpace(host.Name)
	if name == "" {
		name = host.ID
	}
	for attempt := 0; attempt < createAttempts; attempt++ {
		game := domain.Game{
			Code:          s.newCode(),
			HostID:        host.ID,
			BankID:        bank.ID,
			State:         domain.StateWaiting,
			TotalRounds:   len(bank.Questions),
			RoundDuration: s.roundDuration,
			Players: map[string]domain.Player{
				host.ID: {ID: host.ID, Name: name, IsAdmin: true, IsActive: true, JoinedAt: now},
			},
			Rounds:    map[string]domain.Round{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.games.Create(ctx, game)
		if errors.Is(err, domain.ErrGameExists) {
			continue
		}
		if err != nil {
			return domain.Game{}, err
		}
		log.Info().Str("game", game.Code).Str("host", host.ID).Int("rounds", game.TotalRounds).Msg("game created")
		return game, nil
	}
	return domain.Game{}, fmt.Errorf("allocate game code: %w", domain.ErrGameExists)
}

// Join adds who to a game still in the lobby. Re-joining refreshes the name.
func (s *GameService) Join(ctx context.Context, code string, who domain.Identity) (domain.Game, error) {
	code = NormalizeCode(code)
	name := strings.TrimSpace(who.Name)
	if !domain.ValidKey(who.ID) || name == "" {
		return domain.Game{}, domain.ErrInvalidIdentity
	}
	g, err := s.games.Get(ctx, code)
	if err != nil {
		return domain.Game{}, err
	}
	if g.State != domain.StateWaiting {
		return domain.Game{}, domain.ErrGameNotJoinable
	}

	u := domain.NewUpdate().Guard(domain.Equals(domain.FieldState, domain.StateWaiting))
	if existing, ok := g.Players[who.ID]; ok {
		if !existing.IsActive {
			return domain.Game{}, domain.ErrPlayerKicked
		}
		u = u.With(domain.PlayerField(who.ID, "name"), name).
			Guard(domain.Equals(domain.PlayerField(who.ID, "isActive"), true))
	} else {
		u = u.With(domain.PlayerPath(who.ID), domain.Player{
			ID:       who.ID,
			Name:     name,
			IsActive: true,
			JoinedAt: s.now(),
		}).Guard(domain.Missing(domain.PlayerPath(who.ID)))
	}
	if err := s.games.Update(ctx, code, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Game{}, domain.ErrGameNotJoinable
		}
		return domain.Game{}, err
	}
	log.Info().Str("game", code).Str("player", who.ID).Msg("player joined")
	return s.games.Get(ctx, code)
}

// Start opens round 1. Repeating it once the game is running is a no-op.
func (s *GameService) Start(ctx context.Context, code string, caller domain.Identity) (domain.Game, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.Game{}, err
	}
	if g.State != domain.StateWaiting {
		if g.CurrentRound >= 1 {
			return g, nil
		}
		return domain.Game{}, domain.ErrInvalidTransition
	}
	if len(activePlayers(g)) < 1 {
		return domain.Game{}, domain.ErrNotEnoughPlayers
	}

	u, round, err := s.openRoundUpdate(ctx, g, 1)
	if err != nil {
		return domain.Game{}, err
	}
	u = u.Guard(domain.Equals(domain.FieldState, domain.StateWaiting))
	if err := s.games.Update(ctx, g.Code, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.games.Get(ctx, g.Code)
		}
		return domain.Game{}, err
	}
	s.armRound(g.Code, round)
	log.Info().Str("game", g.Code).Msg("game started")
	return s.games.Get(ctx, g.Code)
}

// SubmitAnswer records who's answer for round, runs the judge panel and writes
// the verdicts back into the submission. The evaluation is detached from ctx
// cancellation so an accepted submission always receives a result.
func (s *GameService) SubmitAnswer(ctx context.Context, code string, round int, who domain.Identity, answer string) (domain.EvaluationResult, error) {
	code = NormalizeCode(code)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return domain.EvaluationResult{}, domain.ErrEmptyAnswer
	}
	g, err := s.games.Get(ctx, code)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	player, ok := g.Players[who.ID]
	switch {
	case !ok:
		return domain.EvaluationResult{}, domain.ErrPlayerNotFound
	case !player.IsActive:
		return domain.EvaluationResult{}, domain.ErrPlayerKicked
	case player.IsAdmin:
		return domain.EvaluationResult{}, domain.ErrAdminCannotSubmit
	}
	if g.State != domain.StatePlaying || g.CurrentRound != round {
		return domain.EvaluationResult{}, domain.ErrRoundNotOpen
	}
	r, ok := g.Round(round)
	if !ok {
		return domain.EvaluationResult{}, domain.ErrRoundNotFound
	}
	if _, dup := r.Submissions[who.ID]; dup {
		return domain.EvaluationResult{}, domain.ErrAlreadySubmitted
	}
	if expired(r, s.now()) {
		if _, err := s.closeRound(ctx, code, round, domain.CloseTimer); err != nil {
			log.Error().Err(err).Str("game", code).Int("round", round).Msg("close expired round")
		}
		return domain.EvaluationResult{}, domain.ErrRoundNotOpen
	}

	bank, err := s.banks.GetBank(ctx, g.BankID)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	question, err := bank.QuestionFor(round)
	if err != nil {
		return domain.EvaluationResult{}, err
	}

	subPath := domain.SubmissionPath(round, who.ID)
	accept := domain.NewUpdate().
		With(subPath, domain.Submission{Answer: answer, SubmittedAt: s.now()}).
		Guard(
			domain.Equals(domain.FieldState, domain.StatePlaying),
			domain.Equals(domain.FieldCurrentRound, round),
			domain.Equals(domain.PlayerField(who.ID, "isActive"), true),
			domain.Missing(subPath),
		)
	if err := s.games.Update(ctx, code, accept); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.EvaluationResult{}, s.explainRejectedSubmission(ctx, code, round, who.ID)
		}
		return domain.EvaluationResult{}, err
	}
	log.Info().Str("game", code).Int("round", round).Str("player", who.ID).Msg("answer accepted")

	evalCtx := context.WithoutCancel(ctx)
	result := s.dispatcher.Evaluate(evalCtx, question, answer)
	if err := s.writeEvaluation(evalCtx, code, round, who.ID, result); err != nil {
		return result, err
	}
	s.closeIfAllSubmitted(evalCtx, code, round)
	return result, nil
}

func (s *GameService) writeEvaluation(ctx context.Context, code string, round int, playerID string, result domain.EvaluationResult) error {
	u := domain.NewUpdate().
		With(domain.SubmissionField(round, playerID, "feedbacks"), result.Feedbacks).
		With(domain.SubmissionField(round, playerID, "averageScore"), result.AverageScore).
		Guard(domain.Present(domain.SubmissionPath(round, playerID)))

	var err error
	for attempt := 1; attempt <= evaluationAttempts; attempt++ {
		if err = s.games.Update(ctx, code, u); err == nil || !errors.Is(err, domain.ErrUnavailable) {
			break
		}
		log.Warn().Err(err).Str("game", code).Int("round", round).Str("player", playerID).Int("attempt", attempt).Msg("evaluation write failed")
		time.Sleep(s.retryDelay * time.Duration(attempt))
	}
	if err != nil {
		log.Error().Err(err).Str("game", code).Int("round", round).Str("player", playerID).Msg("evaluation result lost")
	}
	return err
}

func (s *GameService) explainRejectedSubmission(ctx context.Context, code string, round int, playerID string) error {
	g, err := s.games.Get(ctx, code)
	if err != nil {
		return err
	}
	if r, ok := g.Round(round); ok {
		if _, dup := r.Submissions[playerID]; dup {
			return domain.ErrAlreadySubmitted
		}
	}
	if p, ok := g.Players[playerID]; ok && !p.IsActive {
		return domain.ErrPlayerKicked
	}
	return domain.ErrRoundNotOpen
}

// closeIfAllSubmitted closes round once every active non-admin player has an
// evaluated submission.
func (s *GameService) closeIfAllSubmitted(ctx context.Context, code string, round int) {
	g, err := s.games.Get(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("game", code).Msg("reload game after submission")
		return
	}
	if g.State != domain.StatePlaying || g.CurrentRound != round {
		return
	}
	r, ok := g.Round(round)
	if !ok {
		return
	}
	competitors := g.Competitors()
	if len(competitors) == 0 {
		return
	}
	for _, p := range competitors {
		sub, ok := r.Submissions[p.ID]
		if !ok || !sub.Evaluated() {
			return
		}
	}
	if _, err := s.closeRound(ctx, code, round, domain.CloseAllSubmitted); err != nil {
		log.Error().Err(err).Str("game", code).Int("round", round).Msg("auto close round")
	}
}

// CloseRound is the admin override that ends the answer window early.
// Closing a round that is already closed is a no-op.
func (s *GameService) CloseRound(ctx context.Context, code string, caller domain.Identity, round int) (domain.Game, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.Game{}, err
	}
	if g.State == domain.StateWaiting || round < 1 || round > g.TotalRounds {
		return domain.Game{}, domain.ErrInvalidTransition
	}
	if _, err := s.closeRound(ctx, g.Code, round, domain.CloseAdmin); err != nil {
		return domain.Game{}, err
	}
	return s.games.Get(ctx, g.Code)
}

// ExpireRound is the timer entry point. It closes the round only once its
// answer window has run out.
func (s *GameService) ExpireRound(ctx context.Context, code string, round int) (bool, error) {
	return s.closeRound(ctx, NormalizeCode(code), round, domain.CloseTimer)
}

// closeRound moves playing/round to results exactly once. It reports whether
// this call performed the transition.
func (s *GameService) closeRound(ctx context.Context, code string, round int, reason domain.CloseReason) (bool, error) {
	g, err := s.games.Get(ctx, code)
	if err != nil {
		return false, err
	}
	if g.State != domain.StatePlaying || g.CurrentRound != round {
		return false, nil
	}
	if reason == domain.CloseTimer {
		r, ok := g.Round(round)
		if !ok {
			return false, nil
		}
		if !expired(r, s.now()) {
			// Stale or foreign timer: a paused round stays open, a running
			// one gets a timer for the time actually left.
			if !r.IsPaused {
				s.armRound(code, r)
			}
			return false, nil
		}
	}
	u := s.scoreRoundUpdate(g, round, reason).
		With(domain.FieldState, domain.StateResults).
		Guard(
			domain.Equals(domain.FieldState, domain.StatePlaying),
			domain.Equals(domain.FieldCurrentRound, round),
		)
	if err := s.games.Update(ctx, code, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	s.timer.Disarm(code)
	metrics.RoundsClosed.WithLabelValues(string(reason)).Inc()
	log.Info().Str("game", code).Int("round", round).Str("reason", string(reason)).Msg("round closed")
	return true, nil
}

// scoreRoundUpdate credits every non-admin player with the round's score:
// the submission's average, or 0 without a submission or an evaluation.
func (s *GameService) scoreRoundUpdate(g domain.Game, round int, reason domain.CloseReason) domain.Update {
	u := domain.NewUpdate().
		With(domain.RoundField(round, "closedAt"), s.now()).
		With(domain.RoundField(round, "closeReason"), reason)
	r, _ := g.Round(round)
	for _, p := range g.Players {
		if p.IsAdmin {
			continue
		}
		var score float64
		if sub, ok := r.Submissions[p.ID]; ok {
			score = sub.Score()
		}
		total := score
		for prior := 1; prior < round; prior++ {
			total += p.ScoreAt(prior)
		}
		u = u.With(domain.PlayerRoundScorePath(p.ID, round), score).
			With(domain.PlayerField(p.ID, "totalScore"), total)
	}
	return u
}

// Advance moves from the results of fromRound to the next round, or completes
// the game after the last one. A repeated call for the same fromRound is a no-op.
func (s *GameService) Advance(ctx context.Context, code string, caller domain.Identity, fromRound int) (domain.Game, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.Game{}, err
	}
	if fromRound == 0 {
		fromRound = g.CurrentRound
	}
	switch {
	case g.State == domain.StateResults && g.CurrentRound == fromRound:
	case g.State == domain.StateCompleted, g.CurrentRound > fromRound:
		return g, nil
	default:
		return domain.Game{}, domain.ErrInvalidTransition
	}

	var u domain.Update
	next := fromRound + 1
	opened := next <= g.TotalRounds
	var round domain.Round
	if opened {
		u, round, err = s.openRoundUpdate(ctx, g, next)
		if err != nil {
			return domain.Game{}, err
		}
	} else {
		u = domain.NewUpdate().With(domain.FieldState, domain.StateCompleted)
	}
	u = u.Guard(
		domain.Equals(domain.FieldState, domain.StateResults),
		domain.Equals(domain.FieldCurrentRound, fromRound),
	)
	if err := s.games.Update(ctx, g.Code, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.games.Get(ctx, g.Code)
		}
		return domain.Game{}, err
	}
	if opened {
		s.armRound(g.Code, round)
		log.Info().Str("game", g.Code).Int("round", next).Msg("round opened")
	} else {
		log.Info().Str("game", g.Code).Msg("game completed")
	}
	return s.games.Get(ctx, g.Code)
}

// ForceEnd completes the game from any state. An open round is scored in the
// same write.
func (s *GameService) ForceEnd(ctx context.Context, code string, caller domain.Identity) (domain.Game, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.Game{}, err
	}
	if g.State == domain.StateCompleted {
		return g, nil
	}

	u := domain.NewUpdate()
	if g.State == domain.StatePlaying {
		u = s.scoreRoundUpdate(g, g.CurrentRound, domain.CloseForceEnd)
	}
	u = u.With(domain.FieldState, domain.StateCompleted).Guard(
		domain.Equals(domain.FieldState, g.State),
		domain.Equals(domain.FieldCurrentRound, g.CurrentRound),
	)
	if err := s.games.Update(ctx, g.Code, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.games.Get(ctx, g.Code)
		}
		return domain.Game{}, err
	}
	s.timer.Disarm(g.Code)
	if g.State == domain.StatePlaying {
		metrics.RoundsClosed.WithLabelValues(string(domain.CloseForceEnd)).Inc()
	}
	log.Info().Str("game", g.Code).Str("from", string(g.State)).Msg("game force ended")
	return s.games.Get(ctx, g.Code)
}

// SetPaused freezes or resumes the round timer. Pausing never changes state.
func (s *GameService) SetPaused(ctx context.Context, code string, caller domain.Identity, round int, paused bool) (domain.RoundStatus, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.RoundStatus{}, err
	}
	if g.State != domain.StatePlaying || g.CurrentRound != round {
		return domain.RoundStatus{}, domain.ErrRoundNotOpen
	}
	r, ok := g.Round(round)
	if !ok {
		return domain.RoundStatus{}, domain.ErrRoundNotFound
	}
	if r.IsPaused == paused {
		return s.statusOf(g, r), nil
	}

	now := s.now()
	u := domain.NewUpdate().
		With(domain.RoundField(round, "isPaused"), paused).
		Guard(
			domain.Equals(domain.FieldState, domain.StatePlaying),
			domain.Equals(domain.FieldCurrentRound, round),
			domain.Equals(domain.RoundField(round, "isPaused"), r.IsPaused),
		)
	if paused {
		u = u.With(domain.RoundField(round, "pausedAt"), now)
	} else {
		pausedFor := r.PausedFor
		if r.PausedAt != nil && now.After(*r.PausedAt) {
			pausedFor += now.Sub(*r.PausedAt)
		}
		u = u.With(domain.RoundField(round, "pausedAt"), nil).
			With(domain.RoundField(round, "pausedFor"), pausedFor)
	}
	if err := s.games.Update(ctx, g.Code, u); err != nil && !errors.Is(err, domain.ErrConflict) {
		return domain.RoundStatus{}, err
	}

	g, err = s.games.Get(ctx, g.Code)
	if err != nil {
		return domain.RoundStatus{}, err
	}
	r, _ = g.Round(round)
	if r.IsPaused {
		s.timer.Disarm(g.Code)
	} else if g.State == domain.StatePlaying && g.CurrentRound == round {
		s.armRound(g.Code, r)
	}
	log.Info().Str("game", g.Code).Int("round", round).Bool("paused", r.IsPaused).Msg("round pause toggled")
	return s.statusOf(g, r), nil
}

// TogglePause flips the pause flag of the open round.
func (s *GameService) TogglePause(ctx context.Context, code string, caller domain.Identity, round int) (domain.RoundStatus, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.RoundStatus{}, err
	}
	r, ok := g.Round(round)
	if !ok {
		return domain.RoundStatus{}, domain.ErrRoundNotFound
	}
	return s.SetPaused(ctx, code, caller, round, !r.IsPaused)
}

// Kick deactivates a non-admin player. Their history is kept for reporting.
func (s *GameService) Kick(ctx context.Context, code string, caller domain.Identity, playerID string) (domain.Game, error) {
	g, err := s.adminGame(ctx, code, caller)
	if err != nil {
		return domain.Game{}, err
	}
	if g.State == domain.StateCompleted {
		return domain.Game{}, domain.ErrInvalidTransition
	}
	target, ok := g.Players[playerID]
	if !ok {
		return domain.Game{}, domain.ErrPlayerNotFound
	}
	if target.IsAdmin {
		return domain.Game{}, domain.ErrInvalidTransition
	}
	if !target.IsActive {
		return g, nil
	}

	u := domain.NewUpdate().
		With(domain.PlayerField(playerID, "isActive"), false).
		Guard(
			domain.NotEquals(domain.FieldState, domain.StateCompleted),
			domain.Present(domain.PlayerPath(playerID)),
		)
	if err := s.games.Update(ctx, g.Code, u); err != nil {
		return domain.Game{}, err
	}
	log.Info().Str("game", g.Code).Str("player", playerID).Msg("player kicked")
	if g.State == domain.StatePlaying {
		s.closeIfAllSubmitted(ctx, g.Code, g.CurrentRound)
	}
	return s.games.Get(ctx, g.Code)
}

// Game returns the current snapshot.
func (s *GameService) Game(ctx context.Context, code string) (domain.Game, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Game{}, err
	}
	s.ensureTimer(g)
	return g, nil
}

// Leaderboard ranks the current snapshot.
func (s *GameService) Leaderboard(ctx context.Context, code string) (domain.Leaderboard, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return LeaderboardFor(g), nil
}

// Question returns the student-facing question for round.
func (s *GameService) Question(ctx context.Context, code string, round int) (domain.Question, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Question{}, err
	}
	bank, err := s.banks.GetBank(ctx, g.BankID)
	if err != nil {
		return domain.Question{}, err
	}
	q, err := bank.QuestionFor(round)
	if err != nil {
		return domain.Question{}, err
	}
	return q.Public(), nil
}

// RoundStatus reports the derived timer view of round.
func (s *GameService) RoundStatus(ctx context.Context, code string, round int) (domain.RoundStatus, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.RoundStatus{}, err
	}
	r, ok := g.Round(round)
	if !ok {
		return domain.RoundStatus{}, domain.ErrRoundNotFound
	}
	s.ensureTimer(g)
	return s.statusOf(g, r), nil
}

// Report builds playerID's end-of-game report.
func (s *GameService) Report(ctx context.Context, code, playerID string) (domain.Report, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Report{}, err
	}
	bank, err := s.banks.GetBank(ctx, g.BankID)
	if err != nil {
		// Only category scores need the bank.
		log.Warn().Err(err).Str("game", g.Code).Str("bank", g.BankID).Msg("report without question bank")
		bank = domain.QuestionBank{ID: g.BankID}
	}
	return s.reports.Build(ctx, g, bank, playerID)
}

// Subscribe streams snapshots of the game document.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *GameService) Subscribe(ctx context.Context, code string) (<-chan domain.Game, func(), error) {
	code = NormalizeCode(code)
	if g, err := s.games.Get(ctx, code); err == nil {
		s.ensureTimer(g)
	}
	return s.games.Subscribe(ctx, code)
}

// ensureTimer arms the open round's timer when this process holds none, as
// after a restart or when the round was opened by another instance. An
// overdue round gets a zero timer and closes right away.
func (s *GameService) ensureTimer(g domain.Game) {
	if g.State != domain.StatePlaying || s.timer.Armed(g.Code) {
		return
	}
	r, ok := g.Round(g.CurrentRound)
	if !ok || r.IsPaused || r.ClosedAt != nil {
		return
	}
	log.Info().Str("game", g.Code).Int("round", r.Number).Msg("re-arming round timer")
	s.armRound(g.Code, r)
}

func (s *GameService) adminGame(ctx context.Context, code string, caller domain.Identity) (domain.Game, error) {
	g, err := s.games.Get(ctx, NormalizeCode(code))
	if err != nil {
		return domain.Game{}, err
	}
	p, ok := g.Players[caller.ID]
	if !ok || !p.IsAdmin {
		return domain.Game{}, domain.ErrNotAdmin
	}
	return g, nil
}

func (s *GameService) openRoundUpdate(ctx context.Context, g domain.Game, n int) (domain.Update, domain.Round, error) {
	bank, err := s.banks.GetBank(ctx, g.BankID)
	if err != nil {
		return domain.Update{}, domain.Round{}, err
	}
	q, err := bank.QuestionFor(n)
	if err != nil {
		return domain.Update{}, domain.Round{}, err
	}
	duration := g.RoundDuration
	if duration <= 0 {
		duration = s.roundDuration
	}
	round := domain.Round{
		Number:      n,
		QuestionID:  q.ID,
		StartTime:   s.now(),
		Duration:    duration,
		Submissions: map[string]domain.Submission{},
	}
	u := domain.NewUpdate().
		With(domain.FieldState, domain.StatePlaying).
		With(domain.FieldCurrentRound, n).
		With(domain.RoundPath(n), round)
	return u, round, nil
}

func (s *GameService) armRound(code string, r domain.Round) {
	if r.Duration <= 0 {
		return
	}
	remaining := r.Remaining(s.now())
	round := r.Number
	s.timer.Arm(code, round, remaining, func() {
		if _, err := s.ExpireRound(context.Background(), code, round); err != nil {
			log.Error().Err(err).Str("game", code).Int("round", round).Msg("timer close failed")
		}
	})
}

func (s *GameService) statusOf(g domain.Game, r domain.Round) domain.RoundStatus {
	now := s.now()
	expected := len(g.Competitors())
	submitted := 0
	for _, p := range g.Competitors() {
		if _, ok := r.Submissions[p.ID]; ok {
			submitted++
		}
	}
	return domain.RoundStatus{
		Round:     r.Number,
		IsPaused:  r.IsPaused,
		Closed:    r.ClosedAt != nil,
		Elapsed:   r.Elapsed(now),
		Remaining: r.Remaining(now),
		Submitted: submitted,
		Expected:  expected,
	}
}

func expired(r domain.Round, now time.Time) bool {
	return r.Duration > 0 && !r.IsPaused && r.Remaining(now) == 0
}

func activePlayers(g domain.Game) []domain.Player {
	out := make([]domain.Player, 0, len(g.Players))
	for _, p := range g.Players {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}
