package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"panel-quiz-service/internal/domain"
)

func TestGameLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	g := h.game(t, code)
	if g.State != domain.StatePlaying || g.CurrentRound != 1 || g.TotalRounds != 3 {
		t.Fatalf("expected playing round 1 of 3, got %s %d/%d", g.State, g.CurrentRound, g.TotalRounds)
	}

	res := h.submit(t, code, 1, alice, "90")
	if res.AverageScore != 90 || len(res.Feedbacks) != 2 {
		t.Fatalf("unexpected evaluation %+v", res)
	}
	if g := h.game(t, code); g.State != domain.StatePlaying {
		t.Fatalf("round closed before everyone submitted")
	}
	h.submit(t, code, 1, bob, "70")

	g = h.game(t, code)
	if g.State != domain.StateResults {
		t.Fatalf("expected results after all submitted, got %s", g.State)
	}
	r, _ := g.Round(1)
	if r.CloseReason != domain.CloseAllSubmitted || r.ClosedAt == nil {
		t.Fatalf("unexpected close record %+v", r)
	}
	if g.Players["alice"].TotalScore != 90 || g.Players["bob"].ScoreAt(1) != 70 {
		t.Fatalf("unexpected scores %+v", g.Players)
	}

	lb, err := h.service.Leaderboard(ctx, code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].PlayerID != "alice" || lb.Round != 1 {
		t.Fatalf("unexpected leaderboard %+v", lb)
	}

	if _, err := h.service.Advance(ctx, code, host, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// a repeated advance for the same round is a no-op
	g, err = h.service.Advance(ctx, code, host, 1)
	if err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if g.State != domain.StatePlaying || g.CurrentRound != 2 {
		t.Fatalf("expected playing round 2, got %s %d", g.State, g.CurrentRound)
	}

	for round := 2; round <= 3; round++ {
		h.submit(t, code, round, alice, "50")
		h.submit(t, code, round, bob, "100")
		if _, err := h.service.Advance(ctx, code, host, round); err != nil {
			t.Fatalf("advance from %d: %v", round, err)
		}
	}

	g = h.game(t, code)
	if g.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s", g.State)
	}
	if g.Players["alice"].TotalScore != 190 || g.Players["bob"].TotalScore != 270 {
		t.Fatalf("unexpected totals alice=%v bob=%v", g.Players["alice"].TotalScore, g.Players["bob"].TotalScore)
	}
	lb, _ = h.service.Leaderboard(ctx, code)
	if lb.Entries[0].PlayerID != "bob" || lb.Entries[0].AverageScore != 90 {
		t.Fatalf("expected bob to lead with 90 average, got %+v", lb.Entries[0])
	}
}

func TestStartRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g, err := h.service.CreateGame(ctx, host, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.service.Join(ctx, strings.ToLower(g.Code), alice); err != nil {
		t.Fatalf("join with lower-case code: %v", err)
	}
	if _, err := h.service.Start(ctx, g.Code, alice); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := h.service.Start(ctx, g.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Start(ctx, g.Code, host); err != nil {
		t.Fatalf("repeated start should be a no-op, got %v", err)
	}
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g, err := h.service.CreateGame(ctx, host, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.service.Join(ctx, g.Code, domain.Identity{ID: "a.b", Name: "Dot"}); !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := h.service.Join(ctx, g.Code, alice); err != nil {
		t.Fatalf("join: %v", err)
	}
	renamed, err := h.service.Join(ctx, g.Code, domain.Identity{ID: "alice", Name: "Alicia"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if renamed.Players["alice"].Name != "Alicia" {
		t.Fatalf("expected refreshed name, got %q", renamed.Players["alice"].Name)
	}

	if _, err := h.service.Join(ctx, g.Code, bob); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := h.service.Kick(ctx, g.Code, host, "bob"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if _, err := h.service.Join(ctx, g.Code, bob); !errors.Is(err, domain.ErrPlayerKicked) {
		t.Fatalf("expected kicked player to stay out, got %v", err)
	}

	if _, err := h.service.Start(ctx, g.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.Join(ctx, g.Code, carol); !errors.Is(err, domain.ErrGameNotJoinable) {
		t.Fatalf("expected ErrGameNotJoinable, got %v", err)
	}
	if _, err := h.service.Join(ctx, "NOPE99", carol); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestSubmitRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	if _, err := h.service.SubmitAnswer(ctx, code, 1, host, "42"); !errors.Is(err, domain.ErrAdminCannotSubmit) {
		t.Fatalf("expected ErrAdminCannotSubmit, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, code, 1, carol, "42"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected ErrPlayerNotFound, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, code, 1, alice, "   "); !errors.Is(err, domain.ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, code, 2, alice, "42"); !errors.Is(err, domain.ErrRoundNotOpen) {
		t.Fatalf("expected ErrRoundNotOpen for future round, got %v", err)
	}
}

func TestDoubleSubmitKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	h.submit(t, code, 1, alice, "60")
	if _, err := h.service.SubmitAnswer(ctx, code, 1, alice, "99"); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	r, _ := h.game(t, code).Round(1)
	sub := r.Submissions["alice"]
	if sub.Answer != "60" || sub.Score() != 60 {
		t.Fatalf("original submission changed: %+v", sub)
	}
	if h.evaluator.calls != 2 {
		t.Fatalf("expected one panel evaluation (2 judge calls), got %d", h.evaluator.calls)
	}
}

func TestCloseRoundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)
	h.submit(t, code, 1, alice, "80")

	if _, err := h.service.CloseRound(ctx, code, alice, 1); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	first, err := h.service.CloseRound(ctx, code, host, 1)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	h.clock.Advance(time.Minute)
	second, err := h.service.CloseRound(ctx, code, host, 1)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}

	r1, _ := first.Round(1)
	r2, _ := second.Round(1)
	if second.State != domain.StateResults || !r1.ClosedAt.Equal(*r2.ClosedAt) || r2.CloseReason != domain.CloseAdmin {
		t.Fatalf("second close was not a no-op: %+v", r2)
	}
	if second.Players["alice"].TotalScore != 80 || second.Players["bob"].ScoreAt(1) != 0 {
		t.Fatalf("unexpected scores %+v", second.Players)
	}
	if _, ok := second.Players["bob"].RoundScores["1"]; !ok {
		t.Fatalf("expected bob to be credited an explicit 0")
	}
}

func TestForceEndCompletesFromPlaying(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)
	h.submit(t, code, 1, alice, "80")

	g, err := h.service.ForceEnd(ctx, code, host)
	if err != nil {
		t.Fatalf("force end: %v", err)
	}
	if g.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s", g.State)
	}
	r, _ := g.Round(1)
	if r.CloseReason != domain.CloseForceEnd {
		t.Fatalf("expected force_end reason, got %q", r.CloseReason)
	}
	if g.Players["alice"].TotalScore != 80 {
		t.Fatalf("expected open round to be scored, got %v", g.Players["alice"].TotalScore)
	}
	if _, ok := h.timer.ArmedFor(code); ok {
		t.Fatalf("expected timer disarmed")
	}
	if _, err := h.service.ForceEnd(ctx, code, host); err != nil {
		t.Fatalf("second force end should be a no-op, got %v", err)
	}
	if _, err := h.service.Advance(ctx, code, host, 1); err != nil {
		t.Fatalf("advance on completed game should be a no-op, got %v", err)
	}
}

func TestForceEndFromLastResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice)
	for round := 1; round <= 3; round++ {
		h.submit(t, code, round, alice, "70")
		if round < 3 {
			if _, err := h.service.Advance(ctx, code, host, round); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}
	}
	g, err := h.service.ForceEnd(ctx, code, host)
	if err != nil {
		t.Fatalf("force end: %v", err)
	}
	if g.State != domain.StateCompleted || g.Players["alice"].TotalScore != 210 {
		t.Fatalf("unexpected final game %s total %v", g.State, g.Players["alice"].TotalScore)
	}
}

func TestAdvanceRequiresResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)
	if _, err := h.service.Advance(ctx, code, host, 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while playing, got %v", err)
	}
}

func TestKickClosesRoundAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	h.submit(t, code, 1, alice, "90")
	h.submit(t, code, 1, bob, "40")
	if _, err := h.service.Advance(ctx, code, host, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	h.submit(t, code, 2, alice, "90")

	if _, err := h.service.Kick(ctx, code, alice, "bob"); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := h.service.Kick(ctx, code, host, "host"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected admin kick to be rejected, got %v", err)
	}
	g, err := h.service.Kick(ctx, code, host, "bob")
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if g.State != domain.StateResults {
		t.Fatalf("expected round to close once remaining players submitted, got %s", g.State)
	}
	if _, err := h.service.SubmitAnswer(ctx, code, 2, bob, "10"); err == nil {
		t.Fatalf("expected kicked player submission to fail")
	}

	lb, _ := h.service.Leaderboard(ctx, code)
	if len(lb.Entries) != 1 || lb.Entries[0].PlayerID != "alice" {
		t.Fatalf("expected kicked player excluded, got %+v", lb.Entries)
	}

	report, err := h.service.Report(ctx, code, "bob")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalScore != 40 || len(report.AllFeedbacks) != 2 {
		t.Fatalf("expected kicked player's history kept, got %+v", report)
	}
}

func TestPauseFreezesRemainingTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice)

	if d, ok := h.timer.ArmedFor(code); !ok || d != 5*time.Minute {
		t.Fatalf("expected a 5m timer, got %v %v", d, ok)
	}
	h.clock.Advance(time.Minute)
	status, err := h.service.SetPaused(ctx, code, host, 1, true)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !status.IsPaused || status.Remaining != 4*time.Minute {
		t.Fatalf("unexpected paused status %+v", status)
	}
	if _, ok := h.timer.ArmedFor(code); ok {
		t.Fatalf("expected timer disarmed while paused")
	}
	if g := h.game(t, code); g.State != domain.StatePlaying {
		t.Fatalf("pausing changed state to %s", g.State)
	}

	h.clock.Advance(10 * time.Minute)
	status, _ = h.service.RoundStatus(ctx, code, 1)
	if status.Remaining != 4*time.Minute {
		t.Fatalf("expected remaining frozen at 4m, got %v", status.Remaining)
	}

	status, err = h.service.TogglePause(ctx, code, host, 1)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if status.IsPaused {
		t.Fatalf("expected resumed round")
	}
	if d, ok := h.timer.ArmedFor(code); !ok || d != 4*time.Minute {
		t.Fatalf("expected timer re-armed with 4m, got %v %v", d, ok)
	}
	h.clock.Advance(time.Minute)
	status, _ = h.service.RoundStatus(ctx, code, 1)
	if status.Remaining != 3*time.Minute || status.Elapsed != 2*time.Minute {
		t.Fatalf("unexpected status after resume %+v", status)
	}
}

func TestTimerExpiryClosesRound(t *testing.T) {
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)
	h.submit(t, code, 1, alice, "75")

	h.clock.Advance(5 * time.Minute)
	if !h.timer.Fire(code) {
		t.Fatalf("expected an armed timer")
	}
	g := h.game(t, code)
	r, _ := g.Round(1)
	if g.State != domain.StateResults || r.CloseReason != domain.CloseTimer {
		t.Fatalf("expected timer close, got %s %q", g.State, r.CloseReason)
	}
	if g.Players["bob"].ScoreAt(1) != 0 || g.Players["alice"].ScoreAt(1) != 75 {
		t.Fatalf("unexpected scores %+v", g.Players)
	}
}

func TestTimerFiringEarlyOrPausedKeepsRoundOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	h.clock.Advance(time.Minute)
	if !h.timer.Fire(code) {
		t.Fatalf("expected an armed timer")
	}
	if g := h.game(t, code); g.State != domain.StatePlaying {
		t.Fatalf("early timer closed the round: %s", g.State)
	}
	if d, ok := h.timer.ArmedFor(code); !ok || d != 4*time.Minute {
		t.Fatalf("expected timer re-armed with 4m, got %v %v", d, ok)
	}

	if _, err := h.service.SetPaused(ctx, code, host, 1, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	h.clock.Advance(10 * time.Minute)
	closed, err := h.service.ExpireRound(ctx, code, 1)
	if err != nil || closed {
		t.Fatalf("expected paused round to stay open, got %v %v", closed, err)
	}
	if _, ok := h.timer.ArmedFor(code); ok {
		t.Fatalf("expected no timer while paused")
	}
	status, _ := h.service.RoundStatus(ctx, code, 1)
	if status.Closed || status.Remaining != 4*time.Minute {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestReadRearmsTimerAfterRestart(t *testing.T) {
	h := newHarness(t)
	code := h.startedGame(t, alice)
	h.clock.Advance(2 * time.Minute)

	// A fresh service over the same store has no timers of its own.
	timer := newManualTimer()
	restarted := h.restart(timer)
	if _, ok := timer.ArmedFor(code); ok {
		t.Fatalf("expected no timer before the first read")
	}
	if _, err := restarted.Game(context.Background(), code); err != nil {
		t.Fatalf("get: %v", err)
	}
	if d, ok := timer.ArmedFor(code); !ok || d != 3*time.Minute {
		t.Fatalf("expected re-armed 3m timer, got %v %v", d, ok)
	}

	h.clock.Advance(3 * time.Minute)
	timer.Fire(code)
	g, err := restarted.Game(context.Background(), code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r, _ := g.Round(1); g.State != domain.StateResults || r.CloseReason != domain.CloseTimer {
		t.Fatalf("expected timer close after restart, got %s %q", g.State, r.CloseReason)
	}
}

func TestForceEndLosingRaceReturnsGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice)

	store := &racingStore{GameStore: h.store, before: func() {
		// Another instance ends the game between our read and write.
		end := domain.NewUpdate().With(domain.FieldState, domain.StateCompleted)
		if err := h.store.Update(ctx, code, end); err != nil {
			t.Fatalf("competing end: %v", err)
		}
	}}
	service := h.restartWith(store, h.banks, newManualTimer())
	g, err := service.ForceEnd(ctx, code, host)
	if err != nil {
		t.Fatalf("expected lost race to be a no-op, got %v", err)
	}
	if g.State != domain.StateCompleted {
		t.Fatalf("expected completed game, got %s", g.State)
	}
}

func TestReportWithoutQuestionBank(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice)
	h.submit(t, code, 1, alice, "60")
	if _, err := h.service.ForceEnd(ctx, code, host); err != nil {
		t.Fatalf("force end: %v", err)
	}

	service := h.restartWith(h.store, failingBanks{}, newManualTimer())
	report, err := service.Report(ctx, code, alice.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalScore != 60 || len(report.CategoryScores) != 0 || len(report.AllFeedbacks) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.RoundScores) != 1 || report.RoundScores[0].Category != "" {
		t.Fatalf("unexpected round scores %+v", report.RoundScores)
	}
}

func TestLateSubmissionClosesExpiredRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	h.clock.Advance(6 * time.Minute)
	if _, err := h.service.SubmitAnswer(ctx, code, 1, alice, "75"); !errors.Is(err, domain.ErrRoundNotOpen) {
		t.Fatalf("expected ErrRoundNotOpen after expiry, got %v", err)
	}
	if g := h.game(t, code); g.State != domain.StateResults {
		t.Fatalf("expected expired round closed, got %s", g.State)
	}
}

func TestQuestionHidesReferenceAnswer(t *testing.T) {
	h := newHarness(t)
	code := h.startedGame(t, alice)
	q, err := h.service.Question(context.Background(), code, 1)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if q.Text != "Question 1" || q.ReferenceAnswer != "" {
		t.Fatalf("unexpected public question %+v", q)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	code := h.startedGame(t, alice, bob)

	ch, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-ch // initial snapshot

	h.submit(t, code, 1, alice, "80")
	deadline := time.After(time.Second)
	for {
		select {
		case g := <-ch:
			r, _ := g.Round(1)
			if r.Submissions["alice"].Evaluated() {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for evaluated snapshot")
		}
	}
}
