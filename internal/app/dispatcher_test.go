package app_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
)

// scriptedEvaluator answers per judge instruction.
type scriptedEvaluator map[string]func(ctx context.Context) (app.Verdict, error)

func (e scriptedEvaluator) Judge(ctx context.Context, req app.JudgeRequest) (app.Verdict, error) {
	return e[req.Instruction](ctx)
}

func score(v float64) *float64 { return &v }

func returns(s *float64, tags ...string) func(context.Context) (app.Verdict, error) {
	return func(context.Context) (app.Verdict, error) {
		return app.Verdict{Score: s, Feedback: "fine", Tags: tags}, nil
	}
}

func blocks(ctx context.Context) (app.Verdict, error) {
	<-ctx.Done()
	return app.Verdict{}, ctx.Err()
}

func threeJudges(t *testing.T) *app.Panel {
	t.Helper()
	panel, err := app.NewPanel([]app.Judge{
		{Name: "A", Role: "first", Instruction: "a"},
		{Name: "B", Role: "second", Instruction: "b"},
		{Name: "C", Role: "third", Instruction: "c"},
	})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	return panel
}

var question = domain.Question{ID: 1, Text: "Q", ReferenceAnswer: "R"}

func TestEvaluateFallsBackPerJudge(t *testing.T) {
	eval := scriptedEvaluator{
		"a": returns(score(90), "energy"),
		"b": blocks,
		"c": returns(score(70)),
	}
	d := app.NewDispatcher(threeJudges(t), eval, 50*time.Millisecond)

	res := d.Evaluate(context.Background(), question, "X")
	if len(res.Feedbacks) != 3 {
		t.Fatalf("expected 3 feedbacks, got %d", len(res.Feedbacks))
	}
	if res.AverageScore != 70 {
		t.Fatalf("expected aggregate 70, got %v", res.AverageScore)
	}
	b := res.Feedbacks[1]
	if b.JudgeName != "B" || !b.Fallback || b.Score != app.FallbackScore || b.Feedback != app.FallbackFeedback || len(b.Tags) != 0 {
		t.Fatalf("unexpected fallback entry %+v", b)
	}
	if res.Feedbacks[0].JudgeName != "A" || res.Feedbacks[2].JudgeName != "C" {
		t.Fatalf("expected panel order, got %+v", res.Feedbacks)
	}
}

func TestEvaluateDoesNotWaitForJudgeIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	eval := scriptedEvaluator{
		"a": returns(score(90)),
		"b": func(context.Context) (app.Verdict, error) {
			<-release
			return app.Verdict{Score: score(100), Feedback: "too late"}, nil
		},
		"c": returns(score(70)),
	}
	d := app.NewDispatcher(threeJudges(t), eval, 50*time.Millisecond)

	done := make(chan domain.EvaluationResult, 1)
	go func() { done <- d.Evaluate(context.Background(), question, "X") }()
	var res domain.EvaluationResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("evaluate waited past the judge timeout")
	}
	if !res.Feedbacks[1].Fallback || res.AverageScore != 70 {
		t.Fatalf("expected stuck judge to fall back, got %+v", res)
	}
}

func TestEvaluateAllJudgesFail(t *testing.T) {
	fail := func(context.Context) (app.Verdict, error) { return app.Verdict{}, errors.New("upstream 500") }
	eval := scriptedEvaluator{"a": fail, "b": fail, "c": func(context.Context) (app.Verdict, error) { panic("boom") }}
	d := app.NewDispatcher(threeJudges(t), eval, time.Second)

	res := d.Evaluate(context.Background(), question, "X")
	if len(res.Feedbacks) != 3 || res.AverageScore != app.FallbackScore {
		t.Fatalf("expected 3 fallbacks averaging 50, got %+v", res)
	}
	for _, fb := range res.Feedbacks {
		if !fb.Fallback {
			t.Fatalf("expected fallback for %s", fb.JudgeName)
		}
	}
}

func TestEvaluateClampsScores(t *testing.T) {
	eval := scriptedEvaluator{
		"a": returns(score(150)),
		"b": returns(nil),
		"c": returns(score(math.NaN())),
	}
	d := app.NewDispatcher(threeJudges(t), eval, time.Second)

	res := d.Evaluate(context.Background(), question, "X")
	if res.AverageScore != 0 {
		t.Fatalf("expected clamped aggregate 0, got %v", res.AverageScore)
	}
	for _, fb := range res.Feedbacks {
		if fb.Fallback || fb.Score != 0 {
			t.Fatalf("expected clamped non-fallback entry, got %+v", fb)
		}
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   *float64
		want float64
	}{
		{nil, 0},
		{score(-1), 0},
		{score(0), 0},
		{score(42.5), 42.5},
		{score(100), 100},
		{score(100.01), 0},
		{score(math.Inf(1)), 0},
	}
	for _, c := range cases {
		if got := app.ClampScore(c.in); got != c.want {
			t.Fatalf("ClampScore(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
