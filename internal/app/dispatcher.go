package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/metrics"
)

const (
	// FallbackScore is the neutral score substituted for a failed judge.
	FallbackScore = 50.0
	// FallbackFeedback is shown to the student for a failed judge only.
	FallbackFeedback = "Could not evaluate this answer. Please contact your instructor."

	emptyFeedback = "No feedback was generated."
)

// JudgeRequest is the input of one judge call.
type JudgeRequest struct {
	Instruction     string
	Question        string
	Answer          string
	ReferenceAnswer string
}

// Verdict is a judge's raw output. Score is nil when the judge omitted it.
type Verdict struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
	Tags     []string `json:"tags"`
}

// Evaluator is the text-evaluation collaborator. One call per judge per submission.
type Evaluator interface {
	Judge(ctx context.Context, req JudgeRequest) (Verdict, error)
}

// Dispatcher fans one answer out to every judge and folds the verdicts.
type Dispatcher struct {
	panel     *Panel
	evaluator Evaluator
	timeout   time.Duration
}

func NewDispatcher(panel *Panel, evaluator Evaluator, timeout time.Duration) *Dispatcher {
	return &Dispatcher{panel: panel, evaluator: evaluator, timeout: timeout}
}

// Panel exposes the judge registry.
func (d *Dispatcher) Panel() *Panel {
	return d.panel
}

type judgeOutcome struct {
	feedback domain.JudgeFeedback
	err      error
}

// Evaluate runs every judge concurrently and waits for all of them. A failing
// judge contributes the fallback verdict; it never aborts the others.
func (d *Dispatcher) Evaluate(ctx context.Context, question domain.Question, answer string) domain.EvaluationResult {
	started := time.Now()
	judges := d.panel.Judges()
	outcomes := make([]judgeOutcome, len(judges))

	var g errgroup.Group
	for i, judge := range judges {
		i, judge := i, judge
		g.Go(func() error {
			outcomes[i] = d.callJudge(ctx, judge, question, answer)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.EvaluationResult{Feedbacks: make([]domain.JudgeFeedback, len(judges))}
	var sum float64
	for i, o := range outcomes {
		if o.err != nil {
			log.Warn().Err(o.err).Str("judge", judges[i].Name).Msg("judge failed, using fallback verdict")
			metrics.JudgeOutcomes.WithLabelValues(judges[i].Name, "fallback").Inc()
		} else {
			metrics.JudgeOutcomes.WithLabelValues(judges[i].Name, "ok").Inc()
		}
		result.Feedbacks[i] = o.feedback
		sum += o.feedback.Score
	}
	result.AverageScore = sum / float64(len(judges))
	metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
	return result
}

// callJudge bounds one judge call by the per-judge timeout even when the
// evaluator ignores ctx; an abandoned call finishes into a buffered channel.
func (d *Dispatcher) callJudge(ctx context.Context, judge Judge, question domain.Question, answer string) judgeOutcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan judgeOutcome, 1)
	go func() {
		done <- d.judge(ctx, judge, question, answer)
	}()
	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return fallbackOutcome(judge, ctx.Err())
	}
}

func (d *Dispatcher) judge(ctx context.Context, judge Judge, question domain.Question, answer string) (out judgeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = fallbackOutcome(judge, fmt.Errorf("judge panicked: %v", r))
		}
	}()

	verdict, err := d.evaluator.Judge(ctx, JudgeRequest{
		Instruction:     judge.Instruction,
		Question:        question.Text,
		Answer:          answer,
		ReferenceAnswer: question.ReferenceAnswer,
	})
	if err != nil {
		return fallbackOutcome(judge, err)
	}

	feedback := verdict.Feedback
	if feedback == "" {
		feedback = emptyFeedback
	}
	tags := make([]string, 0, len(verdict.Tags))
	for _, tag := range verdict.Tags {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return judgeOutcome{feedback: domain.JudgeFeedback{
		JudgeName: judge.Name,
		JudgeRole: judge.Role,
		Score:     ClampScore(verdict.Score),
		Feedback:  feedback,
		Tags:      tags,
	}}
}

func fallbackOutcome(judge Judge, err error) judgeOutcome {
	return judgeOutcome{
		err: err,
		feedback: domain.JudgeFeedback{
			JudgeName: judge.Name,
			JudgeRole: judge.Role,
			Score:     FallbackScore,
			Feedback:  FallbackFeedback,
			Tags:      []string{},
			Fallback:  true,
		},
	}
}

// ClampScore maps a missing, non-finite or out of range score to 0.
func ClampScore(score *float64) float64 {
	if score == nil {
		return 0
	}
	s := *score
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > 100 {
		return 0
	}
	return s
}
