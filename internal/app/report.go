package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/metrics"
)

const (
	maxStrongConcepts   = 5
	maxWeakConcepts     = 3
	minRecommendations  = 3
	maxRecommendations  = 5
	sourceGenerated     = "generated"
	sourceFallback      = "fallback"
	recommendationLimit = 20 * time.Second
)

// FallbackRecommendations is used whenever the generator is unavailable or
// returns an unusable list.
var FallbackRecommendations = []string{
	"Review the fundamental concepts of each topic covered in class.",
	"Practice explaining your answers in your own words with concrete examples.",
	"Go over the judges' feedback and revisit the topics where you scored lowest.",
}

var errTooFewRecommendations = errors.New("too few recommendations")

// RecommendationRequest is the generator input.
type RecommendationRequest struct {
	Strong     []string
	Weak       []string
	TotalScore float64
}

// Recommender produces free-text study advice.
type Recommender interface {
	Recommend(ctx context.Context, req RecommendationRequest) ([]string, error)
}

// ReportBuilder assembles per-player reports. A nil recommender always yields
// the fallback list.
type ReportBuilder struct {
	recommender Recommender
	now         func() time.Time
}

func NewReportBuilder(recommender Recommender) *ReportBuilder {
	return &ReportBuilder{recommender: recommender, now: time.Now}
}

// Build derives the report of playerID from the game history. Only the
// recommendations depend on anything but the inputs.
func (b *ReportBuilder) Build(ctx context.Context, g domain.Game, bank domain.QuestionBank, playerID string) (domain.Report, error) {
	player, ok := g.Players[playerID]
	if !ok {
		return domain.Report{}, domain.ErrPlayerNotFound
	}

	completed := CompletedRounds(g)
	report := domain.Report{
		PlayerID:       player.ID,
		PlayerName:     player.Name,
		TotalScore:     player.TotalScore,
		RoundScores:    []domain.RoundScore{},
		CategoryScores: map[string]float64{},
		AllFeedbacks:   []domain.JudgeFeedback{},
		GeneratedAt:    b.now(),
	}

	categoryCount := map[string]int{}
	for n := 1; n <= completed; n++ {
		score := player.ScoreAt(n)
		var category string
		if q, err := bank.QuestionFor(n); err == nil {
			category = q.Category
		}
		report.RoundScores = append(report.RoundScores, domain.RoundScore{Round: n, Category: category, Score: score})
		if category != "" {
			report.CategoryScores[category] += score
			categoryCount[category]++
		}
	}
	for category, n := range categoryCount {
		report.CategoryScores[category] /= float64(n)
	}
	if completed > 0 {
		report.AverageScore = player.TotalScore / float64(completed)
	}

	for n := 1; n <= g.TotalRounds; n++ {
		r, ok := g.Round(n)
		if !ok {
			continue
		}
		if sub, ok := r.Submissions[playerID]; ok {
			report.AllFeedbacks = append(report.AllFeedbacks, sub.Feedbacks...)
		}
	}

	report.StrongConcepts, report.WeakConcepts = RankConcepts(report.AllFeedbacks)
	report.Recommendations, report.RecommendationSource = b.recommend(ctx, RecommendationRequest{
		Strong:     report.StrongConcepts,
		Weak:       report.WeakConcepts,
		TotalScore: player.TotalScore,
	})
	return report, nil
}

// RankConcepts tallies tags by exact match and returns the top five as strong
// and the three least frequent as weak. The lists overlap when fewer than
// eight distinct tags exist.
func RankConcepts(feedbacks []domain.JudgeFeedback) (strong, weak []string) {
	counts := map[string]int{}
	var order []string
	for _, fb := range feedbacks {
		for _, tag := range fb.Tags {
			if _, seen := counts[tag]; !seen {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	strong = append([]string{}, order[:min(maxStrongConcepts, len(order))]...)
	weak = append([]string{}, order[max(0, len(order)-maxWeakConcepts):]...)
	return strong, weak
}

func (b *ReportBuilder) recommend(ctx context.Context, req RecommendationRequest) ([]string, string) {
	if b.recommender == nil {
		metrics.RecommendationFallbacks.Inc()
		return fallbackRecommendations(), sourceFallback
	}
	ctx, cancel := context.WithTimeout(ctx, recommendationLimit)
	defer cancel()

	items, err := b.recommender.Recommend(ctx, req)
	if err == nil {
		items = cleanRecommendations(items)
		if len(items) < minRecommendations {
			err = fmt.Errorf("got %d: %w", len(items), errTooFewRecommendations)
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("recommendation generator failed, using fallback list")
		metrics.RecommendationFallbacks.Inc()
		return fallbackRecommendations(), sourceFallback
	}
	return items, sourceGenerated
}

func cleanRecommendations(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out
}

func fallbackRecommendations() []string {
	return append([]string(nil), FallbackRecommendations...)
}
