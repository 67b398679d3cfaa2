package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JudgeOutcomes counts judge calls by judge and outcome (ok, fallback).
	JudgeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_judge_outcomes_total",
			Help: "Judge calls by judge and outcome",
		},
		[]string{"judge", "outcome"},
	)

	// EvaluationDuration measures a full panel evaluation.
	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_evaluation_duration_seconds",
			Help:    "Time to settle every judge for one submission",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// RoundsClosed counts round closures by trigger.
	RoundsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_rounds_closed_total",
			Help: "Rounds closed by reason",
		},
		[]string{"reason"},
	)

	// RecommendationFallbacks counts reports that used the fixed recommendation list.
	RecommendationFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_recommendation_fallbacks_total",
			Help: "Reports built with fallback recommendations",
		},
	)

	once sync.Once
)

// InitPrometheus registers the collectors with the default registry.
func InitPrometheus() {
	once.Do(func() {
		prometheus.MustRegister(JudgeOutcomes, EvaluationDuration, RoundsClosed, RecommendationFallbacks)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
