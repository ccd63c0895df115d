package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dan9191/sacco-service/internal/apperr"
)

var (
	postingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sacco_postings_total",
			Help: "Journal postings by transaction type and outcome",
		},
		[]string{"type", "outcome"},
	)

	loanTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sacco_loan_transitions_total",
			Help: "Loan state transitions",
		},
		[]string{"from", "to"},
	)

	creditsEarnedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sacco_credits_earned_total",
			Help: "Credits actually credited by category",
		},
		[]string{"category"},
	)

	eligibilityDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sacco_eligibility_duration_seconds",
			Help:    "Duration of revenue aggregation and eligibility scoring",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
	)
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
