package services

import "github.com/prometheus/client_golang/prometheus"

// Best-effort failure kinds.
const (
	failEmail       = "email"
	failFiles       = "files"
	failAchievement = "achievement"
	failSearch      = "search"
	failPanic       = "panic"
)

var (
	// moderationDecisions counts committed approve/reject decisions.
	moderationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_moderation_decisions_total",
			Help: "Committed moderation decisions by outcome.",
		},
		[]string{"decision"},
	)

	// achievementsAwarded counts newly inserted user achievements.
	achievementsAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modhub_achievements_awarded_total",
			Help: "Achievements awarded to users.",
		},
	)

	// bestEffortFailures counts side effects that failed without failing the
	// operation that triggered them.
	bestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhub_best_effort_failures_total",
			Help: "Failed best-effort side effects by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(moderationDecisions, achievementsAwarded, bestEffortFailures)
}
