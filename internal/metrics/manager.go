// Package metrics exposes Prometheus instruments for the workout lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Completion failure stages.
const (
	StageRecords        = "records"
	StagePersonalRecord = "personal_record"
	StageWorkoutLog     = "workout_log"
	StageAwardXP        = "award_xp"
)

type Manager struct {
	// counters
	WorkoutsStarted      prometheus.Counter
	WorkoutsCompleted    prometheus.Counter
	WorkoutsDiscarded    prometheus.Counter
	PersonalRecords      prometheus.Counter
	XPAwarded            prometheus.Counter
	LevelUps             prometheus.Counter
	CompletionFailures   *prometheus.CounterVec
	HistoryFillFailures  prometheus.Counter
	LocalPersistFailures prometheus.Counter
	ImportedWorkouts     prometheus.Counter

	// histograms
	HistCompletionDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates a Manager on its own registry, including Go runtime and
// process collectors.
func New(namespace string) *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewManager(namespace, "session", reg)
	m.gatherer = reg
	return m
}

// NewUnregistered returns a Manager on a private registry nobody scrapes
// unless its Handler is mounted.
func NewUnregistered() *Manager {
	reg := prometheus.NewRegistry()
	m := NewManager("liftoff", "session", reg)
	m.gatherer = reg
	return m
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Manager{
		WorkoutsStarted:      counter("workouts_started_total", "Workout sessions started"),
		WorkoutsCompleted:    counter("workouts_completed_total", "Workout sessions completed"),
		WorkoutsDiscarded:    counter("workouts_discarded_total", "Workout sessions discarded"),
		PersonalRecords:      counter("personal_records_total", "Personal records written"),
		XPAwarded:            counter("xp_awarded_total", "Experience points awarded"),
		LevelUps:             counter("level_ups_total", "Level-up transitions"),
		HistoryFillFailures:  counter("history_fill_failures_total", "Failed previous-performance lookups"),
		LocalPersistFailures: counter("local_persist_failures_total", "Failed writes to local draft storage"),
		ImportedWorkouts:     counter("imported_workouts_total", "Workout logs written by history imports"),
		CompletionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "completion_failures_total",
			Help:      "Failed completions by the step that failed",
		}, []string{"stage"}),
		HistCompletionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "completion_duration_seconds",
			Help:      "Time spent on the remote writes of a completion",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
