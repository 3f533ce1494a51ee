package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics holds the question-answering counters. It is registered against
// a caller-supplied registerer; a nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	cacheLookups  *prometheus.CounterVec
	answers       *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	dedupJoins    prometheus.Counter
	archiveRuns   *prometheus.CounterVec
	archiveRows   prometheus.Counter
}

func NewPipelineMetrics(reg prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edusql_cache_lookups_total",
			Help: "Result cache lookups by outcome.",
		}, []string{"result"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edusql_answers_total",
			Help: "Answers returned by type.",
		}, []string{"type"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edusql_stage_failures_total",
			Help: "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edusql_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edusql_fallbacks_total",
			Help: "Silent degradations by kind (fast_path, intent_parse, intent_transport, schema).",
		}, []string{"kind"}),
		dedupJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edusql_inflight_joins_total",
			Help: "Requests that joined an identical in-flight pipeline run.",
		}),
		archiveRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edusql_archive_runs_total",
			Help: "History archive runs by status.",
		}, []string{"status"}),
		archiveRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edusql_archive_rows_total",
			Help: "History rows archived to object storage.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.cacheLookups, m.answers, m.stageFailures, m.stageDuration,
		m.fallbacks, m.dedupJoins, m.archiveRuns, m.archiveRows,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PipelineMetrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) Answer(answerType string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(answerType).Inc()
}

func (m *PipelineMetrics) StageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) Fallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) InflightJoin() {
	if m == nil {
		return
	}
	m.dedupJoins.Inc()
}

func (m *PipelineMetrics) ArchiveRun(status string, rows int) {
	if m == nil {
		return
	}
	m.archiveRuns.WithLabelValues(status).Inc()
	if rows > 0 {
		m.archiveRows.Add(float64(rows))
	}
}
