package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screening_gateway_active_sessions",
		Help: "Number of screening sessions currently running",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_gateway_sessions_total",
		Help: "Total number of screening sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screening_gateway_session_duration_seconds",
		Help:    "Duration of screening sessions in seconds",
		Buckets: []float64{10, 30, 60, 90, 120, 180, 300, 600},
	})

	// Ingest metrics
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_gateway_frames_total",
		Help: "Total number of landmark frames processed",
	})

	audioChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_gateway_audio_chunks_total",
		Help: "Total number of audio spectra processed",
	})

	droppedInputs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_gateway_dropped_inputs_total",
		Help: "Inputs discarded because a session queue was full",
	}, []string{"kind"}) // kind: "frame" or "audio"

	// Protocol metrics
	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_gateway_stage_transitions_total",
		Help: "Total number of protocol stage transitions",
	}, []string{"stage"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "screening_gateway_stage_duration_seconds",
		Help:    "Time spent in each protocol stage in seconds",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120},
	}, []string{"stage"})

	abortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screening_gateway_aborts_total",
		Help: "Total number of aborted screening sessions",
	})

	// Assessment metrics
	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_gateway_assessments_total",
		Help: "Total number of completed assessments",
	}, []string{"label"})

	assessmentScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screening_gateway_assessment_overall_score",
		Help:    "Distribution of overall assessment scores",
		Buckets: []float64{0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// Store metrics
	storeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_gateway_store_writes_total",
		Help: "Total number of assessment store writes",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screening_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Metrics tracks metrics for a single screening session
type Metrics struct {
	sessionID  string
	startTime  time.Time
	stage      string
	stageStart time.Time
	mu         sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	sessionsTotal.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	duration := time.Since(m.startTime).Seconds()
	sessionDuration.Observe(duration)
}

// RecordFrame records one processed landmark frame
func (m *Metrics) RecordFrame() {
	framesTotal.Inc()
}

// RecordAudioChunk records one processed audio spectrum
func (m *Metrics) RecordAudioChunk() {
	audioChunksTotal.Inc()
}

// RecordDrop records an input discarded on a full queue
func (m *Metrics) RecordDrop(kind string) {
	droppedInputs.WithLabelValues(kind).Inc()
}

// RecordStageEnter records a transition into the named stage and
// observes how long the previous stage ran.
func (m *Metrics) RecordStageEnter(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != "" && !m.stageStart.IsZero() {
		stageDuration.WithLabelValues(m.stage).Observe(time.Since(m.stageStart).Seconds())
	}
	m.stage = stage
	m.stageStart = time.Now()
	stageTransitions.WithLabelValues(stage).Inc()
}

// RecordAbort records an aborted session
func (m *Metrics) RecordAbort() {
	abortsTotal.Inc()
}

// RecordAssessment records a completed assessment
func (m *Metrics) RecordAssessment(label string, overall float64) {
	assessmentsTotal.WithLabelValues(label).Inc()
	assessmentScore.Observe(overall)
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordStoreWrite records the outcome of an assessment store write
func RecordStoreWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	storeWrites.WithLabelValues(status).Inc()
}
