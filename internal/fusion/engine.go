// Package fusion drives the three-stage screening protocol and folds
// the stage outcomes into one confidence-weighted assessment. The
// engine is a plain state machine over bounded buffers; it performs no
// I/O and expects to be called from a single goroutine (the session
// loop).
package fusion

import (
	"errors"
	"fmt"

	"github.com/holocare/screening-gateway/internal/crossval"
	"github.com/holocare/screening-gateway/internal/metric"
)

// State names a position in the screening protocol.
type State string

const (
	StateIdle      State = "idle"
	StateStage1    State = "stage1"
	StateStage2    State = "stage2"
	StateStage3    State = "stage3"
	StateComputing State = "computing"
	StateComplete  State = "complete"
)

var (
	// ErrIncomplete is returned when a final assessment is requested
	// before all three stage results exist. It is a sentinel, never a
	// partial report.
	ErrIncomplete = errors.New("assessment incomplete: missing stage results")

	// ErrState is wrapped by operations invoked in the wrong protocol
	// state.
	ErrState = errors.New("invalid protocol state")
)

// Engine owns the protocol state, the stage-2 temporal buffers and the
// completed stage results for one session.
type Engine struct {
	cfg   Config
	clock Clock

	state  State
	stage1 *Stage1Result
	stage2 *Stage2Result
	stage3 *Stage3Result

	faceBuf  *metric.Buffer
	voiceBuf *metric.Buffer

	// Captured at stage completion for the final confidence blend.
	bufferRatio    float64
	taskCompletion float64
}

// NewEngine creates an idle engine. A nil clock gets the wall clock.
func NewEngine(cfg Config, clock Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fusion config: %w", err)
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		state:    StateIdle,
		faceBuf:  metric.NewBuffer(cfg.BufferCapacity),
		voiceBuf: metric.NewBuffer(cfg.BufferCapacity),
	}, nil
}

// State returns the current protocol state.
func (e *Engine) State() State { return e.state }

// Stage, for a running protocol, is 1..3; 0 otherwise.
func (e *Engine) Stage() int {
	switch e.state {
	case StateStage1:
		return 1
	case StateStage2:
		return 2
	case StateStage3:
		return 3
	default:
		return 0
	}
}

// Start moves idle → stage1.
func (e *Engine) Start() error {
	if e.state != StateIdle {
		return fmt.Errorf("%w: start in %q", ErrState, e.state)
	}
	e.state = StateStage1
	return nil
}

// Abort discards all protocol state and returns to idle. Safe to call
// in any state, repeatedly.
func (e *Engine) Abort() {
	e.state = StateIdle
	e.stage1 = nil
	e.stage2 = nil
	e.stage3 = nil
	e.faceBuf.Reset()
	e.voiceBuf.Reset()
	e.bufferRatio = 0
	e.taskCompletion = 0
}

// Append feeds a face or voice sample into the stage-2 temporal
// buffers. Samples outside stage 2 are ignored; the window is the
// stage, not the session.
func (e *Engine) Append(s metric.Sample) {
	if e.state != StateStage2 {
		return
	}
	switch s.Modality {
	case metric.ModalityFace:
		e.faceBuf.Push(s)
	case metric.ModalityVoice:
		e.voiceBuf.Push(s)
	}
}

// CompleteStage1 computes the guided-speech snapshot and advances to
// stage 2.
func (e *Engine) CompleteStage1(in Stage1Inputs) (*Stage1Result, error) {
	if e.state != StateStage1 {
		return nil, fmt.Errorf("%w: stage 1 completion in %q", ErrState, e.state)
	}

	face := sampleOrZero(in.Face)
	voice := sampleOrZero(in.Voice)

	clarity := metric.Clamp01(
		0.3*voice.Get(metric.PitchVariation)/100 +
			0.3*voice.Get(metric.SpeechRate)/100 +
			0.2*(1-voice.Get(metric.PauseDuration)/100) +
			0.2*(1-voice.Get(metric.Monotonicity)/100))

	tremor := face.Get(metric.FacialTremor) / 100
	stability := metric.Clamp01(1 - (0.35*tremor +
		0.25*face.Get(metric.FacialAsymmetry)/100 +
		0.2*face.Get(metric.GazeOscillation)/100 +
		0.2*face.Get(metric.HeadAbnormal)/100))

	confidence := 0.6
	if in.CrossCheck != nil {
		confidence += 0.4 * metric.Clamp01(in.CrossCheck.Confidence)
	}
	if in.Face != nil && in.Voice != nil {
		confidence += 0.1
	}

	e.stage1 = &Stage1Result{
		SpeechClarity:    clarity,
		SpeechAccuracy:   metric.Clamp01(in.SpeechAccuracy),
		FacialStability:  stability,
		MicroTremorLevel: e.cfg.tremorLevel(tremor),
		Confidence:       metric.Clamp01(confidence),
		FaceRisk:         metric.Clamp100(in.FaceRisk),
		VoiceRisk:        metric.Clamp100(in.VoiceRisk),
		CompletedAt:      e.clock.Now(),
	}
	e.state = StateStage2
	return e.stage1, nil
}

// CompleteStage2 runs the half-split drift analysis over the temporal
// buffers and advances to stage 3. The optional cross-validation
// summary blends into the facial figure.
func (e *Engine) CompleteStage2(summary *crossval.TemporalFeatures) (*Stage2Result, error) {
	if e.state != StateStage2 {
		return nil, fmt.Errorf("%w: stage 2 completion in %q", ErrState, e.state)
	}

	e.bufferRatio = (e.faceBuf.FillRatio() + e.voiceBuf.FillRatio()) / 2

	speechTemporal := 0.5
	fatigueSum := 0.0
	if e.voiceBuf.Len() >= e.cfg.MinDepth {
		rateDrift := absDrift(e.voiceBuf.Series(metric.SpeechRate))
		pauseInc := increase(e.voiceBuf.Series(metric.PauseDuration))
		prosodyDecay := decrease(e.voiceBuf.Series(metric.PitchVariation))
		monoInc := increase(e.voiceBuf.Series(metric.Monotonicity))

		speechTemporal = metric.Clamp01(1 - 0.25*(rateDrift+pauseInc+prosodyDecay+monoInc))
		fatigueSum = rateDrift + pauseInc + prosodyDecay
	}

	facialTemporal := 0.5
	attention := 0.5
	if e.faceBuf.Len() >= e.cfg.MinDepth {
		blinkDrift := absDrift(e.faceBuf.Series(metric.BlinkRate))
		exprDecay := decrease(e.faceBuf.Series(metric.Expressivity))
		tremorInc := increase(e.faceBuf.Series(metric.FacialTremor))
		gazeDrift := absDrift(e.faceBuf.Series(metric.GazeOscillation))

		facialTemporal = metric.Clamp01(1 - 0.25*(blinkDrift+exprDecay+tremorInc+gazeDrift))

		avgGaze := metric.Mean(e.faceBuf.Series(metric.GazeDeviation)) / 100
		abnormalRate := metric.Fraction(e.faceBuf.Series(metric.HeadAbnormal), func(v float64) bool {
			return v >= 50
		})
		attention = metric.Clamp01(1 - 0.6*avgGaze - 0.4*abnormalRate)
	}
	if summary != nil && summary.OK {
		facialTemporal = metric.Clamp01(0.8*facialTemporal + 0.2*summary.AvgMotionConsistency)
	}

	e.stage2 = &Stage2Result{
		SpeechTemporal:     speechTemporal,
		FacialTemporal:     facialTemporal,
		AttentionStability: attention,
		FatigueLevel:       e.cfg.fatigueLevel(fatigueSum),
		CompletedAt:        e.clock.Now(),
	}
	e.state = StateStage3
	return e.stage2, nil
}

// CompleteStage3 computes the motor figures and advances to computing;
// the protocol then only waits for Finalize.
func (e *Engine) CompleteStage3(in Stage3Inputs) (*Stage3Result, error) {
	if e.state != StateStage3 {
		return nil, fmt.Errorf("%w: stage 3 completion in %q", ErrState, e.state)
	}

	body := sampleOrZero(in.Body)

	steadiness := metric.Clamp01(1 - body.Get(metric.HandTremor)/100)
	e.taskCompletion = 0.5
	if in.Task != nil && in.Task.Completed {
		steadiness = metric.Clamp01(0.5*steadiness + 0.5*(1-metric.Clamp01(in.Task.Tremor)))
		e.taskCompletion = 1
	}

	gesture := 0.5
	if in.Task != nil {
		if len(in.Task.GestureAccuracies) > 0 {
			gesture = metric.Clamp01(metric.Mean(in.Task.GestureAccuracies))
		} else if in.Task.Coordination > 0 {
			gesture = metric.Clamp01(in.Task.Coordination)
		}
	}

	posture := metric.Clamp01(0.5*body.Get(metric.PostureScore)/100 +
		0.25*(1-body.Get(metric.BodySway)/100) +
		0.25*(1-body.Get(metric.ShoulderTilt)/100))
	if in.Cross != nil && in.Cross.OK && in.Cross.AvgConfidence > 0.3 {
		posture = metric.Clamp01(0.7*posture + 0.3*in.Cross.AvgPosture)
	}

	avg := (steadiness + gesture + posture) / 3
	e.stage3 = &Stage3Result{
		HandSteadiness:    steadiness,
		GestureAccuracy:   gesture,
		PostureStability:  posture,
		MotorControlLevel: e.cfg.motorLevel(avg),
		CompletedAt:       e.clock.Now(),
	}
	e.state = StateComputing
	return e.stage3, nil
}

// Results returns the stage results recorded so far; entries are nil
// until their stage completes.
func (e *Engine) Results() (*Stage1Result, *Stage2Result, *Stage3Result) {
	return e.stage1, e.stage2, e.stage3
}

func sampleOrZero(s *metric.Sample) metric.Sample {
	if s == nil {
		return metric.Sample{}
	}
	return *s
}

// absDrift is |second-half avg − first-half avg| on a 0-100 series,
// normalized to 0-1.
func absDrift(series []float64) float64 {
	first, second := metric.HalfSplit(series, 0)
	if second > first {
		return (second - first) / 100
	}
	return (first - second) / 100
}

// increase is the positive-only drift: max(0, second − first), 0-1.
func increase(series []float64) float64 {
	first, second := metric.HalfSplit(series, 0)
	if second <= first {
		return 0
	}
	return (second - first) / 100
}

// decrease is the positive-only decay: max(0, first − second), 0-1.
func decrease(series []float64) float64 {
	first, second := metric.HalfSplit(series, 0)
	if first <= second {
		return 0
	}
	return (first - second) / 100
}
