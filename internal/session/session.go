// Package session runs one screening session end to end. A single
// event-loop goroutine owns the extractors, the cross-validator, the
// risk scorers and the fusion engine; frames, spectra and control
// signals enter through buffered channels, and scheduler fires are
// delivered into the same loop so timer handlers always read live
// pipeline state. Producers never touch pipeline state directly.
package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/holocare/screening-gateway/internal/body"
	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/crossval"
	"github.com/holocare/screening-gateway/internal/face"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
	"github.com/holocare/screening-gateway/internal/observability"
	"github.com/holocare/screening-gateway/internal/risk"
	"github.com/holocare/screening-gateway/internal/voice"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultFrameQueue            = 64
	DefaultAudioQueue            = 32
	DefaultVoiceAggregationEvery = 3
	DefaultStage1Timeout         = 20 * time.Second
	DefaultStage2Duration        = 30 * time.Second
	DefaultStage3Timeout         = 45 * time.Second
	DefaultStage2SampleInterval  = 333 * time.Millisecond
)

// Callbacks deliver pipeline output. All callbacks are invoked from
// the session loop goroutine; they must return promptly and must not
// call back into the session (Barrier included). Nil fields are
// skipped.
type Callbacks struct {
	OnMetrics    func(metric.Sample)
	OnRisk       func(modality string, score float64)
	OnStage      func(fusion.StageResult)
	OnAssessment func(fusion.FinalAssessment)
	OnError      func(error)
}

// Options configures one session.
type Options struct {
	// ID identifies the session; empty gets a fresh UUID.
	ID string

	// Calibration is the numeric pipeline configuration. Nil uses the
	// documented defaults.
	Calibration *config.Calibration

	// Clock schedules stage timeouts and sampling ticks. Nil uses the
	// wall clock; tests and the replayer inject virtual time.
	Clock fusion.Clock

	// Queue capacities for the frame and spectrum channels.
	FrameQueue int
	AudioQueue int

	// VoiceAggregationEvery derives a voice sample every Nth spectrum
	// to keep pitch statistics from jittering at frame rate.
	VoiceAggregationEvery int

	// Stage timing. Stages 1 and 3 are advanced by the collaborator
	// and capped by these timeouts; stage 2 is a fixed window ended by
	// its timer.
	Stage1Timeout        time.Duration
	Stage2Duration       time.Duration
	Stage3Timeout        time.Duration
	Stage2SampleInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.FrameQueue <= 0 {
		o.FrameQueue = DefaultFrameQueue
	}
	if o.AudioQueue <= 0 {
		o.AudioQueue = DefaultAudioQueue
	}
	if o.VoiceAggregationEvery <= 0 {
		o.VoiceAggregationEvery = DefaultVoiceAggregationEvery
	}
	if o.Stage1Timeout <= 0 {
		o.Stage1Timeout = DefaultStage1Timeout
	}
	if o.Stage2Duration <= 0 {
		o.Stage2Duration = DefaultStage2Duration
	}
	if o.Stage3Timeout <= 0 {
		o.Stage3Timeout = DefaultStage3Timeout
	}
	if o.Stage2SampleInterval <= 0 {
		o.Stage2SampleInterval = DefaultStage2SampleInterval
	}
	return o
}

type ctrlKind int

const (
	ctrlStart ctrlKind = iota
	ctrlAdvance
	ctrlAbort
	ctrlStop
	ctrlSpeech
	ctrlTask
	ctrlStageTimeout
	ctrlSampleTick
	ctrlBarrier
)

type ctrlMsg struct {
	kind     ctrlKind
	accuracy float64
	task     fusion.TaskResult
	stage    int
	epoch    int
	ack      chan struct{}
}

// Session is one screening run. Create with New, drive with the
// producer methods, observe through Callbacks.
type Session struct {
	id   string
	opts Options
	cb   Callbacks

	log   zerolog.Logger
	met   *observability.Metrics
	clock fusion.Clock

	frames  chan *landmark.Frame
	spectra chan []byte
	control chan ctrlMsg

	faceEx  *face.Extractor
	voiceEx *voice.Extractor
	bodyEx  *body.Extractor
	checker *crossval.Validator
	scorer  *risk.Set
	engine  *fusion.Engine

	// Live pipeline state, owned by the loop goroutine. Timer handlers
	// read these at fire time; a value captured when the timer was
	// armed could be stale.
	latestFace  *metric.Sample
	latestVoice *metric.Sample
	latestBody  *metric.Sample
	latestCheck *crossval.FrameCheck
	faceRisk    float64
	voiceRisk   float64
	bodyRisk    float64
	speechAcc   float64
	hasSpeech   bool
	task        *fusion.TaskResult
	spectrumN   int

	// epoch invalidates timer events scheduled before an abort.
	epoch       int
	stageTimer  fusion.Timer
	sampleTimer fusion.Timer

	started    bool
	startedAt  time.Time
	assessment *fusion.FinalAssessment

	running atomic.Bool
	done    chan struct{}
}

// New builds a session. The loop does not run until Run is called.
func New(opts Options, cb Callbacks) (*Session, error) {
	opts = opts.withDefaults()

	cal := opts.Calibration
	if cal == nil {
		def := config.DefaultCalibration()
		cal = &def
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("session: calibration: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = observability.NewSessionID()
	}
	clock := opts.Clock
	if clock == nil {
		clock = fusion.NewClock()
	}

	engine, err := fusion.NewEngine(cal.Fusion, clock)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	scorer, err := risk.NewSet(cal.Risk)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Session{
		id:      id,
		opts:    opts,
		cb:      cb,
		log:     observability.WithSession(id),
		met:     observability.NewSessionMetrics(id),
		clock:   clock,
		frames:  make(chan *landmark.Frame, opts.FrameQueue),
		spectra: make(chan []byte, opts.AudioQueue),
		control: make(chan ctrlMsg, 16),
		faceEx:  face.NewExtractor(cal.Face),
		voiceEx: voice.NewExtractor(cal.Voice),
		bodyEx:  body.NewExtractor(cal.Body),
		checker: crossval.NewValidator(cal.CrossVal),
		scorer:  scorer,
		engine:  engine,
		done:    make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Run executes the event loop in the calling goroutine and returns
// after Stop. A second Run is a no-op.
func (s *Session) Run() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.loop()
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins the protocol (idle -> stage 1).
func (s *Session) Start() { s.send(ctrlMsg{kind: ctrlStart}) }

// Advance completes the current stage with the live pipeline state.
func (s *Session) Advance() { s.send(ctrlMsg{kind: ctrlAdvance}) }

// Abort discards the run and returns to idle. Idempotent.
func (s *Session) Abort() { s.send(ctrlMsg{kind: ctrlAbort}) }

// Stop ends the loop. A session stopped before its assessment reports
// the incomplete sentinel through OnError.
func (s *Session) Stop() { s.send(ctrlMsg{kind: ctrlStop}) }

// SetSpeechAccuracy records the externally measured guided-speech
// accuracy (0-1).
func (s *Session) SetSpeechAccuracy(acc float64) {
	s.send(ctrlMsg{kind: ctrlSpeech, accuracy: acc})
}

// SetTaskResult records the guided motor-task outcome.
func (s *Session) SetTaskResult(t fusion.TaskResult) {
	s.send(ctrlMsg{kind: ctrlTask, task: t})
}

// PushFrame queues a landmark frame without blocking. Returns false
// when the frame was dropped (queue full or session finished); drops
// are counted, never fatal.
func (s *Session) PushFrame(f *landmark.Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	default:
		s.met.RecordDrop("frame")
		return false
	}
}

// PushSpectrum queues a frequency-domain audio buffer (one byte per
// bin, 0-255) without blocking. The session takes ownership of the
// slice.
func (s *Session) PushSpectrum(spectrum []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.spectra <- spectrum:
		return true
	default:
		s.met.RecordDrop("audio")
		return false
	}
}

// Barrier blocks until every input queued before the call has been
// processed. The replayer and tests use it to order virtual clock
// advances against queued inputs. Must not be called from callbacks.
func (s *Session) Barrier() {
	ack := make(chan struct{})
	if s.send(ctrlMsg{kind: ctrlBarrier, ack: ack}) {
		select {
		case <-ack:
		case <-s.done:
		}
	}
}

// StartedAt reports when the protocol started. Valid from callbacks or
// after Done.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Assessment returns the final assessment, nil until one completes.
// Valid from callbacks or after Done.
func (s *Session) Assessment() *fusion.FinalAssessment { return s.assessment }

// StageResults returns the completed stage results so far. Valid from
// callbacks or after Done.
func (s *Session) StageResults() (*fusion.Stage1Result, *fusion.Stage2Result, *fusion.Stage3Result) {
	return s.engine.Results()
}

// send queues a control message, giving up when the loop has exited.
func (s *Session) send(m ctrlMsg) bool {
	select {
	case s.control <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) loop() {
	defer func() {
		s.stopTimers()
		if s.started {
			s.met.RecordSessionEnd()
		}
		close(s.done)
	}()

	for {
		// Drain data ahead of control so queued frames are processed
		// before barriers and timer fires, preserving run-to-completion
		// ordering between inputs and scheduled work.
		select {
		case f := <-s.frames:
			s.handleFrame(f)
			continue
		case b := <-s.spectra:
			s.handleSpectrum(b)
			continue
		default:
		}

		select {
		case f := <-s.frames:
			s.handleFrame(f)
		case b := <-s.spectra:
			s.handleSpectrum(b)
		case m := <-s.control:
			if s.handleControl(m) {
				return
			}
		}
	}
}

// handleFrame runs the full per-frame pipeline: cross-validation,
// face and body extraction, risk scoring, callbacks.
func (s *Session) handleFrame(f *landmark.Frame) {
	now := s.clock.Now()
	s.met.RecordFrame()

	check := s.checker.Observe(f)
	s.latestCheck = &check

	faceSample := s.faceEx.Extract(f, now)
	s.latestFace = &faceSample
	s.faceRisk = s.scorer.Score(faceSample)

	bodySample := s.bodyEx.Extract(f, now)
	s.latestBody = &bodySample
	s.bodyRisk = s.scorer.Score(bodySample)

	s.emitMetrics(faceSample)
	s.emitMetrics(bodySample)
	s.emitRisk(metric.ModalityFace, s.faceRisk)
	s.emitRisk(metric.ModalityBody, s.bodyRisk)
}

// handleSpectrum ingests one spectrum and derives a voice sample every
// Nth chunk.
func (s *Session) handleSpectrum(spectrum []byte) {
	s.met.RecordAudioChunk()
	if !s.voiceEx.Ingest(spectrum) {
		return
	}
	s.spectrumN++
	if s.spectrumN%s.opts.VoiceAggregationEvery != 0 {
		return
	}

	sample := s.voiceEx.Sample(s.clock.Now())
	s.latestVoice = &sample
	s.voiceRisk = s.scorer.Score(sample)

	s.emitMetrics(sample)
	s.emitRisk(metric.ModalityVoice, s.voiceRisk)
}

func (s *Session) handleControl(m ctrlMsg) (quit bool) {
	switch m.kind {
	case ctrlStart:
		s.handleStart()

	case ctrlAdvance:
		stage := s.engine.Stage()
		if stage == 0 {
			s.log.Debug().Str("state", string(s.engine.State())).
				Msg("advance ignored outside a running stage")
			return false
		}
		s.completeStage(stage)

	case ctrlStageTimeout:
		// Stale fires carry an old epoch or a stage the protocol has
		// already left.
		if m.epoch != s.epoch || s.engine.Stage() != m.stage {
			return false
		}
		s.log.Info().Int("stage", m.stage).Msg("stage timed out, completing with current state")
		s.completeStage(m.stage)

	case ctrlSampleTick:
		if m.epoch != s.epoch {
			return false
		}
		s.handleSampleTick()

	case ctrlSpeech:
		s.speechAcc = m.accuracy
		s.hasSpeech = true

	case ctrlTask:
		t := m.task
		s.task = &t

	case ctrlAbort:
		s.abort()

	case ctrlStop:
		s.handleStop()
		return true

	case ctrlBarrier:
		close(m.ack)
	}
	return false
}

func (s *Session) handleStart() {
	if err := s.engine.Start(); err != nil {
		s.emitError(err)
		return
	}
	s.started = true
	s.startedAt = s.clock.Now()
	s.met.RecordSessionStart()
	s.met.RecordStageEnter("stage1")
	s.log.Info().Msg("screening session started")
	s.armStageTimer(1, s.opts.Stage1Timeout)
}

// completeStage finishes the given stage with the live state and arms
// the next stage's timers.
func (s *Session) completeStage(stage int) {
	s.stopTimers()

	switch stage {
	case 1:
		res, err := s.engine.CompleteStage1(fusion.Stage1Inputs{
			Face:           s.latestFace,
			Voice:          s.latestVoice,
			FaceRisk:       s.faceRisk,
			VoiceRisk:      s.voiceRisk,
			CrossCheck:     s.latestCheck,
			SpeechAccuracy: s.speechAccuracy(),
		})
		if err != nil {
			s.emitError(err)
			return
		}
		s.log.Info().
			Float64("clarity", res.SpeechClarity).
			Float64("stability", res.FacialStability).
			Float64("confidence", res.Confidence).
			Msg("stage 1 complete")
		s.emitStage(fusion.StageResult{Stage: 1, Stage1: res})
		s.met.RecordStageEnter("stage2")
		s.armStageTimer(2, s.opts.Stage2Duration)
		s.armSampleTimer()

	case 2:
		tf := s.checker.TemporalFeatures()
		res, err := s.engine.CompleteStage2(&tf)
		if err != nil {
			s.emitError(err)
			return
		}
		s.log.Info().
			Float64("speech_temporal", res.SpeechTemporal).
			Float64("facial_temporal", res.FacialTemporal).
			Str("fatigue", string(res.FatigueLevel)).
			Msg("stage 2 complete")
		s.emitStage(fusion.StageResult{Stage: 2, Stage2: res})
		s.met.RecordStageEnter("stage3")
		s.armStageTimer(3, s.opts.Stage3Timeout)

	case 3:
		tf := s.checker.TemporalFeatures()
		res, err := s.engine.CompleteStage3(fusion.Stage3Inputs{
			Body:  s.latestBody,
			Task:  s.task,
			Cross: &tf,
		})
		if err != nil {
			s.emitError(err)
			return
		}
		s.log.Info().
			Float64("steadiness", res.HandSteadiness).
			Str("motor_control", string(res.MotorControlLevel)).
			Msg("stage 3 complete")
		s.emitStage(fusion.StageResult{Stage: 3, Stage3: res})
		s.met.RecordStageEnter("computing")
		s.finalize()
	}
}

func (s *Session) finalize() {
	tf := s.checker.TemporalFeatures()
	a, err := s.engine.Finalize(&tf)
	if err != nil {
		s.emitError(err)
		return
	}
	s.assessment = a
	s.met.RecordStageEnter("complete")
	s.met.RecordAssessment(string(a.PerformanceLabel), a.OverallScore)
	s.log.Info().
		Float64("overall", a.OverallScore).
		Str("label", string(a.PerformanceLabel)).
		Float64("confidence", a.Confidence).
		Msg("assessment complete")
	s.emitAssessment(*a)
}

// speechAccuracy returns the collaborator-supplied accuracy, or the
// neutral 0.5 when no speech event arrived before stage 1 ended.
func (s *Session) speechAccuracy() float64 {
	if s.hasSpeech {
		return s.speechAcc
	}
	return 0.5
}

// handleSampleTick appends the live face and voice samples to the
// stage-2 temporal buffers and re-arms the tick.
func (s *Session) handleSampleTick() {
	if s.engine.State() != fusion.StateStage2 {
		return
	}
	if s.latestFace != nil {
		s.engine.Append(*s.latestFace)
	}
	if s.latestVoice != nil {
		s.engine.Append(*s.latestVoice)
	}
	s.armSampleTimer()
}

// abort resets every piece of pipeline state and invalidates pending
// timer fires. Safe to call in any state, repeatedly.
func (s *Session) abort() {
	// An abort after the assessment was delivered is just a reset, not
	// an abandoned run.
	wasRunning := s.engine.State() != fusion.StateIdle && s.assessment == nil

	s.stopTimers()
	s.epoch++
	s.engine.Abort()
	s.faceEx.Reset()
	s.voiceEx.Reset()
	s.bodyEx.Reset()
	s.checker.Reset()

	s.latestFace = nil
	s.latestVoice = nil
	s.latestBody = nil
	s.latestCheck = nil
	s.faceRisk = 0
	s.voiceRisk = 0
	s.bodyRisk = 0
	s.speechAcc = 0
	s.hasSpeech = false
	s.task = nil
	s.spectrumN = 0
	s.assessment = nil

	if wasRunning {
		s.met.RecordAbort()
		s.log.Info().Msg("session aborted")
	}
}

func (s *Session) handleStop() {
	if s.assessment == nil && s.engine.State() != fusion.StateIdle {
		s.emitError(fmt.Errorf("session stopped early: %w", fusion.ErrIncomplete))
	}
	s.stopTimers()
	s.log.Info().Msg("session stopped")
}

func (s *Session) armStageTimer(stage int, d time.Duration) {
	if s.stageTimer != nil {
		s.stageTimer.Stop()
	}
	epoch := s.epoch
	s.stageTimer = s.clock.AfterFunc(d, func() {
		s.send(ctrlMsg{kind: ctrlStageTimeout, stage: stage, epoch: epoch})
	})
}

func (s *Session) armSampleTimer() {
	if s.sampleTimer != nil {
		s.sampleTimer.Stop()
	}
	epoch := s.epoch
	s.sampleTimer = s.clock.AfterFunc(s.opts.Stage2SampleInterval, func() {
		s.send(ctrlMsg{kind: ctrlSampleTick, epoch: epoch})
	})
}

func (s *Session) stopTimers() {
	if s.stageTimer != nil {
		s.stageTimer.Stop()
		s.stageTimer = nil
	}
	if s.sampleTimer != nil {
		s.sampleTimer.Stop()
		s.sampleTimer = nil
	}
}

func (s *Session) emitMetrics(sample metric.Sample) {
	if s.cb.OnMetrics != nil {
		s.cb.OnMetrics(sample.Clone())
	}
}

func (s *Session) emitRisk(modality string, score float64) {
	if s.cb.OnRisk != nil {
		s.cb.OnRisk(modality, score)
	}
}

func (s *Session) emitStage(r fusion.StageResult) {
	if s.cb.OnStage != nil {
		s.cb.OnStage(r)
	}
}

func (s *Session) emitAssessment(a fusion.FinalAssessment) {
	if s.cb.OnAssessment != nil {
		s.cb.OnAssessment(a)
	}
}

func (s *Session) emitError(err error) {
	s.met.RecordError("protocol", "session")
	s.log.Warn().Err(err).Msg("session error")
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
