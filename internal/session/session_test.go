package session

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// newTestFace builds a 478-point mesh with symmetric corners and the
// left eye open, enough geometry for every face-side extractor.
func newTestFace() []landmark.Keypoint {
	pts := make([]landmark.Keypoint, landmark.FaceIrisPoints)
	for i := range pts {
		pts[i] = landmark.Keypoint{X: 0.5, Y: 0.5}
	}
	pts[landmark.FaceLeftEyeOuter] = landmark.Keypoint{X: 0.35, Y: 0.4}
	pts[landmark.FaceRightEyeOuter] = landmark.Keypoint{X: 0.65, Y: 0.4}
	pts[landmark.FaceMouthLeft] = landmark.Keypoint{X: 0.42, Y: 0.62}
	pts[landmark.FaceMouthRight] = landmark.Keypoint{X: 0.58, Y: 0.62}

	ring := landmark.LeftEyeRing
	pts[ring[0]] = landmark.Keypoint{X: 0.35, Y: 0.4}
	pts[ring[3]] = landmark.Keypoint{X: 0.43, Y: 0.4}
	pts[ring[1]] = landmark.Keypoint{X: 0.38, Y: 0.388}
	pts[ring[5]] = landmark.Keypoint{X: 0.38, Y: 0.412}
	return pts
}

// newTestPose builds an upright 33-point skeleton.
func newTestPose() []landmark.Keypoint {
	pts := make([]landmark.Keypoint, landmark.PosePoints)
	for i := range pts {
		pts[i] = landmark.Keypoint{X: 0.5, Y: 0.5}
	}
	pts[landmark.PoseNose] = landmark.Keypoint{X: 0.5, Y: 0.2}
	pts[landmark.PoseLeftShoulder] = landmark.Keypoint{X: 0.4, Y: 0.35}
	pts[landmark.PoseRightShoulder] = landmark.Keypoint{X: 0.6, Y: 0.35}
	pts[landmark.PoseLeftWrist] = landmark.Keypoint{X: 0.35, Y: 0.55}
	pts[landmark.PoseRightWrist] = landmark.Keypoint{X: 0.65, Y: 0.55}
	pts[landmark.PoseLeftHip] = landmark.Keypoint{X: 0.46, Y: 0.65}
	pts[landmark.PoseRightHip] = landmark.Keypoint{X: 0.54, Y: 0.65}
	return pts
}

func testFrame() *landmark.Frame {
	return &landmark.Frame{Face: newTestFace(), Pose: newTestPose()}
}

// testSpectrum is a flat spectrum with one dominant bin around 150 Hz.
func testSpectrum() []byte {
	spectrum := make([]byte, 64)
	for i := range spectrum {
		spectrum[i] = 10
	}
	spectrum[7] = 200
	return spectrum
}

// recorder collects callback output on buffered channels so tests can
// assert ordering without blocking the loop goroutine.
type recorder struct {
	stages      chan fusion.StageResult
	assessments chan fusion.FinalAssessment
	errs        chan error
	metrics     atomic.Int64
	risks       atomic.Int64
}

func newRecorder() *recorder {
	return &recorder{
		stages:      make(chan fusion.StageResult, 8),
		assessments: make(chan fusion.FinalAssessment, 4),
		errs:        make(chan error, 8),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnMetrics:    func(metric.Sample) { r.metrics.Add(1) },
		OnRisk:       func(string, float64) { r.risks.Add(1) },
		OnStage:      func(sr fusion.StageResult) { r.stages <- sr },
		OnAssessment: func(a fusion.FinalAssessment) { r.assessments <- a },
		OnError:      func(err error) { r.errs <- err },
	}
}

var testEpoch = time.Unix(1_700_000_000, 0)

// startTestSession builds a session on a manual clock and runs its
// loop, stopping it when the test finishes.
func startTestSession(t *testing.T, opts Options, rec *recorder) (*Session, *fusion.ManualClock) {
	t.Helper()
	clk := fusion.NewManualClock(testEpoch)
	opts.Clock = clk
	if opts.ID == "" {
		opts.ID = "test-session"
	}
	sess, err := New(opts, rec.callbacks())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go sess.Run()
	t.Cleanup(func() {
		sess.Stop()
		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
			t.Error("session loop did not exit")
		}
	})
	return sess, clk
}

func waitStage(t *testing.T, ch <-chan fusion.StageResult) fusion.StageResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a stage result")
		return fusion.StageResult{}
	}
}

func waitAssessment(t *testing.T, ch <-chan fusion.FinalAssessment) fusion.FinalAssessment {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an assessment")
		return fusion.FinalAssessment{}
	}
}

func waitError(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an error")
		return nil
	}
}

// stepClock advances virtual time in fixed steps with a barrier after
// each one, so ticks re-armed by the loop are registered before the
// clock passes their deadline.
func stepClock(t *testing.T, sess *Session, clk *fusion.ManualClock, step, total time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		clk.Advance(step)
		sess.Barrier()
	}
}

func TestSession_EndToEndProducesOneAssessment(t *testing.T) {
	rec := newRecorder()
	sess, clk := startTestSession(t, Options{
		Stage2Duration:       2 * time.Second,
		Stage2SampleInterval: 200 * time.Millisecond,
	}, rec)

	sess.Start()
	if !sess.PushFrame(testFrame()) {
		t.Fatal("frame rejected")
	}
	for i := 0; i < 9; i++ {
		if !sess.PushSpectrum(testSpectrum()) {
			t.Fatal("spectrum rejected")
		}
	}
	sess.SetSpeechAccuracy(0.9)
	sess.Barrier()

	// One frame yields a face and a body sample; nine spectra at the
	// default aggregation of three yield three voice samples.
	if got := rec.metrics.Load(); got != 5 {
		t.Errorf("metric callbacks = %d, want 5", got)
	}
	if got := rec.risks.Load(); got != 5 {
		t.Errorf("risk callbacks = %d, want 5", got)
	}

	sess.Advance()
	r1 := waitStage(t, rec.stages)
	if r1.Stage != 1 || r1.Stage1 == nil {
		t.Fatalf("first stage event = %+v, want stage 1", r1)
	}
	if r1.Stage1.SpeechAccuracy != 0.9 {
		t.Errorf("SpeechAccuracy = %v, want supplied 0.9", r1.Stage1.SpeechAccuracy)
	}
	// 0.6 base, +0.4*0.5 for the face+pose cross check, +0.1 for both
	// modalities present.
	if math.Abs(r1.Stage1.Confidence-0.9) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.9", r1.Stage1.Confidence)
	}

	// The 2 s window samples at 200 ms: nine ticks land before the
	// window timer ends the stage at 2 s.
	stepClock(t, sess, clk, 200*time.Millisecond, 2*time.Second)
	r2 := waitStage(t, rec.stages)
	if r2.Stage != 2 || r2.Stage2 == nil {
		t.Fatalf("second stage event = %+v, want stage 2", r2)
	}
	// The buffers hold nine copies of the same live samples, so every
	// drift term is zero.
	if r2.Stage2.SpeechTemporal < 0.99 {
		t.Errorf("SpeechTemporal = %v, want near 1 for a constant series", r2.Stage2.SpeechTemporal)
	}
	if r2.Stage2.FatigueLevel != fusion.LevelLow {
		t.Errorf("FatigueLevel = %q, want low", r2.Stage2.FatigueLevel)
	}

	sess.SetTaskResult(fusion.TaskResult{
		Tremor:            0.2,
		GestureAccuracies: []float64{0.8, 0.9},
		Completed:         true,
	})
	sess.Advance()
	r3 := waitStage(t, rec.stages)
	if r3.Stage != 3 || r3.Stage3 == nil {
		t.Fatalf("third stage event = %+v, want stage 3", r3)
	}
	// Live tremor is zero and the task reports 0.2, blended 50/50.
	if math.Abs(r3.Stage3.HandSteadiness-0.9) > 1e-9 {
		t.Errorf("HandSteadiness = %v, want 0.9", r3.Stage3.HandSteadiness)
	}
	if math.Abs(r3.Stage3.GestureAccuracy-0.85) > 1e-9 {
		t.Errorf("GestureAccuracy = %v, want 0.85", r3.Stage3.GestureAccuracy)
	}

	a := waitAssessment(t, rec.assessments)
	if a.OverallScore <= 0 || a.OverallScore > 1 {
		t.Errorf("OverallScore = %v, want in (0,1]", a.OverallScore)
	}
	if a.PerformanceLabel == "" {
		t.Error("PerformanceLabel empty")
	}
	if a.Summary == "" {
		t.Error("Summary empty")
	}

	sess.Stop()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	if sess.Assessment() == nil {
		t.Error("Assessment() = nil after Done")
	}
	if got := sess.StartedAt(); !got.Equal(testEpoch) {
		t.Errorf("StartedAt = %v, want %v", got, testEpoch)
	}
	s1, s2, s3 := sess.StageResults()
	if s1 == nil || s2 == nil || s3 == nil {
		t.Errorf("StageResults = (%v,%v,%v), want all set", s1, s2, s3)
	}

	select {
	case extra := <-rec.assessments:
		t.Errorf("unexpected second assessment: %+v", extra)
	default:
	}
	select {
	case err := <-rec.errs:
		t.Errorf("unexpected error: %v", err)
	default:
	}
}

func TestSession_StageTimeoutsAdvanceProtocol(t *testing.T) {
	rec := newRecorder()
	sess, clk := startTestSession(t, Options{
		Stage1Timeout:        time.Second,
		Stage2Duration:       time.Second,
		Stage3Timeout:        time.Second,
		Stage2SampleInterval: 250 * time.Millisecond,
	}, rec)

	sess.Start()
	sess.PushFrame(testFrame())
	sess.Barrier()

	// No advance arrives; the stage-1 timer completes the stage with
	// the neutral speech accuracy.
	clk.Advance(time.Second)
	sess.Barrier()
	r1 := waitStage(t, rec.stages)
	if r1.Stage != 1 {
		t.Fatalf("stage = %d, want 1", r1.Stage)
	}
	if r1.Stage1.SpeechAccuracy != 0.5 {
		t.Errorf("SpeechAccuracy = %v, want neutral 0.5 with no speech event", r1.Stage1.SpeechAccuracy)
	}

	// Only three ticks fit the 1 s window, below the minimum depth, so
	// the temporal figures go neutral.
	stepClock(t, sess, clk, 250*time.Millisecond, time.Second)
	r2 := waitStage(t, rec.stages)
	if r2.Stage != 2 {
		t.Fatalf("stage = %d, want 2", r2.Stage)
	}
	if math.Abs(r2.Stage2.SpeechTemporal-0.5) > 1e-9 {
		t.Errorf("SpeechTemporal = %v, want neutral 0.5 below minimum depth", r2.Stage2.SpeechTemporal)
	}

	clk.Advance(time.Second)
	sess.Barrier()
	r3 := waitStage(t, rec.stages)
	if r3.Stage != 3 {
		t.Fatalf("stage = %d, want 3", r3.Stage)
	}
	// No task event: gesture stays neutral, steadiness is live-only.
	if math.Abs(r3.Stage3.GestureAccuracy-0.5) > 1e-9 {
		t.Errorf("GestureAccuracy = %v, want neutral 0.5 without a task", r3.Stage3.GestureAccuracy)
	}

	a := waitAssessment(t, rec.assessments)
	if a.OverallScore <= 0 || a.OverallScore > 1 {
		t.Errorf("OverallScore = %v, want in (0,1]", a.OverallScore)
	}
}

func TestSession_AbortResetsForFreshStart(t *testing.T) {
	rec := newRecorder()
	sess, clk := startTestSession(t, Options{
		Stage2Duration:       2 * time.Second,
		Stage2SampleInterval: 500 * time.Millisecond,
	}, rec)

	sess.Start()
	sess.PushFrame(testFrame())
	for i := 0; i < 3; i++ {
		sess.PushSpectrum(testSpectrum())
	}
	sess.SetSpeechAccuracy(0.8)
	sess.Barrier()
	sess.Advance()
	waitStage(t, rec.stages) // stage 1 done, stage 2 running

	stepClock(t, sess, clk, 500*time.Millisecond, time.Second)

	sess.Abort()
	sess.Barrier()

	s1, s2, s3 := sess.StageResults()
	if s1 != nil || s2 != nil || s3 != nil {
		t.Errorf("StageResults after abort = (%v,%v,%v), want all nil", s1, s2, s3)
	}
	if sess.Assessment() != nil {
		t.Error("Assessment non-nil after abort")
	}

	// Timers armed before the abort must not fire into the next run.
	clk.Advance(time.Minute)
	sess.Barrier()
	select {
	case r := <-rec.stages:
		t.Fatalf("stage event from an aborted run: %+v", r)
	default:
	}

	// A fresh start sees none of the aborted run's state.
	sess.Start()
	sess.PushFrame(testFrame())
	sess.Barrier()
	sess.Advance()
	r1 := waitStage(t, rec.stages)
	if r1.Stage != 1 {
		t.Fatalf("stage = %d, want 1", r1.Stage)
	}
	if r1.Stage1.SpeechAccuracy != 0.5 {
		t.Errorf("SpeechAccuracy = %v, want neutral 0.5 after abort cleared the event", r1.Stage1.SpeechAccuracy)
	}

	select {
	case err := <-rec.errs:
		t.Errorf("unexpected error: %v", err)
	default:
	}
}

func TestSession_StopBeforeCompleteReportsIncomplete(t *testing.T) {
	rec := newRecorder()
	sess, _ := startTestSession(t, Options{}, rec)

	sess.Start()
	sess.Barrier()
	sess.Stop()

	err := waitError(t, rec.errs)
	if !errors.Is(err, fusion.ErrIncomplete) {
		t.Errorf("stop-early error = %v, want ErrIncomplete", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	select {
	case a := <-rec.assessments:
		t.Errorf("unexpected assessment: %+v", a)
	default:
	}
}

func TestSession_StopWhenIdleIsQuiet(t *testing.T) {
	rec := newRecorder()
	sess, _ := startTestSession(t, Options{}, rec)

	sess.Stop()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	select {
	case err := <-rec.errs:
		t.Errorf("unexpected error on idle stop: %v", err)
	default:
	}
}

func TestSession_AdvanceIgnoredWhenIdle(t *testing.T) {
	rec := newRecorder()
	sess, _ := startTestSession(t, Options{}, rec)

	sess.Advance()
	sess.Barrier()

	select {
	case r := <-rec.stages:
		t.Fatalf("stage event from an idle advance: %+v", r)
	case err := <-rec.errs:
		t.Fatalf("error from an idle advance: %v", err)
	default:
	}

	// The protocol is still startable afterwards.
	sess.Start()
	sess.Barrier()
	sess.Advance()
	r := waitStage(t, rec.stages)
	if r.Stage != 1 {
		t.Errorf("stage = %d, want 1", r.Stage)
	}
}

func TestSession_PushDropsWhenQueueFull(t *testing.T) {
	// No loop runs, so the queues fill and stay full.
	sess, err := New(Options{
		ID:         "queue-test",
		Clock:      fusion.NewManualClock(testEpoch),
		FrameQueue: 2,
		AudioQueue: 1,
	}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !sess.PushFrame(testFrame()) || !sess.PushFrame(testFrame()) {
		t.Fatal("frames within capacity rejected")
	}
	if sess.PushFrame(testFrame()) {
		t.Error("third frame accepted, want drop at capacity 2")
	}

	if !sess.PushSpectrum(testSpectrum()) {
		t.Fatal("spectrum within capacity rejected")
	}
	if sess.PushSpectrum(testSpectrum()) {
		t.Error("second spectrum accepted, want drop at capacity 1")
	}
}

func TestSession_ProducersAfterDoneDoNotBlock(t *testing.T) {
	rec := newRecorder()
	sess, _ := startTestSession(t, Options{}, rec)

	sess.Stop()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	if sess.PushFrame(testFrame()) {
		t.Error("PushFrame accepted after Done")
	}
	if sess.PushSpectrum(testSpectrum()) {
		t.Error("PushSpectrum accepted after Done")
	}
	// Control producers and barriers return instead of blocking.
	sess.Start()
	sess.Advance()
	sess.Barrier()
}

func TestSession_NewRejectsBadCalibration(t *testing.T) {
	cal := config.DefaultCalibration()
	cal.Fusion.Overall.Speech = 0.9 // weights no longer sum to 1

	if _, err := New(Options{Calibration: &cal}, Callbacks{}); err == nil {
		t.Fatal("New accepted a calibration with broken overall weights")
	}
}

func TestSession_IDDefaultsToUUID(t *testing.T) {
	sess, err := New(Options{Clock: fusion.NewManualClock(testEpoch)}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sess.ID() == "" {
		t.Error("ID empty, want a generated identifier")
	}

	named, err := New(Options{ID: "explicit", Clock: fusion.NewManualClock(testEpoch)}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if named.ID() != "explicit" {
		t.Errorf("ID = %q, want explicit", named.ID())
	}
}
