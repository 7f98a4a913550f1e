package body

import (
	"math"
	"time"

	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Config holds the body extractor calibration.
type Config struct {
	// Hand tremor: displacements under NoiseFloor (normalized units)
	// are discarded; the score is avgDelta*DeltaScale +
	// reversalRate*ReversalScale over a TremorWindow of deltas.
	NoiseFloor    float64 `yaml:"noise_floor"`
	DeltaScale    float64 `yaml:"delta_scale"`
	ReversalScale float64 `yaml:"reversal_scale"`
	TremorWindow  int     `yaml:"tremor_window"`

	// Sway: stddev of the hip center over SwayWindow positions.
	SwayWindow     int     `yaml:"sway_window"`
	SwayScale      float64 `yaml:"sway_scale"`
	MinSwaySamples int     `yaml:"min_sway_samples"`

	// Posture sub-scores.
	TiltScale        float64 `yaml:"tilt_scale"`
	MaxLeanDegrees   float64 `yaml:"max_lean_degrees"`
	HeadForwardScale float64 `yaml:"head_forward_scale"`
}

// DefaultConfig returns the calibrated body extractor defaults.
func DefaultConfig() Config {
	return Config{
		NoiseFloor:       0.003,
		DeltaScale:       2000,
		ReversalScale:    25,
		TremorWindow:     30,
		SwayWindow:       90,
		SwayScale:        2000,
		MinSwaySamples:   5,
		TiltScale:        300,
		MaxLeanDegrees:   45,
		HeadForwardScale: 300,
	}
}

// Extractor converts pose and hand frames into body metrics. It keeps
// per-hand tremor trackers and the hip-center sway window.
type Extractor struct {
	cfg Config

	left  *tremorTracker
	right *tremorTracker

	hipX *metric.Window
	hipY *metric.Window
}

// NewExtractor creates a body extractor with the given calibration.
func NewExtractor(cfg Config) *Extractor {
	if cfg.NoiseFloor <= 0 {
		cfg = DefaultConfig()
	}
	return &Extractor{
		cfg:   cfg,
		left:  newTremorTracker(cfg.NoiseFloor, cfg.DeltaScale, cfg.ReversalScale, cfg.TremorWindow),
		right: newTremorTracker(cfg.NoiseFloor, cfg.DeltaScale, cfg.ReversalScale, cfg.TremorWindow),
		hipX:  metric.NewWindow(cfg.SwayWindow),
		hipY:  metric.NewWindow(cfg.SwayWindow),
	}
}

// Reset clears all per-session state.
func (e *Extractor) Reset() {
	e.left.reset()
	e.right.reset()
	e.hipX.Reset()
	e.hipY.Reset()
}

// Extract produces the body metric sample for one frame. Missing pose
// zeroes the posture metrics; a missing hand resets that hand's tremor
// reference and reports 0 for it.
func (e *Extractor) Extract(f *landmark.Frame, now time.Time) metric.Sample {
	s := metric.NewSample(metric.ModalityBody, now)
	s.Set(metric.PostureScore, 0)
	s.Set(metric.ShoulderTilt, 0)
	s.Set(metric.Slouch, 0)
	s.Set(metric.BodySway, 0)
	s.Set(metric.LeftHandTremor, 0)
	s.Set(metric.RightHandTremor, 0)
	s.Set(metric.HandTremor, 0)

	if f.HasPose() {
		tilt, lean, headFwd := e.postureComponents(f.Pose)
		s.Set(metric.ShoulderTilt, tilt)
		s.Set(metric.Slouch, (lean+headFwd)/2)
		s.Set(metric.PostureScore, metric.Clamp100(100-(tilt+lean+headFwd)/3))
		s.Set(metric.BodySway, e.sway(f.Pose))
	}

	present := 0
	total := 0.0
	if palm, ok := landmark.PalmCenter(f.LeftHand); ok {
		v := e.left.observe(palm)
		s.Set(metric.LeftHandTremor, v)
		total += v
		present++
	} else {
		e.left.miss()
	}
	if palm, ok := landmark.PalmCenter(f.RightHand); ok {
		v := e.right.observe(palm)
		s.Set(metric.RightHandTremor, v)
		total += v
		present++
	} else {
		e.right.miss()
	}
	if present > 0 {
		s.Set(metric.HandTremor, total/float64(present))
	}

	return s
}

// postureComponents returns the three 0-100 badness figures: shoulder
// tilt, torso lean and head-forward offset.
func (e *Extractor) postureComponents(pose []landmark.Keypoint) (tilt, lean, headFwd float64) {
	ls := pose[landmark.PoseLeftShoulder]
	rs := pose[landmark.PoseRightShoulder]
	lh := pose[landmark.PoseLeftHip]
	rh := pose[landmark.PoseRightHip]

	shoulderWidth := math.Abs(ls.X - rs.X)
	if shoulderWidth < 1e-9 {
		return 0, 0, 0
	}

	tilt = metric.Clamp100(math.Abs(ls.Y-rs.Y) / shoulderWidth * e.cfg.TiltScale)

	// Torso lean: shoulder-mid to hip-mid vector against vertical.
	shoulderMid := landmark.Midpoint(ls, rs)
	hipMid := landmark.Midpoint(lh, rh)
	dx := math.Abs(shoulderMid.X - hipMid.X)
	dy := math.Abs(shoulderMid.Y - hipMid.Y)
	leanDeg := math.Atan2(dx, math.Max(dy, 1e-9)) * 180 / math.Pi
	lean = metric.Clamp100(leanDeg / e.cfg.MaxLeanDegrees * 100)

	earMid := landmark.Midpoint(pose[landmark.PoseLeftEar], pose[landmark.PoseRightEar])
	headFwd = metric.Clamp100(math.Abs(earMid.X-shoulderMid.X) / shoulderWidth * e.cfg.HeadForwardScale)

	return tilt, lean, headFwd
}

// sway pushes the current hip center and scores positional stddev over
// the window. Below MinSwaySamples it reports 0 rather than guess.
func (e *Extractor) sway(pose []landmark.Keypoint) float64 {
	hipMid := landmark.Midpoint(pose[landmark.PoseLeftHip], pose[landmark.PoseRightHip])
	e.hipX.Push(hipMid.X)
	e.hipY.Push(hipMid.Y)

	if e.hipX.Len() < e.cfg.MinSwaySamples {
		return 0
	}
	spread := metric.StdDev(e.hipX.Values()) + metric.StdDev(e.hipY.Values())
	return metric.Clamp100(spread * e.cfg.SwayScale)
}
