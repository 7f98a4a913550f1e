package face

import (
	"math"
	"time"

	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Config holds the face extractor calibration. All scales map
// normalized-coordinate geometry into the 0-100 display range.
type Config struct {
	Blink BlinkConfig `yaml:"blink"`

	// Gaze oscillation window over normalized iris offsets.
	OscillationWindow     int     `yaml:"oscillation_window"`
	OscillationThreshold  float64 `yaml:"oscillation_threshold"`
	OscillationMinSamples int     `yaml:"oscillation_min_samples"`

	// Yaw approximation bounds.
	MaxYawDegrees      float64 `yaml:"max_yaw_degrees"`
	AbnormalYawDegrees float64 `yaml:"abnormal_yaw_degrees"`

	// Display scales.
	GazeScale      float64 `yaml:"gaze_scale"`
	AsymmetryScale float64 `yaml:"asymmetry_scale"`
	MouthScale     float64 `yaml:"mouth_scale"`
	BrowScale      float64 `yaml:"brow_scale"`
	TremorScale    float64 `yaml:"tremor_scale"`

	// FullOpenEAR is the EAR that maps to 100 on the eye openness scale.
	FullOpenEAR float64 `yaml:"full_open_ear"`
}

// DefaultConfig returns the calibrated face extractor defaults.
func DefaultConfig() Config {
	return Config{
		Blink:                 DefaultBlinkConfig(),
		OscillationWindow:     8,
		OscillationThreshold:  0.12,
		OscillationMinSamples: 3,
		MaxYawDegrees:         45,
		AbnormalYawDegrees:    10,
		GazeScale:             400,
		AsymmetryScale:        800,
		MouthScale:            1000,
		BrowScale:             800,
		TremorScale:           5000,
		FullOpenEAR:           0.4,
	}
}

// tremorAnchors is the fixed 5-point subset whose frame-to-frame
// displacement approximates facial micro-tremor.
var tremorAnchors = [5]int{
	landmark.FaceNoseTip,
	landmark.FaceChin,
	landmark.FaceForehead,
	landmark.FaceLeftSide,
	landmark.FaceRightSide,
}

// asymmetryPairs are the symmetric landmark pairs measured against the
// facial centerline: cheeks, jaw, mouth corners, eye corners.
var asymmetryPairs = [4][2]int{
	{landmark.FaceLeftSide, landmark.FaceRightSide},
	{landmark.FaceLeftJaw, landmark.FaceRightJaw},
	{landmark.FaceMouthLeft, landmark.FaceMouthRight},
	{landmark.FaceLeftEyeOuter, landmark.FaceRightEyeOuter},
}

// Extractor converts face mesh frames into the face metric sample.
// It owns the blink state machine, the per-eye oscillation windows and
// the tremor reference; everything else is per-frame geometry.
type Extractor struct {
	cfg   Config
	blink *BlinkDetector

	leftIris  *metric.Window
	rightIris *metric.Window

	prevAnchors [5]landmark.Keypoint
	hasPrev     bool
}

// NewExtractor creates a face extractor with the given calibration.
func NewExtractor(cfg Config) *Extractor {
	if cfg.OscillationWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Extractor{
		cfg:       cfg,
		blink:     NewBlinkDetector(cfg.Blink),
		leftIris:  metric.NewWindow(cfg.OscillationWindow),
		rightIris: metric.NewWindow(cfg.OscillationWindow),
	}
}

// Reset clears all per-session state.
func (e *Extractor) Reset() {
	e.blink.Reset()
	e.leftIris.Reset()
	e.rightIris.Reset()
	e.hasPrev = false
}

// Extract produces the face metric sample for one frame. A frame with
// no face yields an all-zero sample and resets the tremor reference so
// reacquisition does not register a displacement spike.
func (e *Extractor) Extract(f *landmark.Frame, now time.Time) metric.Sample {
	s := metric.NewSample(metric.ModalityFace, now)
	s.Set(metric.BlinkRate, 0)
	s.Set(metric.EyeOpenness, 0)
	s.Set(metric.GazeDeviation, 0)
	s.Set(metric.GazeOscillation, 0)
	s.Set(metric.HeadPose, 0)
	s.Set(metric.HeadAbnormal, 0)
	s.Set(metric.FacialAsymmetry, 0)
	s.Set(metric.Expressivity, 0)
	s.Set(metric.FacialTremor, 0)

	if !f.HasFace() {
		e.hasPrev = false
		return s
	}
	pts := f.Face

	// Eye aspect ratio, averaged over both eyes.
	ear := (eyeAspectRatio(pts, landmark.LeftEyeRing) + eyeAspectRatio(pts, landmark.RightEyeRing)) / 2
	e.blink.Process(ear, now)
	s.Set(metric.BlinkRate, e.blink.Rate(now))
	s.Set(metric.EyeOpenness, metric.Clamp100(ear/e.cfg.FullOpenEAR*100))

	nose := pts[landmark.FaceNoseTip]

	// Gaze deviation: eye-corner midpoint against the nose tip.
	eyeMid := landmark.Midpoint(pts[landmark.FaceLeftEyeOuter], pts[landmark.FaceRightEyeOuter])
	s.Set(metric.GazeDeviation, metric.Clamp100(landmark.Dist2D(eyeMid, nose)*e.cfg.GazeScale))

	s.Set(metric.GazeOscillation, e.oscillation(f))

	yaw := e.yawDegrees(pts)
	s.Set(metric.HeadPose, metric.Clamp100(math.Abs(yaw)/e.cfg.MaxYawDegrees*100))
	if math.Abs(yaw) > e.cfg.AbnormalYawDegrees {
		s.Set(metric.HeadAbnormal, 100)
	}

	s.Set(metric.FacialAsymmetry, e.asymmetry(pts))
	s.Set(metric.Expressivity, e.expressivity(pts))
	s.Set(metric.FacialTremor, e.tremor(pts))

	return s
}

// eyeAspectRatio computes the standard 6-point EAR: the mean of the two
// vertical lid distances over the horizontal corner distance.
func eyeAspectRatio(pts []landmark.Keypoint, ring [6]int) float64 {
	p1, p2, p3 := pts[ring[0]], pts[ring[1]], pts[ring[2]]
	p4, p5, p6 := pts[ring[3]], pts[ring[4]], pts[ring[5]]

	horizontal := landmark.Dist2D(p1, p4)
	if horizontal < 1e-9 {
		return 0
	}
	return (landmark.Dist2D(p2, p6) + landmark.Dist2D(p3, p5)) / (2 * horizontal)
}

// oscillation pushes the current normalized iris offsets and scores the
// left/right windows. Iris landmarks need the refined mesh; without
// them the score stays 0.
func (e *Extractor) oscillation(f *landmark.Frame) float64 {
	if !f.HasIris() {
		return 0
	}
	pts := f.Face

	e.leftIris.Push(irisOffset(pts, landmark.FaceLeftIris, landmark.FaceLeftEyeOuter, landmark.FaceLeftEyeInner))
	e.rightIris.Push(irisOffset(pts, landmark.FaceRightIris, landmark.FaceRightEyeInner, landmark.FaceRightEyeOuter))

	left := e.windowScore(e.leftIris)
	right := e.windowScore(e.rightIris)
	return (left + right) / 2
}

// irisOffset is the horizontal iris displacement from the eye center,
// normalized by eye width.
func irisOffset(pts []landmark.Keypoint, iris, cornerA, cornerB int) float64 {
	width := math.Abs(pts[cornerA].X - pts[cornerB].X)
	if width < 1e-9 {
		return 0
	}
	center := (pts[cornerA].X + pts[cornerB].X) / 2
	return (pts[iris].X - center) / width
}

func (e *Extractor) windowScore(w *metric.Window) float64 {
	if w.Len() < e.cfg.OscillationMinSamples {
		return 0
	}
	spread := metric.Spread(w.Values())
	return metric.Clamp100(spread / (2 * e.cfg.OscillationThreshold) * 100)
}

// yawDegrees approximates head yaw from the left/right face-side to
// nose distances. A centered head has equal distances; turning the
// head shrinks one side in the image plane.
func (e *Extractor) yawDegrees(pts []landmark.Keypoint) float64 {
	nose := pts[landmark.FaceNoseTip]
	left := math.Abs(nose.X - pts[landmark.FaceLeftSide].X)
	right := math.Abs(pts[landmark.FaceRightSide].X - nose.X)

	avg := (left + right) / 2
	if avg < 1e-9 {
		return 0
	}
	yaw := (right - left) / avg * e.cfg.MaxYawDegrees
	return metric.Clamp(yaw, -e.cfg.MaxYawDegrees, e.cfg.MaxYawDegrees)
}

// asymmetry averages the left/right centerline-distance differences
// over the symmetric pairs.
func (e *Extractor) asymmetry(pts []landmark.Keypoint) float64 {
	centerX := (pts[landmark.FaceForehead].X + pts[landmark.FaceChin].X) / 2

	sum := 0.0
	for _, pair := range asymmetryPairs {
		leftDist := math.Abs(pts[pair[0]].X - centerX)
		rightDist := math.Abs(pts[pair[1]].X - centerX)
		sum += math.Abs(leftDist - rightDist)
	}
	avg := sum / float64(len(asymmetryPairs))
	return metric.Clamp100(avg * e.cfg.AsymmetryScale)
}

// expressivity blends mouth opening with eyebrow lift, both normalized
// by face height so the score is distance-to-camera invariant.
func (e *Extractor) expressivity(pts []landmark.Keypoint) float64 {
	faceHeight := landmark.Dist2D(pts[landmark.FaceForehead], pts[landmark.FaceChin])
	if faceHeight < 1e-9 {
		return 0
	}

	mouthRatio := landmark.Dist2D(pts[landmark.FaceUpperLip], pts[landmark.FaceLowerLip]) / faceHeight
	mouth := metric.Clamp100(mouthRatio * e.cfg.MouthScale)

	leftLift := math.Abs(pts[landmark.FaceLeftBrow].Y-pts[landmark.FaceLeftEyeTop].Y) / faceHeight
	rightLift := math.Abs(pts[landmark.FaceRightBrow].Y-pts[landmark.FaceRightEyeTop].Y) / faceHeight
	brow := metric.Clamp100((leftLift + rightLift) / 2 * e.cfg.BrowScale)

	return (mouth + brow) / 2
}

// tremor measures the mean displacement of the anchor subset between
// consecutive frames. The first frame after (re)acquisition has no
// reference and reports 0.
func (e *Extractor) tremor(pts []landmark.Keypoint) float64 {
	var current [5]landmark.Keypoint
	for i, idx := range tremorAnchors {
		current[i] = pts[idx]
	}

	if !e.hasPrev {
		e.prevAnchors = current
		e.hasPrev = true
		return 0
	}

	sum := 0.0
	for i := range current {
		sum += landmark.Dist2D(current[i], e.prevAnchors[i])
	}
	e.prevAnchors = current

	avg := sum / float64(len(current))
	return metric.Clamp100(avg * e.cfg.TremorScale)
}
