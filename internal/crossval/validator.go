package crossval

import (
	"math"

	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Config holds the cross-validation calibration.
type Config struct {
	// HistorySize is the rolling frame history; TemporalFeatures needs
	// at least MinFrames recorded frames before it reports.
	HistorySize int `yaml:"history_size"`
	MinFrames   int `yaml:"min_frames"`

	// MotionScale maps average anchor displacement onto the 0-1
	// consistency scale (lower displacement, higher consistency).
	MotionScale float64 `yaml:"motion_scale"`

	// SymmetryScale maps centerline differences onto 0-1.
	SymmetryScale float64 `yaml:"symmetry_scale"`

	// FullOpenEAR mirrors the face extractor's openness normalization.
	FullOpenEAR float64 `yaml:"full_open_ear"`
}

// DefaultConfig returns the calibrated cross-validation defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize:   90,
		MinFrames:     5,
		MotionScale:   50,
		SymmetryScale: 10,
		FullOpenEAR:   0.4,
	}
}

// FrameCheck is one frame's independent re-derivation of features the
// primary extractors also compute. All figures are 0-1. Confidence is
// the fraction of anchor groups (face, pose, hands) visible this frame.
type FrameCheck struct {
	Symmetry          float64 `json:"symmetry"`
	PostureQuality    float64 `json:"postureQuality"`
	MotionConsistency float64 `json:"motionConsistency"`
	EyeOpenness       float64 `json:"eyeOpenness"`
	Confidence        float64 `json:"confidence"`
}

// TemporalFeatures summarizes the rolling history. OK is false until
// MinFrames frames have been recorded; callers treat a not-OK summary
// as absent rather than zero-valued.
type TemporalFeatures struct {
	AvgSymmetry          float64 `json:"avgSymmetry"`
	AvgMotionConsistency float64 `json:"avgMotionConsistency"`
	MotionVariance       float64 `json:"motionVariance"`
	AvgPosture           float64 `json:"avgPosture"`
	AvgEyeOpenness       float64 `json:"avgEyeOpenness"`
	AvgConfidence        float64 `json:"avgConfidence"`
	Frames               int     `json:"frames"`
	OK                   bool    `json:"ok"`
}

// motionAnchors are the pose keypoints tracked for displacement: nose,
// both shoulders, both wrists.
var motionAnchors = [5]int{
	landmark.PoseNose,
	landmark.PoseLeftShoulder,
	landmark.PoseRightShoulder,
	landmark.PoseLeftWrist,
	landmark.PoseRightWrist,
}

// Validator re-derives symmetry, posture quality and motion consistency
// from the same frames the primary extractors see, with deliberately
// simpler arithmetic. It never feeds back into the extractors; the
// fusion engine consumes it purely as a confidence signal.
type Validator struct {
	cfg Config

	prevAnchors [5]landmark.Keypoint
	hasPrev     bool

	history []FrameCheck
	pos     int
	filled  int
}

// NewValidator creates a validator with the given calibration.
func NewValidator(cfg Config) *Validator {
	if cfg.HistorySize <= 0 {
		cfg = DefaultConfig()
	}
	return &Validator{
		cfg:     cfg,
		history: make([]FrameCheck, cfg.HistorySize),
	}
}

// Reset clears history and the motion reference.
func (v *Validator) Reset() {
	v.hasPrev = false
	v.pos = 0
	v.filled = 0
}

// Observe re-derives the check figures for one frame and records them.
func (v *Validator) Observe(f *landmark.Frame) FrameCheck {
	check := FrameCheck{
		Symmetry:          v.symmetry(f),
		PostureQuality:    v.posture(f),
		MotionConsistency: v.motion(f),
		EyeOpenness:       v.eyeOpenness(f),
		Confidence:        groupConfidence(f),
	}

	v.history[v.pos] = check
	v.pos = (v.pos + 1) % len(v.history)
	if v.filled < len(v.history) {
		v.filled++
	}
	return check
}

// TemporalFeatures aggregates the rolling history once MinFrames frames
// are recorded.
func (v *Validator) TemporalFeatures() TemporalFeatures {
	if v.filled < v.cfg.MinFrames {
		return TemporalFeatures{}
	}

	var sym, motion, posture, eye, conf []float64
	for i := 0; i < v.filled; i++ {
		idx := (v.pos - v.filled + i + len(v.history)) % len(v.history)
		c := v.history[idx]
		sym = append(sym, c.Symmetry)
		motion = append(motion, c.MotionConsistency)
		posture = append(posture, c.PostureQuality)
		eye = append(eye, c.EyeOpenness)
		conf = append(conf, c.Confidence)
	}

	sd := metric.StdDev(motion)
	return TemporalFeatures{
		AvgSymmetry:          metric.Mean(sym),
		AvgMotionConsistency: metric.Mean(motion),
		MotionVariance:       sd * sd,
		AvgPosture:           metric.Mean(posture),
		AvgEyeOpenness:       metric.Mean(eye),
		AvgConfidence:        metric.Mean(conf),
		Frames:               v.filled,
		OK:                   true,
	}
}

// symmetry checks eye and mouth corner pairs against the nose-tip
// centerline, one subtraction per pair.
func (v *Validator) symmetry(f *landmark.Frame) float64 {
	if !f.HasFace() {
		return 0
	}
	pts := f.Face
	noseX := pts[landmark.FaceNoseTip].X

	pairs := [2][2]int{
		{landmark.FaceLeftEyeOuter, landmark.FaceRightEyeOuter},
		{landmark.FaceMouthLeft, landmark.FaceMouthRight},
	}
	sum := 0.0
	for _, p := range pairs {
		left := math.Abs(pts[p[0]].X - noseX)
		right := math.Abs(pts[p[1]].X - noseX)
		sum += math.Abs(left - right)
	}
	return 1 - metric.Clamp01(sum/2*v.cfg.SymmetryScale)
}

// posture folds shoulder tilt and torso offset into one 0-1 quality.
func (v *Validator) posture(f *landmark.Frame) float64 {
	if !f.HasPose() {
		return 0
	}
	pose := f.Pose
	ls := pose[landmark.PoseLeftShoulder]
	rs := pose[landmark.PoseRightShoulder]

	width := math.Abs(ls.X - rs.X)
	if width < 1e-9 {
		return 0
	}

	tilt := math.Abs(ls.Y-rs.Y) / width
	shoulderMid := landmark.Midpoint(ls, rs)
	hipMid := landmark.Midpoint(pose[landmark.PoseLeftHip], pose[landmark.PoseRightHip])
	offset := math.Abs(shoulderMid.X-hipMid.X) / width

	return 1 - metric.Clamp01(tilt+offset)
}

// motion tracks the anchor displacement moving average. The first
// frame with a pose (or after losing it) reports full consistency;
// there is nothing to compare against yet.
func (v *Validator) motion(f *landmark.Frame) float64 {
	if !f.HasPose() {
		v.hasPrev = false
		return 0
	}

	var current [5]landmark.Keypoint
	for i, idx := range motionAnchors {
		current[i] = f.Pose[idx]
	}

	if !v.hasPrev {
		v.prevAnchors = current
		v.hasPrev = true
		return 1
	}

	sum := 0.0
	for i := range current {
		sum += landmark.Dist2D(current[i], v.prevAnchors[i])
	}
	v.prevAnchors = current

	avg := sum / float64(len(current))
	return 1 - metric.Clamp01(avg*v.cfg.MotionScale)
}

// eyeOpenness is a one-pair lid distance over eye width, the cheap
// cousin of the extractor's two-pair EAR.
func (v *Validator) eyeOpenness(f *landmark.Frame) float64 {
	if !f.HasFace() {
		return 0
	}
	pts := f.Face
	ring := landmark.LeftEyeRing

	width := landmark.Dist2D(pts[ring[0]], pts[ring[3]])
	if width < 1e-9 {
		return 0
	}
	ear := landmark.Dist2D(pts[ring[1]], pts[ring[5]]) / width
	return metric.Clamp01(ear / v.cfg.FullOpenEAR)
}

func groupConfidence(f *landmark.Frame) float64 {
	groups := 0
	if f.HasFace() {
		groups++
	}
	if f.HasPose() {
		groups++
	}
	if f.HasLeftHand() {
		groups++
	}
	if f.HasRightHand() {
		groups++
	}
	return float64(groups) / 4
}
