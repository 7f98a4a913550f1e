package crossval

import (
	"math"
	"testing"
	"time"

	"github.com/holocare/screening-gateway/internal/landmark"
)

// newTestFace builds a 478-point mesh with symmetric corners around the
// nose centerline and the left eye open at EAR 0.3.
func newTestFace() []landmark.Keypoint {
	pts := make([]landmark.Keypoint, landmark.FaceIrisPoints)
	for i := range pts {
		pts[i] = landmark.Keypoint{X: 0.5, Y: 0.5}
	}
	pts[landmark.FaceNoseTip] = landmark.Keypoint{X: 0.5, Y: 0.5}
	pts[landmark.FaceLeftEyeOuter] = landmark.Keypoint{X: 0.35, Y: 0.4}
	pts[landmark.FaceRightEyeOuter] = landmark.Keypoint{X: 0.65, Y: 0.4}
	pts[landmark.FaceMouthLeft] = landmark.Keypoint{X: 0.42, Y: 0.62}
	pts[landmark.FaceMouthRight] = landmark.Keypoint{X: 0.58, Y: 0.62}

	// One-pair EAR geometry: width 0.08, lid gap 0.024.
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

func newTestHand() []landmark.Keypoint {
	pts := make([]landmark.Keypoint, landmark.HandPoints)
	for i := range pts {
		pts[i] = landmark.Keypoint{X: 0.5, Y: 0.7}
	}
	return pts
}

func TestValidator_SymmetricFaceScoresHigh(t *testing.T) {
	v := NewValidator(DefaultConfig())
	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Face: newTestFace()})

	if check.Symmetry < 0.99 {
		t.Errorf("symmetric face symmetry = %v, want near 1", check.Symmetry)
	}
	if math.Abs(check.EyeOpenness-0.75) > 0.01 {
		t.Errorf("eye openness = %v, want ~0.75", check.EyeOpenness)
	}
}

func TestValidator_AsymmetricMouthLowersSymmetry(t *testing.T) {
	v := NewValidator(DefaultConfig())
	face := newTestFace()
	face[landmark.FaceMouthRight].X = 0.66

	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Face: face})
	// Mouth corners now sit 0.08 and 0.16 from the nose line:
	// diff 0.08, averaged over two pairs and scaled by 10 gives 0.6.
	if math.Abs(check.Symmetry-0.6) > 0.01 {
		t.Errorf("asymmetric face symmetry = %v, want ~0.6", check.Symmetry)
	}
}

func TestValidator_UprightPoseScoresHigh(t *testing.T) {
	v := NewValidator(DefaultConfig())
	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: newTestPose()})

	if check.PostureQuality < 0.99 {
		t.Errorf("upright posture quality = %v, want near 1", check.PostureQuality)
	}
}

func TestValidator_TiltedShouldersLowerPosture(t *testing.T) {
	v := NewValidator(DefaultConfig())
	pose := newTestPose()
	pose[landmark.PoseLeftShoulder].Y = 0.45

	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: pose})
	if check.PostureQuality > 0.6 {
		t.Errorf("tilted posture quality = %v, want well below upright", check.PostureQuality)
	}
}

func TestValidator_StationaryPoseFullyConsistent(t *testing.T) {
	v := NewValidator(DefaultConfig())
	pose := newTestPose()

	first := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: pose})
	if first.MotionConsistency != 1 {
		t.Errorf("first frame consistency = %v, want 1", first.MotionConsistency)
	}
	second := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: pose})
	if second.MotionConsistency != 1 {
		t.Errorf("stationary consistency = %v, want 1", second.MotionConsistency)
	}
}

func TestValidator_MovingWristsLowerConsistency(t *testing.T) {
	v := NewValidator(DefaultConfig())
	v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: newTestPose()})

	moved := newTestPose()
	moved[landmark.PoseLeftWrist].X += 0.01
	moved[landmark.PoseRightWrist].X -= 0.01

	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: moved})
	if check.MotionConsistency >= 1 || check.MotionConsistency <= 0 {
		t.Errorf("moving-wrist consistency = %v, want strictly between 0 and 1", check.MotionConsistency)
	}
}

func TestValidator_PoseGapResetsMotionReference(t *testing.T) {
	v := NewValidator(DefaultConfig())

	near := newTestPose()
	for i := range near {
		near[i].X = 0.3
	}
	far := newTestPose()
	for i := range far {
		far[i].X = 0.7
	}

	v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: near})
	v.Observe(&landmark.Frame{Timestamp: time.Now()})
	check := v.Observe(&landmark.Frame{Timestamp: time.Now(), Pose: far})

	if check.MotionConsistency != 1 {
		t.Errorf("post-gap consistency = %v, want 1 (fresh reference)", check.MotionConsistency)
	}
}

func TestValidator_ConfidenceCountsGroups(t *testing.T) {
	v := NewValidator(DefaultConfig())

	empty := v.Observe(&landmark.Frame{Timestamp: time.Now()})
	if empty.Confidence != 0 {
		t.Errorf("empty frame confidence = %v, want 0", empty.Confidence)
	}

	half := v.Observe(&landmark.Frame{
		Timestamp: time.Now(),
		Face:      newTestFace(),
		Pose:      newTestPose(),
	})
	if half.Confidence != 0.5 {
		t.Errorf("face+pose confidence = %v, want 0.5", half.Confidence)
	}

	full := v.Observe(&landmark.Frame{
		Timestamp: time.Now(),
		Face:      newTestFace(),
		Pose:      newTestPose(),
		LeftHand:  newTestHand(),
		RightHand: newTestHand(),
	})
	if full.Confidence != 1 {
		t.Errorf("all-groups confidence = %v, want 1", full.Confidence)
	}
}

func TestValidator_TemporalFeaturesNeedMinimumFrames(t *testing.T) {
	v := NewValidator(DefaultConfig())
	frame := &landmark.Frame{Timestamp: time.Now(), Face: newTestFace(), Pose: newTestPose()}

	for i := 0; i < 4; i++ {
		v.Observe(frame)
		if tf := v.TemporalFeatures(); tf.OK {
			t.Fatalf("summary OK after %d frames, want not OK below 5", i+1)
		}
	}

	v.Observe(frame)
	tf := v.TemporalFeatures()
	if !tf.OK {
		t.Fatal("summary not OK after 5 frames")
	}
	if tf.Frames != 5 {
		t.Errorf("Frames = %d, want 5", tf.Frames)
	}
	if tf.AvgSymmetry < 0.99 {
		t.Errorf("AvgSymmetry = %v, want near 1", tf.AvgSymmetry)
	}
	if tf.AvgConfidence != 0.5 {
		t.Errorf("AvgConfidence = %v, want 0.5", tf.AvgConfidence)
	}
	if tf.MotionVariance < 0 {
		t.Errorf("MotionVariance = %v, want non-negative", tf.MotionVariance)
	}
}

func TestValidator_HistoryRollsOver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 8
	v := NewValidator(cfg)

	frame := &landmark.Frame{Timestamp: time.Now(), Pose: newTestPose()}
	for i := 0; i < 20; i++ {
		v.Observe(frame)
	}

	if tf := v.TemporalFeatures(); tf.Frames != 8 {
		t.Errorf("Frames = %d, want history capped at 8", tf.Frames)
	}
}

func TestValidator_ResetClearsHistory(t *testing.T) {
	v := NewValidator(DefaultConfig())
	frame := &landmark.Frame{Timestamp: time.Now(), Pose: newTestPose()}
	for i := 0; i < 6; i++ {
		v.Observe(frame)
	}

	v.Reset()
	if tf := v.TemporalFeatures(); tf.OK {
		t.Error("summary OK after reset, want empty history")
	}
}
