package landmark

import (
	"math"
	"time"
)

// Keypoint is a single normalized landmark position. Coordinates are in
// the capture model's normalized image space (0..1 on x/y, z relative to
// frame width). Visibility is the model's 0..1 presence estimate and may
// be zero for models that do not report it.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Frame is one capture tick worth of keypoints from the external
// detection collaborator. Any slice may be empty when the corresponding
// body part was not detected. Frames are transient: extractors read them
// during the current tick and never retain them.
type Frame struct {
	Timestamp time.Time  `json:"timestamp"`
	Face      []Keypoint `json:"face,omitempty"`
	Pose      []Keypoint `json:"pose,omitempty"`
	LeftHand  []Keypoint `json:"leftHand,omitempty"`
	RightHand []Keypoint `json:"rightHand,omitempty"`
}

// Face mesh indices (468-point topology, 478 with refined iris landmarks).
const (
	FaceNoseTip       = 1
	FaceForehead      = 10
	FaceChin          = 152
	FaceLeftSide      = 234
	FaceRightSide     = 454
	FaceLeftJaw       = 58
	FaceRightJaw      = 288
	FaceUpperLip      = 13
	FaceLowerLip      = 14
	FaceMouthLeft     = 61
	FaceMouthRight    = 291
	FaceLeftEyeOuter  = 33
	FaceLeftEyeInner  = 133
	FaceLeftEyeTop    = 159
	FaceRightEyeInner = 362
	FaceRightEyeOuter = 263
	FaceRightEyeTop   = 386
	FaceLeftBrow      = 105
	FaceRightBrow     = 334
	FaceLeftIris      = 468
	FaceRightIris     = 473
)

// FaceMeshPoints is the minimum face slice length for contour work;
// FaceIrisPoints is the length when refined iris landmarks are present.
const (
	FaceMeshPoints = 468
	FaceIrisPoints = 478
)

// LeftEyeRing and RightEyeRing are the 6-point contours used for the
// eye-aspect-ratio: [outer corner, upper outer, upper inner, inner
// corner, lower inner, lower outer].
var (
	LeftEyeRing  = [6]int{33, 160, 158, 133, 153, 144}
	RightEyeRing = [6]int{362, 385, 387, 263, 373, 380}
)

// Pose indices (33-point topology).
const (
	PoseNose          = 0
	PoseLeftEar       = 7
	PoseRightEar      = 8
	PoseLeftShoulder  = 11
	PoseRightShoulder = 12
	PoseLeftWrist     = 15
	PoseRightWrist    = 16
	PoseLeftHip       = 23
	PoseRightHip      = 24
)

// PosePoints is the full pose topology length.
const PosePoints = 33

// Hand indices (21-point topology). Only the wrist and the four finger
// MCP knuckles are used here, to locate the palm center.
const (
	HandWrist     = 0
	HandIndexMCP  = 5
	HandMiddleMCP = 9
	HandRingMCP   = 13
	HandPinkyMCP  = 17
)

// HandPoints is the full hand topology length.
const HandPoints = 21

// Dist returns the 3D Euclidean distance between two keypoints.
func Dist(a, b Keypoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Dist2D returns the image-plane distance between two keypoints,
// ignoring depth. Most of the screening geometry works in 2D because
// the capture model's z estimates are far noisier than x/y.
func Dist2D(a, b Keypoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Midpoint returns the point halfway between two keypoints.
func Midpoint(a, b Keypoint) Keypoint {
	return Keypoint{
		X: (a.X + b.X) / 2,
		Y: (a.Y + b.Y) / 2,
		Z: (a.Z + b.Z) / 2,
	}
}

// At returns points[i] when the slice is long enough, and reports
// whether the index was in range. Out-of-range access never panics;
// the zero Keypoint is returned instead.
func At(points []Keypoint, i int) (Keypoint, bool) {
	if i < 0 || i >= len(points) {
		return Keypoint{}, false
	}
	return points[i], true
}

// HasFace reports whether the frame carries a full face mesh.
func (f *Frame) HasFace() bool {
	return len(f.Face) >= FaceMeshPoints
}

// HasIris reports whether refined iris landmarks are present.
func (f *Frame) HasIris() bool {
	return len(f.Face) >= FaceIrisPoints
}

// HasPose reports whether the frame carries a full pose skeleton.
func (f *Frame) HasPose() bool {
	return len(f.Pose) >= PosePoints
}

// HasLeftHand reports whether the left hand was detected.
func (f *Frame) HasLeftHand() bool {
	return len(f.LeftHand) >= HandPoints
}

// HasRightHand reports whether the right hand was detected.
func (f *Frame) HasRightHand() bool {
	return len(f.RightHand) >= HandPoints
}

// PalmCenter returns the centroid of the wrist and the four finger MCP
// knuckles of a 21-point hand. Reports false for short slices.
func PalmCenter(hand []Keypoint) (Keypoint, bool) {
	if len(hand) < HandPoints {
		return Keypoint{}, false
	}
	idx := [5]int{HandWrist, HandIndexMCP, HandMiddleMCP, HandRingMCP, HandPinkyMCP}
	var c Keypoint
	for _, i := range idx {
		c.X += hand[i].X
		c.Y += hand[i].Y
		c.Z += hand[i].Z
	}
	c.X /= 5
	c.Y /= 5
	c.Z /= 5
	return c, true
}
