package body

import (
	"math"

	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// tremorTracker scores one hand's palm-center jitter. Displacements
// below the noise floor are discarded; what remains is scored by
// magnitude plus a direction-reversal rate, a zero-crossing proxy for
// tremor frequency content that needs no FFT.
type tremorTracker struct {
	floor         float64
	deltaScale    float64
	reversalScale float64

	prev    landmark.Keypoint
	hasPrev bool

	lastDX, lastDY float64
	hasDir         bool

	deltas    *metric.Window // super-floor displacement magnitudes
	reversals *metric.Window // 1 when the direction flipped, else 0
}

func newTremorTracker(floor, deltaScale, reversalScale float64, window int) *tremorTracker {
	return &tremorTracker{
		floor:         floor,
		deltaScale:    deltaScale,
		reversalScale: reversalScale,
		deltas:        metric.NewWindow(window),
		reversals:     metric.NewWindow(window),
	}
}

// observe feeds the current palm center and returns the tremor score.
func (t *tremorTracker) observe(palm landmark.Keypoint) float64 {
	if !t.hasPrev {
		t.prev = palm
		t.hasPrev = true
		return t.score()
	}

	dx := palm.X - t.prev.X
	dy := palm.Y - t.prev.Y
	t.prev = palm

	delta := math.Hypot(dx, dy)
	if delta < t.floor {
		return t.score()
	}

	t.deltas.Push(delta)
	if t.hasDir {
		if signFlip(dx, t.lastDX) || signFlip(dy, t.lastDY) {
			t.reversals.Push(1)
		} else {
			t.reversals.Push(0)
		}
	}
	t.lastDX, t.lastDY = dx, dy
	t.hasDir = true

	return t.score()
}

// miss drops the frame-to-frame reference so the next detection does
// not register the reacquisition jump as tremor.
func (t *tremorTracker) miss() {
	t.hasPrev = false
	t.hasDir = false
}

func (t *tremorTracker) reset() {
	t.miss()
	t.deltas.Reset()
	t.reversals.Reset()
}

func (t *tremorTracker) score() float64 {
	if t.deltas.Len() == 0 {
		return 0
	}
	avgDelta := metric.Mean(t.deltas.Values())
	reversalRate := 0.0
	if t.reversals.Len() > 0 {
		reversalRate = metric.Mean(t.reversals.Values())
	}
	return metric.Clamp100(avgDelta*t.deltaScale + reversalRate*t.reversalScale)
}

func signFlip(cur, prev float64) bool {
	return (cur > 0 && prev < 0) || (cur < 0 && prev > 0)
}
