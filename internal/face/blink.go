package face

import (
	"time"

	"github.com/holocare/screening-gateway/internal/metric"
)

// BlinkConfig holds thresholds for the blink state machine.
type BlinkConfig struct {
	// CloseBelow is the EAR below which the eye counts as closed.
	CloseBelow float64 `yaml:"close_below"`
	// OpenAbove is the EAR above which the eye counts as open again.
	// Keeping it above CloseBelow gives the detector hysteresis, so a
	// reading hovering at a single threshold cannot chatter.
	OpenAbove float64 `yaml:"open_above"`
	// Debounce is the minimum gap between registered blinks.
	Debounce time.Duration `yaml:"debounce"`
	// RateWindow is the rolling window the blink rate counts over.
	RateWindow time.Duration `yaml:"rate_window"`
	// MaxPerWindow scales the count into a 0-100 rate. 40 blinks per
	// minute is treated as the ceiling.
	MaxPerWindow int `yaml:"max_per_window"`
}

// DefaultBlinkConfig returns the calibrated blink thresholds.
func DefaultBlinkConfig() BlinkConfig {
	return BlinkConfig{
		CloseBelow:   0.23,
		OpenAbove:    0.27,
		Debounce:     180 * time.Millisecond,
		RateWindow:   60 * time.Second,
		MaxPerWindow: 40,
	}
}

// BlinkDetector is a two-state hysteresis machine over the eye aspect
// ratio. Open -> Closed when EAR drops below CloseBelow; Closed -> Open
// when it rises above OpenAbove. A Closed -> Open transition registers
// one blink unless it lands inside the debounce gap of the previous one.
type BlinkDetector struct {
	cfg    BlinkConfig
	closed bool

	lastBlink time.Time
	blinks    []time.Time // registered blink timestamps inside RateWindow
}

// NewBlinkDetector creates a detector with the given thresholds.
func NewBlinkDetector(cfg BlinkConfig) *BlinkDetector {
	if cfg.CloseBelow <= 0 || cfg.OpenAbove <= cfg.CloseBelow {
		cfg = DefaultBlinkConfig()
	}
	return &BlinkDetector{cfg: cfg}
}

// Process feeds one EAR reading and reports whether a blink was
// registered on this tick.
func (d *BlinkDetector) Process(ear float64, now time.Time) bool {
	if !d.closed {
		if ear < d.cfg.CloseBelow {
			d.closed = true
		}
		return false
	}

	if ear <= d.cfg.OpenAbove {
		return false // still closed, or inside the hysteresis band
	}
	d.closed = false

	// Debounce: a re-open within the gap is the same blink.
	if !d.lastBlink.IsZero() && now.Sub(d.lastBlink) < d.cfg.Debounce {
		return false
	}
	d.lastBlink = now
	d.blinks = append(d.blinks, now)
	d.prune(now)
	return true
}

// Count returns the number of blinks registered inside the rolling
// window ending at now.
func (d *BlinkDetector) Count(now time.Time) int {
	d.prune(now)
	return len(d.blinks)
}

// Rate returns the blink rate as a 0-100 percentage of MaxPerWindow.
func (d *BlinkDetector) Rate(now time.Time) float64 {
	count := d.Count(now)
	return metric.Clamp100(float64(count) / float64(d.cfg.MaxPerWindow) * 100)
}

// Reset clears all blink state.
func (d *BlinkDetector) Reset() {
	d.closed = false
	d.lastBlink = time.Time{}
	d.blinks = d.blinks[:0]
}

func (d *BlinkDetector) prune(now time.Time) {
	cutoff := now.Add(-d.cfg.RateWindow)
	i := 0
	for i < len(d.blinks) && d.blinks[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		d.blinks = append(d.blinks[:0], d.blinks[i:]...)
	}
}
