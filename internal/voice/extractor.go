package voice

import (
	"math"
	"time"

	"github.com/holocare/screening-gateway/internal/metric"
)

// Config holds the voice extractor calibration. The input is a
// frequency-domain magnitude spectrum, one byte per bin (0-255), as
// produced by a WebAudio-style analyser on the capture side.
type Config struct {
	// SampleRate and FFTSize determine the bin width in Hz.
	SampleRate int `yaml:"sample_rate"`
	FFTSize    int `yaml:"fft_size"`

	// Voiced pitch is searched inside [MinPitchHz, MaxPitchHz].
	MinPitchHz float64 `yaml:"min_pitch_hz"`
	MaxPitchHz float64 `yaml:"max_pitch_hz"`

	// NoiseGate is the minimum dominant-bin amplitude as a fraction of
	// full scale; quieter spectra count as silence.
	NoiseGate float64 `yaml:"noise_gate"`

	// HistorySize is the pitch history ring capacity; windowed
	// estimators need at least MinHistory samples.
	HistorySize int `yaml:"history_size"`
	MinHistory  int `yaml:"min_history"`

	// RateDeltaHz is the adjacent-sample pitch jump that counts as
	// speech movement; SilenceHz is the pitch floor below which a
	// sample counts as a pause.
	RateDeltaHz float64 `yaml:"rate_delta_hz"`
	SilenceHz   float64 `yaml:"silence_hz"`

	// PitchVariationRange maps the history spread onto 0-100.
	PitchVariationRange float64 `yaml:"pitch_variation_range"`

	// Valence blend weights over inverse monotonicity and intensity.
	ValenceMonoWeight      float64 `yaml:"valence_mono_weight"`
	ValenceIntensityWeight float64 `yaml:"valence_intensity_weight"`
}

// DefaultConfig returns the calibrated voice extractor defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:             44100,
		FFTSize:                2048,
		MinPitchHz:             80,
		MaxPitchHz:             800,
		NoiseGate:              0.15,
		HistorySize:            100,
		MinHistory:             10,
		RateDeltaHz:            10,
		SilenceHz:              50,
		PitchVariationRange:    300,
		ValenceMonoWeight:      0.6,
		ValenceIntensityWeight: 0.4,
	}
}

// Extractor converts magnitude spectra into voice metrics. It keeps a
// rolling pitch and intensity history; single spectra are too jittery
// to score directly.
type Extractor struct {
	cfg Config

	pitchHistory     *metric.Window
	intensityHistory *metric.Window

	lastPitch     float64
	lastIntensity float64
}

// NewExtractor creates a voice extractor with the given calibration.
func NewExtractor(cfg Config) *Extractor {
	if cfg.SampleRate <= 0 || cfg.FFTSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Extractor{
		cfg:              cfg,
		pitchHistory:     metric.NewWindow(cfg.HistorySize),
		intensityHistory: metric.NewWindow(cfg.HistorySize),
	}
}

// Reset clears the rolling histories.
func (e *Extractor) Reset() {
	e.pitchHistory.Reset()
	e.intensityHistory.Reset()
	e.lastPitch = 0
	e.lastIntensity = 0
}

// Ingest feeds one spectrum into the history. Empty or truncated
// spectra are skipped silently; a gated (too quiet) spectrum records a
// zero pitch so pauses accumulate in the history.
func (e *Extractor) Ingest(spectrum []byte) bool {
	if len(spectrum) < 2 {
		return false
	}

	pitch := e.dominantPitch(spectrum)
	intensity := averageIntensity(spectrum)

	e.lastPitch = pitch
	e.lastIntensity = intensity
	e.pitchHistory.Push(pitch)
	e.intensityHistory.Push(intensity)
	return true
}

// Sample derives the voice metric sample from the current histories.
// Below MinHistory the windowed estimators report 0 rather than guess.
func (e *Extractor) Sample(now time.Time) metric.Sample {
	s := metric.NewSample(metric.ModalityVoice, now)
	s.Set(metric.Pitch, e.lastPitch)
	s.Set(metric.VoiceIntensity, e.lastIntensity)

	history := e.pitchHistory.Values()
	if len(history) < e.cfg.MinHistory {
		s.Set(metric.PitchVariation, 0)
		s.Set(metric.SpeechRate, 0)
		s.Set(metric.PauseDuration, 0)
		s.Set(metric.Monotonicity, 0)
		s.Set(metric.EmotionalValence, 0)
		return s
	}

	variation := metric.Clamp100(metric.Spread(history) / e.cfg.PitchVariationRange * 100)
	s.Set(metric.PitchVariation, variation)

	s.Set(metric.SpeechRate, e.speechRate(history))
	s.Set(metric.PauseDuration, metric.Clamp100(metric.Fraction(history, func(v float64) bool {
		return v < e.cfg.SilenceHz
	})*100))

	mono := metric.Clamp100(100 - metric.StdDev(history))
	s.Set(metric.Monotonicity, mono)

	avgIntensity := metric.Mean(e.intensityHistory.Values())
	valence := e.cfg.ValenceMonoWeight*(100-mono) + e.cfg.ValenceIntensityWeight*avgIntensity
	s.Set(metric.EmotionalValence, metric.Clamp100(valence))

	return s
}

// dominantPitch finds the strongest bin inside the voiced band and
// converts it to Hz. Returns 0 when the band never clears the noise
// gate (silence or non-voice input).
func (e *Extractor) dominantPitch(spectrum []byte) float64 {
	binWidth := float64(e.cfg.SampleRate) / float64(e.cfg.FFTSize)

	loBin := int(math.Ceil(e.cfg.MinPitchHz / binWidth))
	if loBin < 1 {
		loBin = 1 // skip DC
	}
	hiBin := int(e.cfg.MaxPitchHz / binWidth)
	if hiBin >= len(spectrum) {
		hiBin = len(spectrum) - 1
	}
	if loBin > hiBin {
		return 0
	}

	bestBin, bestAmp := 0, byte(0)
	for i := loBin; i <= hiBin; i++ {
		if spectrum[i] > bestAmp {
			bestAmp = spectrum[i]
			bestBin = i
		}
	}

	if float64(bestAmp) < e.cfg.NoiseGate*255 {
		return 0
	}
	return float64(bestBin) * binWidth
}

// speechRate is the share of adjacent history pairs whose pitch jump
// exceeds RateDeltaHz: lively speech moves, droning does not.
func (e *Extractor) speechRate(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	jumps := 0
	for i := 1; i < len(history); i++ {
		delta := history[i] - history[i-1]
		if delta < 0 {
			delta = -delta
		}
		if delta > e.cfg.RateDeltaHz {
			jumps++
		}
	}
	return metric.Clamp100(float64(jumps) / float64(len(history)-1) * 100)
}

func averageIntensity(spectrum []byte) float64 {
	sum := 0.0
	for _, b := range spectrum {
		sum += float64(b)
	}
	return metric.Clamp100(sum / float64(len(spectrum)) / 255 * 100)
}
