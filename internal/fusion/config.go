package fusion

import (
	"fmt"
	"math"
)

// CompositeWeights blend the stage figures into one composite per
// modality. Each modality's three weights must sum to 1.
type CompositeWeights struct {
	SpeechClarity  float64 `yaml:"speech_clarity"`
	SpeechAccuracy float64 `yaml:"speech_accuracy"`
	SpeechTemporal float64 `yaml:"speech_temporal"`

	FaceStability float64 `yaml:"face_stability"`
	FaceTemporal  float64 `yaml:"face_temporal"`
	FaceAttention float64 `yaml:"face_attention"`

	BodySteadiness float64 `yaml:"body_steadiness"`
	BodyGesture    float64 `yaml:"body_gesture"`
	BodyPosture    float64 `yaml:"body_posture"`
}

// OverallWeights blend the modality composites and the redundancy term
// into the overall score; they must sum to 1.
type OverallWeights struct {
	Speech     float64 `yaml:"speech"`
	Face       float64 `yaml:"face"`
	Body       float64 `yaml:"body"`
	Redundancy float64 `yaml:"redundancy"`
}

// Config is the fusion calibration: buffer sizing, level thresholds
// and the fixed weight tables.
type Config struct {
	// BufferCapacity sizes the stage-2 temporal buffers; MinDepth is
	// the sample count below which temporal components go neutral.
	BufferCapacity int `yaml:"buffer_capacity"`
	MinDepth       int `yaml:"min_depth"`

	// Tremor level thresholds on raw tremor scaled to 0-1.
	TremorMedium float64 `yaml:"tremor_medium"`
	TremorHigh   float64 `yaml:"tremor_high"`

	// Fatigue level thresholds on the summed stage-2 drift terms.
	FatigueMedium float64 `yaml:"fatigue_medium"`
	FatigueHigh   float64 `yaml:"fatigue_high"`

	// Motor control thresholds on the stage-3 figure average.
	MotorStable   float64 `yaml:"motor_stable"`
	MotorVariable float64 `yaml:"motor_variable"`

	// Performance label thresholds on the overall score.
	LabelExcellent float64 `yaml:"label_excellent"`
	LabelGood      float64 `yaml:"label_good"`
	LabelModerate  float64 `yaml:"label_moderate"`

	// Strength/improvement cutoffs over the named stage figures.
	StrengthMin float64 `yaml:"strength_min"`
	ImproveMax  float64 `yaml:"improve_max"`

	Composites CompositeWeights `yaml:"composites"`
	Overall    OverallWeights   `yaml:"overall"`
}

// DefaultConfig returns the documented fusion calibration.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 90,
		MinDepth:       5,

		TremorMedium: 0.3,
		TremorHigh:   0.6,

		FatigueMedium: 0.25,
		FatigueHigh:   0.5,

		MotorStable:   0.7,
		MotorVariable: 0.4,

		LabelExcellent: 0.8,
		LabelGood:      0.6,
		LabelModerate:  0.4,

		StrengthMin: 0.7,
		ImproveMax:  0.5,

		Composites: CompositeWeights{
			SpeechClarity:  0.4,
			SpeechAccuracy: 0.3,
			SpeechTemporal: 0.3,

			FaceStability: 0.4,
			FaceTemporal:  0.35,
			FaceAttention: 0.25,

			BodySteadiness: 0.35,
			BodyGesture:    0.30,
			BodyPosture:    0.35,
		},
		Overall: OverallWeights{
			Speech:     0.35,
			Face:       0.30,
			Body:       0.20,
			Redundancy: 0.15,
		},
	}
}

// Validate checks buffer sizing, threshold ordering and weight sums.
func (c Config) Validate() error {
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer capacity %d, want >= 1", c.BufferCapacity)
	}
	if c.MinDepth < 1 || c.MinDepth > c.BufferCapacity {
		return fmt.Errorf("min depth %d outside [1,%d]", c.MinDepth, c.BufferCapacity)
	}
	for _, ord := range []struct {
		name   string
		lo, hi float64
	}{
		{"tremor", c.TremorMedium, c.TremorHigh},
		{"fatigue", c.FatigueMedium, c.FatigueHigh},
		{"motor", c.MotorVariable, c.MotorStable},
	} {
		if ord.lo <= 0 || ord.hi <= ord.lo {
			return fmt.Errorf("%s thresholds %v/%v out of order", ord.name, ord.lo, ord.hi)
		}
	}
	if !(c.LabelExcellent > c.LabelGood && c.LabelGood > c.LabelModerate && c.LabelModerate > 0) {
		return fmt.Errorf("label thresholds %v/%v/%v out of order",
			c.LabelExcellent, c.LabelGood, c.LabelModerate)
	}

	sums := []struct {
		name string
		sum  float64
	}{
		{"speech composite", c.Composites.SpeechClarity + c.Composites.SpeechAccuracy + c.Composites.SpeechTemporal},
		{"face composite", c.Composites.FaceStability + c.Composites.FaceTemporal + c.Composites.FaceAttention},
		{"body composite", c.Composites.BodySteadiness + c.Composites.BodyGesture + c.Composites.BodyPosture},
		{"overall", c.Overall.Speech + c.Overall.Face + c.Overall.Body + c.Overall.Redundancy},
	}
	for _, s := range sums {
		if math.Abs(s.sum-1) > 0.001 {
			return fmt.Errorf("%s weights sum to %.4f, want 1.0", s.name, s.sum)
		}
	}
	return nil
}

// tremorLevel buckets a raw 0-1 tremor figure.
func (c Config) tremorLevel(raw float64) Level {
	switch {
	case raw >= c.TremorHigh:
		return LevelHigh
	case raw >= c.TremorMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// fatigueLevel buckets the summed drift terms.
func (c Config) fatigueLevel(sum float64) Level {
	switch {
	case sum >= c.FatigueHigh:
		return LevelHigh
	case sum >= c.FatigueMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// motorLevel buckets the stage-3 figure average.
func (c Config) motorLevel(avg float64) MotorLevel {
	switch {
	case avg >= c.MotorStable:
		return MotorStable
	case avg >= c.MotorVariable:
		return MotorVariable
	default:
		return MotorUnstable
	}
}

// label buckets the overall score.
func (c Config) label(overall float64) Label {
	switch {
	case overall >= c.LabelExcellent:
		return LabelExcellent
	case overall >= c.LabelGood:
		return LabelGood
	case overall >= c.LabelModerate:
		return LabelModerate
	default:
		return LabelNeedsAttention
	}
}
