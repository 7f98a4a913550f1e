package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/holocare/screening-gateway/internal/body"
	"github.com/holocare/screening-gateway/internal/crossval"
	"github.com/holocare/screening-gateway/internal/face"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/risk"
	"github.com/holocare/screening-gateway/internal/voice"
)

// Calibration is the numeric pipeline calibration: extractor scales and
// thresholds, risk weight tables, fusion weights and level buckets. The
// built-in defaults match the documented values; a YAML profile file
// overrides individual fields.
type Calibration struct {
	Face     face.Config     `yaml:"face"`
	Voice    voice.Config    `yaml:"voice"`
	Body     body.Config     `yaml:"body"`
	CrossVal crossval.Config `yaml:"crossval"`
	Risk     risk.Config     `yaml:"risk"`
	Fusion   fusion.Config   `yaml:"fusion"`
}

// DefaultCalibration returns the documented defaults for every
// pipeline component.
func DefaultCalibration() Calibration {
	return Calibration{
		Face:     face.DefaultConfig(),
		Voice:    voice.DefaultConfig(),
		Body:     body.DefaultConfig(),
		CrossVal: crossval.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Fusion:   fusion.DefaultConfig(),
	}
}

// LoadCalibration returns the defaults overridden by the YAML profile
// at path. An empty path means defaults only. A profile that cannot be
// read, parsed or validated fails loudly; a screening run on a silently
// broken calibration is worse than no run.
func LoadCalibration(path string) (Calibration, error) {
	cal := DefaultCalibration()
	if path == "" {
		if err := cal.Validate(); err != nil {
			return Calibration{}, fmt.Errorf("default calibration: %w", err)
		}
		return cal, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cal); err != nil {
		return Calibration{}, fmt.Errorf("parse calibration profile %s: %w", path, err)
	}
	if err := cal.Validate(); err != nil {
		return Calibration{}, fmt.Errorf("calibration profile %s: %w", path, err)
	}
	return cal, nil
}

// Validate checks the cross-component invariants: hysteresis ordering,
// window sizes and the weight table sums.
func (c Calibration) Validate() error {
	if c.Face.Blink.CloseBelow <= 0 || c.Face.Blink.OpenAbove <= c.Face.Blink.CloseBelow {
		return fmt.Errorf("blink hysteresis %v/%v: open threshold must sit above close threshold",
			c.Face.Blink.CloseBelow, c.Face.Blink.OpenAbove)
	}
	if c.Face.OscillationWindow < c.Face.OscillationMinSamples {
		return fmt.Errorf("oscillation window %d below its minimum sample count %d",
			c.Face.OscillationWindow, c.Face.OscillationMinSamples)
	}
	if c.Voice.MinPitchHz <= 0 || c.Voice.MaxPitchHz <= c.Voice.MinPitchHz {
		return fmt.Errorf("pitch band %v-%v Hz is empty", c.Voice.MinPitchHz, c.Voice.MaxPitchHz)
	}
	if c.Voice.HistorySize < c.Voice.MinHistory {
		return fmt.Errorf("voice history %d below its minimum %d", c.Voice.HistorySize, c.Voice.MinHistory)
	}
	if c.Body.NoiseFloor <= 0 {
		return fmt.Errorf("tremor noise floor %v must be positive", c.Body.NoiseFloor)
	}
	if c.CrossVal.HistorySize < c.CrossVal.MinFrames {
		return fmt.Errorf("crossval history %d below its minimum %d", c.CrossVal.HistorySize, c.CrossVal.MinFrames)
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	return nil
}
