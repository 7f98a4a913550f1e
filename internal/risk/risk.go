// Package risk turns extractor samples into one 0-100 risk figure per
// modality through fixed-weight linear combinations. The weight tables
// are configuration, not code: each table must sum to 1, and terms
// where a high raw reading means lower risk carry an invert flag.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/holocare/screening-gateway/internal/metric"
)

// Term is one weighted contribution to a modality risk score. Inverted
// terms contribute weight*(100-value): high expressivity or a high
// posture score lowers risk rather than raising it.
type Term struct {
	Weight float64 `yaml:"weight"`
	Invert bool    `yaml:"invert,omitempty"`
}

// Weights maps metric names to their contribution terms.
type Weights map[string]Term

// Config holds the per-modality weight tables.
type Config struct {
	Face  Weights `yaml:"face"`
	Voice Weights `yaml:"voice"`
	Body  Weights `yaml:"body"`
}

// weightTolerance is the allowed deviation of a table sum from 1.
const weightTolerance = 0.001

// DefaultConfig returns the documented default weight tables.
func DefaultConfig() Config {
	return Config{
		Face: Weights{
			metric.GazeDeviation:   {Weight: 0.22},
			metric.FacialAsymmetry: {Weight: 0.22},
			metric.BlinkRate:       {Weight: 0.17},
			metric.Expressivity:    {Weight: 0.13, Invert: true},
			metric.FacialTremor:    {Weight: 0.13},
			metric.HeadPose:        {Weight: 0.05},
			metric.GazeOscillation: {Weight: 0.05},
			metric.EyeOpenness:     {Weight: 0.03, Invert: true},
		},
		Voice: Weights{
			metric.Monotonicity:     {Weight: 0.30},
			metric.PauseDuration:    {Weight: 0.25},
			metric.SpeechRate:       {Weight: 0.20, Invert: true},
			metric.PitchVariation:   {Weight: 0.15, Invert: true},
			metric.EmotionalValence: {Weight: 0.10, Invert: true},
		},
		Body: Weights{
			metric.HandTremor:   {Weight: 0.30},
			metric.PostureScore: {Weight: 0.25, Invert: true},
			metric.BodySway:     {Weight: 0.20},
			metric.ShoulderTilt: {Weight: 0.15},
			metric.Slouch:       {Weight: 0.10},
		},
	}
}

// Sum returns the total weight of the table.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, t := range w {
		total += t.Weight
	}
	return total
}

// Validate checks that the table is non-empty, every weight is
// non-negative, and the weights sum to 1 within tolerance.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("empty weight table")
	}
	for name, t := range w {
		if t.Weight < 0 {
			return fmt.Errorf("negative weight %v for %q", t.Weight, name)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %.4f, want 1.0", sum)
	}
	return nil
}

// Validate checks all three modality tables.
func (c Config) Validate() error {
	for _, tbl := range []struct {
		modality string
		weights  Weights
	}{
		{metric.ModalityFace, c.Face},
		{metric.ModalityVoice, c.Voice},
		{metric.ModalityBody, c.Body},
	} {
		if err := tbl.weights.Validate(); err != nil {
			return fmt.Errorf("%s risk weights: %w", tbl.modality, err)
		}
	}
	return nil
}

// Scorer applies one modality's weight table.
type Scorer struct {
	weights Weights
}

// NewScorer builds a scorer after validating the table.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score returns the weighted risk for a sample, clamped to [0,100].
// Metrics absent from the sample contribute nothing, inverted or not,
// so an occluded modality reads as low risk rather than as an alarm.
func (s *Scorer) Score(sample metric.Sample) float64 {
	total := 0.0
	for name, term := range s.weights {
		v, ok := sample.Lookup(name)
		if !ok {
			continue
		}
		v = metric.Clamp100(v)
		if term.Invert {
			v = 100 - v
		}
		total += term.Weight * v
	}
	return metric.Clamp100(total)
}

// Names returns the metric names the scorer reads, sorted.
func (s *Scorer) Names() []string {
	names := make([]string, 0, len(s.weights))
	for name := range s.weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set bundles the three modality scorers the way a session consumes
// them.
type Set struct {
	face  *Scorer
	voice *Scorer
	body  *Scorer
}

// NewSet validates the config and builds all three scorers.
func NewSet(cfg Config) (*Set, error) {
	face, err := NewScorer(cfg.Face)
	if err != nil {
		return nil, fmt.Errorf("face risk weights: %w", err)
	}
	voice, err := NewScorer(cfg.Voice)
	if err != nil {
		return nil, fmt.Errorf("voice risk weights: %w", err)
	}
	body, err := NewScorer(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("body risk weights: %w", err)
	}
	return &Set{face: face, voice: voice, body: body}, nil
}

// Score routes a sample to its modality's scorer. Samples from unknown
// modalities score 0.
func (s *Set) Score(sample metric.Sample) float64 {
	switch sample.Modality {
	case metric.ModalityFace:
		return s.face.Score(sample)
	case metric.ModalityVoice:
		return s.voice.Score(sample)
	case metric.ModalityBody:
		return s.body.Score(sample)
	default:
		return 0
	}
}
