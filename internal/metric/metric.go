package metric

import (
	"time"
)

// Modalities producing samples.
const (
	ModalityFace  = "face"
	ModalityVoice = "voice"
	ModalityBody  = "body"
)

// Well-known metric names emitted by the extractors. Values are display
// scalars in the 0-100 range unless noted otherwise.
const (
	// Face metrics
	BlinkRate       = "blinkRate"
	EyeOpenness     = "eyeOpenness"
	GazeDeviation   = "gazeDeviation"
	GazeOscillation = "gazeOscillation"
	HeadPose        = "headPose"
	HeadAbnormal    = "headAbnormal" // 0 or 100 flag
	FacialAsymmetry = "facialAsymmetry"
	Expressivity    = "expressivity"
	FacialTremor    = "facialTremor"

	// Voice metrics
	Pitch            = "pitch" // Hz, not 0-100
	PitchVariation   = "pitchVariation"
	SpeechRate       = "speechRate"
	PauseDuration    = "pauseDuration"
	Monotonicity     = "monotonicity"
	VoiceIntensity   = "voiceIntensity"
	EmotionalValence = "emotionalValence"

	// Body metrics
	PostureScore    = "postureScore"
	ShoulderTilt    = "shoulderTilt"
	Slouch          = "slouch"
	BodySway        = "bodySway"
	LeftHandTremor  = "leftHandTremor"
	RightHandTremor = "rightHandTremor"
	HandTremor      = "handTremor"
)

// Sample is one aggregation tick worth of named metric values from a
// single modality. Face and body extractors produce one per frame;
// the voice extractor produces one every Nth spectrum to reduce jitter.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Modality  string             `json:"modality"`
	Values    map[string]float64 `json:"values"`
}

// NewSample creates an empty sample for a modality.
func NewSample(modality string, ts time.Time) Sample {
	return Sample{
		Timestamp: ts,
		Modality:  modality,
		Values:    make(map[string]float64, 8),
	}
}

// Get returns the named value, or 0 when the sample does not carry it.
// Missing names are indistinguishable from zero readings on purpose:
// downstream scorers treat degraded input as zero signal.
func (s Sample) Get(name string) float64 {
	if s.Values == nil {
		return 0
	}
	return s.Values[name]
}

// Lookup returns the named value and whether the sample carries it.
// Risk scorers use the presence bit so an absent metric contributes
// nothing even under an inverted weight term.
func (s Sample) Lookup(name string) (float64, bool) {
	if s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[name]
	return v, ok
}

// Set stores a value under name, allocating the map if needed.
func (s *Sample) Set(name string, v float64) {
	if s.Values == nil {
		s.Values = make(map[string]float64, 8)
	}
	s.Values[name] = v
}

// IsZero reports whether the sample carries no values at all.
func (s Sample) IsZero() bool {
	return len(s.Values) == 0
}

// Clone returns a deep copy. Samples cross the session boundary through
// callbacks, so the pipeline hands out copies rather than aliasing its
// own map.
func (s Sample) Clone() Sample {
	out := Sample{Timestamp: s.Timestamp, Modality: s.Modality}
	if s.Values != nil {
		out.Values = make(map[string]float64, len(s.Values))
		for k, v := range s.Values {
			out.Values[k] = v
		}
	}
	return out
}
