package fusion

import (
	"time"

	"github.com/holocare/screening-gateway/internal/crossval"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Level buckets a continuous 0-1 figure for display (tremor, fatigue).
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// MotorLevel buckets the stage-3 motor control average.
type MotorLevel string

const (
	MotorStable   MotorLevel = "stable"
	MotorVariable MotorLevel = "variable"
	MotorUnstable MotorLevel = "unstable"
)

// Label is the overall performance bucket of a finished assessment.
type Label string

const (
	LabelExcellent      Label = "excellent"
	LabelGood           Label = "good"
	LabelModerate       Label = "moderate"
	LabelNeedsAttention Label = "needs-attention"
)

// Stage1Inputs carries the snapshot material for the guided-speech
// stage. Nil samples mean the modality produced nothing yet; the
// formulas then read zero signal and the confidence boost is withheld.
type Stage1Inputs struct {
	Face  *metric.Sample
	Voice *metric.Sample

	// FaceRisk and VoiceRisk are the modality risk scores at stage
	// end, recorded on the result for the reporting collaborator.
	FaceRisk  float64
	VoiceRisk float64

	// CrossCheck is the optional cross-validation snapshot; its
	// confidence boosts stage confidence by up to +0.4.
	CrossCheck *crossval.FrameCheck

	// SpeechAccuracy is supplied externally (transcript matching is a
	// collaborator concern) and passed through, 0-1.
	SpeechAccuracy float64
}

// Stage1Result is the guided-speech snapshot outcome. All score fields
// are 0-1.
type Stage1Result struct {
	SpeechClarity    float64   `json:"speechClarity"`
	SpeechAccuracy   float64   `json:"speechAccuracy"`
	FacialStability  float64   `json:"facialStability"`
	MicroTremorLevel Level     `json:"microTremorLevel"`
	Confidence       float64   `json:"confidence"`
	FaceRisk         float64   `json:"faceRisk"`
	VoiceRisk        float64   `json:"voiceRisk"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Stage2Result is the temporal-window outcome. Score fields are 0-1.
type Stage2Result struct {
	SpeechTemporal     float64   `json:"speechTemporal"`
	FacialTemporal     float64   `json:"facialTemporal"`
	AttentionStability float64   `json:"attentionStability"`
	FatigueLevel       Level     `json:"fatigueLevel"`
	CompletedAt        time.Time `json:"completedAt"`
}

// TaskResult reports a guided motor task from the collaborator. Tremor
// is the task-measured tremor amplitude (0-1), GestureAccuracies are
// per-gesture scores (0-1), Coordination is an overall task score used
// when no per-gesture values exist; zero means not measured.
type TaskResult struct {
	Tremor            float64   `json:"tremor"`
	GestureAccuracies []float64 `json:"gestureAccuracies,omitempty"`
	Coordination      float64   `json:"coordination,omitempty"`
	Completed         bool      `json:"completed"`
}

// Stage3Inputs carries the motor-stage material: the latest body
// sample, the optional guided task result, and the optional
// cross-validation temporal summary for the posture blend.
type Stage3Inputs struct {
	Body  *metric.Sample
	Task  *TaskResult
	Cross *crossval.TemporalFeatures
}

// Stage3Result is the motor-stage outcome. HandSteadiness inverts the
// live tremor reading, so higher is steadier; all score fields are 0-1.
type Stage3Result struct {
	HandSteadiness    float64    `json:"handSteadiness"`
	GestureAccuracy   float64    `json:"gestureAccuracy"`
	PostureStability  float64    `json:"postureStability"`
	MotorControlLevel MotorLevel `json:"motorControlLevel"`
	CompletedAt       time.Time  `json:"completedAt"`
}

// ModalityScores are the per-modality composites of a finished
// assessment, 0-1 each.
type ModalityScores struct {
	Speech float64 `json:"speech"`
	Face   float64 `json:"face"`
	Body   float64 `json:"body"`
}

// FinalAssessment is the one immutable report produced per completed
// session.
type FinalAssessment struct {
	OverallScore     float64        `json:"overallScore"`
	PerformanceLabel Label          `json:"performanceLabel"`
	Strengths        []string       `json:"strengths"`
	AreasToImprove   []string       `json:"areasToImprove"`
	Summary          string         `json:"summary"`
	Confidence       float64        `json:"confidence"`
	ModalityScores   ModalityScores `json:"modalityScores"`
	CompletedAt      time.Time      `json:"completedAt"`
}

// StageResult is the tagged union sent on stage callbacks and the
// wire: exactly one of the three pointers is set.
type StageResult struct {
	Stage  int           `json:"stage"`
	Stage1 *Stage1Result `json:"stage1,omitempty"`
	Stage2 *Stage2Result `json:"stage2,omitempty"`
	Stage3 *Stage3Result `json:"stage3,omitempty"`
}
