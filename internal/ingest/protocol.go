// Package ingest speaks the collaborator-facing JSON event protocol:
// one WebSocket per screening session, inbound capture events in,
// outbound pipeline events back.
package ingest

import (
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Inbound event names.
const (
	EventStart   = "start"
	EventFrame   = "frame"
	EventAudio   = "audio"
	EventSpeech  = "speech"
	EventTask    = "task"
	EventAdvance = "advance"
	EventAbort   = "abort"
	EventStop    = "stop"
)

// Outbound event names.
const (
	EventMetrics    = "metrics"
	EventRisk       = "risk"
	EventStage      = "stage"
	EventAssessment = "assessment"
	EventError      = "error"
)

// ClientEvent is one inbound message. Event selects which payload
// pointer is read; the others are ignored.
type ClientEvent struct {
	Event  string             `json:"event"`
	Start  *StartPayload      `json:"start,omitempty"`
	Frame  *landmark.Frame    `json:"frame,omitempty"`
	Audio  *AudioPayload      `json:"audio,omitempty"`
	Speech *SpeechPayload     `json:"speech,omitempty"`
	Task   *fusion.TaskResult `json:"task,omitempty"`
}

// StartPayload carries collaborator metadata for the run. Participant
// is an opaque reference recorded alongside the assessment; Profile
// names the capture profile for the logs.
type StartPayload struct {
	Participant string `json:"participant,omitempty"`
	Profile     string `json:"profile,omitempty"`
}

// AudioPayload carries one frequency-domain chunk, base64 over one
// byte per bin (0-255).
type AudioPayload struct {
	Spectrum string `json:"spectrum"`
}

// SpeechPayload carries the externally measured guided-speech
// accuracy, 0-1.
type SpeechPayload struct {
	Accuracy float64 `json:"accuracy"`
}

// ServerEvent is one outbound message. Exactly one payload pointer is
// set, matching Event.
type ServerEvent struct {
	Event      string                  `json:"event"`
	SessionID  string                  `json:"sessionId"`
	Metrics    *metric.Sample          `json:"metrics,omitempty"`
	Risk       *RiskPayload            `json:"risk,omitempty"`
	Stage      *fusion.StageResult     `json:"stage,omitempty"`
	Assessment *fusion.FinalAssessment `json:"assessment,omitempty"`
	Error      *ErrorPayload           `json:"error,omitempty"`
}

// RiskPayload is one live risk reading for a modality.
type RiskPayload struct {
	Modality string  `json:"modality"`
	Score    float64 `json:"score"`
}

// ErrorPayload carries a protocol or pipeline error message.
type ErrorPayload struct {
	Message string `json:"message"`
}
