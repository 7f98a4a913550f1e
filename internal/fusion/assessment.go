package fusion

import (
	"fmt"
	"sort"

	"github.com/holocare/screening-gateway/internal/crossval"
	"github.com/holocare/screening-gateway/internal/metric"
)

// Stage figure names used in strengths and areas-to-improve lists.
const (
	FigureSpeechClarity      = "speech clarity"
	FigureSpeechAccuracy     = "speech accuracy"
	FigureFacialStability    = "facial stability"
	FigureSpeechTemporal     = "speech consistency"
	FigureFacialTemporal     = "facial consistency"
	FigureAttentionStability = "attention stability"
	FigureHandSteadiness     = "hand steadiness"
	FigureGestureAccuracy    = "gesture accuracy"
	FigurePostureStability   = "posture stability"
)

// maxListed caps the strengths and areas-to-improve lists.
const maxListed = 3

// Finalize folds the three stage results into the final assessment and
// moves the protocol to complete. The optional cross-validation summary
// supplies the redundancy term; confidence without it stays neutral.
// Returns ErrIncomplete while any stage result is missing.
func (e *Engine) Finalize(summary *crossval.TemporalFeatures) (*FinalAssessment, error) {
	if e.stage1 == nil || e.stage2 == nil || e.stage3 == nil {
		return nil, fmt.Errorf("%w: have stage1=%t stage2=%t stage3=%t",
			ErrIncomplete, e.stage1 != nil, e.stage2 != nil, e.stage3 != nil)
	}

	w := e.cfg.Composites
	speech := metric.Clamp01(w.SpeechClarity*e.stage1.SpeechClarity +
		w.SpeechAccuracy*e.stage1.SpeechAccuracy +
		w.SpeechTemporal*e.stage2.SpeechTemporal)
	face := metric.Clamp01(w.FaceStability*e.stage1.FacialStability +
		w.FaceTemporal*e.stage2.FacialTemporal +
		w.FaceAttention*e.stage2.AttentionStability)
	body := metric.Clamp01(w.BodySteadiness*e.stage3.HandSteadiness +
		w.BodyGesture*e.stage3.GestureAccuracy +
		w.BodyPosture*e.stage3.PostureStability)

	redundancy := 0.5
	if summary != nil && summary.OK {
		redundancy = metric.Clamp01(summary.AvgConfidence)
	}

	ow := e.cfg.Overall
	overall := metric.Clamp01(ow.Speech*speech + ow.Face*face +
		ow.Body*body + ow.Redundancy*redundancy)

	strengths, areas := e.classifyFigures()
	label := e.cfg.label(overall)

	confidence := metric.Clamp01(0.5*e.stage1.Confidence +
		0.3*e.bufferRatio + 0.2*e.taskCompletion)

	assessment := &FinalAssessment{
		OverallScore:     overall,
		PerformanceLabel: label,
		Strengths:        strengths,
		AreasToImprove:   areas,
		Summary:          summaryText(label, areas),
		Confidence:       confidence,
		ModalityScores:   ModalityScores{Speech: speech, Face: face, Body: body},
		CompletedAt:      e.clock.Now(),
	}
	e.state = StateComplete
	return assessment, nil
}

type figure struct {
	name  string
	value float64
}

// classifyFigures ranks the nine named stage figures into strengths
// (>= StrengthMin, best first) and areas to improve (< ImproveMax,
// worst first), up to three each. Ties order by name so reports are
// deterministic.
func (e *Engine) classifyFigures() (strengths, areas []string) {
	figures := []figure{
		{FigureSpeechClarity, e.stage1.SpeechClarity},
		{FigureSpeechAccuracy, e.stage1.SpeechAccuracy},
		{FigureFacialStability, e.stage1.FacialStability},
		{FigureSpeechTemporal, e.stage2.SpeechTemporal},
		{FigureFacialTemporal, e.stage2.FacialTemporal},
		{FigureAttentionStability, e.stage2.AttentionStability},
		{FigureHandSteadiness, e.stage3.HandSteadiness},
		{FigureGestureAccuracy, e.stage3.GestureAccuracy},
		{FigurePostureStability, e.stage3.PostureStability},
	}

	var high, low []figure
	for _, f := range figures {
		switch {
		case f.value >= e.cfg.StrengthMin:
			high = append(high, f)
		case f.value < e.cfg.ImproveMax:
			low = append(low, f)
		}
	}

	sort.Slice(high, func(i, j int) bool {
		if high[i].value != high[j].value {
			return high[i].value > high[j].value
		}
		return high[i].name < high[j].name
	})
	sort.Slice(low, func(i, j int) bool {
		if low[i].value != low[j].value {
			return low[i].value < low[j].value
		}
		return low[i].name < low[j].name
	})

	if len(high) > maxListed {
		high = high[:maxListed]
	}
	if len(low) > maxListed {
		low = low[:maxListed]
	}
	for _, f := range high {
		strengths = append(strengths, f.name)
	}
	for _, f := range low {
		areas = append(areas, f.name)
	}
	return strengths, areas
}

var labelPhrases = map[Label]string{
	LabelExcellent:      "excellent",
	LabelGood:           "good",
	LabelModerate:       "moderate",
	LabelNeedsAttention: "below target",
}

// summaryText renders one of four fixed templates, chosen by how many
// areas were flagged.
func summaryText(label Label, areas []string) string {
	phrase := labelPhrases[label]
	switch len(areas) {
	case 0:
		return fmt.Sprintf("Performance was %s across speech, facial and motor tasks, with no areas flagged for improvement.", phrase)
	case 1:
		return fmt.Sprintf("Performance was %s overall; %s was the main area flagged for improvement.", phrase, areas[0])
	case 2:
		return fmt.Sprintf("Performance was %s overall; %s and %s were flagged for improvement.", phrase, areas[0], areas[1])
	default:
		return fmt.Sprintf("Performance was %s overall, with improvement flagged across %s, %s and %s.", phrase, areas[0], areas[1], areas[2])
	}
}
