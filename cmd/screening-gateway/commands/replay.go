package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/ingest"
	"github.com/holocare/screening-gateway/internal/observability"
	"github.com/holocare/screening-gateway/internal/resilience"
	"github.com/holocare/screening-gateway/internal/session"
	"github.com/holocare/screening-gateway/internal/store"
)

var replayPersist bool

// replayLine is one capture line: an offset from run start plus one
// protocol event.
type replayLine struct {
	At    string             `json:"at"`
	Event ingest.ClientEvent `json:"event"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <capture.jsonl>",
	Short: "Feed a recorded capture through the pipeline on virtual time",
	Long: `Replay a JSONL capture. Each line holds an offset from run start and
one protocol event:

  {"at":"0s","event":{"event":"start","start":{"participant":"p-17"}}}
  {"at":"120ms","event":{"event":"frame","frame":{...}}}
  {"at":"140ms","event":{"event":"audio","audio":{"spectrum":"<base64>"}}}
  {"at":"20s","event":{"event":"advance"}}

The pipeline runs on a virtual clock: stage windows and sampling ticks
fire at the recorded offsets, so a capture replays in milliseconds and
fuses the same assessment every time. The assessment prints as JSON;
--persist also writes it to the configured store.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "write the assessment to the configured store")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	cal, err := config.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	clk := fusion.NewManualClock(time.Now())

	var completed atomic.Bool
	sess, err := session.New(session.Options{
		Calibration:           &cal,
		Clock:                 clk,
		FrameQueue:            cfg.FrameQueueSize,
		AudioQueue:            cfg.AudioQueueSize,
		VoiceAggregationEvery: cfg.VoiceAggregationEvery,
		Stage1Timeout:         cfg.Stage1Timeout(),
		Stage2Duration:        cfg.Stage2Duration(),
		Stage3Timeout:         cfg.Stage3Timeout(),
		Stage2SampleInterval:  cfg.Stage2SampleInterval(),
	}, session.Callbacks{
		OnStage: func(r fusion.StageResult) {
			logger.Info().Int("stage", r.Stage).Msg("stage complete")
		},
		OnAssessment: func(fusion.FinalAssessment) {
			completed.Store(true)
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("pipeline error")
		},
	})
	if err != nil {
		return err
	}
	go sess.Run()
	defer func() {
		sess.Stop()
		<-sess.Done()
	}()

	r := &replayer{sess: sess, clk: clk, step: cfg.Stage2SampleInterval()}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	lineNo := 0
	stopped := false
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line replayLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("capture line %d: %w", lineNo, err)
		}
		if err := r.seek(line.At); err != nil {
			return fmt.Errorf("capture line %d: %w", lineNo, err)
		}

		done, err := r.dispatch(line.Event)
		if err != nil {
			return fmt.Errorf("capture line %d: %w", lineNo, err)
		}
		if done {
			stopped = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	// The capture may lean on stage timers past its last event; run the
	// clock out until the protocol finishes or the stage budget is gone.
	if !stopped {
		sess.Barrier()
		budget := cfg.Stage1Timeout() + cfg.Stage2Duration() + cfg.Stage3Timeout()
		for waited := time.Duration(0); waited < budget && !completed.Load(); waited += r.step {
			r.advance(r.step)
		}
	}

	sess.Stop()
	<-sess.Done()

	a := sess.Assessment()
	if a == nil {
		return fmt.Errorf("capture ended without a completed assessment (%d frames, %d spectra)", r.frames, r.spectra)
	}

	logger.Info().
		Int("frames", r.frames).
		Int("spectra", r.spectra).
		Float64("overall", a.OverallScore).
		Str("label", string(a.PerformanceLabel)).
		Msg("replay complete")

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if replayPersist {
		if err := persistReplay(cfg, sess, a, r.participant); err != nil {
			return err
		}
		logger.Info().Str("session_id", sess.ID()).Msg("assessment persisted")
	}
	return nil
}

// replayer feeds capture events into a session over a manual clock.
type replayer struct {
	sess *session.Session
	clk  *fusion.ManualClock
	step time.Duration

	elapsed     time.Duration
	frames      int
	spectra     int
	participant string
}

// seek moves virtual time to the given offset. The clock advances in
// sampling-interval steps with a barrier after each, so ticks re-armed
// by the loop land before time passes their deadline.
func (r *replayer) seek(at string) error {
	if at == "" {
		return nil
	}
	target, err := time.ParseDuration(at)
	if err != nil {
		return fmt.Errorf("offset %q: %w", at, err)
	}
	if target <= r.elapsed {
		return nil
	}
	r.sess.Barrier()
	r.advance(target - r.elapsed)
	return nil
}

func (r *replayer) advance(delta time.Duration) {
	for delta > 0 {
		d := r.step
		if d > delta {
			d = delta
		}
		r.clk.Advance(d)
		r.sess.Barrier()
		r.elapsed += d
		delta -= d
	}
}

func (r *replayer) dispatch(ev ingest.ClientEvent) (done bool, err error) {
	switch ev.Event {
	case ingest.EventStart:
		if ev.Start != nil {
			r.participant = ev.Start.Participant
		}
		r.sess.Start()

	case ingest.EventFrame:
		if ev.Frame == nil {
			return false, errors.New("frame event missing payload")
		}
		r.frames++
		if !r.sess.PushFrame(ev.Frame) {
			// Queue full: drain and retry so a replay never drops input.
			r.sess.Barrier()
			r.sess.PushFrame(ev.Frame)
		}

	case ingest.EventAudio:
		if ev.Audio == nil {
			return false, errors.New("audio event missing payload")
		}
		spectrum, err := base64.StdEncoding.DecodeString(ev.Audio.Spectrum)
		if err != nil {
			return false, fmt.Errorf("audio spectrum: %w", err)
		}
		r.spectra++
		if !r.sess.PushSpectrum(spectrum) {
			r.sess.Barrier()
			r.sess.PushSpectrum(spectrum)
		}

	case ingest.EventSpeech:
		if ev.Speech == nil {
			return false, errors.New("speech event missing payload")
		}
		r.sess.SetSpeechAccuracy(ev.Speech.Accuracy)

	case ingest.EventTask:
		if ev.Task == nil {
			return false, errors.New("task event missing payload")
		}
		r.sess.SetTaskResult(*ev.Task)

	case ingest.EventAdvance:
		r.sess.Advance()

	case ingest.EventAbort:
		r.sess.Abort()

	case ingest.EventStop:
		return true, nil

	default:
		return false, fmt.Errorf("unknown event %q", ev.Event)
	}
	return false, nil
}

func persistReplay(cfg *config.Config, sess *session.Session, a *fusion.FinalAssessment, participant string) error {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = cfg.RetryBackoff()

	st, err := store.Open(store.Options{
		Dir:      cfg.DataDir,
		InMemory: cfg.StoreInMemory,
		Retry:    retry,
		Logger:   observability.GetLogger().With().Str("component", "store").Logger(),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	s1, s2, s3 := sess.StageResults()
	rec := store.Record{
		SessionID:   sess.ID(),
		Participant: participant,
		StartedAt:   sess.StartedAt(),
		CompletedAt: a.CompletedAt,
		Stage1:      s1,
		Stage2:      s2,
		Stage3:      s3,
		Assessment:  *a,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.Save(ctx, rec); err != nil {
		observability.RecordStoreWrite(false)
		return fmt.Errorf("persist assessment: %w", err)
	}
	observability.RecordStoreWrite(true)
	return nil
}
