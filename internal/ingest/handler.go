package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/metric"
	"github.com/holocare/screening-gateway/internal/observability"
	"github.com/holocare/screening-gateway/internal/session"
	"github.com/holocare/screening-gateway/internal/store"
)

// persistTimeout bounds one assessment write, retries included.
const persistTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Capture clients connect cross-origin; deployments pin
		// origins at the edge proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler upgrades screening sockets and runs one session per
// connection.
type Handler struct {
	cfg   *config.Config
	cal   *config.Calibration
	store *store.Store
	log   zerolog.Logger
}

// NewHandler builds the socket endpoint. A nil store disables
// persistence.
func NewHandler(cfg *config.Config, cal *config.Calibration, st *store.Store) *Handler {
	return &Handler{
		cfg:   cfg,
		cal:   cal,
		store: st,
		log:   zlog.With().Str("component", "ingest").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	id := observability.NewSessionID()
	c := &conn{h: h, ws: ws, id: id, log: observability.WithSession(id)}

	sess, err := session.New(h.sessionOptions(id), c.callbacks())
	if err != nil {
		c.log.Error().Err(err).Msg("session setup failed")
		c.write(ServerEvent{Event: EventError, SessionID: id, Error: &ErrorPayload{Message: err.Error()}})
		return
	}
	c.sess = sess

	go sess.Run()
	c.log.Info().Str("remote", r.RemoteAddr).Msg("screening socket connected")

	c.readLoop()

	// A dropped socket abandons the run. Both calls are no-ops when
	// the loop already exited after a clean stop. The loop must be
	// down before the deferred close: callbacks write to this socket.
	sess.Abort()
	sess.Stop()
	<-sess.Done()
	c.log.Info().Msg("screening socket closed")
}

func (h *Handler) sessionOptions(id string) session.Options {
	return session.Options{
		ID:                    id,
		Calibration:           h.cal,
		FrameQueue:            h.cfg.FrameQueueSize,
		AudioQueue:            h.cfg.AudioQueueSize,
		VoiceAggregationEvery: h.cfg.VoiceAggregationEvery,
		Stage1Timeout:         h.cfg.Stage1Timeout(),
		Stage2Duration:        h.cfg.Stage2Duration(),
		Stage3Timeout:         h.cfg.Stage3Timeout(),
		Stage2SampleInterval:  h.cfg.Stage2SampleInterval(),
	}
}

// conn is one screening socket and its session.
type conn struct {
	h    *Handler
	ws   *websocket.Conn
	sess *session.Session
	id   string
	log  zerolog.Logger

	mu          sync.Mutex
	participant string
}

// readLoop pumps inbound events until the socket drops or the
// collaborator sends stop.
func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("socket read error")
			}
			return
		}

		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed event ignored")
			continue
		}
		if c.handle(ev) {
			return
		}
	}
}

func (c *conn) handle(ev ClientEvent) (quit bool) {
	switch ev.Event {
	case EventStart:
		participant, profile := "", ""
		if ev.Start != nil {
			participant, profile = ev.Start.Participant, ev.Start.Profile
		}
		c.mu.Lock()
		c.participant = participant
		c.mu.Unlock()
		c.log.Info().
			Str("participant", participant).
			Str("profile", profile).
			Msg("screening start requested")
		c.sess.Start()

	case EventFrame:
		if ev.Frame == nil {
			c.log.Warn().Msg("frame event missing payload")
			return false
		}
		if !c.sess.PushFrame(ev.Frame) {
			c.log.Debug().Msg("frame dropped")
		}

	case EventAudio:
		if ev.Audio == nil || ev.Audio.Spectrum == "" {
			c.log.Warn().Msg("audio event missing spectrum")
			return false
		}
		spectrum, err := base64.StdEncoding.DecodeString(ev.Audio.Spectrum)
		if err != nil {
			c.log.Warn().Err(err).Msg("audio spectrum is not valid base64")
			return false
		}
		if !c.sess.PushSpectrum(spectrum) {
			c.log.Debug().Msg("spectrum dropped")
		}

	case EventSpeech:
		if ev.Speech == nil {
			c.log.Warn().Msg("speech event missing payload")
			return false
		}
		c.sess.SetSpeechAccuracy(ev.Speech.Accuracy)

	case EventTask:
		if ev.Task == nil {
			c.log.Warn().Msg("task event missing payload")
			return false
		}
		c.sess.SetTaskResult(*ev.Task)

	case EventAdvance:
		c.sess.Advance()

	case EventAbort:
		c.sess.Abort()

	case EventStop:
		// Wait for the loop so the incomplete-stop error, if any, goes
		// out before the socket closes.
		c.sess.Stop()
		<-c.sess.Done()
		return true

	default:
		c.log.Warn().Str("event", ev.Event).Msg("unknown event ignored")
	}
	return false
}

// callbacks wires pipeline output onto the socket. They run on the
// session loop goroutine; nothing else writes while the loop is alive,
// so the socket has a single writer.
func (c *conn) callbacks() session.Callbacks {
	return session.Callbacks{
		OnMetrics: func(s metric.Sample) {
			c.write(ServerEvent{Event: EventMetrics, SessionID: c.id, Metrics: &s})
		},
		OnRisk: func(modality string, score float64) {
			c.write(ServerEvent{Event: EventRisk, SessionID: c.id, Risk: &RiskPayload{Modality: modality, Score: score}})
		},
		OnStage: func(r fusion.StageResult) {
			c.write(ServerEvent{Event: EventStage, SessionID: c.id, Stage: &r})
		},
		OnAssessment: func(a fusion.FinalAssessment) {
			c.persist(a)
			c.write(ServerEvent{Event: EventAssessment, SessionID: c.id, Assessment: &a})
		},
		OnError: func(err error) {
			c.write(ServerEvent{Event: EventError, SessionID: c.id, Error: &ErrorPayload{Message: err.Error()}})
		},
	}
}

// persist writes the finished run. Failures are reported and logged
// but never undo the completed assessment.
func (c *conn) persist(a fusion.FinalAssessment) {
	if c.h.store == nil {
		return
	}
	s1, s2, s3 := c.sess.StageResults()
	c.mu.Lock()
	participant := c.participant
	c.mu.Unlock()

	rec := store.Record{
		SessionID:   c.id,
		Participant: participant,
		StartedAt:   c.sess.StartedAt(),
		CompletedAt: a.CompletedAt,
		Stage1:      s1,
		Stage2:      s2,
		Stage3:      s3,
		Assessment:  a,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := c.h.store.Save(ctx, rec)
	observability.RecordStoreWrite(err == nil)
	if err != nil {
		c.log.Error().Err(err).Msg("assessment persist failed")
		c.write(ServerEvent{Event: EventError, SessionID: c.id, Error: &ErrorPayload{
			Message: "assessment not persisted: " + err.Error(),
		}})
		return
	}
	c.log.Info().Msg("assessment persisted")
}

func (c *conn) write(ev ServerEvent) {
	if err := c.ws.WriteJSON(ev); err != nil {
		c.log.Debug().Err(err).Str("event", ev.Event).Msg("event write failed")
	}
}
