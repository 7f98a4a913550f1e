package ingest

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holocare/screening-gateway/internal/config"
	"github.com/holocare/screening-gateway/internal/fusion"
	"github.com/holocare/screening-gateway/internal/landmark"
	"github.com/holocare/screening-gateway/internal/store"
)

// testConfig shrinks the stage-2 window so socket tests run on the
// wall clock without multi-second waits.
func testConfig() *config.Config {
	return &config.Config{
		FrameQueueSize:        16,
		AudioQueueSize:        16,
		VoiceAggregationEvery: 3,
		Stage1MaxSeconds:      5,
		Stage2Seconds:         1,
		Stage3MaxSeconds:      5,
		Stage2SampleMillis:    50,
	}
}

// newTestConn serves the handler over httptest and dials one
// screening socket against it.
func newTestConn(t *testing.T) (*store.Store, *websocket.Conn) {
	t.Helper()

	st, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cal := config.DefaultCalibration()
	srv := httptest.NewServer(NewHandler(testConfig(), &cal, st))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return st, ws
}

func testFrame() *landmark.Frame {
	face := make([]landmark.Keypoint, landmark.FaceIrisPoints)
	for i := range face {
		face[i] = landmark.Keypoint{X: 0.5, Y: 0.5}
	}
	pose := make([]landmark.Keypoint, landmark.PosePoints)
	for i := range pose {
		pose[i] = landmark.Keypoint{X: 0.5, Y: 0.5}
	}
	pose[landmark.PoseLeftShoulder] = landmark.Keypoint{X: 0.4, Y: 0.35}
	pose[landmark.PoseRightShoulder] = landmark.Keypoint{X: 0.6, Y: 0.35}
	pose[landmark.PoseLeftHip] = landmark.Keypoint{X: 0.46, Y: 0.65}
	pose[landmark.PoseRightHip] = landmark.Keypoint{X: 0.54, Y: 0.65}
	return &landmark.Frame{Timestamp: time.Now(), Face: face, Pose: pose}
}

func spectrumB64() string {
	spectrum := make([]byte, 64)
	for i := range spectrum {
		spectrum[i] = 10
	}
	spectrum[7] = 200
	return base64.StdEncoding.EncodeToString(spectrum)
}

func send(t *testing.T, ws *websocket.Conn, ev ClientEvent) {
	t.Helper()
	if err := ws.WriteJSON(ev); err != nil {
		t.Fatalf("write %s event: %v", ev.Event, err)
	}
}

// readUntil skips the metrics/risk stream until the wanted event kind
// arrives. An unexpected error event fails the test.
func readUntil(t *testing.T, ws *websocket.Conn, kind string) ServerEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev ServerEvent
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s event: %v", kind, err)
		}
		if ev.Event == kind {
			return ev
		}
		if ev.Event == EventError && kind != EventError {
			t.Fatalf("unexpected error event: %s", ev.Error.Message)
		}
	}
}

func TestHandler_FullScreeningOverSocket(t *testing.T) {
	st, ws := newTestConn(t)

	send(t, ws, ClientEvent{Event: EventStart, Start: &StartPayload{
		Participant: "participant-17",
		Profile:     "clinic-default",
	}})
	send(t, ws, ClientEvent{Event: EventFrame, Frame: testFrame()})
	for i := 0; i < 9; i++ {
		send(t, ws, ClientEvent{Event: EventAudio, Audio: &AudioPayload{Spectrum: spectrumB64()}})
	}
	send(t, ws, ClientEvent{Event: EventSpeech, Speech: &SpeechPayload{Accuracy: 0.85}})
	send(t, ws, ClientEvent{Event: EventAdvance})

	s1 := readUntil(t, ws, EventStage)
	if s1.Stage == nil || s1.Stage.Stage != 1 || s1.Stage.Stage1 == nil {
		t.Fatalf("first stage event = %+v, want stage 1", s1.Stage)
	}
	if s1.Stage.Stage1.SpeechAccuracy != 0.85 {
		t.Errorf("SpeechAccuracy = %v, want 0.85", s1.Stage.Stage1.SpeechAccuracy)
	}
	if s1.SessionID == "" {
		t.Error("stage event missing session ID")
	}

	// Stage 2 ends on its own window timer.
	s2 := readUntil(t, ws, EventStage)
	if s2.Stage == nil || s2.Stage.Stage != 2 {
		t.Fatalf("second stage event = %+v, want stage 2", s2.Stage)
	}

	send(t, ws, ClientEvent{Event: EventTask, Task: &fusion.TaskResult{
		Tremor:            0.1,
		GestureAccuracies: []float64{0.9},
		Completed:         true,
	}})
	send(t, ws, ClientEvent{Event: EventAdvance})

	s3 := readUntil(t, ws, EventStage)
	if s3.Stage == nil || s3.Stage.Stage != 3 {
		t.Fatalf("third stage event = %+v, want stage 3", s3.Stage)
	}

	a := readUntil(t, ws, EventAssessment)
	if a.Assessment == nil {
		t.Fatal("assessment event missing payload")
	}
	if a.Assessment.OverallScore <= 0 || a.Assessment.OverallScore > 1 {
		t.Errorf("OverallScore = %v, want in (0,1]", a.Assessment.OverallScore)
	}

	// Persisted before the assessment event went out.
	rec, err := st.Get(context.Background(), a.SessionID)
	if err != nil {
		t.Fatalf("Get(%s): %v", a.SessionID, err)
	}
	if rec.Participant != "participant-17" {
		t.Errorf("Participant = %q, want participant-17", rec.Participant)
	}
	if rec.Stage1 == nil || rec.Stage2 == nil || rec.Stage3 == nil {
		t.Error("persisted record missing stage results")
	}

	// A clean stop closes the socket without further errors.
	send(t, ws, ClientEvent{Event: EventStop})
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev ServerEvent
		if err := ws.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Event == EventError {
			t.Errorf("unexpected error event after stop: %s", ev.Error.Message)
		}
	}
}

func TestHandler_MalformedEventsDoNotKillSocket(t *testing.T) {
	_, ws := newTestConn(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{definitely not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	send(t, ws, ClientEvent{Event: "bogus"})
	send(t, ws, ClientEvent{Event: EventFrame})                                        // missing payload
	send(t, ws, ClientEvent{Event: EventAudio, Audio: &AudioPayload{Spectrum: "!!"}}) // bad base64

	// The session still works afterwards.
	send(t, ws, ClientEvent{Event: EventStart})
	send(t, ws, ClientEvent{Event: EventAdvance})
	ev := readUntil(t, ws, EventStage)
	if ev.Stage == nil || ev.Stage.Stage != 1 {
		t.Errorf("stage event after malformed input = %+v, want stage 1", ev.Stage)
	}
}

func TestHandler_StopBeforeCompleteReportsIncomplete(t *testing.T) {
	st, ws := newTestConn(t)

	send(t, ws, ClientEvent{Event: EventStart})
	send(t, ws, ClientEvent{Event: EventStop})

	ev := readUntil(t, ws, EventError)
	if !strings.Contains(ev.Error.Message, "incomplete") {
		t.Errorf("error message = %q, want the incomplete sentinel text", ev.Error.Message)
	}

	// No assessment follows; the socket closes.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var out ServerEvent
		if err := ws.ReadJSON(&out); err != nil {
			break
		}
		if out.Event == EventAssessment {
			t.Error("assessment event after an early stop")
		}
	}

	recs, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("store holds %d records after an early stop, want 0", len(recs))
	}
}

func TestHandler_SocketDropAbandonsRun(t *testing.T) {
	st, ws := newTestConn(t)

	send(t, ws, ClientEvent{Event: EventStart})
	send(t, ws, ClientEvent{Event: EventFrame, Frame: testFrame()})
	ws.Close()

	// Give the handler a moment to notice the drop and abort.
	time.Sleep(200 * time.Millisecond)

	recs, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("store holds %d records after a socket drop, want 0", len(recs))
	}
}
