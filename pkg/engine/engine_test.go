package engine_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/engine"
	"github.com/krishnanand20/audiosurvey-ai/pkg/gateway"
	"github.com/krishnanand20/audiosurvey-ai/pkg/kv"
	"github.com/krishnanand20/audiosurvey-ai/pkg/media"
	"github.com/krishnanand20/audiosurvey-ai/pkg/pipeline"
	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
	"github.com/krishnanand20/audiosurvey-ai/pkg/speech"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

type harness struct {
	engine   *engine.Engine
	gw       *gateway.Simulated
	sessions *store.Store
	media    *media.Local

	recAt time.Time
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func newHarness(t *testing.T, mutate func(*engine.Config)) *harness {
	t.Helper()
	kvs := kv.NewMemory()
	t.Cleanup(func() { kvs.Close() })
	m, err := media.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	caps := pipeline.Capabilities{
		Transcriber: speech.TranscribeFunc(func(_ context.Context, audio io.Reader, _ string) (string, error) {
			b, _ := io.ReadAll(audio)
			return string(b), nil
		}),
		Detector: speech.DetectFunc(func(context.Context, string) (string, error) {
			return "sw", nil
		}),
		Translator: speech.TranslateFunc(func(_ context.Context, text, _ string) (string, error) {
			return "en: " + text, nil
		}),
		Synthesizer: speech.SynthesizeFunc(func(context.Context, string, string) ([]byte, error) {
			return []byte("audio"), nil
		}),
	}

	cfg := engine.Config{
		Workers:      2,
		CASRetry:     retry.Policy{MaxAttempts: 5, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
		GatewayRetry: fastPolicy(),
		Pipeline:     pipeline.Config{Retry: fastPolicy()},
		ClosingText:  "Thank you for your time.",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		gw:       gateway.NewSimulated(),
		sessions: store.New(kvs),
		media:    m,
	}
	// fetcher nil: recording URLs double as media-store paths in tests.
	h.engine = engine.New(h.sessions, h.gw, h.media, nil, caps, cfg, nil)
	t.Cleanup(h.engine.Close)
	return h
}

func questions(n int) []survey.Question {
	qs := make([]survey.Question, n)
	for i := range qs {
		qs[i] = survey.Question{Index: i, PromptText: fmt.Sprintf("Question %d?", i+1)}
	}
	return qs
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func (h *harness) phase(t *testing.T, id string) survey.Phase {
	t.Helper()
	s, err := h.engine.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s.Phase
}

func (h *harness) waitPhase(t *testing.T, id string, want survey.Phase) *survey.Session {
	t.Helper()
	waitFor(t, fmt.Sprintf("phase %s", want), func() bool { return h.phase(t, id) == want })
	s, _ := h.engine.Snapshot(context.Background(), id)
	return s
}

// answer stores recording audio and delivers the recording callback for
// the session's current question. Callback timestamps advance strictly,
// the way a real gateway's do.
func (h *harness) answer(t *testing.T, s *survey.Session, spoken string) {
	t.Helper()
	ctx := context.Background()
	path := fmt.Sprintf("recordings/%s/q%d.wav", s.ID, s.CurrentQuestion)
	if err := media.PutBytes(ctx, h.media, path, []byte(spoken)); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if h.recAt.IsZero() {
		h.recAt = time.Now()
	}
	h.recAt = h.recAt.Add(time.Second)
	h.engine.HandleCallback(survey.RecordingAvailable{
		GatewayCallID: s.GatewayCallID,
		RecordingURL:  path,
		At:            h.recAt,
	}, false, "")
}

func TestOutboundSurveyEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550100",
		Questions:   questions(2),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Phase != survey.PhaseDialing {
		t.Fatalf("new session phase = %s", s.Phase)
	}

	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: time.Now()}, false, "")
	cur := h.waitPhase(t, s.ID, survey.PhaseAwaitingRecording)

	h.answer(t, cur, "yes I am doing well")
	waitFor(t, "question 1", func() bool {
		snap, _ := h.engine.Snapshot(ctx, s.ID)
		return snap.CurrentQuestion == 1 && snap.Phase == survey.PhaseAwaitingRecording
	})
	cur, _ = h.engine.Snapshot(ctx, s.ID)

	h.answer(t, cur, "twice a week usually")
	final := h.waitPhase(t, s.ID, survey.PhaseComplete)

	if final.Outcome != survey.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", final.Outcome)
	}
	if !final.Engaged {
		t.Fatalf("session not marked engaged")
	}
	for i := 0; i < 2; i++ {
		rec := final.Answer(i)
		if rec == nil || rec.Transcript == "" || rec.TranslatedTranscript == "" || rec.SynthesizedAudioURI == "" {
			t.Fatalf("answer %d incomplete: %+v", i, rec)
		}
	}

	// Gateway commands run after the transition commits; give them a beat.
	waitFor(t, "call teardown", func() bool {
		c := h.gw.Call(s.GatewayCallID)
		return c != nil && c.Ended && len(c.Played) == 3
	})
	call := h.gw.Call(s.GatewayCallID)
	if call.Recordings != 2 {
		t.Fatalf("recordings started = %d, want 2", call.Recordings)
	}
	if call.Played[0].Text != "Question 1?" || call.Played[1].Text != "Question 2?" {
		t.Fatalf("prompt order wrong: %+v", call.Played)
	}
	if call.Played[2].Text != "Thank you for your time." {
		t.Fatalf("closing prompt = %q", call.Played[2].Text)
	}
}

func TestSilenceWindowAdvancesWithEmptyAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *engine.Config) {
		c.SilenceWindow = 40 * time.Millisecond
	})

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550101",
		Questions:   questions(2),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: time.Now()}, false, "")

	// Say nothing; both silence windows elapse and the survey completes
	// without engagement.
	final := h.waitPhase(t, s.ID, survey.PhaseComplete)
	if final.Outcome != survey.OutcomeNoEngagement {
		t.Fatalf("outcome = %s, want no-engagement", final.Outcome)
	}
	for i := 0; i < 2; i++ {
		rec := final.Answer(i)
		if rec == nil || !rec.Empty {
			t.Fatalf("answer %d not marked empty: %+v", i, rec)
		}
		if !rec.Settled() {
			t.Fatalf("answer %d stages not settled", i)
		}
	}
}

func TestHangupMidSurvey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550102",
		Questions:   questions(3),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: time.Now()}, false, "")
	cur := h.waitPhase(t, s.ID, survey.PhaseAwaitingRecording)

	h.answer(t, cur, "yes definitely I agree")
	waitFor(t, "question 1", func() bool {
		snap, _ := h.engine.Snapshot(ctx, s.ID)
		return snap.CurrentQuestion == 1
	})

	h.engine.HandleCallback(survey.CallEnded{
		GatewayCallID: s.GatewayCallID,
		Status:        survey.EndCompleted,
		At:            time.Now(),
	}, false, "")

	final := h.waitPhase(t, s.ID, survey.PhaseFailed)
	if final.Outcome != survey.OutcomeHangup {
		t.Fatalf("outcome = %s, want hangup", final.Outcome)
	}
}

func TestStaleCallbackDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550103",
		Questions:   questions(1),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	answered := time.Now()
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: answered}, false, "")
	h.waitPhase(t, s.ID, survey.PhaseAwaitingRecording)

	// A reordered end-of-call callback from before the answer must not
	// tear the session down.
	h.engine.HandleCallback(survey.CallEnded{
		GatewayCallID: s.GatewayCallID,
		Status:        survey.EndFailed,
		At:            answered.Add(-time.Minute),
	}, false, "")
	time.Sleep(50 * time.Millisecond)
	if got := h.phase(t, s.ID); got != survey.PhaseAwaitingRecording {
		t.Fatalf("stale callback applied, phase = %s", got)
	}

	h.engine.HandleCallback(survey.CallEnded{
		GatewayCallID: s.GatewayCallID,
		Status:        survey.EndFailed,
		At:            time.Now(),
	}, false, "")
	final := h.waitPhase(t, s.ID, survey.PhaseFailed)
	if final.Outcome != survey.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", final.Outcome)
	}
}

func TestAbortTearsDownCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550104",
		Questions:   questions(2),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: time.Now()}, false, "")
	h.waitPhase(t, s.ID, survey.PhaseAwaitingRecording)

	if err := h.engine.Abort(ctx, s.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	final := h.waitPhase(t, s.ID, survey.PhaseAborted)
	if final.Outcome != survey.OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", final.Outcome)
	}
	waitFor(t, "leg torn down", func() bool {
		call := h.gw.Call(s.GatewayCallID)
		return call != nil && call.Ended && call.Stopped >= 1
	})
}

func TestAbortUnknownSession(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.Abort(context.Background(), "no-such-session"); err == nil {
		t.Fatalf("Abort of unknown session succeeded")
	}
}

func TestUnknownCallbackDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: "GHOST", At: time.Now()}, false, "")
	time.Sleep(50 * time.Millisecond)

	sessions, err := h.engine.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("unknown callback created %d sessions", len(sessions))
	}
}

func TestInboundCallCreatesSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *engine.Config) {
		c.InboundQuestions = questions(1)
	})

	// Stand up a leg the simulated gateway knows about, then treat its
	// first callback as an inbound call.
	callID, err := h.gw.PlaceCall(ctx, "+15550105")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: callID, At: time.Now()}, true, "+15550105")

	var id string
	waitFor(t, "inbound session", func() bool {
		sessions, err := h.engine.Sessions(ctx)
		if err != nil || len(sessions) != 1 {
			return false
		}
		id = sessions[0].ID
		return sessions[0].Phase == survey.PhaseAwaitingRecording
	})
	s, _ := h.engine.Snapshot(ctx, id)
	if s.Direction != survey.DirectionInbound {
		t.Fatalf("direction = %s", s.Direction)
	}
	if s.Destination != "+15550105" {
		t.Fatalf("caller = %q", s.Destination)
	}
	if len(s.Questions) != 1 {
		t.Fatalf("questions = %d", len(s.Questions))
	}

	// Duplicate delivery of the same first callback must not create a
	// second session.
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: callID, At: time.Now()}, true, "+15550105")
	time.Sleep(50 * time.Millisecond)
	sessions, _ := h.engine.Sessions(ctx)
	if len(sessions) != 1 {
		t.Fatalf("duplicate callback created %d sessions", len(sessions))
	}
}

func TestDuplicateRecordingCallbackIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	s, err := h.engine.CreateSession(ctx, engine.CreateParams{
		Destination: "+15550106",
		Questions:   questions(2),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	h.engine.HandleCallback(survey.CallAnswered{GatewayCallID: s.GatewayCallID, At: time.Now()}, false, "")
	h.waitPhase(t, s.ID, survey.PhaseAwaitingRecording)

	q0Path := fmt.Sprintf("recordings/%s/q0.wav", s.ID)
	if err := media.PutBytes(ctx, h.media, q0Path, []byte("answer to question zero")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	q0At := time.Now()
	q0 := survey.RecordingAvailable{GatewayCallID: s.GatewayCallID, RecordingURL: q0Path, At: q0At}
	h.engine.HandleCallback(q0, false, "")

	// Question 0's pipeline finishes and the session moves on to question 1.
	waitFor(t, "awaiting question 1", func() bool {
		cur, err := h.engine.Snapshot(ctx, s.ID)
		return err == nil && cur.Phase == survey.PhaseAwaitingRecording && cur.CurrentQuestion == 1
	})

	// Redelivery of question 0's callback, original timestamp and all. The
	// phase would happily take it as question 1's recording; the per-class
	// watermark must drop it.
	h.engine.HandleCallback(q0, false, "")

	q1Path := fmt.Sprintf("recordings/%s/q1.wav", s.ID)
	if err := media.PutBytes(ctx, h.media, q1Path, []byte("answer to question one")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	h.engine.HandleCallback(survey.RecordingAvailable{
		GatewayCallID: s.GatewayCallID,
		RecordingURL:  q1Path,
		At:            q0At.Add(time.Second),
	}, false, "")

	final := h.waitPhase(t, s.ID, survey.PhaseComplete)
	if got := final.Answer(0).Transcript; got != "answer to question zero" {
		t.Fatalf("question 0 transcript = %q", got)
	}
	if got := final.Answer(1).Transcript; got != "answer to question one" {
		t.Fatalf("question 1 transcript = %q", got)
	}
	if got := final.Answer(1).RawRecordingURI; got != q1Path {
		t.Fatalf("question 1 recording = %q, want %q", got, q1Path)
	}
}
