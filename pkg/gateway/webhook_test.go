package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/gateway"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

var recv = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParseCallStatus(t *testing.T) {
	tests := []struct {
		status string
		want   survey.Event
	}{
		{"in-progress", survey.CallAnswered{GatewayCallID: "CA1", At: recv}},
		{"answered", survey.CallAnswered{GatewayCallID: "CA1", At: recv}},
		{"completed", survey.CallEnded{GatewayCallID: "CA1", Status: survey.EndCompleted, At: recv}},
		{"no-answer", survey.CallEnded{GatewayCallID: "CA1", Status: survey.EndNoAnswer, At: recv}},
		{"busy", survey.CallEnded{GatewayCallID: "CA1", Status: survey.EndBusy, At: recv}},
		{"failed", survey.CallEnded{GatewayCallID: "CA1", Status: survey.EndFailed, At: recv}},
		{"canceled", survey.CallEnded{GatewayCallID: "CA1", Status: survey.EndCanceled, At: recv}},
		{"ringing", nil},
		{"initiated", nil},
	}
	for _, tt := range tests {
		form := url.Values{"CallSid": {"CA1"}, "CallStatus": {tt.status}}
		got := gateway.ParseCallStatus(form, recv)
		if got != tt.want {
			t.Fatalf("ParseCallStatus(%q) = %#v, want %#v", tt.status, got, tt.want)
		}
	}
}

func TestParseCallStatusMissingCallID(t *testing.T) {
	if ev := gateway.ParseCallStatus(url.Values{"CallStatus": {"completed"}}, recv); ev != nil {
		t.Fatalf("event without CallSid = %#v, want nil", ev)
	}
}

func TestParseCallStatusProviderTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 11, 59, 30, 0, time.UTC)
	form := url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
		"Timestamp":  {ts.Format(time.RFC1123Z)},
	}
	ev := gateway.ParseCallStatus(form, recv)
	ended, ok := ev.(survey.CallEnded)
	if !ok {
		t.Fatalf("event = %#v", ev)
	}
	if !ended.At.Equal(ts) {
		t.Fatalf("At = %v, want provider timestamp %v", ended.At, ts)
	}
}

func TestParseRecordingStatus(t *testing.T) {
	form := url.Values{
		"CallSid":         {"CA1"},
		"RecordingUrl":    {"https://gw/rec/RE1"},
		"RecordingStatus": {"completed"},
	}
	ev := gateway.ParseRecordingStatus(form, recv)
	rec, ok := ev.(survey.RecordingAvailable)
	if !ok {
		t.Fatalf("event = %#v, want RecordingAvailable", ev)
	}
	if rec.RecordingURL != "https://gw/rec/RE1" || rec.GatewayCallID != "CA1" {
		t.Fatalf("rec = %+v", rec)
	}

	// In-progress recording callbacks are informational.
	form.Set("RecordingStatus", "in-progress")
	if ev := gateway.ParseRecordingStatus(form, recv); ev != nil {
		t.Fatalf("in-progress recording = %#v, want nil", ev)
	}
}

func TestWebhookSubmitsDecodedEvents(t *testing.T) {
	var got []survey.Event
	wh := &gateway.Webhook{
		Submit: func(ev survey.Event, _ url.Values) { got = append(got, ev) },
	}
	srv := httptest.NewServer(http.HandlerFunc(wh.CallStatus))
	defer srv.Close()

	body := url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}
	resp, err := http.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader(body.Encode()))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(got) != 1 {
		t.Fatalf("submitted %d events, want 1", len(got))
	}
	if _, ok := got[0].(survey.CallAnswered); !ok {
		t.Fatalf("event = %#v", got[0])
	}

	// Informational statuses are acknowledged without a submit.
	body.Set("CallStatus", "ringing")
	resp, err = http.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader(body.Encode()))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if len(got) != 1 {
		t.Fatalf("informational callback submitted an event")
	}
}

func TestSimulatedGatewayRecordsCommands(t *testing.T) {
	ctx := t.Context()
	g := gateway.NewSimulated()

	id, err := g.PlaceCall(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if err := g.PlayAudio(ctx, id, gateway.Prompt{Text: "Q1"}); err != nil {
		t.Fatalf("PlayAudio: %v", err)
	}
	if err := g.StartRecording(ctx, id); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := g.EndCall(ctx, id); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	c := g.Call(id)
	if c == nil || len(c.Played) != 1 || c.Recordings != 1 || !c.Ended {
		t.Fatalf("call history = %+v", c)
	}

	// Commands against a dead leg fail with ErrUnknownCall.
	if err := g.PlayAudio(ctx, id, gateway.Prompt{Text: "Q2"}); err == nil {
		t.Fatalf("PlayAudio on ended call succeeded")
	}
}
