package gateway

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// Callback form fields, Twilio-compatible.
const (
	fieldCallID          = "CallSid"
	fieldCallStatus      = "CallStatus"
	fieldRecordingURL    = "RecordingUrl"
	fieldRecordingStatus = "RecordingStatus"
	fieldTimestamp       = "Timestamp"
	fieldDirection       = "Direction"
)

// ParseCallStatus decodes a call-status callback. It returns a nil event
// for informational statuses (initiated, ringing, queued) that carry no
// transition.
func ParseCallStatus(form url.Values, received time.Time) survey.Event {
	callID := form.Get(fieldCallID)
	if callID == "" {
		return nil
	}
	at := callbackTime(form, received)

	switch strings.ToLower(strings.TrimSpace(form.Get(fieldCallStatus))) {
	case "answered", "in-progress":
		return survey.CallAnswered{GatewayCallID: callID, At: at}
	case "completed":
		return survey.CallEnded{GatewayCallID: callID, Status: survey.EndCompleted, At: at}
	case "no-answer":
		return survey.CallEnded{GatewayCallID: callID, Status: survey.EndNoAnswer, At: at}
	case "busy":
		return survey.CallEnded{GatewayCallID: callID, Status: survey.EndBusy, At: at}
	case "failed":
		return survey.CallEnded{GatewayCallID: callID, Status: survey.EndFailed, At: at}
	case "canceled":
		return survey.CallEnded{GatewayCallID: callID, Status: survey.EndCanceled, At: at}
	default:
		return nil
	}
}

// ParseRecordingStatus decodes a recording-status callback. Only the
// "completed" status carries a usable recording; everything else is
// informational and yields nil.
func ParseRecordingStatus(form url.Values, received time.Time) survey.Event {
	callID := form.Get(fieldCallID)
	recURL := form.Get(fieldRecordingURL)
	if callID == "" || recURL == "" {
		return nil
	}
	if st := strings.ToLower(form.Get(fieldRecordingStatus)); st != "" && st != "completed" {
		return nil
	}
	return survey.RecordingAvailable{
		GatewayCallID: callID,
		RecordingURL:  recURL,
		At:            callbackTime(form, received),
	}
}

// IsInbound reports whether the callback belongs to an inbound call leg.
func IsInbound(form url.Values) bool {
	return strings.HasPrefix(strings.ToLower(form.Get(fieldDirection)), "inbound")
}

// Caller returns the calling number of an inbound leg.
func Caller(form url.Values) string {
	return form.Get("From")
}

// callbackTime prefers the provider's own timestamp (RFC 1123) and falls
// back to the receipt time. Callback delivery is at-least-once and
// unordered, so this timestamp feeds the correlator's staleness check.
func callbackTime(form url.Values, received time.Time) time.Time {
	if ts := form.Get(fieldTimestamp); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC1123, ts); err == nil {
			return t
		}
	}
	return received
}

// Webhook is the HTTP surface receiving provider callbacks. Decoded
// events are handed to Submit; undecodable posts are acknowledged with
// 200 anyway, because the provider retries on anything else and a retry
// cannot fix a malformed callback.
type Webhook struct {
	// Submit receives each decoded event, with the raw form for
	// context (direction, caller).
	Submit func(ev survey.Event, form url.Values)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (w *Webhook) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// CallStatus is the handler for the provider's call-status callback URL.
func (w *Webhook) CallStatus(rw http.ResponseWriter, r *http.Request) {
	w.handle(rw, r, ParseCallStatus)
}

// RecordingStatus is the handler for the recording-status callback URL.
func (w *Webhook) RecordingStatus(rw http.ResponseWriter, r *http.Request) {
	w.handle(rw, r, ParseRecordingStatus)
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request, parse func(url.Values, time.Time) survey.Event) {
	if err := r.ParseForm(); err != nil {
		w.logger().Warn("webhook: bad form", "err", err)
		rw.WriteHeader(http.StatusOK)
		return
	}
	if ev := parse(r.PostForm, time.Now()); ev != nil {
		w.Submit(ev, r.PostForm)
	}
	rw.WriteHeader(http.StatusOK)
}
