package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// errStale marks a gateway callback older than the last accepted one of
// its class. At-least-once delivery reorders retries, so these are
// routine and dropped quietly.
var errStale = errors.New("engine: stale callback")

// resolve finds the event's session: gateway events go through the
// call-ID index, internal events carry the session ID directly.
func (e *Engine) resolve(ctx context.Context, ev survey.Event) (*survey.Session, uint64, error) {
	if callID, ok := gatewayCallID(ev); ok {
		return e.sessions.GetByGatewayCallID(ctx, callID)
	}
	switch v := ev.(type) {
	case survey.PipelineEnqueued:
		return e.sessions.Get(ctx, v.SessionID)
	case survey.PipelineCompleted:
		return e.sessions.Get(ctx, v.SessionID)
	case survey.SilenceElapsed:
		return e.sessions.Get(ctx, v.SessionID)
	case survey.OperatorAbort:
		return e.sessions.Get(ctx, v.SessionID)
	case survey.GatewayFailed:
		return e.sessions.Get(ctx, v.SessionID)
	default:
		return nil, 0, fmt.Errorf("%w: unroutable event %T", survey.ErrIgnored, ev)
	}
}

// gatewayCallID extracts the provider call ID from gateway-originated
// events.
func gatewayCallID(ev survey.Event) (string, bool) {
	switch v := ev.(type) {
	case survey.CallAnswered:
		return v.GatewayCallID, true
	case survey.CallEnded:
		return v.GatewayCallID, true
	case survey.RecordingAvailable:
		return v.GatewayCallID, true
	}
	return "", false
}

// screen drops gateway callbacks whose timestamp does not strictly
// advance past the last accepted event of the same class. Redeliveries
// carry the original timestamp, so equality means duplicate; phase
// guards alone cannot catch a redelivered recording callback once the
// session is awaiting the next question's recording. Call-status and
// recording-status callbacks interleave independently, so staleness is
// judged within a class only; internal events are never screened.
func screen(s *survey.Session, ev survey.Event) error {
	at, ok := eventTime(ev)
	if !ok {
		return nil
	}
	if last, found := s.LastEventAt[ev.Class()]; found && at.UnixMilli() <= last {
		return fmt.Errorf("%w: %T at %s does not advance past last %s event", errStale, ev, at.Format(time.RFC3339), ev.Class())
	}
	return nil
}

func eventTime(ev survey.Event) (time.Time, bool) {
	switch v := ev.(type) {
	case survey.CallAnswered:
		return v.At, !v.At.IsZero()
	case survey.CallEnded:
		return v.At, !v.At.IsZero()
	case survey.RecordingAvailable:
		return v.At, !v.At.IsZero()
	}
	return time.Time{}, false
}
