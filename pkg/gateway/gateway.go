// Package gateway defines the contract with the external telephony
// provider: the commands the engine issues against a call leg, and the
// decoding of the provider's webhook callbacks into survey events. The
// provider itself (Twilio or compatible) is a black box reached only
// through this contract.
package gateway

import (
	"context"
	"errors"
)

// ErrUnknownCall is returned by implementations when the call ID does not
// name a live leg. After teardown this is expected, not an escalation.
var ErrUnknownCall = errors.New("gateway: unknown call")

// Prompt is something the gateway should speak into the call: either
// pre-rendered audio or text for the provider's TTS.
type Prompt struct {
	Text     string
	AudioURI string
}

// Gateway is the set of commands the engine issues. Every call is
// asynchronous on the provider side; these methods return once the
// provider accepts the command, and progress arrives later as webhook
// callbacks.
type Gateway interface {
	// PlaceCall starts an outbound call leg and returns the provider's
	// call ID.
	PlaceCall(ctx context.Context, destination string) (string, error)

	// PlayAudio speaks a prompt into the call.
	PlayAudio(ctx context.Context, callID string, prompt Prompt) error

	// StartRecording begins capturing the caller's speech.
	StartRecording(ctx context.Context, callID string) error

	// StopRecording stops an in-flight recording, if any.
	StopRecording(ctx context.Context, callID string) error

	// EndCall hangs up the leg. Ending an already-dead leg is a no-op.
	EndCall(ctx context.Context, callID string) error
}
