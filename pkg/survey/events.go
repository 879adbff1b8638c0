package survey

import "time"

// Event is the closed set of occurrences that can advance a session.
// Gateway callbacks, pipeline completions, and operator actions all arrive
// as values of these types; there is no string-keyed dispatch anywhere.
type Event interface {
	// Class groups the event for the correlator's per-type staleness
	// screening.
	Class() EventClass

	event()
}

// EndStatus is the gateway's report of why a call leg ended.
type EndStatus string

const (
	EndCompleted EndStatus = "completed"
	EndNoAnswer  EndStatus = "no-answer"
	EndBusy      EndStatus = "busy"
	EndFailed    EndStatus = "failed"
	EndCanceled  EndStatus = "canceled"
)

// CallAnswered is the gateway's call-status callback reporting the call
// was picked up.
type CallAnswered struct {
	GatewayCallID string
	At            time.Time
}

// CallEnded is the gateway's call-status callback reporting the leg is
// gone, for whatever reason.
type CallEnded struct {
	GatewayCallID string
	Status        EndStatus
	At            time.Time
}

// RecordingAvailable is the gateway's recording-status callback carrying
// the URL of a finished answer recording.
type RecordingAvailable struct {
	GatewayCallID string
	RecordingURL  string
	At            time.Time
}

// PipelineEnqueued is the engine's internal event issued once pipeline
// work for the current answer has been handed to the runner. It moves the
// session from answer-recorded to pipeline-processing and records the
// media-store path of the fetched recording.
type PipelineEnqueued struct {
	SessionID     string
	QuestionIndex int

	// RecordingPath is the owned media-store path of the fetched
	// recording, committed as the answer's RawRecordingURI.
	RecordingPath string
}

// PipelineCompleted reports that a question's stage chain reached a
// terminal outcome — success or permanently-failed-and-skipped. Either
// way the survey advances.
type PipelineCompleted struct {
	SessionID     string
	QuestionIndex int

	// Skipped is true when the pipeline exhausted its retries and the
	// remaining answer fields were marked unavailable.
	Skipped bool

	// Engaged is true when the transcript contained real speech.
	Engaged bool
}

// SilenceElapsed is the engine's internal event fired when no recording
// arrived within the configured silence window. The question is treated
// as an empty answer and the survey advances.
type SilenceElapsed struct {
	SessionID     string
	QuestionIndex int
}

// OperatorAbort is an explicit operator cancellation.
type OperatorAbort struct {
	SessionID string
}

// GatewayFailed is the engine's internal event raised when the gateway
// permanently rejects an instruction for this session.
type GatewayFailed struct {
	SessionID string
	Reason    string
}

func (CallAnswered) Class() EventClass       { return ClassCallStatus }
func (CallEnded) Class() EventClass          { return ClassCallStatus }
func (RecordingAvailable) Class() EventClass { return ClassRecordingStatus }
func (PipelineEnqueued) Class() EventClass   { return ClassInternal }
func (PipelineCompleted) Class() EventClass  { return ClassInternal }
func (SilenceElapsed) Class() EventClass     { return ClassInternal }
func (OperatorAbort) Class() EventClass      { return ClassInternal }
func (GatewayFailed) Class() EventClass      { return ClassInternal }

func (CallAnswered) event()       {}
func (CallEnded) event()          {}
func (RecordingAvailable) event() {}
func (PipelineEnqueued) event()   {}
func (PipelineCompleted) event()  {}
func (SilenceElapsed) event()     {}
func (OperatorAbort) event()      {}
func (GatewayFailed) event()      {}
