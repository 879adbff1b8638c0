// Package survey holds the core domain model of the call orchestration
// engine: the Session record tracking one phone call's progress through a
// multi-question survey, the closed set of events that can advance it, and
// the pure state machine that maps (Session, Event) to the next Session and
// the instruction the telephony gateway must execute.
//
// Everything here is side-effect free. I/O — gateway calls, storage,
// pipeline work — belongs to the engine package.
package survey

import (
	"maps"
	"slices"
	"time"
)

// Phase is a Call Session's position in its lifecycle. Transitions form a
// total order, except that failed and aborted are absorbing states
// reachable from any non-terminal phase.
type Phase string

const (
	// PhaseDialing means the outbound call leg is being placed (or an
	// inbound call has not been answered into the survey yet).
	PhaseDialing Phase = "dialing"

	// PhaseAwaitingRecording means the current question was played and
	// the engine is waiting for the answer recording.
	PhaseAwaitingRecording Phase = "awaiting-answer-recording"

	// PhaseAnswerRecorded means the recording URI arrived and pipeline
	// work is about to be enqueued.
	PhaseAnswerRecorded Phase = "answer-recorded"

	// PhasePipeline means the current answer is being driven through the
	// audio processing stages.
	PhasePipeline Phase = "pipeline-processing"

	// PhaseQuestionComplete is the transient phase between a question's
	// pipeline reaching a terminal outcome and the next question being
	// played (or the survey completing). It is passed through within a
	// single transition and never persisted.
	PhaseQuestionComplete Phase = "question-complete"

	// PhaseComplete means every question reached a terminal outcome.
	PhaseComplete Phase = "survey-complete"

	// PhaseFailed means the call ended before the survey could finish.
	PhaseFailed Phase = "failed"

	// PhaseAborted means an operator cancelled the session.
	PhaseAborted Phase = "aborted"
)

// Terminal reports whether the phase is absorbing: once committed, the
// session is read-only and every further event is a no-op.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseAborted:
		return true
	}
	return false
}

// Direction distinguishes who initiated the call.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Outcome is the operator-facing result of a finished call.
type Outcome string

const (
	// OutcomeCompleted means the survey finished and the participant
	// gave at least one real spoken answer.
	OutcomeCompleted Outcome = "completed"

	// OutcomeNoEngagement means the call ran its course but no answer
	// contained real speech; the original system retries such contacts.
	OutcomeNoEngagement Outcome = "no-engagement"

	OutcomeNoAnswer Outcome = "no-answer"
	OutcomeBusy     Outcome = "busy"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"

	// OutcomeHangup means the participant ended the call mid-survey.
	OutcomeHangup Outcome = "hangup"

	OutcomeAborted Outcome = "aborted"
)

// AnswerKind describes what kind of response a question expects.
type AnswerKind string

const (
	// AnswerFreeSpeech accepts open-ended speech.
	AnswerFreeSpeech AnswerKind = "free-speech"

	// AnswerBounded expects a short constrained response (yes/no, a
	// number, a menu choice).
	AnswerBounded AnswerKind = "bounded"
)

// Question is one prompt in the survey. The list is immutable for the
// session's lifetime.
type Question struct {
	Index int `msgpack:"i" json:"index"`

	// PromptText is spoken via gateway TTS when PromptAudioURI is empty.
	PromptText string `msgpack:"text,omitempty" json:"promptText,omitempty"`

	// PromptAudioURI points at pre-rendered prompt audio.
	PromptAudioURI string `msgpack:"audio,omitempty" json:"promptAudioUri,omitempty"`

	AnswerKind AnswerKind `msgpack:"kind,omitempty" json:"answerKind,omitempty"`
}

// Stage is one asynchronous audio-processing step applied to a recorded
// answer. Stages run strictly in this order per answer.
type Stage string

const (
	StageTranscribe     Stage = "transcribe"
	StageDetectLanguage Stage = "detect-language"
	StageTranslate      Stage = "translate"
	StageSynthesize     Stage = "synthesize"
)

// StageOrder lists the stages in execution order.
var StageOrder = []Stage{StageTranscribe, StageDetectLanguage, StageTranslate, StageSynthesize}

// StageStatus is the terminal-or-pending state of one stage for one answer.
type StageStatus string

const (
	// StagePending means the stage has not reached a terminal result.
	StagePending StageStatus = ""

	// StageDone means the stage committed its result field.
	StageDone StageStatus = "done"

	// StageUnavailable means the stage exhausted its retries (or was
	// skipped because an earlier stage did); its result field will
	// never be populated.
	StageUnavailable StageStatus = "unavailable"
)

// AnswerRecord captures everything produced for one answered question.
// Result fields are write-once: the first terminal result per stage wins
// and later writes are rejected.
type AnswerRecord struct {
	QuestionIndex int `msgpack:"qi" json:"questionIndex"`

	// RawRecordingURI is the media-store path of the fetched recording.
	RawRecordingURI string `msgpack:"rec,omitempty" json:"rawRecordingUri,omitempty"`

	Transcript           string `msgpack:"txt,omitempty" json:"transcript,omitempty"`
	DetectedLanguage     string `msgpack:"lang,omitempty" json:"detectedLanguage,omitempty"`
	TranslatedTranscript string `msgpack:"tr,omitempty" json:"translatedTranscript,omitempty"`
	SynthesizedAudioURI  string `msgpack:"synth,omitempty" json:"synthesizedAudioUri,omitempty"`

	// Stages records the terminal status per stage.
	Stages map[Stage]StageStatus `msgpack:"st,omitempty" json:"stages,omitempty"`

	// Empty marks a silence-window answer: no recording ever arrived and
	// the question was advanced with an empty answer.
	Empty bool `msgpack:"empty,omitempty" json:"empty,omitempty"`
}

// StageState returns the recorded status for a stage.
func (a *AnswerRecord) StageState(s Stage) StageStatus {
	if a.Stages == nil {
		return StagePending
	}
	return a.Stages[s]
}

// Settled reports whether every stage reached a terminal status.
func (a *AnswerRecord) Settled() bool {
	for _, s := range StageOrder {
		if a.StageState(s) == StagePending {
			return false
		}
	}
	return true
}

func (a *AnswerRecord) setStage(s Stage, st StageStatus) {
	if a.Stages == nil {
		a.Stages = make(map[Stage]StageStatus, len(StageOrder))
	}
	a.Stages[s] = st
}

func (a *AnswerRecord) clone() *AnswerRecord {
	cp := *a
	if a.Stages != nil {
		cp.Stages = maps.Clone(a.Stages)
	}
	return &cp
}

// EventClass groups gateway callbacks for the correlator's per-type
// ordering: call-status and recording-status callbacks interleave
// independently, so staleness is judged within a class, never across.
type EventClass string

const (
	ClassCallStatus      EventClass = "call-status"
	ClassRecordingStatus EventClass = "recording-status"

	// ClassInternal covers engine-originated events (pipeline
	// completions, silence timers, operator aborts). They are produced
	// exactly once and carry no gateway timestamp, so the correlator
	// does not screen them.
	ClassInternal EventClass = "internal"
)

// Session is the durable record of one telephone call attempt. It is
// mutated exclusively by the state machine through the session store's
// compare-and-swap, one event at a time.
type Session struct {
	// ID is the process-assigned session identifier, immutable.
	ID string `msgpack:"id" json:"sessionId"`

	// GatewayCallID is the telephony gateway's call identifier; empty
	// until the gateway confirms the call leg, immutable once set.
	GatewayCallID string `msgpack:"gw,omitempty" json:"gatewayCallId,omitempty"`

	Direction Direction `msgpack:"dir" json:"direction"`

	// Destination is the dialed number (outbound) or caller (inbound).
	Destination string `msgpack:"dest,omitempty" json:"destination,omitempty"`

	// ParticipantID ties the session to a contacts-list entry, when the
	// call was placed by the batch dialer.
	ParticipantID string `msgpack:"pid,omitempty" json:"participantId,omitempty"`

	Questions []Question `msgpack:"q" json:"questions"`

	// CurrentQuestion is monotonically non-decreasing; equal to
	// len(Questions) once every question settled.
	CurrentQuestion int `msgpack:"cq" json:"currentQuestionIndex"`

	Phase Phase `msgpack:"ph" json:"phase"`

	// Answers maps question index to its record, created once that
	// question's recording is captured (or its silence window elapses).
	Answers map[int]*AnswerRecord `msgpack:"ans,omitempty" json:"answers,omitempty"`

	// LastEventSeq counts accepted events; strictly increasing.
	LastEventSeq uint64 `msgpack:"seq" json:"lastEventSequence"`

	// LastEventAt holds, per gateway event class, the unix-milli
	// timestamp of the last accepted event. Used to drop stale and
	// duplicate callbacks.
	LastEventAt map[EventClass]int64 `msgpack:"evat,omitempty" json:"-"`

	// RecordingURI is the gateway URL of the current question's raw
	// recording; set when the recording callback is accepted, cleared
	// once the pipeline consumes it.
	RecordingURI string `msgpack:"rec,omitempty" json:"recordingUri,omitempty"`

	// Engaged is set once any answer transcribed to real speech.
	Engaged bool `msgpack:"eng,omitempty" json:"engaged,omitempty"`

	// Outcome is set when the session reaches a terminal phase.
	Outcome Outcome `msgpack:"out,omitempty" json:"outcome,omitempty"`

	// RetryCount counts instruction-delivery retries for the current
	// phase; bounded by the engine's policy.
	RetryCount int `msgpack:"rc,omitempty" json:"-"`

	CreatedAt time.Time `msgpack:"ct" json:"createdAt"`
	UpdatedAt time.Time `msgpack:"ut" json:"updatedAt"`
}

// Clone returns a deep copy. The state machine transitions a clone so a
// failed compare-and-swap never leaves a half-mutated record behind.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Questions = slices.Clone(s.Questions)
	if s.Answers != nil {
		cp.Answers = make(map[int]*AnswerRecord, len(s.Answers))
		for i, a := range s.Answers {
			cp.Answers[i] = a.clone()
		}
	}
	if s.LastEventAt != nil {
		cp.LastEventAt = maps.Clone(s.LastEventAt)
	}
	return &cp
}

// Done reports whether every question has settled.
func (s *Session) Done() bool {
	return s.CurrentQuestion >= len(s.Questions)
}

// Answer returns the record for a question index, or nil.
func (s *Session) Answer(i int) *AnswerRecord {
	if s.Answers == nil {
		return nil
	}
	return s.Answers[i]
}
