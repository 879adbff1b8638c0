package survey

import (
	"errors"
	"fmt"
	"time"
)

// ErrIgnored marks an event the state machine refused to apply: a
// duplicate delivery, an event for a question already past, or anything
// arriving after the session turned terminal. Under at-least-once callback
// delivery these are expected; callers log and drop them.
var ErrIgnored = errors.New("survey: event ignored")

// Instruction is the closed set of actions the engine must perform against
// the telephony gateway after committing a transition. A nil Instruction
// means nothing to execute.
type Instruction interface{ instruction() }

// PlayQuestion tells the gateway to play the question's prompt and then
// begin recording the answer.
type PlayQuestion struct {
	Index    int
	Question Question
}

// EndCall tells the gateway to terminate the leg, optionally playing a
// closing message first and stopping any in-flight recording.
type EndCall struct {
	PlayClosing   bool
	StopRecording bool
}

// StopRecording tells the gateway to stop an in-flight recording without
// ending the call.
type StopRecording struct{}

func (PlayQuestion) instruction()  {}
func (EndCall) instruction()       {}
func (StopRecording) instruction() {}

// Apply is the survey state machine: given the current session and one
// accepted event, it returns the next session state and the gateway
// instruction the transition requires. Apply never mutates its input and
// performs no I/O; the engine persists the returned state via
// compare-and-swap and executes the instruction only after the commit
// succeeds.
//
// Events that cannot legally apply return an error wrapping ErrIgnored
// and leave the session untouched.
func Apply(s *Session, ev Event, now time.Time) (*Session, Instruction, error) {
	if s.Phase.Terminal() {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrIgnored, s.ID, s.Phase)
	}

	next := s.Clone()
	next.LastEventSeq++
	next.UpdatedAt = now
	recordEventTime(next, ev)

	instr, err := transition(next, ev)
	if err != nil {
		return nil, nil, err
	}
	return next, instr, nil
}

// recordEventTime stores the gateway timestamp for per-class staleness
// screening of later callbacks. Internal events carry no gateway clock.
func recordEventTime(s *Session, ev Event) {
	var at time.Time
	switch e := ev.(type) {
	case CallAnswered:
		at = e.At
	case CallEnded:
		at = e.At
	case RecordingAvailable:
		at = e.At
	default:
		return
	}
	if s.LastEventAt == nil {
		s.LastEventAt = make(map[EventClass]int64, 2)
	}
	s.LastEventAt[ev.Class()] = at.UnixMilli()
}

func transition(s *Session, ev Event) (Instruction, error) {
	switch e := ev.(type) {
	case CallAnswered:
		if s.Phase != PhaseDialing {
			return nil, fmt.Errorf("%w: call answered in phase %s", ErrIgnored, s.Phase)
		}
		if s.Done() {
			// An empty question list completes immediately.
			return completeSurvey(s), nil
		}
		s.Phase = PhaseAwaitingRecording
		return PlayQuestion{Index: s.CurrentQuestion, Question: s.Questions[s.CurrentQuestion]}, nil

	case RecordingAvailable:
		if s.Phase != PhaseAwaitingRecording {
			// Gateway retry delivering a duplicate recording callback
			// while the first one is already in the pipeline: the first
			// accepted recording per question wins.
			return nil, fmt.Errorf("%w: recording in phase %s", ErrIgnored, s.Phase)
		}
		s.Phase = PhaseAnswerRecorded
		s.RecordingURI = e.RecordingURL
		return nil, nil

	case PipelineEnqueued:
		if s.Phase != PhaseAnswerRecorded || e.QuestionIndex != s.CurrentQuestion {
			return nil, fmt.Errorf("%w: pipeline enqueue in phase %s for question %d", ErrIgnored, s.Phase, e.QuestionIndex)
		}
		s.Phase = PhasePipeline
		s.RecordingURI = ""
		if s.Answers == nil {
			s.Answers = make(map[int]*AnswerRecord)
		}
		s.Answers[e.QuestionIndex] = &AnswerRecord{
			QuestionIndex:   e.QuestionIndex,
			RawRecordingURI: e.RecordingPath,
		}
		return nil, nil

	case PipelineCompleted:
		if s.Phase != PhasePipeline || e.QuestionIndex != s.CurrentQuestion {
			return nil, fmt.Errorf("%w: pipeline completion in phase %s for question %d", ErrIgnored, s.Phase, e.QuestionIndex)
		}
		if e.Engaged {
			s.Engaged = true
		}
		return advance(s), nil

	case SilenceElapsed:
		if s.Phase != PhaseAwaitingRecording || e.QuestionIndex != s.CurrentQuestion {
			return nil, fmt.Errorf("%w: silence timer in phase %s for question %d", ErrIgnored, s.Phase, e.QuestionIndex)
		}
		// No recording within the window: record an empty answer with
		// every stage unavailable and move on.
		if s.Answers == nil {
			s.Answers = make(map[int]*AnswerRecord)
		}
		rec := &AnswerRecord{QuestionIndex: e.QuestionIndex, Empty: true}
		for _, st := range StageOrder {
			rec.setStage(st, StageUnavailable)
		}
		s.Answers[e.QuestionIndex] = rec
		return advance(s), nil

	case CallEnded:
		s.Phase = PhaseFailed
		s.RecordingURI = ""
		s.Outcome = outcomeForEnd(e.Status, s.Engaged)
		return nil, nil

	case OperatorAbort:
		s.Phase = PhaseAborted
		s.RecordingURI = ""
		s.Outcome = OutcomeAborted
		return EndCall{StopRecording: true}, nil

	case GatewayFailed:
		s.Phase = PhaseFailed
		s.RecordingURI = ""
		if s.Outcome == "" {
			s.Outcome = OutcomeFailed
		}
		return EndCall{StopRecording: true}, nil

	default:
		return nil, fmt.Errorf("%w: unhandled event %T", ErrIgnored, ev)
	}
}

// advance moves past the current question: through the transient
// question-complete phase to either the next question or survey
// completion.
func advance(s *Session) Instruction {
	s.CurrentQuestion++
	s.Phase = PhaseQuestionComplete
	if s.Done() {
		return completeSurvey(s)
	}
	s.Phase = PhaseAwaitingRecording
	return PlayQuestion{Index: s.CurrentQuestion, Question: s.Questions[s.CurrentQuestion]}
}

func completeSurvey(s *Session) Instruction {
	s.Phase = PhaseComplete
	if s.Engaged {
		s.Outcome = OutcomeCompleted
	} else {
		s.Outcome = OutcomeNoEngagement
	}
	return EndCall{PlayClosing: true}
}

// outcomeForEnd maps a gateway end status on a mid-survey call to the
// operator-facing outcome. A "completed" status on an unfinished survey
// means the participant hung up.
func outcomeForEnd(st EndStatus, engaged bool) Outcome {
	switch st {
	case EndNoAnswer:
		return OutcomeNoAnswer
	case EndBusy:
		return OutcomeBusy
	case EndCanceled:
		return OutcomeCanceled
	case EndFailed:
		return OutcomeFailed
	case EndCompleted:
		if engaged {
			return OutcomeHangup
		}
		return OutcomeNoEngagement
	default:
		return OutcomeFailed
	}
}
