// Package pipeline drives one recorded answer through the four audio
// processing stages: transcribe, detect-language, translate, synthesize.
// Stages run strictly in order per answer; answers for different sessions
// run concurrently under a bounded cap.
//
// Every stage call carries a timeout and a bounded-backoff retry budget.
// A stage that exhausts its budget marks itself and every later stage
// unavailable on the Answer Record, and the pipeline still reports
// completion so the survey advances — one unanswerable question never
// blocks the rest of the call.
//
// Stage results are committed to the session store write-once, keyed by
// (session, question, stage): a slow retry racing a fresh one cannot
// commit twice, and results for sessions that turned terminal in the
// meantime are discarded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/media"
	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
	"github.com/krishnanand20/audiosurvey-ai/pkg/speech"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

// errDiscard aborts a run whose session is no longer in
// pipeline-processing (aborted, failed, or already advanced).
var errDiscard = errors.New("pipeline: result discarded")

// Capabilities bundles the four stage providers.
type Capabilities struct {
	Transcriber speech.Transcriber
	Detector    speech.LanguageDetector
	Translator  speech.Translator
	Synthesizer speech.Synthesizer
}

// Config holds the pipeline's operational parameters. The zero value is
// usable; see the field comments for defaults.
type Config struct {
	// StageTimeout bounds a single stage attempt. Default 30s.
	StageTimeout time.Duration

	// Retry is the per-stage retry budget. Zero means retry.Default
	// (3 attempts).
	Retry retry.Policy

	// CASRetry bounds optimistic-concurrency retries when committing
	// stage results. Zero means 5 attempts with the default backoff.
	CASRetry retry.Policy

	// MaxConcurrent caps simultaneous outstanding stage chains across
	// all sessions. Default 8.
	MaxConcurrent int

	// TargetLanguage is the translation target. Default "en".
	TargetLanguage string

	// Voice selects the synthesis voice profile.
	Voice string

	// EngagementMinWords is the minimum transcript word count that
	// counts as real speech. Default 2.
	EngagementMinWords int
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	if c.CASRetry == (retry.Policy{}) {
		c.CASRetry = retry.Conflict
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = "en"
	}
	if c.EngagementMinWords <= 0 {
		c.EngagementMinWords = 2
	}
	return c
}

// Runner executes stage chains. Completions are reported through the
// callback given to NewRunner; the orchestration engine feeds them back
// into its event queue.
type Runner struct {
	caps     Capabilities
	sessions *store.Store
	media    media.Store
	cfg      Config
	complete func(survey.PipelineCompleted)
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewRunner creates a pipeline runner. complete is invoked exactly once
// per enqueued answer unless the session turns terminal first, in which
// case the result is discarded.
func NewRunner(caps Capabilities, sessions *store.Store, m media.Store, cfg Config, complete func(survey.PipelineCompleted), logger *slog.Logger) *Runner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		caps:     caps,
		sessions: sessions,
		media:    m,
		cfg:      cfg,
		complete: complete,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Enqueue starts the stage chain for one recorded answer. It returns
// immediately; the chain runs on its own goroutine under the concurrency
// cap.
func (r *Runner) Enqueue(ctx context.Context, sessionID string, questionIndex int, recordingPath string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return
		}
		r.run(ctx, sessionID, questionIndex, recordingPath)
	}()
}

// Wait blocks until every in-flight chain finishes. Used on shutdown and
// in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, sessionID string, questionIndex int, recordingPath string) {
	log := r.logger.With("session", sessionID, "question", questionIndex)

	transcript, ok := r.runStage(ctx, log, sessionID, questionIndex, survey.StageTranscribe, func(ctx context.Context) (string, error) {
		rc, err := r.media.Open(ctx, recordingPath)
		if err != nil {
			return "", &speech.TranscriptionError{Err: err}
		}
		defer rc.Close()
		return r.caps.Transcriber.Transcribe(ctx, rc, recordingPath)
	})
	if !ok {
		return
	}

	engaged := wordCount(transcript) >= r.cfg.EngagementMinWords
	if strings.TrimSpace(transcript) == "" {
		// Nothing was said; the later stages have nothing to work on.
		if r.markUnavailable(ctx, log, sessionID, questionIndex, survey.StageDetectLanguage) {
			r.complete(survey.PipelineCompleted{SessionID: sessionID, QuestionIndex: questionIndex})
		}
		return
	}

	lang, ok := r.runStage(ctx, log, sessionID, questionIndex, survey.StageDetectLanguage, func(ctx context.Context) (string, error) {
		return r.caps.Detector.DetectLanguage(ctx, transcript)
	})
	if !ok {
		return
	}

	translated, ok := r.runStage(ctx, log, sessionID, questionIndex, survey.StageTranslate, func(ctx context.Context) (string, error) {
		if lang == r.cfg.TargetLanguage {
			// Already in the target language; keep the transcript verbatim.
			return transcript, nil
		}
		return r.caps.Translator.Translate(ctx, transcript, r.cfg.TargetLanguage)
	})
	if !ok {
		return
	}

	_, ok = r.runStage(ctx, log, sessionID, questionIndex, survey.StageSynthesize, func(ctx context.Context) (string, error) {
		audio, err := r.caps.Synthesizer.Synthesize(ctx, translated, r.cfg.Voice)
		if err != nil {
			return "", err
		}
		path := fmt.Sprintf("synthesized/%s/q%d.mp3", sessionID, questionIndex)
		if err := media.PutBytes(ctx, r.media, path, audio); err != nil {
			return "", &speech.SynthesisError{Err: err}
		}
		return path, nil
	})
	if !ok {
		return
	}

	r.complete(survey.PipelineCompleted{SessionID: sessionID, QuestionIndex: questionIndex, Engaged: engaged})
}

// runStage executes one stage with timeout and retry, then commits its
// result. The second return is false when the chain must stop: either
// the session turned terminal (silent discard) or the stage exhausted
// its retries (remaining stages marked unavailable, completion reported
// as skipped).
func (r *Runner) runStage(ctx context.Context, log *slog.Logger, sessionID string, questionIndex int, stage survey.Stage, fn func(ctx context.Context) (string, error)) (string, bool) {
	// A result already committed by an earlier attempt wins; re-running
	// the provider for it would violate write-once.
	if val, status, err := r.committed(ctx, sessionID, questionIndex, stage); err != nil {
		log.Warn("pipeline: session read failed, discarding", "stage", stage, "err", err)
		return "", false
	} else if status == survey.StageDone {
		return val, true
	} else if status == survey.StageUnavailable {
		r.complete(survey.PipelineCompleted{SessionID: sessionID, QuestionIndex: questionIndex, Skipped: true})
		return "", false
	}

	var result string
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
		defer cancel()
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		log.Warn("pipeline: stage failed permanently", "stage", stage, "err", err)
		if r.markUnavailable(ctx, log, sessionID, questionIndex, stage) {
			r.complete(survey.PipelineCompleted{SessionID: sessionID, QuestionIndex: questionIndex, Skipped: true})
		}
		return "", false
	}

	val, committed, err := r.commitStage(ctx, sessionID, questionIndex, stage, result)
	if err != nil {
		if !errors.Is(err, errDiscard) {
			log.Warn("pipeline: commit failed, discarding", "stage", stage, "err", err)
		} else {
			log.Debug("pipeline: result discarded", "stage", stage)
		}
		return "", false
	}
	if !committed {
		log.Debug("pipeline: duplicate stage result deduplicated", "stage", stage)
	}
	return val, true
}

// committed returns the stage's already-committed value and status.
func (r *Runner) committed(ctx context.Context, sessionID string, questionIndex int, stage survey.Stage) (string, survey.StageStatus, error) {
	sess, _, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", survey.StagePending, err
	}
	rec := sess.Answer(questionIndex)
	if rec == nil {
		return "", survey.StagePending, nil
	}
	return stageField(rec, stage), rec.StageState(stage), nil
}

// commitStage writes the stage result to the Answer Record through
// compare-and-swap. Returns the committed value — which is the earlier
// winner's when this result lost the write-once race — and whether this
// call did the writing.
func (r *Runner) commitStage(ctx context.Context, sessionID string, questionIndex int, stage survey.Stage, result string) (string, bool, error) {
	var val string
	var wrote bool
	err := retry.Do(ctx, r.cfg.CASRetry, func(ctx context.Context) error {
		sess, ver, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if sess.Phase != survey.PhasePipeline || sess.CurrentQuestion != questionIndex {
			return retry.Permanent(errDiscard)
		}
		rec := sess.Answer(questionIndex)
		if rec == nil {
			return retry.Permanent(errDiscard)
		}
		if st := rec.StageState(stage); st != survey.StagePending {
			// First terminal result won; adopt it.
			val, wrote = stageField(rec, stage), false
			if st == survey.StageUnavailable {
				return retry.Permanent(errDiscard)
			}
			return nil
		}

		next := sess.Clone()
		nrec := next.Answer(questionIndex)
		setStageResult(nrec, stage, result)
		if err := r.sessions.CompareAndSwap(ctx, ver, next); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		val, wrote = result, true
		return nil
	})
	return val, wrote, err
}

// markUnavailable marks the given stage and every later one unavailable.
// Returns false when the session is no longer in pipeline-processing and
// the outcome must be discarded.
func (r *Runner) markUnavailable(ctx context.Context, log *slog.Logger, sessionID string, questionIndex int, from survey.Stage) bool {
	ok := false
	err := retry.Do(ctx, r.cfg.CASRetry, func(ctx context.Context) error {
		sess, ver, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if sess.Phase != survey.PhasePipeline || sess.CurrentQuestion != questionIndex || sess.Answer(questionIndex) == nil {
			return retry.Permanent(errDiscard)
		}

		next := sess.Clone()
		rec := next.Answer(questionIndex)
		if rec.Stages == nil {
			rec.Stages = make(map[survey.Stage]survey.StageStatus, len(survey.StageOrder))
		}
		marking := false
		for _, st := range survey.StageOrder {
			if st == from {
				marking = true
			}
			if marking && rec.StageState(st) == survey.StagePending {
				rec.Stages[st] = survey.StageUnavailable
			}
		}
		if err := r.sessions.CompareAndSwap(ctx, ver, next); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		ok = true
		return nil
	})
	if err != nil && !errors.Is(err, errDiscard) {
		log.Warn("pipeline: could not mark stages unavailable", "err", err)
	}
	return ok
}

func stageField(rec *survey.AnswerRecord, stage survey.Stage) string {
	switch stage {
	case survey.StageTranscribe:
		return rec.Transcript
	case survey.StageDetectLanguage:
		return rec.DetectedLanguage
	case survey.StageTranslate:
		return rec.TranslatedTranscript
	case survey.StageSynthesize:
		return rec.SynthesizedAudioURI
	}
	return ""
}

func setStageResult(rec *survey.AnswerRecord, stage survey.Stage, result string) {
	switch stage {
	case survey.StageTranscribe:
		rec.Transcript = result
	case survey.StageDetectLanguage:
		rec.DetectedLanguage = result
	case survey.StageTranslate:
		rec.TranslatedTranscript = result
	case survey.StageSynthesize:
		rec.SynthesizedAudioURI = result
	}
	if rec.Stages == nil {
		rec.Stages = make(map[survey.Stage]survey.StageStatus, len(survey.StageOrder))
	}
	rec.Stages[stage] = survey.StageDone
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
