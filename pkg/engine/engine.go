// Package engine is the orchestration core: a worker pool that consumes
// survey events from a queue, resolves each one to its Call Session,
// applies the state machine under optimistic concurrency, and executes
// the resulting gateway instruction.
//
// The commit discipline is read → screen → Apply → compare-and-swap:
// side effects (gateway commands, pipeline enqueues, silence timers) run
// only after the transition committed, so a lost version race never
// produces a duplicate side effect.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krishnanand20/audiosurvey-ai/pkg/gateway"
	"github.com/krishnanand20/audiosurvey-ai/pkg/media"
	"github.com/krishnanand20/audiosurvey-ai/pkg/pipeline"
	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

// ErrClosed is returned by Submit and CreateSession after Close.
var ErrClosed = errors.New("engine: closed")

// Config holds the engine's operational parameters. The zero value is
// usable.
type Config struct {
	// Workers is the event worker pool size. Default 4.
	Workers int

	// QueueSize bounds the pending event queue. Default 256.
	QueueSize int

	// SilenceWindow is how long to wait for an answer recording before
	// advancing with an empty answer. Default 8s.
	SilenceWindow time.Duration

	// CASRetry bounds re-read-and-reapply attempts after a version
	// conflict. Zero means 5 attempts.
	CASRetry retry.Policy

	// GatewayRetry is the retry budget for gateway instruction delivery
	// and recording fetches. Zero means retry.Default.
	GatewayRetry retry.Policy

	// Pipeline configures the stage runner.
	Pipeline pipeline.Config

	// InboundQuestions, when non-empty, enables inbound calls: a
	// callback for an unknown inbound call leg creates a session with
	// this question list.
	InboundQuestions []survey.Question

	// ClosingText, when set, is spoken before hanging up a completed
	// survey.
	ClosingText string

	// OnUpdate, when set, is invoked with a snapshot after every
	// committed transition and every created session. Used by the
	// dashboard feed. Must not block.
	OnUpdate func(*survey.Session)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = 8 * time.Second
	}
	if c.CASRetry == (retry.Policy{}) {
		c.CASRetry = retry.Conflict
	}
	if c.GatewayRetry == (retry.Policy{}) {
		c.GatewayRetry = retry.Default
	}
	return c
}

// CreateParams describes an outbound survey call to place.
type CreateParams struct {
	Destination   string
	ParticipantID string
	Questions     []survey.Question
}

// Engine owns the event queue, the worker pool, the silence timers, and
// the pipeline runner.
type Engine struct {
	sessions *store.Store
	gw       gateway.Gateway
	media    media.Store
	fetcher  *media.Fetcher
	runner   *pipeline.Runner
	cfg      Config
	logger   *slog.Logger

	events chan survey.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[string]*silenceTimer
}

// silenceTimer tracks the armed window for one session's current question.
type silenceTimer struct {
	question int
	timer    *time.Timer
}

// New creates and starts an engine. caps provides the pipeline's speech
// providers; fetcher downloads gateway recordings into the media store
// and may be nil when recordings are served from the store directly.
func New(sessions *store.Store, gw gateway.Gateway, m media.Store, fetcher *media.Fetcher, caps pipeline.Capabilities, cfg Config, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sessions: sessions,
		gw:       gw,
		media:    m,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
		events:   make(chan survey.Event, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*silenceTimer),
	}
	e.runner = pipeline.NewRunner(caps, sessions, m, cfg.Pipeline, func(ev survey.PipelineCompleted) {
		if err := e.Submit(ev); err != nil {
			logger.Warn("engine: dropping pipeline completion", "session", ev.SessionID, "err", err)
		}
	}, logger)

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.worker()
	}
	return e
}

// Close drains the queue, stops the workers, waits for in-flight
// pipeline chains, and cancels every armed silence timer.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.events)
	for id, st := range e.timers {
		st.timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.cancel()
	e.runner.Wait()
}

// Submit queues an event for processing. It never blocks the caller on a
// full queue; webhook handlers must stay fast, so a full queue drops the
// event (gateway callbacks are redelivered, internal events are
// regenerated by the next transition attempt).
func (e *Engine) Submit(ev survey.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.events <- ev:
		return nil
	default:
		return fmt.Errorf("engine: queue full, dropping %T", ev)
	}
}

// CreateSession places an outbound call and stores the new session in
// dialing phase. The session advances when the gateway's callbacks
// arrive.
func (e *Engine) CreateSession(ctx context.Context, p CreateParams) (*survey.Session, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	var callID string
	err := retry.Do(ctx, e.cfg.GatewayRetry, func(ctx context.Context) error {
		var err error
		callID, err = e.gw.PlaceCall(ctx, p.Destination)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine: place call to %s: %w", p.Destination, err)
	}

	now := time.Now()
	s := &survey.Session{
		ID:            uuid.NewString(),
		GatewayCallID: callID,
		Direction:     survey.DirectionOutbound,
		Destination:   p.Destination,
		ParticipantID: p.ParticipantID,
		Questions:     p.Questions,
		Phase:         survey.PhaseDialing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.sessions.Create(ctx, s); err != nil {
		// The leg is up but untracked; tear it down.
		_ = e.gw.EndCall(ctx, callID)
		return nil, err
	}
	e.notify(s)
	return s, nil
}

// Abort requests operator cancellation of a session. The abort is applied
// asynchronously like any other event.
func (e *Engine) Abort(ctx context.Context, sessionID string) error {
	if _, _, err := e.sessions.Get(ctx, sessionID); err != nil {
		return err
	}
	return e.Submit(survey.OperatorAbort{SessionID: sessionID})
}

// Snapshot returns the current state of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*survey.Session, error) {
	s, _, err := e.sessions.Get(ctx, sessionID)
	return s, err
}

// Sessions returns every stored session, for the dashboard and CLI.
func (e *Engine) Sessions(ctx context.Context) ([]*survey.Session, error) {
	return e.sessions.List(ctx)
}

// HandleCallback is the webhook submit hook: it creates sessions for
// unknown inbound call legs when inbound surveys are enabled, then queues
// the event.
func (e *Engine) HandleCallback(ev survey.Event, inbound bool, caller string) {
	if ev == nil {
		return
	}
	if callID, ok := gatewayCallID(ev); ok {
		_, _, err := e.sessions.GetByGatewayCallID(e.ctx, callID)
		if errors.Is(err, store.ErrNotFound) {
			if !inbound || len(e.cfg.InboundQuestions) == 0 {
				e.logger.Warn("engine: callback for unknown call, dropping", "call", callID, "event", fmt.Sprintf("%T", ev))
				return
			}
			if err := e.createInbound(callID, caller); err != nil {
				e.logger.Warn("engine: inbound session create failed", "call", callID, "err", err)
				return
			}
		} else if err != nil {
			e.logger.Warn("engine: gateway lookup failed", "call", callID, "err", err)
			return
		}
	}
	if err := e.Submit(ev); err != nil {
		e.logger.Warn("engine: dropping callback", "err", err)
	}
}

func (e *Engine) createInbound(callID, caller string) error {
	now := time.Now()
	s := &survey.Session{
		ID:            uuid.NewString(),
		GatewayCallID: callID,
		Direction:     survey.DirectionInbound,
		Destination:   caller,
		Questions:     e.cfg.InboundQuestions,
		Phase:         survey.PhaseDialing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.sessions.Create(e.ctx, s); err != nil {
		// A racing callback for the same leg may have created it first.
		if errors.Is(err, store.ErrDuplicateSession) {
			return nil
		}
		return err
	}
	e.logger.Info("engine: inbound session created", "session", s.ID, "call", callID, "caller", caller)
	e.notify(s)
	return nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for ev := range e.events {
		e.process(ev)
	}
}

// process applies one event end to end: resolve, screen, transition,
// commit, side effects.
func (e *Engine) process(ev survey.Event) {
	ctx := e.ctx

	committed, instr, err := e.apply(ctx, ev)
	if err != nil {
		switch {
		case errors.Is(err, survey.ErrIgnored), errors.Is(err, errStale):
			e.logger.Debug("engine: event dropped", "event", fmt.Sprintf("%T", ev), "reason", err)
		case errors.Is(err, store.ErrNotFound):
			e.logger.Warn("engine: event for unknown session, dropping", "event", fmt.Sprintf("%T", ev), "err", err)
		default:
			e.logger.Error("engine: event processing failed", "event", fmt.Sprintf("%T", ev), "err", err)
		}
		return
	}

	e.logger.Info("engine: transition committed",
		"session", committed.ID,
		"event", fmt.Sprintf("%T", ev),
		"phase", committed.Phase,
		"question", committed.CurrentQuestion,
		"seq", committed.LastEventSeq)
	e.notify(committed)
	e.syncTimer(committed)

	switch v := ev.(type) {
	case survey.RecordingAvailable:
		e.fetchRecording(committed)
	case survey.PipelineEnqueued:
		e.runner.Enqueue(ctx, committed.ID, v.QuestionIndex, v.RecordingPath)
	}

	if instr != nil {
		e.execute(ctx, committed, instr)
	}
}

// apply runs the read → screen → Apply → CAS loop until the transition
// commits, the event is rejected, or the retry budget runs out.
func (e *Engine) apply(ctx context.Context, ev survey.Event) (*survey.Session, survey.Instruction, error) {
	var committed *survey.Session
	var instr survey.Instruction
	err := retry.Do(ctx, e.cfg.CASRetry, func(ctx context.Context) error {
		sess, ver, err := e.resolve(ctx, ev)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := screen(sess, ev); err != nil {
			return retry.Permanent(err)
		}
		next, in, err := survey.Apply(sess, ev, time.Now())
		if err != nil {
			return retry.Permanent(err)
		}
		if err := e.sessions.CompareAndSwap(ctx, ver, next); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		committed, instr = next, in
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return committed, instr, nil
}

// fetchRecording downloads the accepted recording into the media store
// and feeds the pipeline-enqueued event back through the queue. Runs on
// its own goroutine so a slow download never stalls the worker pool.
func (e *Engine) fetchRecording(s *survey.Session) {
	id, q, recURL := s.ID, s.CurrentQuestion, s.RecordingURI
	log := e.logger.With("session", id, "question", q)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		path := fmt.Sprintf("recordings/%s/q%d.wav", id, q)
		err := retry.Do(e.ctx, e.cfg.GatewayRetry, func(ctx context.Context) error {
			if e.fetcher != nil {
				return e.fetcher.Fetch(ctx, e.media, path, recURL)
			}
			// No fetcher: the URL is already a media-store path.
			path = recURL
			return nil
		})
		if err != nil {
			log.Error("engine: recording fetch failed", "url", recURL, "err", err)
			e.submitInternal(survey.GatewayFailed{SessionID: id, Reason: "recording fetch failed"})
			return
		}
		e.submitInternal(survey.PipelineEnqueued{SessionID: id, QuestionIndex: q, RecordingPath: path})
	}()
}

// execute delivers a gateway instruction with retries. A permanently
// failed PlayQuestion raises GatewayFailed; teardown instructions treat
// an unknown leg as already done.
func (e *Engine) execute(ctx context.Context, s *survey.Session, instr survey.Instruction) {
	callID := s.GatewayCallID
	log := e.logger.With("session", s.ID, "call", callID)

	switch in := instr.(type) {
	case survey.PlayQuestion:
		err := retry.Do(ctx, e.cfg.GatewayRetry, func(ctx context.Context) error {
			if err := e.gw.PlayAudio(ctx, callID, promptFor(in.Question)); err != nil {
				if errors.Is(err, gateway.ErrUnknownCall) {
					return retry.Permanent(err)
				}
				return err
			}
			return e.gw.StartRecording(ctx, callID)
		})
		if err != nil {
			log.Error("engine: play question failed", "question", in.Index, "err", err)
			e.submitInternal(survey.GatewayFailed{SessionID: s.ID, Reason: "play question failed"})
		}

	case survey.EndCall:
		if in.StopRecording {
			if err := e.gw.StopRecording(ctx, callID); err != nil && !errors.Is(err, gateway.ErrUnknownCall) {
				log.Warn("engine: stop recording failed", "err", err)
			}
		}
		if in.PlayClosing && e.cfg.ClosingText != "" {
			if err := e.gw.PlayAudio(ctx, callID, gateway.Prompt{Text: e.cfg.ClosingText}); err != nil && !errors.Is(err, gateway.ErrUnknownCall) {
				log.Warn("engine: closing message failed", "err", err)
			}
		}
		err := retry.Do(ctx, e.cfg.GatewayRetry, func(ctx context.Context) error {
			if err := e.gw.EndCall(ctx, callID); err != nil && !errors.Is(err, gateway.ErrUnknownCall) {
				return err
			}
			return nil
		})
		if err != nil {
			log.Warn("engine: end call failed", "err", err)
		}

	case survey.StopRecording:
		if err := e.gw.StopRecording(ctx, callID); err != nil && !errors.Is(err, gateway.ErrUnknownCall) {
			log.Warn("engine: stop recording failed", "err", err)
		}
	}
}

// submitInternal queues an engine-originated event, logging the rare
// drop on a full queue.
func (e *Engine) submitInternal(ev survey.Event) {
	if err := e.Submit(ev); err != nil {
		e.logger.Warn("engine: dropping internal event", "event", fmt.Sprintf("%T", ev), "err", err)
	}
}

// syncTimer arms, re-arms, or cancels the session's silence timer to
// match its committed phase: armed exactly while awaiting a recording.
func (e *Engine) syncTimer(s *survey.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	cur := e.timers[s.ID]
	if s.Phase != survey.PhaseAwaitingRecording {
		if cur != nil {
			cur.timer.Stop()
			delete(e.timers, s.ID)
		}
		return
	}
	if cur != nil && cur.question == s.CurrentQuestion {
		return
	}
	if cur != nil {
		cur.timer.Stop()
	}
	id, q := s.ID, s.CurrentQuestion
	e.timers[id] = &silenceTimer{
		question: q,
		timer: time.AfterFunc(e.cfg.SilenceWindow, func() {
			// The machine rejects this if a recording arrived first.
			e.submitInternal(survey.SilenceElapsed{SessionID: id, QuestionIndex: q})
		}),
	}
}

func (e *Engine) notify(s *survey.Session) {
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate(s.Clone())
	}
}

func promptFor(q survey.Question) gateway.Prompt {
	return gateway.Prompt{Text: q.PromptText, AudioURI: q.PromptAudioURI}
}
