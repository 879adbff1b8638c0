package contacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/engine"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// Caller places survey calls. Implemented by *engine.Engine.
type Caller interface {
	CreateSession(ctx context.Context, p engine.CreateParams) (*survey.Session, error)
}

// Dialer runs dialing passes over the calling list: each pass dials every
// eligible participant once, recording the attempt so the eligibility
// policy can space retries.
type Dialer struct {
	Caller    Caller
	Book      *Book
	Questions []survey.Question

	// Pace is the delay between consecutive dials in a pass, so the
	// gateway is not flooded. Zero means no delay.
	Pace time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Pass dials every currently-eligible contact once and returns the number
// of calls placed. Failures to place an individual call are logged and
// counted as an attempt; the pass continues.
func (d *Dialer) Pass(ctx context.Context, list []Contact) (int, error) {
	placed := 0
	for _, c := range list {
		if err := ctx.Err(); err != nil {
			return placed, err
		}
		ok, err := d.Book.Eligible(ctx, c.ID, time.Now())
		if err != nil {
			return placed, err
		}
		if !ok {
			continue
		}
		if err := d.Book.RecordAttempt(ctx, c.ID, time.Now()); err != nil {
			return placed, err
		}
		s, err := d.Caller.CreateSession(ctx, engine.CreateParams{
			Destination:   c.Phone,
			ParticipantID: c.ID,
			Questions:     d.Questions,
		})
		if err != nil {
			d.logger().Warn("dialer: call placement failed", "participant", c.ID, "phone", c.Phone, "err", err)
			continue
		}
		d.logger().Info("dialer: call placed", "participant", c.ID, "session", s.ID)
		placed++
		if d.Pace > 0 {
			select {
			case <-time.After(d.Pace):
			case <-ctx.Done():
				return placed, ctx.Err()
			}
		}
	}
	return placed, nil
}

// Run repeats dialing passes every interval until ctx is done or every
// participant is done or out of attempts.
func (d *Dialer) Run(ctx context.Context, list []Contact, interval time.Duration) error {
	for {
		placed, err := d.Pass(ctx, list)
		if err != nil {
			return err
		}
		remaining, err := d.remaining(ctx, list)
		if err != nil {
			return err
		}
		d.logger().Info("dialer: pass finished", "placed", placed, "remaining", remaining)
		if remaining == 0 {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// remaining counts participants that could still become eligible: not
// done and under the attempt cap.
func (d *Dialer) remaining(ctx context.Context, list []Contact) (int, error) {
	n := 0
	for _, c := range list {
		st, err := d.Book.State(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		if !st.Done && st.Attempts < d.Book.MaxAttempts {
			n++
		}
	}
	return n, nil
}

// Track returns an engine.Config.OnUpdate hook that records terminal
// outcomes of dialer-placed calls back into the Book.
func Track(book *Book, logger *slog.Logger) func(*survey.Session) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(s *survey.Session) {
		if s.ParticipantID == "" || !s.Phase.Terminal() {
			return
		}
		if err := book.RecordOutcome(context.Background(), s.ParticipantID, s.Outcome); err != nil {
			logger.Warn("dialer: outcome record failed", "participant", s.ParticipantID, "err", err)
		}
	}
}
