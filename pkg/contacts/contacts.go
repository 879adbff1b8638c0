// Package contacts manages the outbound calling list: loading contacts
// from CSV, tracking per-participant attempt state durably, and deciding
// who is eligible for the next dialing pass. A participant is retried
// until they complete the survey, up to an attempt cap, with a minimum
// gap between attempts.
package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/krishnanand20/audiosurvey-ai/pkg/kv"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// ErrNotFound is returned when no state exists for a participant.
var ErrNotFound = errors.New("contacts: participant not found")

// Contact is one row of the calling list.
type Contact struct {
	ID       string `msgpack:"id" json:"id"`
	Name     string `msgpack:"name,omitempty" json:"name,omitempty"`
	Phone    string `msgpack:"phone" json:"phone"`
	Language string `msgpack:"lang,omitempty" json:"language,omitempty"`
}

// State is the durable dialing record for one participant.
type State struct {
	Attempts    int            `msgpack:"att" json:"attempts"`
	LastAttempt int64          `msgpack:"last,omitempty" json:"lastAttemptMillis,omitempty"`
	Done        bool           `msgpack:"done,omitempty" json:"done,omitempty"`
	LastOutcome survey.Outcome `msgpack:"out,omitempty" json:"lastOutcome,omitempty"`
}

// LoadCSV reads the calling list. The first row is a header; recognized
// columns are id, name, phone, language (any order, case-insensitive).
// Rows without a phone number are rejected. A missing id column falls
// back to the phone number.
func LoadCSV(r io.Reader) ([]Contact, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("contacts: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["phone"]; !ok {
		return nil, errors.New("contacts: header has no phone column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Contact
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("contacts: line %d: %w", line, err)
		}
		c := Contact{
			ID:       field(row, "id"),
			Name:     field(row, "name"),
			Phone:    field(row, "phone"),
			Language: field(row, "language"),
		}
		if c.Phone == "" {
			return nil, fmt.Errorf("contacts: line %d: empty phone", line)
		}
		if c.ID == "" {
			c.ID = c.Phone
		}
		out = append(out, c)
	}
	return out, nil
}

// Book persists participant dialing state.
type Book struct {
	kv kv.Store

	// MaxAttempts caps dial attempts per participant. Default 3.
	MaxAttempts int

	// RetryGap is the minimum time between attempts. Default 1h.
	RetryGap time.Duration
}

// NewBook creates a Book with the default attempt policy.
func NewBook(kvs kv.Store) *Book {
	return &Book{kv: kvs, MaxAttempts: 3, RetryGap: time.Hour}
}

func stateKey(id string) kv.Key {
	return kv.Key{"contacts", "state", id}
}

// State returns the participant's dialing record; a zero State when none
// was stored yet.
func (b *Book) State(ctx context.Context, id string) (State, error) {
	raw, err := b.kv.Get(ctx, stateKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := msgpack.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("contacts: decode state %s: %w", id, err)
	}
	return st, nil
}

// Eligible reports whether the participant should be dialed now.
func (b *Book) Eligible(ctx context.Context, id string, now time.Time) (bool, error) {
	st, err := b.State(ctx, id)
	if err != nil {
		return false, err
	}
	if st.Done || st.Attempts >= b.MaxAttempts {
		return false, nil
	}
	if st.LastAttempt != 0 && now.Sub(time.UnixMilli(st.LastAttempt)) < b.RetryGap {
		return false, nil
	}
	return true, nil
}

// RecordAttempt bumps the participant's attempt count.
func (b *Book) RecordAttempt(ctx context.Context, id string, now time.Time) error {
	return b.mutate(ctx, id, func(st *State) {
		st.Attempts++
		st.LastAttempt = now.UnixMilli()
	})
}

// RecordOutcome stores a finished call's outcome. A completed survey
// marks the participant done; other outcomes leave them eligible for the
// next pass.
func (b *Book) RecordOutcome(ctx context.Context, id string, outcome survey.Outcome) error {
	return b.mutate(ctx, id, func(st *State) {
		st.LastOutcome = outcome
		if outcome == survey.OutcomeCompleted {
			st.Done = true
		}
	})
}

func (b *Book) mutate(ctx context.Context, id string, fn func(*State)) error {
	return b.kv.Update(ctx, stateKey(id), func(old []byte, found bool) ([]byte, error) {
		var st State
		if found {
			if err := msgpack.Unmarshal(old, &st); err != nil {
				return nil, fmt.Errorf("contacts: decode state %s: %w", id, err)
			}
		}
		fn(&st)
		return msgpack.Marshal(st)
	})
}
