// Package store persists Call Session records. It layers versioned
// compare-and-swap on the kv package's serializable Update, making CAS the
// sole mutation path: a writer reads a session at some version, computes
// the transition, and swaps — a version mismatch means another worker got
// there first and the writer must re-read.
//
// Key layout:
//
//	survey:session:{sessionID}   → msgpack envelope {version, session}
//	survey:gateway:{callID}      → sessionID (secondary index)
//
// The secondary index enforces the one-session-per-gateway-call invariant:
// binding a call ID already bound to a different session fails.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/krishnanand20/audiosurvey-ai/pkg/kv"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no session exists for the given key.
	ErrNotFound = errors.New("store: session not found")

	// ErrDuplicateSession is returned by Create when the session ID
	// already exists, and by gateway binding when the call ID is bound
	// to a different session.
	ErrDuplicateSession = errors.New("store: duplicate session")

	// ErrVersionConflict is returned by CompareAndSwap when the stored
	// version differs from the expected one. The caller re-reads and
	// recomputes.
	ErrVersionConflict = errors.New("store: version conflict")
)

// envelope is the stored representation: the record version travels with
// the session so the swap check and the write are one atomic unit.
type envelope struct {
	Version uint64          `msgpack:"v"`
	Session *survey.Session `msgpack:"s"`
}

// Store is the durable Call Session store.
type Store struct {
	kv kv.Store
}

// New creates a Store on top of a kv backend.
func New(kvs kv.Store) *Store {
	return &Store{kv: kvs}
}

func sessionKey(id string) kv.Key {
	return kv.Key{"survey", "session", id}
}

func gatewayKey(callID string) kv.Key {
	return kv.Key{"survey", "gateway", callID}
}

// Create stores a new session at version 1. Fails with ErrDuplicateSession
// if the ID already exists. If the session already carries a gateway call
// ID (inbound calls), the index entry is bound in the same call.
func (st *Store) Create(ctx context.Context, s *survey.Session) error {
	val, err := msgpack.Marshal(envelope{Version: 1, Session: s})
	if err != nil {
		return fmt.Errorf("store: encode session %s: %w", s.ID, err)
	}
	err = st.kv.Update(ctx, sessionKey(s.ID), func(_ []byte, found bool) ([]byte, error) {
		if found {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, s.ID)
		}
		return val, nil
	})
	if err != nil {
		return err
	}
	if s.GatewayCallID != "" {
		return st.BindGatewayCallID(ctx, s.GatewayCallID, s.ID)
	}
	return nil
}

// Get returns the current session record and its version.
func (st *Store) Get(ctx context.Context, id string) (*survey.Session, uint64, error) {
	raw, err := st.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("store: decode session %s: %w", id, err)
	}
	return env.Session, env.Version, nil
}

// GetByGatewayCallID resolves a gateway call ID through the secondary
// index and returns the session. ErrNotFound covers both a missing index
// entry and a dangling one.
func (st *Store) GetByGatewayCallID(ctx context.Context, callID string) (*survey.Session, uint64, error) {
	raw, err := st.kv.Get(ctx, gatewayKey(callID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: gateway call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, 0, err
	}
	return st.Get(ctx, string(raw))
}

// CompareAndSwap replaces the session record if and only if the stored
// version equals expected. On success the stored version becomes
// expected+1. This is the sole mutation path for existing sessions.
func (st *Store) CompareAndSwap(ctx context.Context, expected uint64, s *survey.Session) error {
	val, err := msgpack.Marshal(envelope{Version: expected + 1, Session: s})
	if err != nil {
		return fmt.Errorf("store: encode session %s: %w", s.ID, err)
	}
	err = st.kv.Update(ctx, sessionKey(s.ID), func(old []byte, found bool) ([]byte, error) {
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.ID)
		}
		var env envelope
		if err := msgpack.Unmarshal(old, &env); err != nil {
			return nil, fmt.Errorf("store: decode session %s: %w", s.ID, err)
		}
		if env.Version != expected {
			return nil, fmt.Errorf("%w: %s at v%d, expected v%d", ErrVersionConflict, s.ID, env.Version, expected)
		}
		return val, nil
	})
	// A kv-level transaction conflict means a concurrent writer touched
	// the record; to the caller that is indistinguishable from losing
	// the version race.
	if errors.Is(err, kv.ErrConflict) {
		return fmt.Errorf("%w: %s (transaction conflict)", ErrVersionConflict, s.ID)
	}
	if err != nil {
		return err
	}
	if s.GatewayCallID != "" {
		return st.BindGatewayCallID(ctx, s.GatewayCallID, s.ID)
	}
	return nil
}

// BindGatewayCallID writes the callID → sessionID index entry. Rebinding
// the same pair is a no-op; binding to a different session fails with
// ErrDuplicateSession, enforcing exactly one session per gateway call.
func (st *Store) BindGatewayCallID(ctx context.Context, callID, sessionID string) error {
	return st.kv.Update(ctx, gatewayKey(callID), func(old []byte, found bool) ([]byte, error) {
		if found {
			if string(old) != sessionID {
				return nil, fmt.Errorf("%w: gateway call %s already bound to %s", ErrDuplicateSession, callID, string(old))
			}
			return old, nil
		}
		return []byte(sessionID), nil
	})
}

// List returns all stored sessions. Intended for the operator dashboard
// and CLI; not on any hot path.
func (st *Store) List(ctx context.Context) ([]*survey.Session, error) {
	var out []*survey.Session
	for e, err := range st.kv.List(ctx, kv.Key{"survey", "session"}) {
		if err != nil {
			return nil, err
		}
		var env envelope
		if err := msgpack.Unmarshal(e.Value, &env); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", e.Key, err)
		}
		out = append(out, env.Session)
	}
	return out, nil
}
