package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/kv"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	kvs := kv.NewMemory()
	t.Cleanup(func() { kvs.Close() })
	return store.New(kvs)
}

func sampleSession(id string) *survey.Session {
	return &survey.Session{
		ID:        id,
		Direction: survey.DirectionOutbound,
		Questions: []survey.Question{{Index: 0, PromptText: "Q1"}},
		Phase:     survey.PhaseDialing,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := sampleSession("s1")
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ver, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ver != 1 {
		t.Fatalf("version = %d, want 1", ver)
	}
	if got.ID != "s1" || got.Phase != survey.PhaseDialing || len(got.Questions) != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	if err := st.Create(ctx, sampleSession("s1")); !errors.Is(err, store.ErrDuplicateSession) {
		t.Fatalf("duplicate Create err = %v, want ErrDuplicateSession", err)
	}

	if _, _, err := st.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := sampleSession("s1")
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s2 := s.Clone()
	s2.Phase = survey.PhaseAwaitingRecording
	if err := st.CompareAndSwap(ctx, 1, s2); err != nil {
		t.Fatalf("CAS: %v", err)
	}

	got, ver, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ver != 2 || got.Phase != survey.PhaseAwaitingRecording {
		t.Fatalf("after CAS: version=%d phase=%s", ver, got.Phase)
	}

	// Swapping with the stale version fails and leaves the record alone.
	s3 := s.Clone()
	s3.Phase = survey.PhaseFailed
	if err := st.CompareAndSwap(ctx, 1, s3); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale CAS err = %v, want ErrVersionConflict", err)
	}
	got, ver, _ = st.Get(ctx, "s1")
	if ver != 2 || got.Phase != survey.PhaseAwaitingRecording {
		t.Fatalf("stale CAS mutated record: version=%d phase=%s", ver, got.Phase)
	}

	if err := st.CompareAndSwap(ctx, 1, sampleSession("missing")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CAS missing err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentCASSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := sampleSession("s1")
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Two workers race to apply the same transition from version 1.
	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := s.Clone()
			next.Phase = survey.PhaseAwaitingRecording
			errs[i] = st.CompareAndSwap(ctx, 1, next)
		}()
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected CAS error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}

	// The loser re-reads and finds the transition already applied.
	got, ver, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ver != 2 || got.Phase != survey.PhaseAwaitingRecording {
		t.Fatalf("after race: version=%d phase=%s", ver, got.Phase)
	}
}

func TestGatewayIndex(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := sampleSession("s1")
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, _, err := st.GetByGatewayCallID(ctx, "CA1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unbound lookup err = %v, want ErrNotFound", err)
	}

	// Setting the gateway call ID through CAS binds the index.
	s2 := s.Clone()
	s2.GatewayCallID = "CA1"
	if err := st.CompareAndSwap(ctx, 1, s2); err != nil {
		t.Fatalf("CAS: %v", err)
	}

	got, _, err := st.GetByGatewayCallID(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetByGatewayCallID: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("resolved session = %s, want s1", got.ID)
	}

	// Rebinding the same pair is idempotent.
	if err := st.BindGatewayCallID(ctx, "CA1", "s1"); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	// Binding the call ID to another session violates the invariant.
	if err := st.BindGatewayCallID(ctx, "CA1", "s2"); !errors.Is(err, store.ErrDuplicateSession) {
		t.Fatalf("conflicting bind err = %v, want ErrDuplicateSession", err)
	}
}

func TestCreateInboundBindsImmediately(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	s := sampleSession("s1")
	s.Direction = survey.DirectionInbound
	s.GatewayCallID = "CA9"
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, err := st.GetByGatewayCallID(ctx, "CA9")
	if err != nil {
		t.Fatalf("GetByGatewayCallID: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("resolved = %s, want s1", got.ID)
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := st.Create(ctx, sampleSession(id)); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %d sessions, want 3", len(all))
	}
}
