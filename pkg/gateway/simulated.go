package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Simulated is an in-memory Gateway for tests and local runs. It records
// every command per call leg so tests can assert on the instruction
// sequence, and lets a test script failures for specific commands.
type Simulated struct {
	mu     sync.Mutex
	nextID int
	calls  map[string]*SimulatedCall

	// PlayErr, if set, is returned by every PlayAudio call.
	PlayErr error

	// PlaceErr, if set, is returned by every PlaceCall call.
	PlaceErr error
}

// SimulatedCall is the recorded history of one simulated leg.
type SimulatedCall struct {
	Destination string
	Played      []Prompt
	Recordings  int
	Stopped     int
	Ended       bool
}

// NewSimulated creates an empty simulated gateway.
func NewSimulated() *Simulated {
	return &Simulated{calls: make(map[string]*SimulatedCall)}
}

func (g *Simulated) PlaceCall(_ context.Context, destination string) (string, error) {
	if g.PlaceErr != nil {
		return "", g.PlaceErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("SIM%04d", g.nextID)
	g.calls[id] = &SimulatedCall{Destination: destination}
	return id, nil
}

func (g *Simulated) PlayAudio(_ context.Context, callID string, prompt Prompt) error {
	if g.PlayErr != nil {
		return g.PlayErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[callID]
	if !ok || c.Ended {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	c.Played = append(c.Played, prompt)
	return nil
}

func (g *Simulated) StartRecording(_ context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[callID]
	if !ok || c.Ended {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	c.Recordings++
	return nil
}

func (g *Simulated) StopRecording(_ context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[callID]; ok {
		c.Stopped++
	}
	return nil
}

func (g *Simulated) EndCall(_ context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[callID]; ok {
		c.Ended = true
	}
	return nil
}

// Call returns a copy of the recorded history for a leg, or nil.
func (g *Simulated) Call(callID string) *SimulatedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[callID]
	if !ok {
		return nil
	}
	cp := *c
	cp.Played = append([]Prompt(nil), c.Played...)
	return &cp
}

var _ Gateway = (*Simulated)(nil)
