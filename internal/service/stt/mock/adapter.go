// Package mock provides a mock STT adapter for testing without cloud credentials.
// It simulates realistic speech-to-text behavior with progressive partial transcripts,
// exactly one final transcript per utterance, and scriptable forced commits so the
// caption stabilization pipeline's literal scenarios can be exercised deterministically.
package mock

import (
	"context"
	"sync"
	"time"

	"caption-relay/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final (unused by the pool, kept for parity)
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
}

// Adapter implements stt.Adapter with mock responses. It simulates:
//   - Multiple partial transcripts as audio is received
//   - Exactly one natural final transcript when its scripted utterance completes
//   - ForceCommit, which ends the current utterance early and tags the final forced
type Adapter struct {
	cb        stt.Callback
	mu        sync.Mutex
	utterance SimulatedUtterance
	partialIdx int
	finalSent bool
	closed    bool
}

var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a new mock STT adapter, cycling through DefaultUtterances.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{utterance: DefaultUtterances[idx]}
}

// NewWithUtterance creates a mock adapter scripted with a specific utterance, for
// tests that need exact control over the partial/final sequence.
func NewWithUtterance(u SimulatedUtterance) *Adapter {
	return &Adapter{utterance: u}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	cb.OnSpeechStarted()
	return nil
}

// SendAudio simulates receiving audio and triggers progressive partial transcripts.
// When all scripted partials are sent, it simulates natural utterance completion.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	if a.partialIdx < len(a.utterance.Partials) {
		text := a.utterance.Partials[a.partialIdx]
		a.partialIdx++
		go func() {
			time.Sleep(20 * time.Millisecond)
			a.mu.Lock()
			cb, closed := a.cb, a.closed
			a.mu.Unlock()
			if !closed && cb != nil {
				cb.OnTranscriptionDelta(text)
			}
		}()
		return nil
	}

	if !a.finalSent {
		a.finalSent = true
		go func() {
			time.Sleep(30 * time.Millisecond)
			a.mu.Lock()
			cb, closed, utt := a.cb, a.closed, a.utterance
			a.mu.Unlock()
			if !closed && cb != nil {
				cb.OnSpeechStopped()
				cb.OnTranscriptionCompleted(utt.Final, false)
			}
		}()
	}
	return nil
}

// ForceCommit ends the current utterance immediately, tagging the resulting final as
// forced. Whatever text has accumulated via partials so far (or the scripted Final, if
// no partials have been sent) is used as the forced final text.
func (a *Adapter) ForceCommit(ctx context.Context) error {
	a.mu.Lock()
	if a.closed || a.cb == nil || a.finalSent {
		a.mu.Unlock()
		return nil
	}
	a.finalSent = true
	cb := a.cb
	text := a.utterance.Final
	if a.partialIdx > 0 && a.partialIdx <= len(a.utterance.Partials) {
		text = a.utterance.Partials[a.partialIdx-1]
	}
	a.mu.Unlock()

	cb.OnSpeechStopped()
	cb.OnTranscriptionCompleted(text, true)
	return nil
}

// Restart begins a fresh scripted utterance on the same adapter, cycling to the next
// entry in DefaultUtterances (mirroring Google's SingleUtterance restart requirement).
func (a *Adapter) Restart(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()
	a.utterance = DefaultUtterances[idx]
	a.partialIdx = 0
	a.finalSent = false
	if a.cb != nil {
		a.cb.OnSpeechStarted()
	}
	return nil
}

// Close ends the mock session. If a final wasn't sent yet, it is sent now as a
// forced final (mirroring an STT provider closing the turn on stream end).
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if !a.finalSent && a.cb != nil {
		a.finalSent = true
		cb := a.cb
		text := a.utterance.Final
		go func() {
			time.Sleep(20 * time.Millisecond)
			cb.OnTranscriptionCompleted(text, true)
		}()
	}
	return nil
}
