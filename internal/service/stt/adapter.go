// Package stt defines the interface for Speech-to-Text adapters and the session pool
// that round-robins audio across a fixed number of them (spec §4.7).
package stt

import "context"

// Callback receives transcript and VAD events from an STT provider. The taxonomy
// follows spec §4.7: speech_started/speech_stopped bracket an utterance,
// transcription_delta carries interim text, transcription_completed carries the final
// hypothesis and whether it was produced by a forced turn close.
type Callback interface {
	// OnSpeechStarted fires when the provider's VAD detects voice activity beginning.
	OnSpeechStarted()

	// OnSpeechStopped fires when the provider's VAD detects silence after speech.
	OnSpeechStopped()

	// OnTranscriptionDelta is called with an interim/partial transcript.
	OnTranscriptionDelta(text string)

	// OnTranscriptionCompleted is called with a final transcript. forced is true when
	// this final resulted from an explicit ForceCommit rather than natural utterance
	// end detection.
	OnTranscriptionCompleted(text string, forced bool)

	// OnError is called when an error occurs during transcription. The adapter pool
	// classifies and retries transient errors before this reaches the caller.
	OnError(err error)
}

// Adapter defines the interface for STT providers (Google, Azure, AWS, mock, etc.).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// ForceCommit closes the current turn immediately, as if silence had been
	// detected, and tags the resulting final as forced.
	ForceCommit(ctx context.Context) error

	// Restart closes the current session and starts a new one, preserving the
	// callback registered in Start. Used both after natural utterance boundaries and
	// to recover a session after a transient disconnect.
	Restart(ctx context.Context) error

	// Close ends the session and releases resources.
	Close() error
}
