// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"caption-relay/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string // BCP-47 language code (e.g., "en-US")
	SampleRateHz    int    // Audio sample rate in Hertz
	InterimResults  bool   // Enable partial/interim transcripts
	AudioEncoding   string // Audio encoding (LINEAR16, MULAW, FLAC, etc.)
	SingleUtterance bool   // Enable single utterance mode (stops after each utterance)
}

// DefaultConfig returns sensible defaults for Google STT, matching spec §6's 24kHz
// mono PCM wire format.
func DefaultConfig() Config {
	return Config{
		LanguageCode:    "en-US",
		SampleRateHz:    24000,
		InterimResults:  true,
		AudioEncoding:   "LINEAR16",
		SingleUtterance: true,
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	config Config
	ctx    context.Context
	mu     sync.RWMutex // protects stream access during restart

	forcePending atomic.Bool // next completed transcript should be tagged forced
}

// New creates a new Google STT adapter with default configuration.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context) (*Adapter, error) {
	return NewWithConfig(ctx, DefaultConfig())
}

// NewWithConfig creates a new Google STT adapter with custom configuration.
func NewWithConfig(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, config: cfg}, nil
}

// Start begins a streaming recognition session and sends the initial config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	a.stream = stream
	a.cb = cb
	a.ctx = ctx

	if err := stream.Send(a.streamingConfigRequest()); err != nil {
		return err
	}
	cb.OnSpeechStarted()
	go a.Listen()
	return nil
}

func (a *Adapter) streamingConfigRequest() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(a.config.AudioEncoding),
					SampleRateHertz: int32(a.config.SampleRateHz),
					LanguageCode:    a.config.LanguageCode,
				},
				InterimResults:  a.config.InterimResults,
				SingleUtterance: a.config.SingleUtterance,
			},
		},
	}
}

func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.RLock()
	stream := a.stream
	a.mu.RUnlock()

	if stream == nil {
		return nil // stream not ready, pool buffers on our behalf
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// ForceCommit has no direct Google Speech v1 equivalent; it marks the next final
// result to be reported as a forced final and restarts the stream so a fresh
// utterance begins immediately.
func (a *Adapter) ForceCommit(ctx context.Context) error {
	a.forcePending.Store(true)
	return a.Restart(ctx)
}

// Restart closes the current stream and creates a new one for the next utterance.
// Required for Google's SingleUtterance mode, which stops accepting audio after
// detecting end-of-utterance.
func (a *Adapter) Restart(ctx context.Context) error {
	a.mu.Lock()
	oldStream := a.stream

	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.stream = stream
	a.ctx = ctx
	a.mu.Unlock()

	if oldStream != nil {
		oldStream.CloseSend()
	}

	if err := stream.Send(a.streamingConfigRequest()); err != nil {
		return err
	}
	if a.cb != nil {
		a.cb.OnSpeechStarted()
	}
	go a.Listen()
	return nil
}

// Close ends the streaming session and releases resources.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream := a.stream
	a.stream = nil
	a.mu.Unlock()

	var streamErr error
	if stream != nil {
		streamErr = stream.CloseSend()
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			return err
		}
	}
	return streamErr
}

// Listen receives transcript responses from Google and invokes callbacks. Started in
// its own goroutine by Start/Restart. Respects context cancellation for graceful
// shutdown, and exits silently if its stream has since been replaced.
func (a *Adapter) Listen() {
	a.mu.RLock()
	stream := a.stream
	ctx := a.ctx
	cb := a.cb
	a.mu.RUnlock()

	if stream == nil || cb == nil {
		return
	}

	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}

		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx != nil && ctx.Err() != nil {
				return
			}
			a.mu.RLock()
			current := a.stream
			a.mu.RUnlock()
			if current != stream {
				return
			}
			cb.OnError(err)
			return
		}

		a.mu.RLock()
		current := a.stream
		a.mu.RUnlock()
		if current != stream {
			return
		}

		if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			cb.OnSpeechStopped()
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			text := r.Alternatives[0].Transcript
			if r.IsFinal {
				forced := a.forcePending.Swap(false)
				cb.OnTranscriptionCompleted(text, forced)
			} else {
				cb.OnTranscriptionDelta(text)
			}
		}
	}
}
