// Package grpcapi provides the gRPC server implementation for caption-relay: the
// Host-facing AudioStreamService that receives a mic audio stream and drives the
// caption stabilization pipeline for one session.
package grpcapi

import (
	"context"
	"errors"
	"io"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"caption-relay/internal/events"
	"caption-relay/internal/schema"
	"caption-relay/internal/service/audio"
	"caption-relay/internal/service/segment"
	"caption-relay/internal/service/stt"
	"caption-relay/internal/service/stt/google"
	"caption-relay/internal/service/stt/mock"
	"caption-relay/internal/service/supervisor"
	pb "caption-relay/proto"
)

// STTConfig holds STT provider configuration.
type STTConfig struct {
	Provider       string
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// Server implements the AudioStreamService gRPC service: one StreamAudio call per
// Host session, driving the SessionSupervisor for the lifetime of the stream.
type Server struct {
	pb.UnimplementedAudioStreamServiceServer
	idGen         *segment.IDGenerator
	seqGen        *segment.SeqGenerator
	publisher     *events.Publisher
	validator     *schema.Validator
	supervisor    *supervisor.Supervisor
	sttConfig     STTConfig
	segmentLimits audio.SegmentLimits
}

// Register creates a new Server and registers it with the gRPC server using defaults.
func Register(g *grpc.Server, publisher *events.Publisher, sv *supervisor.Supervisor, sttProvider string) {
	RegisterWithConfig(g, publisher, sv, STTConfig{Provider: sttProvider}, audio.DefaultLimits())
}

// RegisterWithLimits creates a new Server with custom segment limits (legacy, use
// RegisterWithConfig).
func RegisterWithLimits(g *grpc.Server, publisher *events.Publisher, sv *supervisor.Supervisor, sttProvider string, limits audio.SegmentLimits) {
	RegisterWithConfig(g, publisher, sv, STTConfig{Provider: sttProvider}, limits)
}

// RegisterWithConfig creates a new Server with full STT config and segment limits.
func RegisterWithConfig(g *grpc.Server, publisher *events.Publisher, sv *supervisor.Supervisor, sttCfg STTConfig, limits audio.SegmentLimits) {
	if sttCfg.LanguageCode == "" {
		sttCfg.LanguageCode = "en-US"
	}
	if sttCfg.SampleRateHz == 0 {
		sttCfg.SampleRateHz = 16000
	}
	if sttCfg.AudioEncoding == "" {
		sttCfg.AudioEncoding = "LINEAR16"
	}

	s := &Server{
		idGen:         segment.NewIDGenerator(),
		seqGen:        segment.NewSeqGenerator(),
		publisher:     publisher,
		validator:     schema.New(),
		supervisor:    sv,
		sttConfig:     sttCfg,
		segmentLimits: limits,
	}
	log.Printf("STT config: provider=%s lang=%s sampleRate=%d interim=%v encoding=%s",
		sttCfg.Provider, sttCfg.LanguageCode, sttCfg.SampleRateHz, sttCfg.InterimResults, sttCfg.AudioEncoding)
	log.Printf("Segment limits: maxAudioBytes=%d maxDuration=%v maxPartials=%d",
		limits.MaxAudioBytes, limits.MaxDuration, limits.MaxPartials)
	pb.RegisterAudioStreamServiceServer(g, s)
}

// StreamAudio handles bidirectional audio streaming for speech-to-text transcription.
// The first frame's SessionId/SourceLang/TargetLangs configure the session; every
// frame after that carries raw audio for the already-running session.
func (s *Server) StreamAudio(stream pb.AudioStreamService_StreamAudioServer) error {
	ctx := stream.Context()

	frame, err := stream.Recv()
	if err != nil {
		return err
	}

	sessionID := frame.SessionId
	if sessionID == "" {
		return status.Error(codes.InvalidArgument, "first frame must carry a sessionId")
	}
	sourceLang := frame.SourceLang
	if sourceLang == "" {
		sourceLang = s.sttConfig.LanguageCode
	}
	targetLangs := frame.TargetLangs

	log.Printf("starting session: sessionId=%s sourceLang=%s targetLangs=%v", sessionID, sourceLang, targetLangs)

	adapter, err := s.createSTTAdapter(ctx)
	if err != nil {
		log.Printf("failed to create STT adapter: %v", err)
		return err
	}

	sess, err := s.supervisor.StartSession(ctx, sessionID, adapter, s.publisher, segment.NewIDGenerator(), segment.NewSeqGenerator(), sourceLang, targetLangs)
	if err != nil {
		log.Printf("failed to start session: sessionId=%s err=%v", sessionID, err)
		return err
	}
	defer s.supervisor.EndSession(sessionID, 0)

	handler := sess.Handler()

	if len(frame.Audio) > 0 {
		if err := handler.SendAudio(ctx, frame.Audio, frame.AudioOffsetMs); err != nil {
			log.Printf("failed to send audio: sessionId=%s err=%v", sessionID, err)
			return err
		}
	}

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// "Silence > bad data" - drop the segment, emit no final.
			handler.DropSegment(classifyStreamError(err))
			log.Printf("stream error (segment dropped): sessionId=%s err=%v", sessionID, err)
			return nil
		}

		if ctx.Err() != nil {
			handler.DropSegment("context cancelled: " + ctx.Err().Error())
			log.Printf("context cancelled (segment dropped): sessionId=%s err=%v", sessionID, ctx.Err())
			return nil
		}

		if len(frame.Audio) > 0 {
			if err := handler.SendAudio(ctx, frame.Audio, frame.AudioOffsetMs); err != nil {
				handler.DropSegment("send audio failed: " + err.Error())
				log.Printf("failed to send audio (segment dropped): sessionId=%s err=%v", sessionID, err)
				return nil
			}
		}

		// Pause closes out the current utterance as a forced final.
		if frame.Pause {
			if err := adapter.ForceCommit(ctx); err != nil {
				log.Printf("force commit on pause failed: sessionId=%s err=%v", sessionID, err)
			}
		}

		// EndOfUtterance is informational here: the segment machine decides
		// finalization timing on its own (FinalizationEngine/ForcedCommitEngine),
		// the stream keeps running across utterance boundaries for the rest of the
		// session.
	}

	finalState := handler.GetSegmentState()
	if handler.IsSegmentDropped() {
		log.Printf("stream ended with DROPPED segment: sessionId=%s state=%s", sessionID, finalState)
	} else {
		log.Printf("stream completed: sessionId=%s state=%s utterances=%d", sessionID, finalState, handler.GetUtteranceCount())
	}

	return stream.Send(&pb.StreamAck{SessionId: sessionID})
}

func (s *Server) createSTTAdapter(ctx context.Context) (stt.Adapter, error) {
	switch s.sttConfig.Provider {
	case "google":
		cfg := google.Config{
			LanguageCode:   s.sttConfig.LanguageCode,
			SampleRateHz:   s.sttConfig.SampleRateHz,
			InterimResults: s.sttConfig.InterimResults,
			AudioEncoding:  s.sttConfig.AudioEncoding,
		}
		return google.NewWithConfig(ctx, cfg)
	case "mock":
		return mock.New(), nil
	default:
		log.Printf("unknown STT provider '%s', using mock", s.sttConfig.Provider)
		return mock.New(), nil
	}
}

// classifyStreamError returns a human-readable reason for stream errors, used when
// dropping segments due to stream failures.
func classifyStreamError(err error) string {
	if err == nil {
		return "unknown"
	}

	if errors.Is(err, context.Canceled) {
		return "client disconnect (context canceled)"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout (deadline exceeded)"
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Canceled:
			return "client disconnect (gRPC canceled)"
		case codes.DeadlineExceeded:
			return "timeout (gRPC deadline exceeded)"
		case codes.Unavailable:
			return "network error (unavailable)"
		case codes.ResourceExhausted:
			return "resource exhausted"
		case codes.Internal:
			return "internal error"
		default:
			return "gRPC error: " + st.Code().String()
		}
	}

	if errors.Is(err, io.EOF) || err.Error() == "EOF" {
		return "unexpected connection close (EOF)"
	}

	return "stream error: " + err.Error()
}
