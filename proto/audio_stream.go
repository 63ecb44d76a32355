// Package proto defines the AudioStreamService contract by hand: this module is
// built without running protoc, so instead of protobuf wire format the stream
// exchanges JSON-encoded messages through a custom grpc.Codec (see codec.go). The
// service/stream shape otherwise follows the same contract protoc-gen-go-grpc would
// emit for a bidirectional-streaming AudioStreamService.StreamAudio RPC (spec §6).
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AudioFrame carries one chunk of audio plus session/utterance metadata. The first
// frame on a stream additionally carries sourceLang/targetLangs to establish the
// session; later frames only need sessionId, audio, audioOffsetMs and the control
// flags (spec §6: "audio(sessionId, bytes)" plus session lifecycle pause/end).
type AudioFrame struct {
	SessionId      string   `json:"sessionId"`
	Audio          []byte   `json:"audio"`
	AudioOffsetMs  int64    `json:"audioOffsetMs"`
	EndOfUtterance bool     `json:"endOfUtterance"`
	Pause          bool     `json:"pause"`
	SourceLang     string   `json:"sourceLang,omitempty"`
	TargetLangs    []string `json:"targetLangs,omitempty"`
}

// StreamAck is sent once by the server after the client half-closes its send side.
type StreamAck struct {
	SessionId string `json:"sessionId"`
}

// AudioStreamServiceServer is the server-side contract for AudioStreamService.
type AudioStreamServiceServer interface {
	StreamAudio(AudioStreamService_StreamAudioServer) error
}

// UnimplementedAudioStreamServiceServer must be embedded by server implementations
// for forward compatibility, following the protoc-gen-go-grpc convention.
type UnimplementedAudioStreamServiceServer struct{}

func (UnimplementedAudioStreamServiceServer) StreamAudio(AudioStreamService_StreamAudioServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamAudio not implemented")
}

// AudioStreamService_StreamAudioServer is the server-side stream handle.
type AudioStreamService_StreamAudioServer interface {
	Send(*StreamAck) error
	Recv() (*AudioFrame, error)
	grpc.ServerStream
}

type audioStreamServiceStreamAudioServer struct {
	grpc.ServerStream
}

func (x *audioStreamServiceStreamAudioServer) Send(m *StreamAck) error {
	return x.ServerStream.SendMsg(m)
}

func (x *audioStreamServiceStreamAudioServer) Recv() (*AudioFrame, error) {
	m := new(AudioFrame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AudioStreamService_ServiceDesc is the grpc.ServiceDesc protoc-gen-go-grpc would
// generate for a service with a single bidirectional-streaming method.
var AudioStreamService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "captionrelay.AudioStreamService",
	HandlerType: (*AudioStreamServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAudio",
			Handler:       _AudioStreamService_StreamAudio_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "captionrelay/audio_stream.proto",
}

func _AudioStreamService_StreamAudio_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(AudioStreamServiceServer).StreamAudio(&audioStreamServiceStreamAudioServer{stream})
}

// RegisterAudioStreamServiceServer registers srv with g.
func RegisterAudioStreamServiceServer(g grpc.ServiceRegistrar, srv AudioStreamServiceServer) {
	g.RegisterService(&AudioStreamService_ServiceDesc, srv)
}

// AudioStreamServiceClient is the client-side contract for AudioStreamService.
type AudioStreamServiceClient interface {
	StreamAudio(ctx context.Context, opts ...grpc.CallOption) (AudioStreamService_StreamAudioClient, error)
}

type audioStreamServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAudioStreamServiceClient builds a client bound to cc.
func NewAudioStreamServiceClient(cc grpc.ClientConnInterface) AudioStreamServiceClient {
	return &audioStreamServiceClient{cc}
}

func (c *audioStreamServiceClient) StreamAudio(ctx context.Context, opts ...grpc.CallOption) (AudioStreamService_StreamAudioClient, error) {
	stream, err := c.cc.NewStream(ctx, &AudioStreamService_ServiceDesc.Streams[0], "/captionrelay.AudioStreamService/StreamAudio", opts...)
	if err != nil {
		return nil, err
	}
	return &audioStreamServiceStreamAudioClient{stream}, nil
}

// AudioStreamService_StreamAudioClient is the client-side stream handle.
type AudioStreamService_StreamAudioClient interface {
	Send(*AudioFrame) error
	CloseAndRecv() (*StreamAck, error)
	grpc.ClientStream
}

type audioStreamServiceStreamAudioClient struct {
	grpc.ClientStream
}

func (x *audioStreamServiceStreamAudioClient) Send(m *AudioFrame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *audioStreamServiceStreamAudioClient) CloseAndRecv() (*StreamAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(StreamAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
