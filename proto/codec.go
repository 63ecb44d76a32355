package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec with plain JSON. This repository has no
// protoc step to produce real protobuf descriptors, so AudioFrame/StreamAck are
// carried as JSON rather than protobuf wire format; everything else about the RPC
// (framing, streaming, interceptors, health/reflection) is unchanged gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// Codec is the shared codec instance used by both the server (grpc.ForceServerCodec)
// and clients (grpc.ForceCodec) so the two sides always agree on wire format
// regardless of content-type negotiation.
var Codec = jsonCodec{}

func init() {
	encoding.RegisterCodec(Codec)
}
