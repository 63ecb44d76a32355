package main

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "caption-relay/proto"
)

func main() {
	conn, err := grpc.NewClient("localhost:50051",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(pb.Codec)),
	)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("connected to server")

	client := pb.NewAudioStreamServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.StreamAudio(ctx)
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	frames := []*pb.AudioFrame{
		{SessionId: "sess-123", SourceLang: "en-US", TargetLangs: []string{"es-ES"}, Audio: []byte("audio-chunk-1")},
		{SessionId: "sess-123", Audio: []byte("audio-chunk-2")},
		{SessionId: "sess-123", Audio: []byte("audio-chunk-3"), EndOfUtterance: true},
	}

	for _, frame := range frames {
		log.Printf("sending frame: sessionId=%s", frame.SessionId)
		if err := stream.Send(frame); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	ack, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatalf("failed to receive ack: %v", err)
	}

	log.Printf("received ack: sessionId=%s", ack.SessionId)
}
