package main

import (
	"context"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "caption-relay/proto"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming.
// At 16kHz 16-bit mono = 32000 bytes/second; 100ms chunks = 3200 bytes.
const chunkSize = 3200
const baseChunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "../testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	sessionID := flag.String("session", "session-"+time.Now().Format("150405"), "Session ID")
	sourceLang := flag.String("source-lang", "en-US", "Source language")
	targetLangs := flag.String("target-langs", "", "Comma-separated target languages, empty for passthrough only")
	slowdown := flag.Float64("slow", 1.0, "Slowdown factor (1.0 = realtime, 2.0 = half speed, etc)")
	flag.Parse()

	chunkInterval := time.Duration(float64(baseChunkIntervalMs)**slowdown) * time.Millisecond

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("failed to read WAV header: %v", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("only PCM format supported")
	}

	conn, err := grpc.NewClient(*serverAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(pb.Codec)),
	)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected to %s", *serverAddr)

	client := pb.NewAudioStreamServiceClient(conn)

	timeout := time.Duration(90+int(50**slowdown)) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stream, err := client.StreamAudio(ctx)
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}

	log.Printf("streaming audio: sessionId=%s sourceLang=%s targetLangs=%q (slowdown=%.1fx)", *sessionID, *sourceLang, *targetLangs, *slowdown)

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		offsetMs := int64(chunkNum * baseChunkIntervalMs)

		frame := &pb.AudioFrame{
			SessionId:     *sessionID,
			Audio:         audioChunk[:n],
			AudioOffsetMs: offsetMs,
		}
		if chunkNum == 1 {
			frame.SourceLang = *sourceLang
			frame.TargetLangs = splitCSV(*targetLangs)
		}

		if err := stream.Send(frame); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("sent chunk %d (%d bytes total, offset=%dms)", chunkNum, totalBytes, offsetMs)
		}

		time.Sleep(chunkInterval)
	}

	elapsed := time.Since(startTime)
	log.Printf("finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	log.Println("waiting for STT to finish processing...")
	time.Sleep(10 * time.Second)

	log.Println("closing stream...")

	ack, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatalf("failed to receive ack: %v", err)
	}

	log.Printf("stream completed: sessionId=%s", ack.SessionId)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
