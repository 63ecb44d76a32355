package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(keys ...string) func() {
	saved := make(map[string]string, len(keys))
	for _, k := range keys {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if saved[k] != "" {
				os.Setenv(k, saved[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	restore := clearEnv(
		"SERVICE_PRINCIPAL", "GRPC_PORT", "LOG_LEVEL",
		"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
		"STT_INTERIM_RESULTS", "STT_AUDIO_ENCODING",
		"SEGMENT_MAX_AUDIO_BYTES", "SEGMENT_MAX_DURATION", "SEGMENT_MAX_PARTIALS",
	)
	defer restore()

	cfg := Load()

	if cfg.Service.Principal != "svc-caption-relay" {
		t.Errorf("expected default principal 'svc-caption-relay', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}

	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 24000 {
		t.Errorf("expected default sample rate 24000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.STT.InterimResults)
	}
	if cfg.STT.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.STT.AudioEncoding)
	}
	if cfg.STT.PoolSize != 2 {
		t.Errorf("expected default pool size 2, got %d", cfg.STT.PoolSize)
	}

	if cfg.Finalization.BaseWaitMs != 1000 {
		t.Errorf("expected default base wait 1000ms, got %d", cfg.Finalization.BaseWaitMs)
	}
	if cfg.Finalization.MaxWaitMs != 8000 {
		t.Errorf("expected default max wait 8000ms, got %d", cfg.Finalization.MaxWaitMs)
	}

	if cfg.ForcedCommit.CaptureWindowMs != 2200 {
		t.Errorf("expected default capture window 2200ms, got %d", cfg.ForcedCommit.CaptureWindowMs)
	}

	if cfg.Dedup.WindowMs != 4000 {
		t.Errorf("expected default dedup window 4000ms, got %d", cfg.Dedup.WindowMs)
	}

	if cfg.SegmentLimits.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes 5MB, got %d", cfg.SegmentLimits.MaxAudioBytes)
	}
	if cfg.SegmentLimits.MaxDuration != 5*time.Minute {
		t.Errorf("expected default max duration 5m, got %v", cfg.SegmentLimits.MaxDuration)
	}
	if cfg.SegmentLimits.MaxPartials != 500 {
		t.Errorf("expected default max partials 500, got %d", cfg.SegmentLimits.MaxPartials)
	}

	if cfg.Broadcast.QueueDepth != 32 {
		t.Errorf("expected default broadcast queue depth 32, got %d", cfg.Broadcast.QueueDepth)
	}
	if !cfg.Broadcast.DropOldestPartial {
		t.Error("expected default broadcast drop-oldest-partial policy to be true")
	}

	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	keys := []string{
		"SERVICE_PRINCIPAL", "GRPC_PORT", "LOG_LEVEL",
		"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
		"STT_INTERIM_RESULTS", "STT_AUDIO_ENCODING",
		"SEGMENT_MAX_AUDIO_BYTES", "SEGMENT_MAX_DURATION", "SEGMENT_MAX_PARTIALS",
	}
	restore := clearEnv(keys...)
	defer restore()

	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "google")
	os.Setenv("STT_LANGUAGE_CODE", "es-ES")
	os.Setenv("STT_SAMPLE_RATE_HZ", "16000")
	os.Setenv("STT_INTERIM_RESULTS", "false")
	os.Setenv("STT_AUDIO_ENCODING", "MULAW")
	os.Setenv("SEGMENT_MAX_AUDIO_BYTES", "10485760")
	os.Setenv("SEGMENT_MAX_DURATION", "10m")
	os.Setenv("SEGMENT_MAX_PARTIALS", "1000")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected STT provider 'google', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.STT.InterimResults)
	}
	if cfg.STT.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.STT.AudioEncoding)
	}
	if cfg.SegmentLimits.MaxAudioBytes != 10485760 {
		t.Errorf("expected max audio bytes 10485760, got %d", cfg.SegmentLimits.MaxAudioBytes)
	}
	if cfg.SegmentLimits.MaxDuration != 10*time.Minute {
		t.Errorf("expected max duration 10m, got %v", cfg.SegmentLimits.MaxDuration)
	}
	if cfg.SegmentLimits.MaxPartials != 1000 {
		t.Errorf("expected max partials 1000, got %d", cfg.SegmentLimits.MaxPartials)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	restore := clearEnv("SERVICE_PRINCIPAL", "KAFKA_PRINCIPAL")
	defer restore()

	os.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_KafkaBrokers_SplitsCSV(t *testing.T) {
	restore := clearEnv("KAFKA_BROKERS")
	defer restore()

	os.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9092")

	cfg := Load()

	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d (%v)", len(cfg.Kafka.Brokers), cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Brokers[0] != "broker-a:9092" || cfg.Kafka.Brokers[1] != "broker-b:9092" {
		t.Errorf("unexpected broker list: %v", cfg.Kafka.Brokers)
	}
}

func TestSplitCSV_EmptyString(t *testing.T) {
	if got := splitCSV(""); len(got) != 0 {
		t.Errorf("expected empty slice for empty string, got %v", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "", "b"); got != "b" {
		t.Errorf("expected 'b', got %q", got)
	}
	if got := firstNonEmpty("a", "b"); got != "a" {
		t.Errorf("expected 'a', got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
