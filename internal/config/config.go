// Package config loads service configuration from environment (and optional .env
// file) via viper, generalizing the teacher's hand-rolled env parsing into the full
// set of tunables the caption pipeline exposes.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Finalization  FinalizationConfig
	ForcedCommit  ForcedCommitConfig
	Dedup         DedupConfig
	Translation   TranslationConfig
	Broadcast     BroadcastConfig
	Kafka         KafkaConfig
	SegmentLimits SegmentLimitsConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process identity and listen addresses.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	Environment string
}

// STTConfig configures the STT session pool (spec §6 "STT pool size... reinforcement
// interval").
type STTConfig struct {
	Provider             string
	LanguageCode         string
	SampleRateHz         int
	InterimResults       bool
	AudioEncoding        string
	PoolSize             int
	VADSilenceMs         int
	VADPrefixPaddingMs   int
	ModelID              string
	ReinforcementRequests int
	ConnectTimeout       time.Duration
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	MaxBufferedBytes     int
	ForceCommitGapMs     int
}

// FinalizationConfig configures the FinalizationEngine.
type FinalizationConfig struct {
	BaseWaitMs              int
	MaxWaitMs               int
	SentenceIncompleteFloorMinMs int
	SentenceIncompleteFloorMaxMs int
	FalseFinalShortLen      int
	FalseFinalBaseWaitMs    int
}

// ForcedCommitConfig configures the ForcedCommitEngine.
type ForcedCommitConfig struct {
	CaptureWindowMs int
}

// DedupConfig configures the Deduplicator.
type DedupConfig struct {
	WindowMs       int
	MaxWords       int
	MinOverlapWords int
}

// TranslationConfig configures the PartialWorker/FinalWorker cache tuning.
type TranslationConfig struct {
	APIKey              string
	Model               string
	PartialCacheSize    int
	PartialCacheTTL     time.Duration
	FinalCacheSize      int
	FinalCacheTTL       time.Duration
}

// BroadcastConfig configures the ListenerBroadcaster.
type BroadcastConfig struct {
	QueueDepth        int
	DropOldestPartial bool
}

// SegmentLimitsConfig holds safety limits for segment processing. These are
// guardrails to prevent unbounded resource usage.
type SegmentLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsPort    string
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

// Default values — safety guardrails and spec-named defaults.
const (
	DefaultMaxAudioBytes = 5 * 1024 * 1024
	DefaultMaxDuration   = 5 * time.Minute
	DefaultMaxPartials   = 500
)

// Load reads configuration from a local .env file (if present) and the environment,
// falling back to spec-named defaults for anything unset. A value that is set but
// does not parse reads as the zero value of its field, not as the default.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	principal := v.GetString("service_principal")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    v.GetString("grpc_port"),
			HTTPPort:    v.GetString("http_port"),
			Environment: v.GetString("env"),
		},
		STT: STTConfig{
			Provider:              v.GetString("stt_provider"),
			LanguageCode:          v.GetString("stt_language_code"),
			SampleRateHz:          v.GetInt("stt_sample_rate_hz"),
			InterimResults:        v.GetBool("stt_interim_results"),
			AudioEncoding:         v.GetString("stt_audio_encoding"),
			PoolSize:              v.GetInt("stt_pool_size"),
			VADSilenceMs:          v.GetInt("stt_vad_silence_ms"),
			VADPrefixPaddingMs:    v.GetInt("stt_vad_prefix_padding_ms"),
			ModelID:               v.GetString("stt_model_id"),
			ReinforcementRequests: v.GetInt("stt_reinforcement_requests"),
			ConnectTimeout:        v.GetDuration("stt_connect_timeout"),
			BackoffInitial:        v.GetDuration("stt_backoff_initial"),
			BackoffMax:            v.GetDuration("stt_backoff_max"),
			MaxBufferedBytes:      v.GetInt("stt_max_buffered_bytes"),
			ForceCommitGapMs:      v.GetInt("stt_force_commit_gap_ms"),
		},
		Finalization: FinalizationConfig{
			BaseWaitMs:                   v.GetInt("finalize_base_wait_ms"),
			MaxWaitMs:                    v.GetInt("finalize_max_wait_ms"),
			SentenceIncompleteFloorMinMs: v.GetInt("finalize_floor_min_ms"),
			SentenceIncompleteFloorMaxMs: v.GetInt("finalize_floor_max_ms"),
			FalseFinalShortLen:           v.GetInt("finalize_false_final_short_len"),
			FalseFinalBaseWaitMs:         v.GetInt("finalize_false_final_base_wait_ms"),
		},
		ForcedCommit: ForcedCommitConfig{
			CaptureWindowMs: v.GetInt("forced_capture_window_ms"),
		},
		Dedup: DedupConfig{
			WindowMs:        v.GetInt("dedup_window_ms"),
			MaxWords:        v.GetInt("dedup_max_words"),
			MinOverlapWords: v.GetInt("dedup_min_overlap_words"),
		},
		Translation: TranslationConfig{
			APIKey:           v.GetString("openai_api_key"),
			Model:            v.GetString("translation_model"),
			PartialCacheSize: v.GetInt("translation_partial_cache_size"),
			PartialCacheTTL:  v.GetDuration("translation_partial_cache_ttl"),
			FinalCacheSize:   v.GetInt("translation_final_cache_size"),
			FinalCacheTTL:    v.GetDuration("translation_final_cache_ttl"),
		},
		Broadcast: BroadcastConfig{
			QueueDepth:        v.GetInt("broadcast_queue_depth"),
			DropOldestPartial: v.GetBool("broadcast_drop_oldest_partial"),
		},
		Kafka: KafkaConfig{
			Enabled:      v.GetBool("kafka_enabled"),
			Brokers:      splitCSV(v.GetString("kafka_brokers")),
			TopicPartial: v.GetString("kafka_topic_partial"),
			TopicFinal:   v.GetString("kafka_topic_final"),
			Principal:    firstNonEmpty(v.GetString("kafka_principal"), principal),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: v.GetInt64("segment_max_audio_bytes"),
			MaxDuration:   v.GetDuration("segment_max_duration"),
			MaxPartials:   v.GetInt("segment_max_partials"),
		},
		Observability: ObservabilityConfig{
			MetricsPort:    v.GetString("metrics_port"),
			MetricsEnabled: v.GetBool("metrics_enabled"),
			LogLevel:       v.GetString("log_level"),
			LogFormat:      v.GetString("log_format"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_principal", "svc-caption-relay")
	v.SetDefault("grpc_port", "50051")
	v.SetDefault("http_port", "8080")
	v.SetDefault("env", "prod")

	v.SetDefault("stt_provider", "mock")
	v.SetDefault("stt_language_code", "en-US")
	v.SetDefault("stt_sample_rate_hz", 24000)
	v.SetDefault("stt_interim_results", true)
	v.SetDefault("stt_audio_encoding", "LINEAR16")
	v.SetDefault("stt_pool_size", 2)
	v.SetDefault("stt_vad_silence_ms", 600)
	v.SetDefault("stt_vad_prefix_padding_ms", 300)
	v.SetDefault("stt_model_id", "")
	v.SetDefault("stt_reinforcement_requests", 50)
	v.SetDefault("stt_connect_timeout", 10*time.Second)
	v.SetDefault("stt_backoff_initial", 200*time.Millisecond)
	v.SetDefault("stt_backoff_max", 5*time.Second)
	v.SetDefault("stt_max_buffered_bytes", 1<<20)
	v.SetDefault("stt_force_commit_gap_ms", 250)

	v.SetDefault("finalize_base_wait_ms", 1000)
	v.SetDefault("finalize_max_wait_ms", 8000)
	v.SetDefault("finalize_floor_min_ms", 1500)
	v.SetDefault("finalize_floor_max_ms", 3000)
	v.SetDefault("finalize_false_final_short_len", 25)
	v.SetDefault("finalize_false_final_base_wait_ms", 3000)

	v.SetDefault("forced_capture_window_ms", 2200)

	v.SetDefault("dedup_window_ms", 4000)
	v.SetDefault("dedup_max_words", 12)
	v.SetDefault("dedup_min_overlap_words", 3)

	v.SetDefault("openai_api_key", "")
	v.SetDefault("translation_model", "gpt-4o-mini")
	v.SetDefault("translation_partial_cache_size", 256)
	v.SetDefault("translation_partial_cache_ttl", 120*time.Second)
	v.SetDefault("translation_final_cache_size", 256)
	v.SetDefault("translation_final_cache_ttl", 600*time.Second)

	v.SetDefault("broadcast_queue_depth", 32)
	v.SetDefault("broadcast_drop_oldest_partial", true)

	v.SetDefault("kafka_enabled", false)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic_partial", "caption.partial")
	v.SetDefault("kafka_topic_final", "caption.final")
	v.SetDefault("kafka_principal", "")

	v.SetDefault("segment_max_audio_bytes", DefaultMaxAudioBytes)
	v.SetDefault("segment_max_duration", DefaultMaxDuration)
	v.SetDefault("segment_max_partials", DefaultMaxPartials)

	v.SetDefault("metrics_port", "9090")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
