// Command server runs caption-relay: a gRPC AudioStreamService for Hosts and an HTTP
// websocket surface for Listeners, both driven by the caption stabilization pipeline.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "caption-relay/internal/api/grpc"
	"caption-relay/internal/app"
	"caption-relay/internal/config"
	"caption-relay/internal/events"
	httpapi "caption-relay/internal/http"
	"caption-relay/internal/observability"
	"caption-relay/internal/observability/logging"
	"caption-relay/internal/observability/metrics"
	"caption-relay/internal/service/audio"
	"caption-relay/internal/service/broadcast"
	"caption-relay/internal/service/supervisor"
	"caption-relay/internal/service/translation"
	pbproto "caption-relay/proto"
)

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}

	log.Info().
		Str("servicePrincipal", cfg.Service.Principal).
		Str("grpcPort", cfg.Service.GRPCPort).
		Str("httpPort", cfg.Service.HTTPPort).
		Str("metricsPort", cfg.Observability.MetricsPort).
		Str("logLevel", cfg.Observability.LogLevel).
		Msg("starting caption-relay")

	log.Info().
		Str("provider", cfg.STT.Provider).
		Str("languageCode", cfg.STT.LanguageCode).
		Int("sampleRateHz", cfg.STT.SampleRateHz).
		Bool("interimResults", cfg.STT.InterimResults).
		Str("audioEncoding", cfg.STT.AudioEncoding).
		Msg("STT configuration")

	log.Info().
		Int64("maxAudioBytes", cfg.SegmentLimits.MaxAudioBytes).
		Dur("maxDuration", cfg.SegmentLimits.MaxDuration).
		Int("maxPartials", cfg.SegmentLimits.MaxPartials).
		Msg("segment limits")

	log.Info().Bool("kafkaEnabled", cfg.Kafka.Enabled).Msg("Kafka configuration")

	var obsServer *observability.Server
	if cfg.Observability.MetricsEnabled {
		obsServer = observability.NewServer(":" + cfg.Observability.MetricsPort)
		obsServer.Start()
	}

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	m := metrics.DefaultMetrics

	hubs := broadcast.NewRegistry()
	broadcastCfg := broadcast.Config{
		QueueDepth:        cfg.Broadcast.QueueDepth,
		DropOldestPartial: cfg.Broadcast.DropOldestPartial,
		FinalRetries:      broadcast.DefaultConfig().FinalRetries,
		FinalRetryDelay:   broadcast.DefaultConfig().FinalRetryDelay,
	}
	translationCfg := translation.Config{
		Model:            cfg.Translation.Model,
		PartialCacheSize: cfg.Translation.PartialCacheSize,
		PartialCacheTTL:  cfg.Translation.PartialCacheTTL,
		FinalCacheSize:   cfg.Translation.FinalCacheSize,
		FinalCacheTTL:    cfg.Translation.FinalCacheTTL,
	}

	limits := audio.SegmentLimits{
		MaxAudioBytes: cfg.SegmentLimits.MaxAudioBytes,
		MaxDuration:   cfg.SegmentLimits.MaxDuration,
		MaxPartials:   cfg.SegmentLimits.MaxPartials,
	}

	sv := supervisor.New(hubs, cfg.Translation.APIKey, translationCfg, broadcastCfg, limits, m, application.Logger)

	// HTTP server: listener websocket joins and health checks.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      httpapi.NewRouter(application, hubs),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // listener websockets are long-lived
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("error shutting down HTTP server")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("failed to listen")
	}

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(pbproto.Codec),
		grpc.ChainUnaryInterceptor(
			observability.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			observability.StreamServerInterceptor(m),
		),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("captionrelay.AudioStreamService", grpc_health_v1.HealthCheckResponse_SERVING)

	grpcapi.RegisterWithConfig(grpcServer, publisher, sv, grpcapi.STTConfig{
		Provider:       cfg.STT.Provider,
		LanguageCode:   cfg.STT.LanguageCode,
		SampleRateHz:   cfg.STT.SampleRateHz,
		InterimResults: cfg.STT.InterimResults,
		AudioEncoding:  cfg.STT.AudioEncoding,
	}, limits)

	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("received shutdown signal")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	sv.Shutdown(2 * time.Second)

	if obsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("error shutting down observability server")
		}
	}

	grpcServer.GracefulStop()
	application.Shutdown()
	log.Info().Msg("server stopped")
}
