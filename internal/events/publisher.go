// Package events publishes committed and partial caption records to the append-only
// persistence topics described in spec §6: two Kafka topics, caption.partial and
// caption.final, keyed by "sessionId:sourceSeqId". Reads are never on the hot path.
package events

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// DefaultConfig returns the topic names named in spec §6.
func DefaultConfig() Config {
	return Config{
		TopicPartial: "caption.partial",
		TopicFinal:   "caption.final",
	}
}

// Publisher publishes partial and final caption records to Kafka. When disabled (no
// brokers configured, or Enabled=false) it logs events instead of writing them,
// matching the teacher's log-only fallback mode.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Println("[PUBLISHER] Kafka disabled, using log-only mode")
		p := &Publisher{enabled: false}
		if cfg != nil {
			p.principal = cfg.Principal
			p.topicPartial = cfg.TopicPartial
			p.topicFinal = cfg.TopicFinal
		}
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		Resolver: &net.Resolver{
			PreferGo: true,
		},
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Printf("[PUBLISHER] Kafka enabled: brokers=%v partial=%s final=%s", cfg.Brokers, cfg.TopicPartial, cfg.TopicFinal)

	return &Publisher{
		writerPartial: newWriter(cfg.TopicPartial),
		writerFinal:   newWriter(cfg.TopicFinal),
		principal:     cfg.Principal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
	}
}

// PublishPartial writes a TranscriptPartialRecord-shaped event to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, key, event)
}

// PublishFinal writes a TranscriptRecord-shaped event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[PUBLISHER] failed to marshal event: %v", err)
		return err
	}

	log.Printf("[PUBLISH] principal=%s topic=%s key=%s payload=%s", p.principal, topic, key, payload)

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("[PUBLISHER] failed to write to Kafka: %v", err)
		return err
	}
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var firstErr error
	if p.writerPartial != nil {
		if err := p.writerPartial.Close(); err != nil {
			firstErr = err
		}
	}
	if p.writerFinal != nil {
		if err := p.writerFinal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
