package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/report"
)

// ReportPublisher receives each finished report.
type ReportPublisher interface {
	PublishReport(ctx context.Context, runID string, rep models.AnalysisReport) error
}

// NoopPublisher drops every report.
type NoopPublisher struct{}

func (NoopPublisher) PublishReport(context.Context, string, models.AnalysisReport) error { return nil }

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes finished reports as JSON, keyed by run id.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher builds a writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w}, nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// PublishReport encodes rep and writes it under runID.
func (p *KafkaPublisher) PublishReport(ctx context.Context, runID string, rep models.AnalysisReport) error {
	data, err := report.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(runID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "severity", Value: []byte(rep.Severity)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report %s: %w", runID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
