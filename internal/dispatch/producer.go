package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"pictrans/internal/domain"
)

// Topics names the three stage queues.
type Topics struct {
	Detect    string
	Translate string
	Compose   string
}

// Envelope is the wire format shared by all three topics. Task holds the
// kind-specific payload; ServiceID is duplicated at the top level so
// consumers can log and key without decoding the payload.
type Envelope struct {
	Kind      domain.TaskKind `json:"kind"`
	ServiceID int64           `json:"service_id"`
	EmittedAt time.Time       `json:"emitted_at"`
	Task      json.RawMessage `json:"task"`
}

// Producer emits pipeline tasks to Kafka. Messages are keyed by service
// id so all tasks of one service land on one partition in order.
type Producer struct {
	detect    *kafka.Writer
	translate *kafka.Writer
	compose   *kafka.Writer
	logger    zerolog.Logger
}

// NewProducer builds writers for the three stage topics.
func NewProducer(brokers []string, topics Topics, logger zerolog.Logger) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return &Producer{
		detect:    newWriter(topics.Detect),
		translate: newWriter(topics.Translate),
		compose:   newWriter(topics.Compose),
		logger:    logger,
	}
}

// DispatchDetection emits one OCR task for a single area.
func (p *Producer) DispatchDetection(ctx context.Context, task domain.DetectionTask) error {
	return p.emit(ctx, p.detect, domain.TaskDetect, task.ServiceID, task)
}

// DispatchTranslation emits the whole-service translation task.
func (p *Producer) DispatchTranslation(ctx context.Context, task domain.TranslationTask) error {
	return p.emit(ctx, p.translate, domain.TaskTranslate, task.ServiceID, task)
}

// DispatchComposition emits the whole-service composition task.
func (p *Producer) DispatchComposition(ctx context.Context, task domain.CompositionTask) error {
	return p.emit(ctx, p.compose, domain.TaskCompose, task.ServiceID, task)
}

func (p *Producer) emit(ctx context.Context, w *kafka.Writer, kind domain.TaskKind, serviceID int64, task any) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal %s task: %w", kind, err)
	}
	env := Envelope{
		Kind:      kind,
		ServiceID: serviceID,
		EmittedAt: time.Now().UTC(),
		Task:      payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(serviceID, 10)),
		Value: value,
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s task: %w", kind, err)
	}

	p.logger.Debug().
		Str("kind", string(kind)).
		Int64("service_id", serviceID).
		Str("topic", w.Topic).
		Msg("task emitted")
	return nil
}

// Close flushes and closes all writers.
func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.detect, p.translate, p.compose} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
