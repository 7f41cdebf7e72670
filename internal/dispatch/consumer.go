package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"pictrans/internal/domain"
)

// Handler processes decoded pipeline tasks. A returned error leaves the
// message uncommitted so the broker redelivers it; handlers that decide
// an attempt is unrecoverable record the failure themselves and return
// nil.
type Handler interface {
	HandleDetection(ctx context.Context, task domain.DetectionTask) error
	HandleTranslation(ctx context.Context, task domain.TranslationTask) error
	HandleComposition(ctx context.Context, task domain.CompositionTask) error
}

// Consumer reads the three stage topics and feeds decoded tasks to the
// handler. One reader goroutine per topic.
type Consumer struct {
	readers []*kafka.Reader
	handler Handler
	logger  zerolog.Logger
}

// NewConsumer builds group readers for the three stage topics.
func NewConsumer(brokers []string, groupID string, topics Topics, h Handler, logger zerolog.Logger) *Consumer {
	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		})
	}
	return &Consumer{
		readers: []*kafka.Reader{
			newReader(topics.Detect),
			newReader(topics.Translate),
			newReader(topics.Compose),
		},
		handler: h,
		logger:  logger,
	}
}

// Run consumes until the context is canceled, then closes all readers.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range c.readers {
		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			c.consume(ctx, r)
		}(r)
	}
	wg.Wait()

	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close reader")
		}
	}
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader) {
	log := c.logger.With().Str("topic", r.Config().Topic).Logger()
	log.Info().Msg("consumer started")

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Info().Msg("consumer stopping")
				return
			}
			log.Error().Err(err).Msg("fetch message")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if err := c.dispatch(ctx, msg); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("handle message")
			continue
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit message")
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// A malformed envelope will never decode on redelivery either.
		c.logger.Error().Err(err).Str("value", string(msg.Value)).Msg("drop undecodable message")
		return nil
	}

	switch env.Kind {
	case domain.TaskDetect:
		var task domain.DetectionTask
		if err := json.Unmarshal(env.Task, &task); err != nil {
			return nil
		}
		return c.handler.HandleDetection(ctx, task)
	case domain.TaskTranslate:
		var task domain.TranslationTask
		if err := json.Unmarshal(env.Task, &task); err != nil {
			return nil
		}
		return c.handler.HandleTranslation(ctx, task)
	case domain.TaskCompose:
		var task domain.CompositionTask
		if err := json.Unmarshal(env.Task, &task); err != nil {
			return nil
		}
		return c.handler.HandleComposition(ctx, task)
	default:
		c.logger.Warn().Str("kind", string(env.Kind)).Msg("drop message of unknown kind")
		return nil
	}
}
