package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/config"
	"github.com/metaline-io/metaline/internal/lineage"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

const (
	defaultKafkaTopic      = "metaline.events"
	defaultKafkaGroupID    = "metaline-consumer"
	defaultMinBytes        = 1
	defaultMaxBytes        = 10 * 1024 * 1024 // 10 MB, matches kafka-go default
	defaultEventsPerSecond = 200
	retryBackoff           = 2 * time.Second
	maxRetryBackoff        = 30 * time.Second
)

type (
	// ConsumerConfig holds Kafka consumer configuration.
	ConsumerConfig struct {
		Brokers         []string
		Topic           string
		GroupID         string
		MinBytes        int
		MaxBytes        int
		EventsPerSecond int
	}

	// messageReader is the subset of kafka.Reader the consumer uses. Narrowed
	// to an interface so tests can substitute an in-memory reader.
	messageReader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Consumer pulls declaration events from a Kafka topic and feeds them to
	// the ingestion facade. Messages that fail permanently are committed and
	// skipped; transient failures are retried in place before the consumer
	// moves on. Commits are offset watermarks, so fetching past an
	// unprocessed message and committing a later one would lose the event.
	Consumer struct {
		reader   messageReader
		ingester *Ingester
		limiter  *rate.Limiter
		logger   *slog.Logger

		// backoff is the initial retry delay for transient failures; it
		// doubles per attempt up to maxRetryBackoff. Tests shrink it.
		backoff time.Duration
	}
)

// ErrNoBrokers indicates the consumer configuration names no Kafka brokers.
var ErrNoBrokers = errors.New("no kafka brokers configured")

// LoadConsumerConfig loads Kafka consumer configuration from environment
// variables with fallback to defaults.
func LoadConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:         config.ParseCommaSeparatedList(config.GetEnvStr("METALINE_KAFKA_BROKERS", "")),
		Topic:           config.GetEnvStr("METALINE_KAFKA_TOPIC", defaultKafkaTopic),
		GroupID:         config.GetEnvStr("METALINE_KAFKA_GROUP_ID", defaultKafkaGroupID),
		MinBytes:        config.GetEnvInt("METALINE_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes:        config.GetEnvInt("METALINE_KAFKA_MAX_BYTES", defaultMaxBytes),
		EventsPerSecond: config.GetEnvInt("METALINE_CONSUMER_EVENTS_PER_SECOND", defaultEventsPerSecond),
	}
}

// Validate validates the consumer configuration.
func (c *ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	return nil
}

// NewConsumer creates a Kafka consumer bound to the given ingestion facade.
func NewConsumer(cfg *ConsumerConfig, ingester *Ingester, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	return newConsumer(reader, ingester, cfg.EventsPerSecond, logger), nil
}

func newConsumer(reader messageReader, ingester *Ingester, eventsPerSecond int, logger *slog.Logger) *Consumer {
	if eventsPerSecond <= 0 {
		eventsPerSecond = defaultEventsPerSecond
	}

	return &Consumer{
		reader:   reader,
		ingester: ingester,
		limiter:  rate.NewLimiter(rate.Limit(eventsPerSecond), eventsPerSecond),
		logger:   logger,
		backoff:  retryBackoff,
	}
}

// Run consumes messages until the context is cancelled. It returns nil on
// cancellation and the underlying error on a reader failure.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil // context cancelled while throttled
		}

		if err := c.processMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

// processMessage ingests one message and commits it. A transient failure is
// retried in place with exponential backoff: committing any later message
// would advance the group offset past this one and lose it, so the consumer
// never moves on while an event is still unprocessed. Permanent failures are
// logged, committed, and skipped.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	event, err := DecodeEvent(msg.Value)
	if err != nil {
		return c.dropPoisonMessage(ctx, msg, err)
	}

	backoff := c.backoff

	for {
		_, err := c.ingester.Ingest(ctx, event)
		if err == nil {
			return c.commit(ctx, msg)
		}

		if isPermanent(err) {
			return c.dropPoisonMessage(ctx, msg, err)
		}

		c.logger.Error("Transient ingestion failure, retrying in place",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Duration("backoff", backoff),
			slog.String("reason", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// dropPoisonMessage logs and commits a message that can never succeed, so the
// group offset moves past it.
func (c *Consumer) dropPoisonMessage(ctx context.Context, msg kafka.Message, cause error) error {
	c.logger.Warn("Dropping event that failed permanently",
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("reason", cause.Error()),
	)

	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("commit message: %w", err)
	}

	return nil
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}

	return nil
}

// isPermanent reports whether an ingestion error can never succeed on
// redelivery of the same message.
func isPermanent(err error) bool {
	return errors.Is(err, catalog.ErrValidation) ||
		errors.Is(err, catalog.ErrInvalidTransition) ||
		errors.Is(err, catalog.ErrIdentityConflict) ||
		errors.Is(err, taxonomy.ErrUnknownTag) ||
		errors.Is(err, lineage.ErrDanglingReference)
}
