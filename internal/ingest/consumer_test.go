package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/storage"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

// fakeReader replays a fixed sequence of messages and records commits.
// FetchMessage reports context.Canceled once the sequence is drained so
// Consumer.Run terminates cleanly.
type fakeReader struct {
	messages  []kafka.Message
	next      int
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	if f.next >= len(f.messages) {
		return kafka.Message{}, context.Canceled
	}

	msg := f.messages[f.next]
	f.next++

	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		f.committed = append(f.committed, msg.Offset)
	}

	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true

	return nil
}

func newConsumerFixture(t *testing.T, messages ...kafka.Message) (*Consumer, *fakeReader, *storage.MemoryStore) {
	t.Helper()

	registry, err := taxonomy.NewRegistry([]taxonomy.Tag{{Name: "PII"}})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingester := NewIngester(store, store, registry, logger)

	reader := &fakeReader{messages: messages}

	return newConsumer(reader, ingester, 1000, logger), reader, store
}

func TestConsumerIngestsAndCommits(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	consumer, reader, store := newConsumerFixture(t,
		kafka.Message{Offset: 1, Value: []byte(`{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "analytics"}}`)},
		kafka.Message{Offset: 2, Value: []byte(`{"kind": "SOURCE_DECLARED", "source": {"name": "db", "type": "POSTGRESQL"}}`)},
	)

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(reader.committed) != 2 {
		t.Fatalf("expected 2 committed offsets, got %v", reader.committed)
	}

	if _, err := store.GetNamespace(context.Background(), "analytics"); err != nil {
		t.Errorf("namespace was not ingested: %v", err)
	}

	if _, err := store.GetSource(context.Background(), "db"); err != nil {
		t.Errorf("source was not ingested: %v", err)
	}
}

func TestConsumerCommitsPoisonMessages(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	consumer, reader, store := newConsumerFixture(t,
		kafka.Message{Offset: 1, Value: []byte(`{"kind": "BOGUS"}`)},
		kafka.Message{Offset: 2, Value: []byte(`not even json`)},
		kafka.Message{Offset: 3, Value: []byte(`{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "analytics"}}`)},
	)

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// Poison messages are committed so they are not redelivered
	if len(reader.committed) != 3 {
		t.Fatalf("expected 3 committed offsets, got %v", reader.committed)
	}

	if _, err := store.GetNamespace(context.Background(), "analytics"); err != nil {
		t.Errorf("valid message after poison messages was not ingested: %v", err)
	}
}

// flakyStore fails writes a fixed number of times before delegating,
// simulating a transiently unavailable backend.
type flakyStore struct {
	*storage.MemoryStore

	remainingFailures int
	attempts          int
}

func (s *flakyStore) UpsertNamespace(ctx context.Context, ns *catalog.Namespace) error {
	s.attempts++

	if s.remainingFailures > 0 {
		s.remainingFailures--

		return errors.New("connection refused")
	}

	return s.MemoryStore.UpsertNamespace(ctx, ns)
}

func TestConsumerRetriesTransientFailureInPlace(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	registry, err := taxonomy.NewRegistry([]taxonomy.Tag{{Name: "PII"}})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), remainingFailures: 2}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingester := NewIngester(store, store, registry, logger)

	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "analytics"}}`)},
		{Offset: 2, Value: []byte(`{"kind": "SOURCE_DECLARED", "source": {"name": "db", "type": "POSTGRESQL"}}`)},
	}}

	consumer := newConsumer(reader, ingester, 1000, logger)
	consumer.backoff = time.Millisecond

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// The failing message is re-attempted in place until it succeeds; any
	// later commit would advance the group offset past it and lose it.
	if store.attempts != 3 {
		t.Errorf("expected 3 ingest attempts (2 failures + 1 success), got %d", store.attempts)
	}

	if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("expected offsets [1 2] committed in order, got %v", reader.committed)
	}

	if _, err := store.GetNamespace(context.Background(), "analytics"); err != nil {
		t.Errorf("namespace was not ingested after retries: %v", err)
	}
}

func TestConsumerClose(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	consumer, reader, _ := newConsumerFixture(t)

	if err := consumer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if !reader.closed {
		t.Error("expected underlying reader to be closed")
	}
}

func TestConsumerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := &ConsumerConfig{}
	if err := cfg.Validate(); !errors.Is(err, ErrNoBrokers) {
		t.Errorf("expected ErrNoBrokers, got %v", err)
	}

	cfg.Brokers = []string{"localhost:9092"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("METALINE_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("METALINE_KAFKA_TOPIC", "custom.topic")

	cfg := LoadConsumerConfig()

	if len(cfg.Brokers) != 2 || cfg.Brokers[0] != "broker-1:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Brokers)
	}

	if cfg.Topic != "custom.topic" {
		t.Errorf("unexpected topic: %q", cfg.Topic)
	}

	if cfg.GroupID != defaultKafkaGroupID {
		t.Errorf("expected default group id, got %q", cfg.GroupID)
	}
}
