// Package main provides the Kafka declaration-event consumer for Metaline.
//
// The consumer reads event envelopes from a Kafka topic and applies them
// through the same ingestion facade the HTTP API uses, so both transports
// share validation, versioning, and lineage semantics.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/metaline-io/metaline/internal/config"
	"github.com/metaline-io/metaline/internal/ingest"
	"github.com/metaline-io/metaline/internal/storage"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "metaline-consumer"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("METALINE_CONSUMER_LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("Starting Metaline consumer",
		slog.String("service", name),
		slog.String("version", version),
	)

	registry, err := taxonomy.LoadRegistry()
	if err != nil {
		logger.Error("Failed to load tag taxonomy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	catalogStore, err := storage.NewCatalogStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize catalog store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	ingester := ingest.NewIngester(catalogStore, catalogStore, registry, logger)

	consumerConfig := ingest.LoadConsumerConfig()

	consumer, err := ingest.NewConsumer(consumerConfig, ingester, logger)
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Consumer initialized",
		slog.Any("brokers", consumerConfig.Brokers),
		slog.String("topic", consumerConfig.Topic),
		slog.String("group_id", consumerConfig.GroupID),
		slog.Int("events_per_second", consumerConfig.EventsPerSecond),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer failed", slog.String("error", err.Error()))

		_ = consumer.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Shutdown signal received, closing consumer")

	if err := consumer.Close(); err != nil {
		logger.Error("Failed to close consumer", slog.String("error", err.Error()))
	}

	logger.Info("Metaline consumer stopped")
}
