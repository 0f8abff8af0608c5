package main

import (
	"context"
	"errors"
	"os"

	"ledger/internal/cli"
	"ledger/internal/events"
	applog "ledger/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentEvents)
	logger.Info("Starting ledger-events")

	if !cfg.EventsEnabled() {
		logger.Error("AMQP_URL is required to consume ledger events")
		os.Exit(1)
	}

	consumer, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := cli.SignalContext()
	defer stop()

	sink := events.NewLogSink(logger)
	err = consumer.Consume(ctx, sink.Emit)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
		consumer.Close()
		os.Exit(1)
	}
	logger.Info("ledger-events stopped gracefully")
}
