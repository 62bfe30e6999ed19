package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-gateway/internal/api"
	"payment-gateway/internal/app"
	"payment-gateway/internal/command"
	"payment-gateway/internal/config"
	"payment-gateway/internal/kafka"
	"payment-gateway/internal/logging"
	"payment-gateway/internal/metrics"
	"payment-gateway/internal/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	funds, err := app.NewTransfer(cfg.Transfer, logger)
	if err != nil {
		log.Fatal(err)
	}

	gateway, err := app.NewLedger(cfg.Ledger, store, funds, logger)
	if err != nil {
		log.Fatal(err)
	}

	var done []<-chan struct{}

	if cfg.Outbox.Enabled {
		eventWriter := kafka.NewWriter(cfg.Kafka)
		defer eventWriter.Close()

		producer := outbox.NewProducer(store, eventWriter, cfg.Outbox, logger)
		done = append(done, producer.Start(ctx))
	}

	var processor *command.Processor
	if cfg.Command.Enabled {
		commandReader := kafka.NewReader(cfg.Kafka)
		defer commandReader.Close()

		processor = command.NewProcessor(gateway, cfg.Command.Parallelism, logger)
		done = append(done, kafka.ReadPaymentCommands(ctx, commandReader, processor, logger))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewHandler(gateway, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	for _, ch := range done {
		<-ch
	}
	if processor != nil {
		processor.Wait()
	}
}
