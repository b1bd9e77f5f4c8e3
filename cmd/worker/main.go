package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/broadcast-service/internal/app"
	"github.com/unclebandit/broadcast-service/internal/config"
	"github.com/unclebandit/broadcast-service/internal/logger"
	"github.com/unclebandit/broadcast-service/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.DialAMQP(cfg.AMQPURL, logger.Component(log, "queue"))
	if err != nil {
		return err
	}
	defer q.Close()

	a, err := app.Build(ctx, cfg, log, q)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := q.Subscribe(queue.DispatchTopic, a.Campaigns.HandleDispatchJob); err != nil {
		return err
	}

	log.Info().Str("topic", queue.DispatchTopic).Msg("worker running, waiting for dispatch jobs")
	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	return nil
}
