// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/broadcast-service/internal/app"
	"github.com/unclebandit/broadcast-service/internal/config"
	"github.com/unclebandit/broadcast-service/internal/controller"
	"github.com/unclebandit/broadcast-service/internal/handler"
	"github.com/unclebandit/broadcast-service/internal/logger"
	"github.com/unclebandit/broadcast-service/internal/queue"
	"github.com/unclebandit/broadcast-service/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With a broker the server only publishes; cmd/worker dispatches.
	// Without one, dispatch runs in-process on the in-memory queue.
	var q queue.Queue
	var memQueue *queue.InMemoryQueue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, logger.Component(log, "queue"))
		if err != nil {
			return err
		}
		defer amqpQueue.Close()
		q = amqpQueue
	} else {
		memQueue = queue.NewInMemoryQueue(logger.Component(log, "queue"))
		q = memQueue
	}

	a, err := app.Build(ctx, cfg, log, q)
	if err != nil {
		return err
	}
	defer a.Close()

	if memQueue != nil {
		if err := memQueue.Subscribe(queue.DispatchTopic, a.Campaigns.HandleDispatchJob); err != nil {
			return err
		}
		resumed, err := a.Campaigns.ResumeSending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to resume sending campaigns")
		} else if resumed > 0 {
			log.Info().Int("campaigns", resumed).Msg("resumed sending campaigns")
		}
	}

	scheduler, err := service.NewScheduler(cfg.ScheduleSpec, a.Campaigns, logger.Component(log, "scheduler"))
	if err != nil {
		return err
	}
	scheduler.Start()

	router := controller.NewRouter(controller.RouterConfig{
		Campaigns: controller.NewCampaignController(a.Campaigns, logger.Component(log, "api")),
		Tracking:  handler.NewTrackingHandler(a.Tracking, cfg.SiteURL, logger.Component(log, "tracking")),
		JWTSecret: cfg.JWTSecret,
		Logger:    logger.Component(log, "http"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if memQueue != nil {
		// In-flight dispatches finish; interrupted ones resume on next start.
		done := make(chan struct{})
		go func() { memQueue.Wait(); close(done) }()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn().Msg("dispatch still running at shutdown, campaigns stay SENDING")
		}
	}
	return nil
}
