// Package app wires repositories, transports and services for the binaries.
package app

import (
	"context"
	"database/sql"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/broadcast-service/internal/cache"
	"github.com/unclebandit/broadcast-service/internal/config"
	"github.com/unclebandit/broadcast-service/internal/db"
	"github.com/unclebandit/broadcast-service/internal/logger"
	"github.com/unclebandit/broadcast-service/internal/provider"
	"github.com/unclebandit/broadcast-service/internal/queue"
	"github.com/unclebandit/broadcast-service/internal/repository"
	"github.com/unclebandit/broadcast-service/internal/service"
)

type App struct {
	DB        *sql.DB
	Cache     *cache.Client
	Campaigns *service.CampaignService
	Tracking  *service.TrackingService
}

// Build connects to Postgres (and Redis when configured), applies the schema
// and assembles the services around q.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, q queue.Queue) (*App, error) {
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	var redisClient *cache.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, open dedupe disabled")
			redisClient = nil
		}
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	deliveryRepo := &repository.DeliveryLogRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	settingsRepo := &repository.SettingsRepository{DB: conn}

	renderer := &service.Renderer{
		SiteName:        cfg.SiteName,
		SiteURL:         cfg.SiteURL,
		DefaultLocale:   cfg.DefaultLocale,
		DefaultCurrency: cfg.DefaultCurrency,
	}

	campaigns := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		DeliveryRepo:  deliveryRepo,
		RecipientRepo: recipientRepo,
		SettingsRepo:  settingsRepo,
		Resolver:      &service.AudienceResolver{Recipients: recipientRepo},
		Renderer:      renderer,
		Augmenter: &service.Augmenter{
			TrackingBaseURL: cfg.TrackingBaseURL,
			UnsubscribeBase: renderer.UnsubscribeBase(),
		},
		Transports: provider.NewRegistry(
			provider.NewEmailTransport(logger.Component(log, "email")),
			provider.NewChatTransport(logger.Component(log, "chat"), cfg.ProviderTimeout),
		),
		Queue:   q,
		Workers: cfg.DispatchWorkers,
		Limiter: newLimiter(cfg.SendRatePerSecond),
		Logger:  logger.Component(log, "dispatcher"),
	}

	tracking := &service.TrackingService{
		DeliveryRepo: deliveryRepo,
		Cache:        redisClient,
		DedupeWindow: cfg.OpenDedupeWindow,
		Logger:       logger.Component(log, "tracking"),
	}

	return &App{DB: conn, Cache: redisClient, Campaigns: campaigns, Tracking: tracking}, nil
}

// newLimiter returns nil (unpaced) for a non-positive rate.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	_ = a.DB.Close()
}
