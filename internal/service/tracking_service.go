package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/broadcast-service/internal/cache"
	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/metrics"
	"github.com/unclebandit/broadcast-service/internal/repository"
)

// TrackingService records opens and clicks against delivery log entries.
// Cache is optional; without it every open is counted.
type TrackingService struct {
	DeliveryRepo repository.DeliveryLogRepositoryInterface
	Cache        *cache.Client
	DedupeWindow time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (t *TrackingService) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func validLogID(logID string) bool {
	_, err := uuid.Parse(logID)
	return err == nil
}

// RecordOpen counts an open once per DedupeWindow.
func (t *TrackingService) RecordOpen(ctx context.Context, logID string) error {
	if !validLogID(logID) {
		return appErrors.ErrDeliveryLogNotFound
	}

	unique := true
	if t.Cache != nil {
		first, err := t.Cache.MarkOnce(ctx, "open:"+logID, t.DedupeWindow)
		if err != nil {
			t.Logger.Warn().Err(err).Str("log_id", logID).Msg("open dedupe unavailable")
		} else {
			unique = first
		}
	}
	metrics.TrackingEventsTotal.WithLabelValues("open", strconv.FormatBool(unique)).Inc()
	if !unique {
		return nil
	}
	return t.DeliveryRepo.RecordOpen(ctx, logID, t.now())
}

// RecordClick always counts the click; the cache only decides whether it is
// reported as unique.
func (t *TrackingService) RecordClick(ctx context.Context, logID string) error {
	if !validLogID(logID) {
		return appErrors.ErrDeliveryLogNotFound
	}

	unique := true
	if t.Cache != nil {
		n, err := t.Cache.Incr(ctx, "click:"+logID, t.DedupeWindow)
		if err != nil {
			t.Logger.Warn().Err(err).Str("log_id", logID).Msg("click dedupe unavailable")
		} else {
			unique = n == 1
		}
	}
	metrics.TrackingEventsTotal.WithLabelValues("click", strconv.FormatBool(unique)).Inc()
	return t.DeliveryRepo.RecordClick(ctx, logID, t.now())
}
