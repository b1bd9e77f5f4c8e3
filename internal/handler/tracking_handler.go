// internal/handler/tracking_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
)

// 1x1 transparent GIF
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Tracker interface {
	RecordOpen(ctx context.Context, logID string) error
	RecordClick(ctx context.Context, logID string) error
}

// TrackingHandler serves the public pixel and click endpoints. Both always
// answer; recording failures are only logged.
type TrackingHandler struct {
	Tracker Tracker
	SiteURL string
	Logger  zerolog.Logger
}

func NewTrackingHandler(tracker Tracker, siteURL string, logger zerolog.Logger) *TrackingHandler {
	return &TrackingHandler{Tracker: tracker, SiteURL: siteURL, Logger: logger}
}

func (h *TrackingHandler) Routes(r chi.Router) {
	r.Get("/pixel/{logId}", h.Pixel)
	r.Get("/click/{logId}", h.Click)
}

func (h *TrackingHandler) Pixel(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logId")
	if err := h.Tracker.RecordOpen(r.Context(), logID); err != nil {
		h.logFailure(err, "open", logID)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logId")
	if err := h.Tracker.RecordClick(r.Context(), logID); err != nil {
		h.logFailure(err, "click", logID)
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.destination(r.URL.Query().Get("url")), http.StatusFound)
}

// destination only allows absolute http(s) targets.
func (h *TrackingHandler) destination(raw string) string {
	fallback := h.SiteURL
	if fallback == "" {
		fallback = "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fallback
	}
	return u.String()
}

func (h *TrackingHandler) logFailure(err error, event, logID string) {
	if errors.Is(err, appErrors.ErrDeliveryLogNotFound) {
		h.Logger.Debug().Str("event", event).Str("log_id", logID).Msg("tracking event for unknown log entry")
		return
	}
	h.Logger.Error().Err(err).Str("event", event).Str("log_id", logID).Msg("failed to record tracking event")
}
