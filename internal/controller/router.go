package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/unclebandit/broadcast-service/internal/handler"
	"github.com/unclebandit/broadcast-service/internal/middleware"
)

type RouterConfig struct {
	Campaigns *CampaignController
	Tracking  *handler.TrackingHandler
	JWTSecret string
	Logger    zerolog.Logger
}

// NewRouter mounts the admin API behind RequireAdmin and the public tracking
// endpoints without auth.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/broadcast", func(r chi.Router) {
		r.Use(middleware.RequireAdmin(cfg.JWTSecret))
		r.Post("/send", cfg.Campaigns.SendCampaign)
		r.Get("/campaigns", cfg.Campaigns.ListCampaigns)
		r.Get("/campaigns/{id}", cfg.Campaigns.GetCampaignDetails)
		r.Post("/campaigns/{id}/preview", cfg.Campaigns.PersonalizedPreview)
	})

	r.Route("/tracking", cfg.Tracking.Routes)

	return r
}
