// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/middleware"
	"github.com/unclebandit/broadcast-service/internal/model"
	"github.com/unclebandit/broadcast-service/internal/service"
)

// CampaignAPI is the part of service.CampaignService the HTTP layer uses.
type CampaignAPI interface {
	SendCampaign(ctx context.Context, campaignID int) (*service.SendCampaignResult, error)
	ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error)
	GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*service.CampaignDetails, error)
	RenderPreview(ctx context.Context, campaignID, recipientID int, channel model.Channel) (*service.Preview, error)
}

type CampaignController struct {
	CampaignService CampaignAPI
	Logger          zerolog.Logger
	validate        *validator.Validate
}

func NewCampaignController(svc CampaignAPI, logger zerolog.Logger) *CampaignController {
	return &CampaignController{
		CampaignService: svc,
		Logger:          logger,
		validate:        validator.New(),
	}
}

type sendCampaignRequest struct {
	CampaignID int `json:"campaign_id" validate:"required,gt=0"`
}

type previewRequest struct {
	RecipientID int    `json:"recipient_id" validate:"required,gt=0"`
	Channel     string `json:"channel" validate:"omitempty,oneof=EMAIL CHAT"`
}

// SendCampaign starts a DRAFT campaign and answers once the dispatch job is
// queued.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	var body sendCampaignRequest
	if !c.decode(w, r, &body) {
		return
	}

	log := c.Logger.With().Int("campaign_id", body.CampaignID).Logger()
	if claims, ok := middleware.ClaimsFrom(r.Context()); ok {
		log = log.With().Int("admin_id", claims.UserID).Logger()
	}

	result, err := c.CampaignService.SendCampaign(r.Context(), body.CampaignID)
	if err != nil {
		c.writeError(w, err)
		return
	}
	log.Info().Int("total_recipients", result.TotalRecipients).Msg("campaign send accepted")

	writeJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := strings.ToUpper(r.URL.Query().Get("channel"))
	status := strings.ToUpper(r.URL.Query().Get("status"))

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, channel, status)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	var body previewRequest
	if !c.decode(w, r, &body) {
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), id, body.RecipientID, model.Channel(body.Channel))
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (c *CampaignController) campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		c.writeError(w, appErrors.NewValidation("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (c *CampaignController) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		c.writeError(w, appErrors.NewValidation("body", "invalid JSON"))
		return false
	}
	if err := c.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			c.writeError(w, appErrors.NewValidation(jsonName(fe.Field()), fmt.Sprintf("failed %q check", fe.Tag())))
			return false
		}
		c.writeError(w, appErrors.NewValidation("body", err.Error()))
		return false
	}
	return true
}

// jsonName maps validator struct field names to request keys.
func jsonName(field string) string {
	switch field {
	case "CampaignID":
		return "campaign_id"
	case "RecipientID":
		return "recipient_id"
	}
	return strings.ToLower(field)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	var (
		notFound     *appErrors.ErrCampaignNotFound
		processed    *appErrors.ErrCampaignAlreadyProcessed
		noRecipients *appErrors.ErrNoEligibleRecipients
		invalidRule  *appErrors.ErrInvalidTargetingRule
		validation   *appErrors.ErrValidation
	)

	status, code, message := http.StatusInternalServerError, "internal_error", "internal server error"
	switch {
	case errors.As(err, &notFound):
		status, code, message = http.StatusNotFound, "campaign_not_found", err.Error()
	case errors.Is(err, appErrors.ErrRecipientNotFound):
		status, code, message = http.StatusNotFound, "recipient_not_found", err.Error()
	case errors.As(err, &processed):
		status, code, message = http.StatusConflict, "campaign_already_processed", err.Error()
	case errors.As(err, &noRecipients):
		status, code, message = http.StatusUnprocessableEntity, "no_eligible_recipients", err.Error()
	case errors.As(err, &invalidRule):
		status, code, message = http.StatusBadRequest, "invalid_targeting_rule", err.Error()
	case errors.As(err, &validation):
		status, code, message = http.StatusBadRequest, "validation_error", err.Error()
	default:
		c.Logger.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
