// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/metrics"
	"github.com/unclebandit/broadcast-service/internal/model"
	"github.com/unclebandit/broadcast-service/internal/provider"
	"github.com/unclebandit/broadcast-service/internal/queue"
	"github.com/unclebandit/broadcast-service/internal/repository"
)

const defaultWorkers = 5

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	DeliveryRepo  repository.DeliveryLogRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	SettingsRepo  repository.SettingsRepositoryInterface

	Resolver   *AudienceResolver
	Renderer   *Renderer
	Augmenter  *Augmenter
	Transports provider.Registry
	Queue      queue.Queue

	// Workers bounds the dispatch pool; Limiter paces sends across it.
	Workers int
	Limiter *rate.Limiter

	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Result struct for SendCampaign
type SendCampaignResult struct {
	CampaignID      int    `json:"campaign_id"`
	TotalRecipients int    `json:"total_recipients"`
	Status          string `json:"status"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

type Preview struct {
	CampaignID  int           `json:"campaign_id"`
	RecipientID int           `json:"recipient_id"`
	Channel     model.Channel `json:"channel"`
	Subject     string        `json:"subject,omitempty"`
	Body        string        `json:"body"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// SendCampaign moves a DRAFT campaign to SENDING, freezes its audience and
// enqueues the dispatch job. It returns once the job is accepted by the queue.
func (s *CampaignService) SendCampaign(ctx context.Context, campaignID int) (*SendCampaignResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft {
		return nil, appErrors.NewCampaignAlreadyProcessed(campaignID, string(campaign.Status))
	}
	if err := ValidateRule(campaign.Targeting); err != nil {
		return nil, err
	}
	if !campaign.ChannelMode.Valid() {
		return nil, appErrors.NewValidation("channel_mode", fmt.Sprintf("unsupported mode %q", campaign.ChannelMode))
	}

	applied, err := s.CampaignRepo.MarkSending(ctx, campaignID, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark campaign %d sending: %w", campaignID, err)
	}
	if !applied {
		return nil, appErrors.NewCampaignAlreadyProcessed(campaignID, string(model.CampaignSending))
	}

	log := s.Logger.With().Int("campaign_id", campaignID).Logger()

	recipients, err := s.Resolver.Resolve(ctx, campaign.Targeting, campaign.ChannelMode)
	if err != nil {
		s.fail(ctx, campaignID, "audience resolution failed: "+err.Error())
		return nil, fmt.Errorf("resolve audience for campaign %d: %w", campaignID, err)
	}
	if len(recipients) == 0 {
		s.fail(ctx, campaignID, "no eligible recipients")
		return nil, appErrors.NewNoEligibleRecipients(campaignID)
	}

	ids := make([]int, len(recipients))
	for i, rec := range recipients {
		ids[i] = rec.ID
	}
	if err := s.CampaignRepo.SaveAudience(ctx, campaignID, ids); err != nil {
		s.fail(ctx, campaignID, "failed to store audience: "+err.Error())
		return nil, fmt.Errorf("save audience for campaign %d: %w", campaignID, err)
	}

	if err := s.enqueue(ctx, campaignID); err != nil {
		s.fail(ctx, campaignID, "failed to enqueue dispatch: "+err.Error())
		return nil, err
	}

	log.Info().Int("recipients", len(ids)).Str("mode", string(campaign.ChannelMode)).Msg("campaign queued for dispatch")
	return &SendCampaignResult{
		CampaignID:      campaignID,
		TotalRecipients: len(ids),
		Status:          string(model.CampaignSending),
	}, nil
}

func (s *CampaignService) enqueue(ctx context.Context, campaignID int) error {
	payload, err := json.Marshal(model.DispatchJob{CampaignID: campaignID, EnqueuedAt: s.now()})
	if err != nil {
		return err
	}
	if err := s.Queue.Publish(ctx, queue.DispatchTopic, payload); err != nil {
		return fmt.Errorf("enqueue dispatch for campaign %d: %w", campaignID, err)
	}
	return nil
}

// fail moves a SENDING campaign to FAILED. It survives request cancellation.
func (s *CampaignService) fail(ctx context.Context, campaignID int, reason string) {
	applied, err := s.CampaignRepo.MarkFailed(context.WithoutCancel(ctx), campaignID, reason, s.now())
	log := s.Logger.With().Int("campaign_id", campaignID).Str("reason", reason).Logger()
	if err != nil {
		log.Error().Err(err).Msg("failed to mark campaign failed")
		return
	}
	if applied {
		metrics.CampaignsTotal.WithLabelValues(string(model.CampaignFailed)).Inc()
		log.Warn().Msg("campaign failed")
	}
}

// HandleDispatchJob is the queue handler for DispatchTopic.
func (s *CampaignService) HandleDispatchJob(ctx context.Context, payload []byte) error {
	var job model.DispatchJob
	if err := json.Unmarshal(payload, &job); err != nil || job.CampaignID <= 0 {
		s.Logger.Error().Err(err).Bytes("payload", payload).Msg("invalid dispatch job, dropping")
		return nil
	}
	return s.Dispatch(ctx, job.CampaignID)
}

// Dispatch delivers a SENDING campaign to its frozen audience and completes
// it. Running it again for the same campaign skips entries that already
// reached a terminal status.
func (s *CampaignService) Dispatch(ctx context.Context, campaignID int) error {
	log := s.Logger.With().Int("campaign_id", campaignID).Logger()

	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			log.Warn().Msg("dispatch job for unknown campaign")
			return nil
		}
		return err
	}
	if campaign.Status != model.CampaignSending {
		log.Info().Str("status", string(campaign.Status)).Msg("campaign not sending, skipping dispatch")
		return nil
	}

	metrics.ActiveDispatches.Inc()
	defer metrics.ActiveDispatches.Dec()

	providers, err := s.resolveProviders(ctx)
	if err != nil {
		s.fail(ctx, campaignID, "provider configuration unavailable: "+err.Error())
		return nil
	}
	for _, ch := range campaign.ChannelMode.Channels() {
		if !providers.Enabled(ch) {
			log.Info().Str("channel", string(ch)).Msg("provider not configured, channel skipped")
		}
	}

	ids, err := s.CampaignRepo.LoadAudience(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load audience for campaign %d: %w", campaignID, err)
	}
	recipients, err := s.RecipientRepo.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load recipients for campaign %d: %w", campaignID, err)
	}

	started := time.Now()
	tally := s.run(ctx, campaign, recipients, providers)
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("dispatch interrupted, campaign left in SENDING")
		return err
	}

	sent, failed := tally.totals()
	log.Info().Int("sent", sent).Int("failed", failed).Dur("took", time.Since(started)).Msg("dispatch loop finished")
	return s.finalize(ctx, campaignID)
}

func (s *CampaignService) resolveProviders(ctx context.Context) (model.ProviderConfigs, error) {
	var p model.ProviderConfigs
	var err error
	if p.Email, err = s.SettingsRepo.EmailProviderConfig(ctx); err != nil {
		return p, err
	}
	if p.Chat, err = s.SettingsRepo.ChatProviderConfig(ctx); err != nil {
		return p, err
	}
	if p.Footer, err = s.SettingsRepo.EmailFooterSettings(ctx); err != nil {
		return p, err
	}
	return p, nil
}

func (s *CampaignService) run(ctx context.Context, campaign *model.Campaign, recipients []model.Recipient, providers model.ProviderConfigs) *dispatchTally {
	tally := &dispatchTally{}
	if len(recipients) == 0 {
		return tally
	}

	workers := s.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	if workers > len(recipients) {
		workers = len(recipients)
	}

	jobs := make(chan model.Recipient)
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		w := NewWorker(i, jobs, func(ctx context.Context, rec model.Recipient) {
			s.processRecipient(ctx, campaign, rec, providers, tally)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

feed:
	for _, rec := range recipients {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return tally
}

func (s *CampaignService) processRecipient(ctx context.Context, campaign *model.Campaign, rec model.Recipient, providers model.ProviderConfigs, tally *dispatchTally) {
	for _, ch := range campaign.ChannelMode.Channels() {
		if !providers.Enabled(ch) || !rec.EligibleFor(ch) {
			continue
		}
		s.deliver(ctx, campaign, &rec, ch, providers, tally)
	}
}

// deliver handles one (recipient, channel) unit. The log entry is created
// PENDING before the transport call and settled exactly once afterwards.
func (s *CampaignService) deliver(ctx context.Context, campaign *model.Campaign, rec *model.Recipient, ch model.Channel, providers model.ProviderConfigs, tally *dispatchTally) {
	log := s.Logger.With().Int("campaign_id", campaign.ID).Int("recipient_id", rec.ID).Str("channel", string(ch)).Logger()

	entry := &model.DeliveryLog{
		ID:          s.newID(),
		CampaignID:  campaign.ID,
		RecipientID: rec.ID,
		Channel:     ch,
	}
	created, err := s.DeliveryRepo.CreatePending(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to create delivery log entry")
		return
	}
	if !created && entry.Terminal() {
		log.Debug().Str("status", string(entry.Status)).Msg("already delivered, skipping")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("delivery panicked")
			s.recordFailure(ctx, entry, fmt.Sprintf("panic: %v", r), tally)
		}
	}()

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			// Entry stays PENDING and is retried on redelivery.
			return
		}
	}

	msg := s.compose(campaign, rec, ch, entry.ID, providers)
	transport, ok := s.Transports[ch]
	if !ok {
		s.recordFailure(ctx, entry, fmt.Sprintf("no transport registered for %s", ch), tally)
		return
	}

	start := time.Now()
	err = transport.Send(ctx, msg, providers)
	metrics.SendDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Msg("delivery failed")
		s.recordFailure(ctx, entry, err.Error(), tally)
		return
	}

	if err := s.DeliveryRepo.MarkSent(context.WithoutCancel(ctx), entry.ID, s.now()); err != nil {
		log.Error().Err(err).Str("log_id", entry.ID).Msg("sent but failed to update delivery log")
		return
	}
	tally.add(true)
	metrics.DeliveriesTotal.WithLabelValues(string(ch), string(model.DeliverySent)).Inc()
}

func (s *CampaignService) recordFailure(ctx context.Context, entry *model.DeliveryLog, reason string, tally *dispatchTally) {
	if err := s.DeliveryRepo.MarkFailed(context.WithoutCancel(ctx), entry.ID, reason, s.now()); err != nil {
		s.Logger.Error().Err(err).Str("log_id", entry.ID).Msg("failed to record delivery failure")
		return
	}
	tally.add(false)
	metrics.DeliveriesTotal.WithLabelValues(string(entry.Channel), string(model.DeliveryFailed)).Inc()
}

func (s *CampaignService) compose(campaign *model.Campaign, rec *model.Recipient, ch model.Channel, logID string, providers model.ProviderConfigs) provider.Message {
	msg := provider.Message{Channel: ch, LogID: logID, ToName: rec.Name}
	switch ch {
	case model.ChannelEmail:
		msg.To = rec.Email
		msg.Subject = s.Renderer.Render(campaign.EmailSubject, rec)
		body := s.Renderer.RenderHTML(ComposeEmailBody(campaign.EmailBody, providers.Footer), rec)
		msg.Body = s.Augmenter.Augment(body, logID)
	case model.ChannelChat:
		msg.To = rec.ChatHandle
		msg.Body = s.Renderer.Render(campaign.ChatMessage, rec)
	}
	return msg
}

// finalize completes the campaign with counters aggregated from the
// delivery log. Entries still PENDING (an unsettled send) keep the campaign
// SENDING and the error gets the job redelivered.
func (s *CampaignService) finalize(ctx context.Context, campaignID int) error {
	stats, err := s.DeliveryRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("aggregate delivery stats for campaign %d: %w", campaignID, err)
	}
	if pending := stats["pending"]; pending > 0 {
		return appErrors.NewPendingDeliveries(campaignID, pending)
	}
	applied, err := s.CampaignRepo.Complete(ctx, campaignID, stats["sent"], stats["failed"], s.now())
	if err != nil {
		return fmt.Errorf("complete campaign %d: %w", campaignID, err)
	}

	log := s.Logger.With().Int("campaign_id", campaignID).Logger()
	if !applied {
		log.Warn().Msg("campaign left SENDING before completion")
		return nil
	}
	metrics.CampaignsTotal.WithLabelValues(string(model.CampaignCompleted)).Inc()
	log.Info().Int("sent", stats["sent"]).Int("failed", stats["failed"]).Msg("campaign completed")
	return nil
}

// ResumeSending re-enqueues campaigns left in SENDING, e.g. after a restart
// of a process that used the in-memory queue.
func (s *CampaignService) ResumeSending(ctx context.Context) (int, error) {
	campaigns, err := s.CampaignRepo.ListByStatus(ctx, model.CampaignSending)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, c := range campaigns {
		if err := s.enqueue(ctx, c.ID); err != nil {
			s.Logger.Error().Err(err).Int("campaign_id", c.ID).Msg("failed to resume campaign")
			continue
		}
		resumed++
	}
	return resumed, nil
}

// StartDueCampaigns starts every DRAFT campaign whose schedule has passed.
func (s *CampaignService) StartDueCampaigns(ctx context.Context) int {
	due, err := s.CampaignRepo.ListDueScheduled(ctx, s.now())
	if err != nil {
		s.Logger.Error().Err(err).Msg("failed to list scheduled campaigns")
		return 0
	}
	started := 0
	for _, c := range due {
		if _, err := s.SendCampaign(ctx, c.ID); err != nil {
			s.Logger.Warn().Err(err).Int("campaign_id", c.ID).Msg("scheduled campaign did not start")
			continue
		}
		started++
	}
	return started
}

// RenderPreview personalizes the campaign content for one recipient without
// tracking.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, recipientID int, channel model.Channel) (*Preview, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	channels := campaign.ChannelMode.Channels()
	if channel == "" && len(channels) > 0 {
		channel = channels[0]
	}
	if !containsChannel(channels, channel) {
		return nil, appErrors.NewValidation("channel", fmt.Sprintf("campaign does not send on %q", channel))
	}

	rec, err := s.RecipientRepo.GetByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	preview := &Preview{CampaignID: campaignID, RecipientID: recipientID, Channel: channel}
	switch channel {
	case model.ChannelEmail:
		footer, err := s.SettingsRepo.EmailFooterSettings(ctx)
		if err != nil {
			return nil, err
		}
		preview.Subject = s.Renderer.Render(campaign.EmailSubject, rec)
		preview.Body = s.Renderer.RenderHTML(ComposeEmailBody(campaign.EmailBody, footer), rec)
	case model.ChannelChat:
		preview.Body = s.Renderer.Render(campaign.ChatMessage, rec)
	}
	return preview, nil
}

func containsChannel(list []model.Channel, ch model.Channel) bool {
	for _, c := range list {
		if c == ch {
			return true
		}
	}
	return false
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.DeliveryRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// dispatchTally counts outcomes of one dispatch run for logging. The stored
// counters come from the delivery log.
type dispatchTally struct {
	mu     sync.Mutex
	sent   int
	failed int
}

func (t *dispatchTally) add(sent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sent {
		t.sent++
	} else {
		t.failed++
	}
}

func (t *dispatchTally) totals() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.failed
}
