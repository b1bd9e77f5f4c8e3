package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
	"github.com/unclebandit/broadcast-service/internal/provider"
	"github.com/unclebandit/broadcast-service/internal/queue"
)

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	audience  map[int][]int
	nextID    int
}

func newMemCampaignRepo(campaigns ...*model.Campaign) *memCampaignRepo {
	r := &memCampaignRepo{campaigns: map[int]*model.Campaign{}, audience: map[int][]int{}, nextID: 1}
	for _, c := range campaigns {
		if c.Status == "" {
			c.Status = model.CampaignDraft
		}
		r.campaigns[c.ID] = c
		if c.ID >= r.nextID {
			r.nextID = c.ID + 1
		}
	}
	return r
}

func (r *memCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	r.campaigns[c.ID] = c
	return nil
}

func (r *memCampaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) sorted() []*model.Campaign {
	all := make([]*model.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return all
}

func (r *memCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*model.Campaign
	for _, c := range r.sorted() {
		if channel != "" && string(c.ChannelMode) != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		matched = append(matched, c)
	}
	if offset >= len(matched) {
		return []*model.Campaign{}, len(matched), nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], len(matched), nil
}

func (r *memCampaignRepo) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.sorted() {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.sorted() {
		if c.Status == model.CampaignDraft && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCampaignRepo) transition(id int, from model.CampaignStatus, apply func(c *model.Campaign)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	apply(c)
	return true, nil
}

func (r *memCampaignRepo) MarkSending(ctx context.Context, id int, at time.Time) (bool, error) {
	return r.transition(id, model.CampaignDraft, func(c *model.Campaign) {
		c.Status = model.CampaignSending
		c.StartedAt = &at
	})
}

func (r *memCampaignRepo) MarkFailed(ctx context.Context, id int, reason string, at time.Time) (bool, error) {
	return r.transition(id, model.CampaignSending, func(c *model.Campaign) {
		c.Status = model.CampaignFailed
		c.FailureReason = reason
		c.CompletedAt = &at
	})
}

func (r *memCampaignRepo) Complete(ctx context.Context, id int, sent, failed int, at time.Time) (bool, error) {
	return r.transition(id, model.CampaignSending, func(c *model.Campaign) {
		c.Status = model.CampaignCompleted
		c.SentCount = sent
		c.FailedCount = failed
		c.CompletedAt = &at
	})
}

func (r *memCampaignRepo) SaveAudience(ctx context.Context, id int, ids []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audience[id] = append([]int(nil), ids...)
	r.campaigns[id].TotalRecipients = len(ids)
	return nil
}

func (r *memCampaignRepo) LoadAudience(ctx context.Context, id int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.audience[id]...), nil
}

func (r *memCampaignRepo) status(id int) model.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

type memDeliveryRepo struct {
	mu      sync.Mutex
	entries map[string]*model.DeliveryLog
	byUnit  map[string]string

	settleErr error
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{entries: map[string]*model.DeliveryLog{}, byUnit: map[string]string{}}
}

func unitKey(campaignID, recipientID int, ch model.Channel) string {
	return fmt.Sprintf("%d/%d/%s", campaignID, recipientID, ch)
}

func (r *memDeliveryRepo) CreatePending(ctx context.Context, entry *model.DeliveryLog) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := unitKey(entry.CampaignID, entry.RecipientID, entry.Channel)
	if id, ok := r.byUnit[key]; ok {
		*entry = *r.entries[id]
		return false, nil
	}
	entry.Status = model.DeliveryPending
	entry.CreatedAt = time.Now()
	cp := *entry
	r.entries[entry.ID] = &cp
	r.byUnit[key] = entry.ID
	return true, nil
}

func (r *memDeliveryRepo) settle(id string, apply func(e *model.DeliveryLog)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleErr != nil {
		return r.settleErr
	}
	e, ok := r.entries[id]
	if !ok {
		return appErrors.ErrDeliveryLogNotFound
	}
	if e.Status == model.DeliveryPending {
		apply(e)
	}
	return nil
}

func (r *memDeliveryRepo) failSettle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleErr = err
}

func (r *memDeliveryRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.settle(id, func(e *model.DeliveryLog) {
		e.Status = model.DeliverySent
		e.SentAt = &at
	})
}

func (r *memDeliveryRepo) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	return r.settle(id, func(e *model.DeliveryLog) {
		e.Status = model.DeliveryFailed
		e.ErrorMessage = message
		e.FailedAt = &at
	})
}

func (r *memDeliveryRepo) GetByID(ctx context.Context, id string) (*model.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, appErrors.ErrDeliveryLogNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memDeliveryRepo) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0, "opened": 0, "clicked": 0}
	for _, e := range r.entries {
		if e.CampaignID != campaignID {
			continue
		}
		stats["total"]++
		switch e.Status {
		case model.DeliveryPending:
			stats["pending"]++
		case model.DeliverySent:
			stats["sent"]++
		case model.DeliveryFailed:
			stats["failed"]++
		}
		if e.OpenCount > 0 {
			stats["opened"]++
		}
		if e.ClickCount > 0 {
			stats["clicked"]++
		}
	}
	return stats, nil
}

func (r *memDeliveryRepo) RecordOpen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return appErrors.ErrDeliveryLogNotFound
	}
	e.OpenCount++
	if e.OpenedAt == nil {
		e.OpenedAt = &at
	}
	return nil
}

func (r *memDeliveryRepo) RecordClick(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return appErrors.ErrDeliveryLogNotFound
	}
	e.ClickCount++
	if e.ClickedAt == nil {
		e.ClickedAt = &at
	}
	return nil
}

func (r *memDeliveryRepo) all() []model.DeliveryLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.DeliveryLog, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecipientID != out[j].RecipientID {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// memRecipientRepo evaluates the subset of targeting variants the tests use.
type memRecipientRepo struct {
	recipients []model.Recipient
	findErr    error
}

func (r *memRecipientRepo) matches(rule model.TargetingRule, rec model.Recipient) bool {
	switch rule.Kind {
	case model.TargetAll:
		return true
	case model.TargetCustom:
		for _, id := range rule.RecipientIDs {
			if id == rec.ID {
				return true
			}
		}
	case model.TargetByRole:
		for _, role := range rule.Roles {
			if role == rec.Role {
				return true
			}
		}
	case model.TargetTransaction:
		if rec.Transaction == nil {
			return false
		}
		for _, st := range rule.TransactionStatuses {
			if st == rec.Transaction.Status {
				return true
			}
		}
	}
	return false
}

func (r *memRecipientRepo) FindRecipients(ctx context.Context, filter model.AudienceFilter) ([]model.Recipient, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []model.Recipient
	for _, rec := range r.recipients {
		if !r.matches(filter.Rule, rec) {
			continue
		}
		if filter.Mode != "" && !rec.EligibleForMode(filter.Mode) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memRecipientRepo) GetByIDs(ctx context.Context, ids []int) ([]model.Recipient, error) {
	return r.FindRecipients(ctx, model.AudienceFilter{Rule: model.TargetingRule{Kind: model.TargetCustom, RecipientIDs: ids}})
}

func (r *memRecipientRepo) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	for _, rec := range r.recipients {
		if rec.ID == id {
			cp := rec
			return &cp, nil
		}
	}
	return nil, appErrors.ErrRecipientNotFound
}

type staticSettings struct {
	email  *model.EmailProviderConfig
	chat   *model.ChatProviderConfig
	footer *model.FooterSettings
	err    error
}

func (s *staticSettings) EmailFooterSettings(ctx context.Context) (*model.FooterSettings, error) {
	if s.footer == nil {
		return &model.FooterSettings{}, s.err
	}
	return s.footer, s.err
}

func (s *staticSettings) EmailProviderConfig(ctx context.Context) (*model.EmailProviderConfig, error) {
	return s.email, s.err
}

func (s *staticSettings) ChatProviderConfig(ctx context.Context) (*model.ChatProviderConfig, error) {
	return s.chat, s.err
}

// recordingTransport captures messages; fail maps a recipient address to the
// error returned for it. When deliveries is set, the status of the message's
// log entry at send time is recorded as well.
type recordingTransport struct {
	channel    model.Channel
	fail       map[string]error
	panicOn    string
	deliveries *memDeliveryRepo

	mu           sync.Mutex
	sent         []provider.Message
	statusAtSend []model.DeliveryStatus
}

func (t *recordingTransport) Channel() model.Channel { return t.channel }

func (t *recordingTransport) Send(ctx context.Context, msg provider.Message, cfg model.ProviderConfigs) error {
	if msg.To == t.panicOn && t.panicOn != "" {
		panic("transport exploded")
	}
	var status model.DeliveryStatus
	if t.deliveries != nil {
		if entry, err := t.deliveries.GetByID(ctx, msg.LogID); err == nil {
			status = entry.Status
		}
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.statusAtSend = append(t.statusAtSend, status)
	t.mu.Unlock()
	if err, ok := t.fail[msg.To]; ok {
		return err
	}
	return nil
}

func (t *recordingTransport) messages() []provider.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]provider.Message(nil), t.sent...)
}

func (t *recordingTransport) statuses() []model.DeliveryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.DeliveryStatus(nil), t.statusAtSend...)
}

type capturingQueue struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
}

func (q *capturingQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	if topic != queue.DispatchTopic {
		return errors.New("unexpected topic " + topic)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, payload)
	return nil
}

func (q *capturingQueue) Subscribe(topic string, handler queue.Handler) error { return nil }

func (q *capturingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

type testHarness struct {
	svc        *CampaignService
	campaigns  *memCampaignRepo
	deliveries *memDeliveryRepo
	recipients *memRecipientRepo
	settings   *staticSettings
	email      *recordingTransport
	chat       *recordingTransport
	queue      *capturingQueue
}

func newHarness(recipients []model.Recipient, campaigns ...*model.Campaign) *testHarness {
	h := &testHarness{
		campaigns:  newMemCampaignRepo(campaigns...),
		deliveries: newMemDeliveryRepo(),
		recipients: &memRecipientRepo{recipients: recipients},
		settings: &staticSettings{
			email:  &model.EmailProviderConfig{APIKey: "key", FromEmail: "news@acme.test"},
			chat:   &model.ChatProviderConfig{BaseURL: "https://chat.test", DefaultRegion: "KE"},
			footer: &model.FooterSettings{CompanyName: "Acme Academy"},
		},
		email: &recordingTransport{channel: model.ChannelEmail},
		chat:  &recordingTransport{channel: model.ChannelChat},
		queue: &capturingQueue{},
	}
	h.email.deliveries = h.deliveries
	h.chat.deliveries = h.deliveries
	renderer := newTestRenderer()
	h.svc = &CampaignService{
		CampaignRepo:  h.campaigns,
		DeliveryRepo:  h.deliveries,
		RecipientRepo: h.recipients,
		SettingsRepo:  h.settings,
		Resolver:      &AudienceResolver{Recipients: h.recipients},
		Renderer:      renderer,
		Augmenter:     &Augmenter{TrackingBaseURL: "https://track.acme.test", UnsubscribeBase: renderer.UnsubscribeBase()},
		Transports:    provider.NewRegistry(h.email, h.chat),
		Queue:         h.queue,
		Workers:       3,
		Logger:        zerolog.Nop(),
		Now:           renderer.Now,
	}
	return h
}

func optedIn(id int, email, chat string) model.Recipient {
	return model.Recipient{
		ID:         id,
		Name:       fmt.Sprintf("User %d", id),
		FirstName:  fmt.Sprintf("U%d", id),
		Email:      email,
		ChatHandle: chat,
		EmailOptIn: email != "",
		ChatOptIn:  chat != "",
	}
}
