// internal/model/campaign.go
package model

import "time"

// ChannelMode is the set of channels a campaign is sent on.
type ChannelMode string

const (
	ChannelModeEmail ChannelMode = "EMAIL"
	ChannelModeChat  ChannelMode = "CHAT"
	ChannelModeBoth  ChannelMode = "BOTH"
)

func (m ChannelMode) Valid() bool {
	switch m {
	case ChannelModeEmail, ChannelModeChat, ChannelModeBoth:
		return true
	}
	return false
}

// Channels expands the mode into the concrete channels, email first.
func (m ChannelMode) Channels() []Channel {
	switch m {
	case ChannelModeEmail:
		return []Channel{ChannelEmail}
	case ChannelModeChat:
		return []Channel{ChannelChat}
	case ChannelModeBoth:
		return []Channel{ChannelEmail, ChannelChat}
	}
	return nil
}

// Channel is a single delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelChat  Channel = "CHAT"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

type Campaign struct {
	ID              int            `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	ChannelMode     ChannelMode    `db:"channel_mode" json:"channel_mode"`
	Targeting       TargetingRule  `db:"targeting" json:"targeting"`
	EmailSubject    string         `db:"email_subject" json:"email_subject"`
	EmailBody       string         `db:"email_body" json:"email_body"`
	ChatMessage     string         `db:"chat_message" json:"chat_message"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	FailureReason   string         `db:"failure_reason" json:"failure_reason,omitempty"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Terminal reports whether the campaign can no longer change state.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// DispatchJob is the payload published when a campaign enters SENDING.
type DispatchJob struct {
	CampaignID int       `json:"campaign_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
