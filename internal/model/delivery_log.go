// internal/model/delivery_log.go
package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// DeliveryLog is the per (campaign, recipient, channel) delivery record.
type DeliveryLog struct {
	ID           string         `db:"id" json:"id"`
	CampaignID   int            `db:"campaign_id" json:"campaign_id"`
	RecipientID  int            `db:"recipient_id" json:"recipient_id"`
	Channel      Channel        `db:"channel" json:"channel"`
	Status       DeliveryStatus `db:"status" json:"status"`
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	SentAt       *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt     *time.Time     `db:"failed_at" json:"failed_at,omitempty"`
	OpenedAt     *time.Time     `db:"opened_at" json:"opened_at,omitempty"`
	OpenCount    int            `db:"open_count" json:"open_count"`
	ClickedAt    *time.Time     `db:"clicked_at" json:"clicked_at,omitempty"`
	ClickCount   int            `db:"click_count" json:"click_count"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

func (d *DeliveryLog) Terminal() bool {
	return d.Status == DeliverySent || d.Status == DeliveryFailed
}
