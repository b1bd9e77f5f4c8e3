// internal/model/recipient.go
package model

import "time"

// Recipient is a read-only snapshot of a user resolved for a campaign,
// enriched with the latest membership and transaction.
type Recipient struct {
	ID          int                  `db:"id" json:"id"`
	Name        string               `db:"display_name" json:"name"`
	FirstName   string               `db:"first_name" json:"first_name"`
	Email       string               `db:"email" json:"email"`
	ChatHandle  string               `db:"chat_handle" json:"chat_handle"`
	Role        string               `db:"role" json:"role"`
	EmailOptIn  bool                 `db:"email_notifications" json:"email_opt_in"`
	ChatOptIn   bool                 `db:"chat_notifications" json:"chat_opt_in"`
	Locale      string               `db:"locale" json:"locale"`
	Membership  *MembershipSnapshot  `json:"membership,omitempty"`
	Transaction *TransactionSnapshot `json:"transaction,omitempty"`
}

type MembershipSnapshot struct {
	PlanID    int        `json:"plan_id"`
	PlanName  string     `json:"plan_name"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type TransactionSnapshot struct {
	ID            int       `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

// EligibleFor reports whether the recipient opted in to ch and has a contact for it.
func (r *Recipient) EligibleFor(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return r.EmailOptIn && r.Email != ""
	case ChannelChat:
		return r.ChatOptIn && r.ChatHandle != ""
	}
	return false
}

// EligibleForMode is true when the recipient can be reached on at least one
// channel of the mode.
func (r *Recipient) EligibleForMode(mode ChannelMode) bool {
	for _, ch := range mode.Channels() {
		if r.EligibleFor(ch) {
			return true
		}
	}
	return false
}

// AudienceFilter is the composite predicate passed to the user store. An empty
// Mode disables the channel predicate.
type AudienceFilter struct {
	Rule TargetingRule
	Mode ChannelMode
}
