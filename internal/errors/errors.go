// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrDeliveryLogNotFound = errors.New("delivery log entry not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
)

// ErrCampaignNotFound is returned when no campaign has the given ID.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCampaignAlreadyProcessed is returned when a start is requested for a
// campaign that already left DRAFT.
type ErrCampaignAlreadyProcessed struct {
	CampaignID int
	Status     string
}

func (e *ErrCampaignAlreadyProcessed) Error() string {
	return fmt.Sprintf("campaign %d already processed (status %s)", e.CampaignID, e.Status)
}

func NewCampaignAlreadyProcessed(id int, status string) error {
	return &ErrCampaignAlreadyProcessed{CampaignID: id, Status: status}
}

type ErrNoEligibleRecipients struct {
	CampaignID int
}

func (e *ErrNoEligibleRecipients) Error() string {
	return fmt.Sprintf("campaign %d has no eligible recipients", e.CampaignID)
}

func NewNoEligibleRecipients(id int) error {
	return &ErrNoEligibleRecipients{CampaignID: id}
}

type ErrInvalidTargetingRule struct {
	Kind   string
	Reason string
}

func (e *ErrInvalidTargetingRule) Error() string {
	return fmt.Sprintf("invalid targeting rule %q: %s", e.Kind, e.Reason)
}

func NewInvalidTargetingRule(kind, reason string) error {
	return &ErrInvalidTargetingRule{Kind: kind, Reason: reason}
}

// ErrPendingDeliveries keeps a campaign SENDING while some delivery log
// entries are unsettled.
type ErrPendingDeliveries struct {
	CampaignID int
	Pending    int
}

func (e *ErrPendingDeliveries) Error() string {
	return fmt.Sprintf("campaign %d has %d unsettled deliveries", e.CampaignID, e.Pending)
}

func NewPendingDeliveries(id, pending int) error {
	return &ErrPendingDeliveries{CampaignID: id, Pending: pending}
}

// ErrValidation reports a malformed request field.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// TransportError carries the provider's raw response for a failed send.
type TransportError struct {
	Channel    string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s transport: status %d: %s", e.Channel, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s transport: status %d", e.Channel, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound covers every "missing entity" error in the package.
func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf) || errors.Is(err, ErrDeliveryLogNotFound) || errors.Is(err, ErrRecipientNotFound)
}
