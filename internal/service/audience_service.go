package service

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
	"github.com/unclebandit/broadcast-service/internal/repository"
)

// AudienceResolver turns a targeting rule into eligible recipients.
type AudienceResolver struct {
	Recipients repository.RecipientRepositoryInterface
}

// ValidateRule checks that the variant carries the lists it needs. ALL and
// CUSTOM are accepted as is; an empty CUSTOM list resolves to nobody.
func ValidateRule(rule model.TargetingRule) error {
	kind := string(rule.Kind)
	switch rule.Kind {
	case model.TargetAll, model.TargetCustom:
		return nil
	case model.TargetByRole:
		if len(rule.Roles) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "roles must not be empty")
		}
	case model.TargetMembership:
		if len(rule.MembershipIDs) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "membership_ids must not be empty")
		}
	case model.TargetGroup:
		if len(rule.GroupIDs) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "group_ids must not be empty")
		}
	case model.TargetCourse:
		if len(rule.CourseIDs) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "course_ids must not be empty")
		}
	case model.TargetTransaction:
		if len(rule.TransactionStatuses) == 0 && len(rule.TransactionTypes) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "transaction_statuses or transaction_types required")
		}
	case model.TargetEvent:
		if len(rule.EventIDs) == 0 {
			return appErrors.NewInvalidTargetingRule(kind, "event_ids must not be empty")
		}
	case "":
		return appErrors.NewInvalidTargetingRule(kind, "kind is required")
	default:
		return appErrors.NewInvalidTargetingRule(kind, "unknown kind")
	}
	return nil
}

// Resolve returns the distinct active recipients matching rule that can be
// reached on at least one channel of mode.
func (a *AudienceResolver) Resolve(ctx context.Context, rule model.TargetingRule, mode model.ChannelMode) ([]model.Recipient, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, appErrors.NewValidation("channel_mode", fmt.Sprintf("unsupported mode %q", mode))
	}

	found, err := a.Recipients.FindRecipients(ctx, model.AudienceFilter{Rule: rule, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	seen := make(map[int]struct{}, len(found))
	recipients := make([]model.Recipient, 0, len(found))
	for _, rec := range found {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		if !rec.EligibleForMode(mode) {
			continue
		}
		seen[rec.ID] = struct{}{}
		recipients = append(recipients, rec)
	}
	return recipients, nil
}
