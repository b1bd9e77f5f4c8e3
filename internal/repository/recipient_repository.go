package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

// RecipientRepositoryInterface is the user store seen by the audience resolver.
type RecipientRepositoryInterface interface {
	FindRecipients(ctx context.Context, filter model.AudienceFilter) ([]model.Recipient, error)
	GetByIDs(ctx context.Context, ids []int) ([]model.Recipient, error)
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

// The latest membership and transaction are joined laterally so that one
// query returns fully enriched recipients.
const recipientSelect = `
    SELECT u.id, u.display_name, u.first_name, COALESCE(u.email, ''), COALESCE(u.chat_handle, ''), u.role,
           u.email_notifications, u.chat_notifications, u.locale,
           m.plan_id, m.plan_name, m.status, m.expires_at,
           t.id, t.invoice_number, t.amount, t.currency, t.status, t.type, t.created_at
    FROM users u
    LEFT JOIN LATERAL (
        SELECT mm.plan_id, p.name AS plan_name, mm.status, mm.expires_at
        FROM memberships mm
        JOIN membership_plans p ON p.id = mm.plan_id
        WHERE mm.user_id = u.id
        ORDER BY mm.created_at DESC
        LIMIT 1
    ) m ON TRUE
    LEFT JOIN LATERAL (
        SELECT tt.id, tt.invoice_number, tt.amount, tt.currency, tt.status, tt.type, tt.created_at
        FROM transactions tt
        WHERE tt.user_id = u.id
        ORDER BY tt.created_at DESC
        LIMIT 1
    ) t ON TRUE
    WHERE u.is_active = TRUE`

const (
	emailEligible = `(u.email_notifications AND COALESCE(u.email, '') <> '')`
	chatEligible  = `(u.chat_notifications AND COALESCE(u.chat_handle, '') <> '')`
)

// buildRecipientQuery turns the audience filter into SQL. The rule must have
// been validated by the caller.
func buildRecipientQuery(filter model.AudienceFilter) (string, []any, error) {
	query := recipientSelect
	args := []any{}
	argPos := 1

	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", argPos)
		argPos++
		return p
	}

	rule := filter.Rule
	switch rule.Kind {
	case model.TargetAll:
	case model.TargetByRole:
		query += " AND u.role = ANY(" + next(pq.Array(rule.Roles)) + ")"
	case model.TargetMembership:
		sub := " AND EXISTS (SELECT 1 FROM memberships mb WHERE mb.user_id = u.id AND mb.plan_id = ANY(" +
			next(pq.Array(int64s(rule.MembershipIDs))) + ")"
		if rule.ActiveOnly {
			sub += " AND mb.status = 'active' AND (mb.expires_at IS NULL OR mb.expires_at > NOW())"
		}
		query += sub + ")"
	case model.TargetGroup:
		query += " AND EXISTS (SELECT 1 FROM group_members gm WHERE gm.user_id = u.id AND gm.group_id = ANY(" +
			next(pq.Array(int64s(rule.GroupIDs))) + "))"
	case model.TargetCourse:
		query += " AND EXISTS (SELECT 1 FROM course_enrollments ce WHERE ce.user_id = u.id AND ce.course_id = ANY(" +
			next(pq.Array(int64s(rule.CourseIDs))) + "))"
	case model.TargetTransaction:
		sub := " AND EXISTS (SELECT 1 FROM transactions tx WHERE tx.user_id = u.id"
		if len(rule.TransactionStatuses) > 0 {
			sub += " AND tx.status = ANY(" + next(pq.Array(rule.TransactionStatuses)) + ")"
		}
		if len(rule.TransactionTypes) > 0 {
			sub += " AND tx.type = ANY(" + next(pq.Array(rule.TransactionTypes)) + ")"
		}
		query += sub + ")"
	case model.TargetEvent:
		query += " AND EXISTS (SELECT 1 FROM event_registrations er WHERE er.user_id = u.id AND er.event_id = ANY(" +
			next(pq.Array(int64s(rule.EventIDs))) + "))"
	case model.TargetCustom:
		query += " AND u.id = ANY(" + next(pq.Array(int64s(rule.RecipientIDs))) + ")"
	default:
		return "", nil, appErrors.NewInvalidTargetingRule(string(rule.Kind), "unknown kind")
	}

	switch filter.Mode {
	case "":
	case model.ChannelModeEmail:
		query += " AND " + emailEligible
	case model.ChannelModeChat:
		query += " AND " + chatEligible
	case model.ChannelModeBoth:
		query += " AND (" + emailEligible + " OR " + chatEligible + ")"
	default:
		return "", nil, appErrors.NewValidation("channel_mode", fmt.Sprintf("unsupported mode %q", filter.Mode))
	}

	query += " ORDER BY u.id"
	return query, args, nil
}

func (r *RecipientRepository) FindRecipients(ctx context.Context, filter model.AudienceFilter) ([]model.Recipient, error) {
	query, args, err := buildRecipientQuery(filter)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, query, args...)
}

// GetByIDs loads snapshot recipients without any channel predicate; the
// dispatcher re-checks eligibility per channel at send time.
func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []int) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return []model.Recipient{}, nil
	}
	return r.FindRecipients(ctx, model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetCustom, RecipientIDs: ids},
	})
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	recipients, err := r.GetByIDs(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, appErrors.ErrRecipientNotFound
	}
	return &recipients[0], nil
}

func (r *RecipientRepository) query(ctx context.Context, query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func scanRecipient(row rowScanner) (model.Recipient, error) {
	var (
		rec model.Recipient

		planID                           sql.NullInt64
		planName, memStatus              sql.NullString
		expiresAt                        sql.NullTime
		txID                             sql.NullInt64
		invoice, currency, txStatus, typ sql.NullString
		amount                           sql.NullFloat64
		txDate                           sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.FirstName, &rec.Email, &rec.ChatHandle, &rec.Role,
		&rec.EmailOptIn, &rec.ChatOptIn, &rec.Locale,
		&planID, &planName, &memStatus, &expiresAt,
		&txID, &invoice, &amount, &currency, &txStatus, &typ, &txDate,
	)
	if err != nil {
		return rec, err
	}

	if planID.Valid {
		rec.Membership = &model.MembershipSnapshot{
			PlanID:   int(planID.Int64),
			PlanName: planName.String,
			Status:   memStatus.String,
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			rec.Membership.ExpiresAt = &t
		}
	}
	if txID.Valid {
		rec.Transaction = &model.TransactionSnapshot{
			ID:            int(txID.Int64),
			InvoiceNumber: invoice.String,
			Amount:        amount.Float64,
			Currency:      strings.ToUpper(currency.String),
			Status:        txStatus.String,
			Type:          typ.String,
			CreatedAt:     txDate.Time,
		}
	}
	return rec, nil
}

func int64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
