package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

type DeliveryLogRepositoryInterface interface {
	// CreatePending inserts entry as PENDING. When a row already exists for
	// the (campaign, recipient, channel) triple, entry is overwritten with it
	// and created is false.
	CreatePending(ctx context.Context, entry *model.DeliveryLog) (created bool, err error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string, at time.Time) error
	GetByID(ctx context.Context, id string) (*model.DeliveryLog, error)
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
	RecordOpen(ctx context.Context, id string, at time.Time) error
	RecordClick(ctx context.Context, id string, at time.Time) error
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

const deliveryLogColumns = `id, campaign_id, recipient_id, channel, status, COALESCE(error_message, ''),
    sent_at, failed_at, opened_at, open_count, clicked_at, click_count, created_at, updated_at`

func scanDeliveryLog(row rowScanner, d *model.DeliveryLog) error {
	return row.Scan(
		&d.ID, &d.CampaignID, &d.RecipientID, &d.Channel, &d.Status, &d.ErrorMessage,
		&d.SentAt, &d.FailedAt, &d.OpenedAt, &d.OpenCount, &d.ClickedAt, &d.ClickCount, &d.CreatedAt, &d.UpdatedAt,
	)
}

// Idempotent insert
func (r *DeliveryLogRepository) CreatePending(ctx context.Context, entry *model.DeliveryLog) (bool, error) {
	now := time.Now()
	entry.Status = model.DeliveryPending
	entry.CreatedAt = now
	entry.UpdatedAt = now

	res, err := r.DB.ExecContext(ctx, `
        INSERT INTO delivery_logs (id, campaign_id, recipient_id, channel, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'PENDING', $5, $5)
        ON CONFLICT (campaign_id, recipient_id, channel) DO NOTHING
    `, entry.ID, entry.CampaignID, entry.RecipientID, entry.Channel, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs
        WHERE campaign_id=$1 AND recipient_id=$2 AND channel=$3`
	if err := scanDeliveryLog(r.DB.QueryRowContext(ctx, query, entry.CampaignID, entry.RecipientID, entry.Channel), entry); err != nil {
		return false, err
	}
	return false, nil
}

func (r *DeliveryLogRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE delivery_logs SET status='SENT', sent_at=$2, updated_at=$2 WHERE id=$1 AND status='PENDING'`, id, at)
	return err
}

func (r *DeliveryLogRepository) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE delivery_logs SET status='FAILED', error_message=$2, failed_at=$3, updated_at=$3
        WHERE id=$1 AND status='PENDING'
    `, id, message, at)
	return err
}

func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*model.DeliveryLog, error) {
	var d model.DeliveryLog
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs WHERE id=$1`
	if err := scanDeliveryLog(r.DB.QueryRowContext(ctx, query, id), &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrDeliveryLogNotFound
		}
		return nil, err
	}
	return &d, nil
}

// GetCampaignStats aggregates delivery and engagement counts for a campaign.
func (r *DeliveryLogRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE status='PENDING'),
            COUNT(*) FILTER (WHERE status='SENT'),
            COUNT(*) FILTER (WHERE status='FAILED'),
            COUNT(*) FILTER (WHERE open_count > 0),
            COUNT(*) FILTER (WHERE click_count > 0)
        FROM delivery_logs
        WHERE campaign_id=$1
    `
	var total, pending, sent, failed, opened, clicked int
	if err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&total, &pending, &sent, &failed, &opened, &clicked); err != nil {
		return nil, err
	}
	return map[string]int{
		"total":   total,
		"pending": pending,
		"sent":    sent,
		"failed":  failed,
		"opened":  opened,
		"clicked": clicked,
	}, nil
}

func (r *DeliveryLogRepository) RecordOpen(ctx context.Context, id string, at time.Time) error {
	return r.recordEngagement(ctx, `
        UPDATE delivery_logs SET open_count=open_count+1, opened_at=COALESCE(opened_at, $2), updated_at=$2
        WHERE id=$1
    `, id, at)
}

func (r *DeliveryLogRepository) RecordClick(ctx context.Context, id string, at time.Time) error {
	return r.recordEngagement(ctx, `
        UPDATE delivery_logs SET click_count=click_count+1, clicked_at=COALESCE(clicked_at, $2), updated_at=$2
        WHERE id=$1
    `, id, at)
}

func (r *DeliveryLogRepository) recordEngagement(ctx context.Context, query, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrDeliveryLogNotFound
	}
	return nil
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
