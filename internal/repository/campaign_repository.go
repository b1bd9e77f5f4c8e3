package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error)

	// State transitions. Each one is conditional on the current status and
	// reports whether it applied.
	MarkSending(ctx context.Context, id int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int, reason string, at time.Time) (bool, error)
	Complete(ctx context.Context, id int, sent, failed int, at time.Time) (bool, error)

	// Audience snapshot
	SaveAudience(ctx context.Context, id int, recipientIDs []int) error
	LoadAudience(ctx context.Context, id int) ([]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, channel_mode, targeting, email_subject, email_body, chat_message, status,
    total_recipients, sent_count, failed_count, failure_reason, scheduled_at, started_at, completed_at,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.ChannelMode, &c.Targeting, &c.EmailSubject, &c.EmailBody, &c.ChatMessage, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.FailureReason, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, channel_mode, targeting, email_subject, email_body, chat_message, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.Name, c.ChannelMode, c.Targeting, c.EmailSubject, c.EmailBody, c.ChatMessage, c.Status, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	where, args := campaignFilter(channel, status)

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// campaignFilter builds the shared WHERE clause of the list and count queries.
func campaignFilter(channel, status string) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if channel != "" {
		where += fmt.Sprintf(" AND channel_mode=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
	}
	return where, args
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY id`
	return r.list(ctx, query, status)
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status='DRAFT' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
        ORDER BY scheduled_at`
	return r.list(ctx, query, now)
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== State transitions ======================

func (r *CampaignRepository) MarkSending(ctx context.Context, id int, at time.Time) (bool, error) {
	query := `UPDATE campaigns SET status='SENDING', started_at=$2, updated_at=$2 WHERE id=$1 AND status='DRAFT'`
	return r.execAffected(ctx, query, id, at)
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id int, reason string, at time.Time) (bool, error) {
	query := `
        UPDATE campaigns SET status='FAILED', failure_reason=$2, completed_at=$3, updated_at=$3
        WHERE id=$1 AND status='SENDING'
    `
	return r.execAffected(ctx, query, id, reason, at)
}

func (r *CampaignRepository) Complete(ctx context.Context, id int, sent, failed int, at time.Time) (bool, error) {
	query := `
        UPDATE campaigns SET status='COMPLETED', sent_count=$2, failed_count=$3, completed_at=$4, updated_at=$4
        WHERE id=$1 AND status='SENDING'
    `
	return r.execAffected(ctx, query, id, sent, failed, at)
}

func (r *CampaignRepository) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ====================== Audience snapshot ======================

// SaveAudience replaces the campaign's recipient snapshot and records its size.
func (r *CampaignRepository) SaveAudience(ctx context.Context, id int, recipientIDs []int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_audience WHERE campaign_id=$1`, id); err != nil {
		return fmt.Errorf("clear audience: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_audience", "campaign_id", "recipient_id"))
	if err != nil {
		return fmt.Errorf("prepare audience copy: %w", err)
	}
	for _, rid := range recipientIDs {
		if _, err := stmt.ExecContext(ctx, id, rid); err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient %d: %w", rid, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush audience copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET total_recipients=$2, updated_at=NOW() WHERE id=$1`, id, len(recipientIDs),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CampaignRepository) LoadAudience(ctx context.Context, id int) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT recipient_id FROM campaign_audience WHERE campaign_id=$1 ORDER BY recipient_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var rid int
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		ids = append(ids, rid)
	}
	return ids, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
