package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unclebandit/broadcast-service/internal/model"
)

// SettingsRepositoryInterface exposes the broadcast settings collaborator. A
// nil provider config means the integration is disabled.
type SettingsRepositoryInterface interface {
	EmailFooterSettings(ctx context.Context) (*model.FooterSettings, error)
	EmailProviderConfig(ctx context.Context) (*model.EmailProviderConfig, error)
	ChatProviderConfig(ctx context.Context) (*model.ChatProviderConfig, error)
}

type SettingsRepository struct {
	DB *sql.DB
}

func (r *SettingsRepository) EmailFooterSettings(ctx context.Context) (*model.FooterSettings, error) {
	var footer model.FooterSettings
	found, err := r.loadJSON(ctx, "footer", &footer)
	if err != nil || !found {
		return &model.FooterSettings{}, err
	}
	return &footer, nil
}

func (r *SettingsRepository) EmailProviderConfig(ctx context.Context) (*model.EmailProviderConfig, error) {
	var cfg model.EmailProviderConfig
	found, err := r.loadJSON(ctx, "email_provider", &cfg)
	if err != nil || !found || cfg.APIKey == "" {
		return nil, err
	}
	return &cfg, nil
}

func (r *SettingsRepository) ChatProviderConfig(ctx context.Context) (*model.ChatProviderConfig, error) {
	var cfg model.ChatProviderConfig
	found, err := r.loadJSON(ctx, "chat_provider", &cfg)
	if err != nil || !found || cfg.BaseURL == "" {
		return nil, err
	}
	return &cfg, nil
}

// column is always a literal from the callers above, never user input.
func (r *SettingsRepository) loadJSON(ctx context.Context, column string, dest any) (bool, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `SELECT `+column+` FROM broadcast_settings WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s settings: %w", column, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s settings: %w", column, err)
	}
	return true, nil
}

var _ SettingsRepositoryInterface = (*SettingsRepository)(nil)
