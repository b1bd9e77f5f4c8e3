//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/unclebandit/broadcast-service/internal/config"
	"github.com/unclebandit/broadcast-service/internal/db"
	"github.com/unclebandit/broadcast-service/internal/logger"
	"github.com/unclebandit/broadcast-service/internal/model"
	"github.com/unclebandit/broadcast-service/internal/repository"
)

var seedFiles = []string{
	"seed/users.sql",
	"seed/settings.sql",
}

// Demo drafts, created through the repository so targeting is stored in its
// canonical JSON form.
var demoCampaigns = []model.Campaign{
	{
		Name:         "Welcome back",
		ChannelMode:  model.ChannelModeEmail,
		Targeting:    model.TargetingRule{Kind: model.TargetAll},
		EmailSubject: "Welcome back, {first_name}!",
		EmailBody:    `<html><body><p>Hi {name},</p><p>Your {membership_plan} plan is active until {membership_expiry}.</p><p><a href="{dashboard_link}">Open your dashboard</a></p></body></html>`,
	},
	{
		Name:         "Payment reminder",
		ChannelMode:  model.ChannelModeBoth,
		Targeting:    model.TargetingRule{Kind: model.TargetTransaction, TransactionStatuses: []string{"PENDING"}},
		EmailSubject: "Invoice {invoice_number} is still open",
		EmailBody:    `<p>Hi {first_name}, your payment of {amount} is {transaction_status}. <a href="{invoice_link}">View invoice</a></p>`,
		ChatMessage:  "Hi {first_name}, invoice {invoice_number} ({amount}) is still {transaction_status}: {invoice_link}",
	},
	{
		Name:        "Open day reminder",
		ChannelMode: model.ChannelModeChat,
		Targeting:   model.TargetingRule{Kind: model.TargetEvent, EventIDs: []int{500}},
		ChatMessage: "Hi {first_name}, see you at the {site_name} open day! Today is {current_date}.",
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	for _, file := range seedFiles {
		if err := execFile(ctx, conn, file); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("seed failed")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	if err := seedCampaigns(ctx, conn, log); err != nil {
		log.Fatal().Err(err).Msg("seed campaigns")
	}

	log.Info().Msg("database seeding completed successfully")
}

func execFile(ctx context.Context, conn *sql.DB, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	if _, err := conn.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute %s: %w", file, err)
	}
	return nil
}

func seedCampaigns(ctx context.Context, conn *sql.DB, log zerolog.Logger) error {
	var existing int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		log.Info().Int("campaigns", existing).Msg("campaigns already present, skipping")
		return nil
	}

	repo := &repository.CampaignRepository{DB: conn}
	for i := range demoCampaigns {
		c := demoCampaigns[i]
		if err := repo.Create(ctx, &c); err != nil {
			return fmt.Errorf("create %q: %w", c.Name, err)
		}
		log.Info().Int("id", c.ID).Str("name", c.Name).Msg("campaign created")
	}
	return nil
}
