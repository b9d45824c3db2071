package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/core"
)

const (
	pgUniqueViolation  = "23505"
	pgInvalidTextInput = "22P02"
)

// Postgres implements core.Store on top of pgx.
type Postgres struct {
	db *DB
}

var _ core.Store = (*Postgres)(nil)

func NewPostgres(db *DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.Pool.Ping(ctx) }

// mapErr turns driver errors into the store's sentinel errors. A malformed
// uuid can never match a row, so it is reported as not found.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", apperr.ErrDuplicate, pgErr.ConstraintName)
		case pgInvalidTextInput:
			return apperr.ErrNotFound
		}
	}
	return err
}

func (p *Postgres) FindUserByPhone(ctx context.Context, phone string) (*core.User, error) {
	var u core.User
	err := p.db.Pool.QueryRow(ctx, `
		SELECT id::text, phone_number, country, status, created_at
		FROM users WHERE phone_number=$1
	`, phone).Scan(&u.ID, &u.PhoneNumber, &u.Country, &u.Status, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) InsertUser(ctx context.Context, u core.User) (*core.User, error) {
	err := p.db.Pool.QueryRow(ctx, `
		INSERT INTO users(phone_number, country, status)
		VALUES($1,$2,$3)
		RETURNING id::text, created_at
	`, u.PhoneNumber, u.Country, u.Status).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (p *Postgres) FindCampaignRecipient(ctx context.Context, campaignID, userID string) (*core.CampaignRecipient, error) {
	var r core.CampaignRecipient
	err := p.db.Pool.QueryRow(ctx, `
		SELECT campaign_id::text, user_id::text, status, unique_token, updated_at
		FROM campaign_recipients WHERE campaign_id=$1 AND user_id=$2
	`, campaignID, userID).Scan(&r.CampaignID, &r.UserID, &r.Status, &r.UniqueToken, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (p *Postgres) InsertCampaignRecipient(ctx context.Context, r core.CampaignRecipient) error {
	_, err := p.db.Pool.Exec(ctx, `
		INSERT INTO campaign_recipients(campaign_id, user_id, status, unique_token)
		VALUES($1,$2,$3,$4)
	`, r.CampaignID, r.UserID, r.Status, r.UniqueToken)
	return mapErr(err)
}

func (p *Postgres) UpdateCampaignRecipientStatus(ctx context.Context, campaignID, userID, status string) error {
	tag, err := p.db.Pool.Exec(ctx, `
		UPDATE campaign_recipients SET status=$3, updated_at=now()
		WHERE campaign_id=$1 AND user_id=$2
	`, campaignID, userID, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertBulkMessageLog(ctx context.Context, l core.BulkMessageLog) error {
	_, err := p.db.Pool.Exec(ctx, `
		INSERT INTO bulk_message_logs(type, content, recipient_count, sent_count, status, cost, completed_at, campaign_id)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.Type, l.Content, l.RecipientCount, l.SentCount, l.Status, l.Cost, l.CompletedAt, l.CampaignID)
	return mapErr(err)
}

func (p *Postgres) GetCampaignShortID(ctx context.Context, campaignID string) (string, error) {
	var short string
	err := p.db.Pool.QueryRow(ctx, `SELECT short_id FROM campaigns WHERE id=$1`, campaignID).Scan(&short)
	if err != nil {
		return "", mapErr(err)
	}
	return short, nil
}

// InsertCampaign creates a campaign. Campaigns are managed elsewhere; this
// exists for seeding and tests.
func (p *Postgres) InsertCampaign(ctx context.Context, c core.Campaign) (*core.Campaign, error) {
	if c.Type == "" {
		c.Type = core.MessageTypeSMS
	}
	err := p.db.Pool.QueryRow(ctx, `
		INSERT INTO campaigns(short_id, name, type) VALUES($1,$2,$3) RETURNING id::text
	`, c.ShortID, c.Name, c.Type).Scan(&c.ID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListBulkMessageLogs returns the newest logs first, optionally for one campaign.
func (p *Postgres) ListBulkMessageLogs(ctx context.Context, campaignID *string, limit int) ([]core.BulkMessageLog, error) {
	q := `SELECT id::text, type, content, recipient_count, sent_count, status, cost, completed_at, campaign_id::text FROM bulk_message_logs`
	args := []any{}
	if campaignID != nil {
		q += ` WHERE campaign_id=$1`
		args = append(args, *campaignID)
	}
	q += fmt.Sprintf(" ORDER BY completed_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := p.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []core.BulkMessageLog
	for rows.Next() {
		var l core.BulkMessageLog
		if err := rows.Scan(&l.ID, &l.Type, &l.Content, &l.RecipientCount, &l.SentCount, &l.Status, &l.Cost, &l.CompletedAt, &l.CampaignID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
