package core

import "context"

// Store is the narrow persistence port the resolver and the audit logger
// depend on. Lookups return apperr.ErrNotFound when nothing matches; inserts
// return apperr.ErrDuplicate when a uniqueness constraint rejects the row.
type Store interface {
	FindUserByPhone(ctx context.Context, phone string) (*User, error)
	InsertUser(ctx context.Context, u User) (*User, error)
	FindCampaignRecipient(ctx context.Context, campaignID, userID string) (*CampaignRecipient, error)
	InsertCampaignRecipient(ctx context.Context, r CampaignRecipient) error
	UpdateCampaignRecipientStatus(ctx context.Context, campaignID, userID, status string) error
	InsertBulkMessageLog(ctx context.Context, l BulkMessageLog) error
	GetCampaignShortID(ctx context.Context, campaignID string) (string, error)
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LogLister is implemented by stores that can read back the audit trail.
type LogLister interface {
	ListBulkMessageLogs(ctx context.Context, campaignID *string, limit int) ([]BulkMessageLog, error)
}
