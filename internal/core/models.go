package core

import (
	"time"
)

const (
	UserStatusActive = "active"

	RecipientQueued = "queued"
	RecipientSent   = "sent"
	RecipientFailed = "failed"

	LogCompleted = "completed"
	LogFailed    = "failed"

	MessageTypeSMS = "sms"
)

type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Country     string    `json:"country"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type Campaign struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

type CampaignRecipient struct {
	CampaignID  string    `json:"campaign_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	UniqueToken string    `json:"unique_token"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type BulkMessageLog struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	RecipientCount int       `json:"recipient_count"`
	SentCount      int       `json:"sent_count"`
	Status         string    `json:"status"`
	Cost           float64   `json:"cost"`
	CompletedAt    time.Time `json:"completed_at"`
	CampaignID     *string   `json:"campaign_id,omitempty"`
}
