package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/metrics"
)

// Auditor writes one BulkMessageLog row per send invocation. It never fails
// the caller; write errors are logged and counted.
type Auditor struct {
	Store Store
	Log   zerolog.Logger
}

type AuditEntry struct {
	Type           string
	Content        string
	RecipientCount int
	SentCount      int
	Status         string
	Cost           float64
	CampaignID     string
}

func (a *Auditor) Record(ctx context.Context, e AuditEntry) {
	if e.SentCount > e.RecipientCount {
		e.SentCount = e.RecipientCount
	}
	if e.Type == "" {
		e.Type = MessageTypeSMS
	}
	row := BulkMessageLog{
		Type:           e.Type,
		Content:        e.Content,
		RecipientCount: e.RecipientCount,
		SentCount:      e.SentCount,
		Status:         e.Status,
		Cost:           e.Cost,
		CompletedAt:    time.Now().UTC(),
	}
	if e.CampaignID != "" {
		id := e.CampaignID
		row.CampaignID = &id
	}
	if err := a.Store.InsertBulkMessageLog(ctx, row); err != nil {
		metrics.AuditWrites.WithLabelValues("error").Inc()
		a.Log.Warn().Err(err).
			Int("recipients", e.RecipientCount).
			Int("sent", e.SentCount).
			Str("campaign_id", e.CampaignID).
			Msg("bulk message log write failed")
		return
	}
	metrics.AuditWrites.WithLabelValues("ok").Inc()
}
