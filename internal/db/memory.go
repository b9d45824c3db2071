package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/core"
)

type recipientKey struct{ campaignID, userID string }

// Memory is an in-process core.Store that enforces the same uniqueness rules
// as the SQL schema. It backs local runs and tests.
type Memory struct {
	mu         sync.Mutex
	users      map[string]core.User // by id
	byPhone    map[string]string    // phone -> user id
	campaigns  map[string]core.Campaign
	recipients map[recipientKey]core.CampaignRecipient
	logs       []core.BulkMessageLog
}

var _ core.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:      map[string]core.User{},
		byPhone:    map[string]string{},
		campaigns:  map[string]core.Campaign{},
		recipients: map[recipientKey]core.CampaignRecipient{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) FindUserByPhone(_ context.Context, phone string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPhone[phone]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *Memory) InsertUser(_ context.Context, u core.User) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPhone[u.PhoneNumber]; ok {
		return nil, fmt.Errorf("%w: users_phone_number_key", apperr.ErrDuplicate)
	}
	u.ID = uuid.NewString()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	m.byPhone[u.PhoneNumber] = u.ID
	return &u, nil
}

func (m *Memory) FindCampaignRecipient(_ context.Context, campaignID, userID string) (*core.CampaignRecipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[recipientKey{campaignID, userID}]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) InsertCampaignRecipient(_ context.Context, r core.CampaignRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[r.CampaignID]; !ok {
		return fmt.Errorf("campaign %q does not exist", r.CampaignID)
	}
	if _, ok := m.users[r.UserID]; !ok {
		return fmt.Errorf("user %q does not exist", r.UserID)
	}
	k := recipientKey{r.CampaignID, r.UserID}
	if _, ok := m.recipients[k]; ok {
		return fmt.Errorf("%w: campaign_recipients_pkey", apperr.ErrDuplicate)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	m.recipients[k] = r
	return nil
}

func (m *Memory) UpdateCampaignRecipientStatus(_ context.Context, campaignID, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recipientKey{campaignID, userID}
	r, ok := m.recipients[k]
	if !ok {
		return apperr.ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	m.recipients[k] = r
	return nil
}

func (m *Memory) InsertBulkMessageLog(_ context.Context, l core.BulkMessageLog) error {
	if l.SentCount > l.RecipientCount {
		return fmt.Errorf("bulk message log: sent_count %d exceeds recipient_count %d", l.SentCount, l.RecipientCount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.NewString()
	m.logs = append(m.logs, l)
	return nil
}

func (m *Memory) GetCampaignShortID(_ context.Context, campaignID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return c.ShortID, nil
}

func (m *Memory) InsertCampaign(_ context.Context, c core.Campaign) (*core.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.campaigns {
		if existing.ShortID == c.ShortID {
			return nil, fmt.Errorf("%w: campaigns_short_id_key", apperr.ErrDuplicate)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Type == "" {
		c.Type = core.MessageTypeSMS
	}
	m.campaigns[c.ID] = c
	return &c, nil
}

func (m *Memory) ListBulkMessageLogs(_ context.Context, campaignID *string, limit int) ([]core.BulkMessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.BulkMessageLog
	for _, l := range m.logs {
		if campaignID != nil && (l.CampaignID == nil || *l.CampaignID != *campaignID) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recipients returns a campaign's recipient rows.
func (m *Memory) Recipients(campaignID string) []core.CampaignRecipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.CampaignRecipient
	for k, r := range m.recipients {
		if k.campaignID == campaignID {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}
