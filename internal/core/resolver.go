package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cypherspark/bulk-sms/internal/apperr"
	"github.com/Cypherspark/bulk-sms/internal/metrics"
	"github.com/Cypherspark/bulk-sms/internal/phone"
)

type Resolution struct {
	Token  string
	UserID string
}

// Resolver makes sure a user and, for campaign sends, a campaign recipient
// exist for a phone number and hands back the recipient's delivery token.
// Repeated calls for the same pair return the same token.
type Resolver struct {
	Store Store
	Log   zerolog.Logger
	// NewToken defaults to the package token generator.
	NewToken func() (string, error)
}

func NewResolver(store Store, log zerolog.Logger) *Resolver {
	return &Resolver{Store: store, Log: log, NewToken: NewToken}
}

func (r *Resolver) Resolve(ctx context.Context, rawPhone, campaignID string, personalize bool) (res Resolution, err error) {
	if campaignID == "" && !personalize {
		return Resolution{}, nil
	}
	outcome := "bare"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		metrics.ResolveTotal.WithLabelValues(outcome).Inc()
	}()

	user, err := r.ensureUser(ctx, rawPhone)
	if err != nil {
		return Resolution{}, err
	}
	res.UserID = user.ID

	if campaignID == "" {
		tok, err := r.token()
		if err != nil {
			return Resolution{}, err
		}
		res.Token = tok
		return res, nil
	}

	existing, err := r.Store.FindCampaignRecipient(ctx, campaignID, user.ID)
	switch {
	case err == nil:
		outcome = "reused"
		return r.reuse(ctx, existing, res)
	case !errors.Is(err, apperr.ErrNotFound):
		return Resolution{}, apperr.Persistence("find campaign recipient", err)
	}

	tok, err := r.token()
	if err != nil {
		return Resolution{}, err
	}
	err = r.Store.InsertCampaignRecipient(ctx, CampaignRecipient{
		CampaignID:  campaignID,
		UserID:      user.ID,
		Status:      RecipientSent,
		UniqueToken: tok,
		UpdatedAt:   time.Now().UTC(),
	})
	switch {
	case err == nil:
		outcome = "created"
		res.Token = tok
		return res, nil
	case errors.Is(err, apperr.ErrDuplicate):
		// A concurrent send inserted the row first; its token wins.
		existing, err := r.Store.FindCampaignRecipient(ctx, campaignID, user.ID)
		if err != nil {
			return Resolution{}, apperr.Persistence("re-read campaign recipient", err)
		}
		outcome = "reused"
		return r.reuse(ctx, existing, res)
	default:
		return Resolution{}, apperr.Persistence("insert campaign recipient", err)
	}
}

func (r *Resolver) reuse(ctx context.Context, cr *CampaignRecipient, res Resolution) (Resolution, error) {
	if err := r.Store.UpdateCampaignRecipientStatus(ctx, cr.CampaignID, cr.UserID, RecipientSent); err != nil {
		return Resolution{}, apperr.Persistence("update campaign recipient", err)
	}
	res.Token = cr.UniqueToken
	return res, nil
}

func (r *Resolver) ensureUser(ctx context.Context, rawPhone string) (*User, error) {
	normalized := phone.Normalize(rawPhone)
	u, err := r.Store.FindUserByPhone(ctx, normalized)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Persistence("find user", err)
	}

	u, err = r.Store.InsertUser(ctx, User{
		PhoneNumber: normalized,
		Country:     phone.DetectCountry(normalized),
		Status:      UserStatusActive,
		CreatedAt:   time.Now().UTC(),
	})
	if err == nil {
		r.Log.Debug().Str("user_id", u.ID).Str("country", u.Country).Msg("user created")
		return u, nil
	}
	if !errors.Is(err, apperr.ErrDuplicate) {
		return nil, apperr.Persistence("insert user", err)
	}
	u, err = r.Store.FindUserByPhone(ctx, normalized)
	if err != nil {
		return nil, apperr.Persistence("re-read user", err)
	}
	return u, nil
}

func (r *Resolver) token() (string, error) {
	gen := r.NewToken
	if gen == nil {
		gen = NewToken
	}
	return gen()
}
